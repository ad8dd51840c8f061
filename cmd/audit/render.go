package main

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/movalsociety/ledger/internal/models"
)

// short trims a digest for table display
func short(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16] + "…"
}

func party(ref *string) string {
	if ref == nil {
		return pterm.LightYellow("bank")
	}
	return *ref
}

func blocksTable(blocks []*models.Block) pterm.TableData {
	data := pterm.TableData{{"#", "Timestamp", "Txs", "Digest", "Previous"}}
	for _, b := range blocks {
		prev := "-"
		if b.PreviousHash != nil {
			prev = short(*b.PreviousHash)
		}
		data = append(data, []string{
			fmt.Sprint(b.Sequence),
			b.Timestamp.Format("2006-01-02 15:04:05"),
			fmt.Sprint(len(b.Payload.Transactions)),
			pterm.LightCyan(short(b.Hash)),
			prev,
		})
	}
	return data
}

func renderBlockTransactions(sequence int64, txs []models.PayloadTransaction) error {
	pterm.DefaultSection.WithLevel(2).Printfln("Block %d", sequence)
	if len(txs) == 0 {
		pterm.Info.Println("Heartbeat block, no transactions")
		return nil
	}

	data := pterm.TableData{{"ID", "Kind", "From", "To", "Amount (Movals)", "Description"}}
	for _, tx := range txs {
		data = append(data, []string{
			tx.ID,
			string(tx.Kind),
			party(tx.Sender),
			party(tx.Receiver),
			tx.Amount.String(),
			tx.Description,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
