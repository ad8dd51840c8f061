// Command audit replays the Moval ledger and, when the chain is intact,
// prints its most recent blocks. It exits with status 2 on an integrity
// violation.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/movalsociety/ledger/internal/config"
	"github.com/movalsociety/ledger/internal/ledger"
	"github.com/movalsociety/ledger/internal/logx"
	"github.com/movalsociety/ledger/internal/models"
	"github.com/movalsociety/ledger/internal/storage"
)

type auditConfig struct {
	ConfigPath string
	Limit      int
	ShowTxs    bool
	Timeout    time.Duration
}

var auditCfg auditConfig

var rootCmd = &cobra.Command{
	Use:   "audit [flags]",
	Short: "Inspect and verify the Moval ledger",
	Long: `Prints the most recent blocks and replays the whole chain.
Examples:
  # Show the last 20 blocks with their transactions
  audit -n 20 --txs -c ./config.yaml
`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(withStore(func(ctx context.Context, store storage.Store) int {
			return run(ctx, store, auditCfg.Limit, auditCfg.ShowTxs)
		}))
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Restore missing block cross-references on stored transactions",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(withStore(reconcile))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&auditCfg.ConfigPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().DurationVarP(&auditCfg.Timeout, "timeout", "t", time.Minute, "timeout for reading the chain")
	rootCmd.Flags().IntVarP(&auditCfg.Limit, "limit", "n", 10, "number of recent blocks to show")
	rootCmd.Flags().BoolVar(&auditCfg.ShowTxs, "txs", false, "show the transactions embedded in each block")
	rootCmd.AddCommand(reconcileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// withStore opens the configured store, runs fn and closes the store
// before the exit code is returned
func withStore(fn func(ctx context.Context, store storage.Store) int) int {
	cfg, err := config.Load(auditCfg.ConfigPath)
	if err != nil {
		pterm.Error.Println("Failed to load configuration:", err)
		return 1
	}
	// Keep store logs out of the report
	logx.SetOutput(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), auditCfg.Timeout)
	defer cancel()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		pterm.Error.Println("Failed to open store:", err)
		return 1
	}
	defer store.Close()

	return fn(ctx, store)
}

func reconcile(ctx context.Context, store storage.Store) int {
	result, err := ledger.NewReconciler(store, store).Reconcile(ctx)
	if err != nil {
		pterm.Error.Println("Reconciliation failed:", err)
		return 1
	}
	pterm.Info.Printfln("Scanned %d block(s): %d stamped, %d already stamped", result.Blocks, result.Stamped, result.AlreadyStamped)
	if len(result.Failures) > 0 {
		for _, f := range result.Failures {
			pterm.Warning.Printfln("%s: %v", f.TransactionID, f.Err)
		}
		return 1
	}
	return 0
}

// run verifies the chain first and only lists blocks a valid replay
// covered
func run(ctx context.Context, store storage.Store, limit int, showTxs bool) int {
	pterm.DefaultSection.Println("Integrity")
	report, err := ledger.NewVerifier(store).Verify(ctx)
	if err != nil {
		pterm.Error.Println("Verification could not complete:", err)
		return 1
	}
	if !report.Valid {
		v := report.Violation
		body := pterm.Sprintfln("Block:    %s", pterm.LightRed(fmt.Sprint(v.Sequence))) +
			pterm.Sprintfln("Reason:   %s", v.Reason) +
			pterm.Sprintfln("Expected: %s", v.Expected) +
			pterm.Sprintf("Actual:   %s", v.Actual)
		pterm.DefaultBox.WithTitle(pterm.LightRed("|INTEGRITY VIOLATION|")).WithTitleTopCenter().Println(body)
		return 2
	}
	pterm.Success.Printfln("Chain of %d block(s) is intact, tip #%d %s", report.Blocks, report.TipSequence, report.TipHash)

	listed, err := store.ListBlocks(ctx, 0, storage.OrderDesc)
	if err != nil {
		pterm.Error.Println("Failed to list blocks:", err)
		return 1
	}
	// Blocks appended after the replay are left out
	var blocks []*models.Block
	for _, block := range listed {
		if block.Sequence > report.TipSequence {
			continue
		}
		if limit > 0 && len(blocks) == limit {
			break
		}
		blocks = append(blocks, block)
	}

	pterm.DefaultSection.Println("Recent blocks")
	if len(blocks) == 0 {
		pterm.Info.Println("The chain is empty")
	} else if err := pterm.DefaultTable.WithHasHeader().WithData(blocksTable(blocks)).Render(); err != nil {
		pterm.Error.Println(err)
		return 1
	}

	if showTxs {
		for _, block := range blocks {
			if err := renderBlockTransactions(block.Sequence, block.Payload.Transactions); err != nil {
				pterm.Error.Println(err)
				return 1
			}
		}
	}
	return 0
}
