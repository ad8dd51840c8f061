package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Block represents a sealed, hash-linked batch of transactions
type Block struct {
	ID           string    `json:"id"`
	Sequence     int64     `json:"sequence_number"`
	Timestamp    time.Time `json:"timestamp"`
	Payload      Payload   `json:"payload"`
	PreviousHash *string   `json:"previous_hash"` // nil only for the genesis block
	Hash         string    `json:"current_hash"`
}

// Payload is the batch of projected transactions sealed in a block.
// Field order is part of the digest input and must not change.
type Payload struct {
	Transactions []PayloadTransaction `json:"transactions"`
	Timestamp    time.Time            `json:"timestamp"`
}

// PayloadTransaction is the projection of a Transaction stored in a block
type PayloadTransaction struct {
	ID                string          `json:"id"`
	Sender            *string         `json:"sender"`
	Receiver          *string         `json:"receiver"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	Kind              Kind            `json:"kind"`
	OriginalTimestamp time.Time       `json:"original_timestamp"`
}

// PreviousDigest returns the previous block digest, or "" for genesis
func (b *Block) PreviousDigest() string {
	if b.PreviousHash == nil {
		return ""
	}
	return *b.PreviousHash
}

// TransactionIDs returns the ids of the sealed transactions in payload order
func (b *Block) TransactionIDs() []string {
	ids := make([]string, len(b.Payload.Transactions))
	for i, tx := range b.Payload.Transactions {
		ids[i] = tx.ID
	}
	return ids
}
