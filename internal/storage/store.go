package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/movalsociety/ledger/internal/models"
	"github.com/movalsociety/ledger/pkg/semver"
)

// SchemaVersion is the on-disk layout version written by this build
const SchemaVersion = "1.0.0"

var (
	// ErrNotFound is returned when a block or transaction does not exist
	ErrNotFound = errors.New("not found")

	// ErrSequenceConflict is returned when an appended block does not
	// extend the current tip. Re-read the tip and rebuild the block.
	ErrSequenceConflict = errors.New("sequence conflict")

	// ErrStorageUnavailable wraps transient backend failures
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrHashMismatch is returned when a transaction is already stamped
	// with a different block digest
	ErrHashMismatch = errors.New("transaction stamped with a different block hash")

	// ErrTransactionChained is returned when overwriting a chained
	// transaction or sealing one that a block already holds
	ErrTransactionChained = errors.New("transaction already chained")

	// ErrIncompatibleSchema is returned when a store was written by an
	// incompatible ledger version
	ErrIncompatibleSchema = errors.New("incompatible schema version")
)

// Order selects the iteration direction of ListBlocks
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
)

// ParseOrder converts "asc"/"desc" to an Order
func ParseOrder(s string) (Order, error) {
	switch s {
	case "asc":
		return OrderAsc, nil
	case "", "desc":
		return OrderDesc, nil
	}
	return OrderDesc, fmt.Errorf("invalid order %q", s)
}

// ChainStore is the append-only block log
type ChainStore interface {
	// AppendBlock stores block if its sequence is exactly tip+1,
	// otherwise it fails with ErrSequenceConflict and leaves the tip alone.
	// A transaction is sealed at most once: a block naming a transaction
	// that another block already holds fails with ErrTransactionChained.
	AppendBlock(ctx context.Context, block *models.Block) error

	// GetTip returns the highest-sequence block, or nil for an empty chain
	GetTip(ctx context.Context) (*models.Block, error)

	// ListBlocks returns up to limit blocks (all when limit <= 0)
	ListBlocks(ctx context.Context, limit int, order Order) ([]*models.Block, error)

	// GetBlock returns a block by id or ErrNotFound
	GetBlock(ctx context.Context, id string) (*models.Block, error)

	// GetBlockBySequence returns a block by sequence number or ErrNotFound
	GetBlockBySequence(ctx context.Context, sequence int64) (*models.Block, error)

	// TransactionSequence returns the sequence of the block holding the
	// transaction, or ErrNotFound when no block holds it
	TransactionSequence(ctx context.Context, txID string) (int64, error)
}

// TxStore holds finalized transaction records and their block cross-reference
type TxStore interface {
	// SaveTransaction inserts or replaces an unchained transaction.
	// The BlockchainHash field of tx is ignored.
	SaveTransaction(ctx context.Context, tx *models.Transaction) error

	// GetTransaction returns a transaction by id or ErrNotFound
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)

	// StampBlockHash records the digest of the block containing id.
	// Re-stamping with the same hash is a no-op.
	StampBlockHash(ctx context.Context, id, hash string) error

	// ListUnchained returns transactions without a block hash ordered by
	// creation time, up to limit (all when limit <= 0)
	ListUnchained(ctx context.Context, limit int) ([]*models.Transaction, error)
}

// Store is a backend providing both the chain and the transaction table
type Store interface {
	ChainStore
	TxStore
	Close() error
}

// checkSchemaVersion validates a recorded schema version. An empty value
// means a fresh store.
func checkSchemaVersion(recorded string) error {
	if recorded == "" {
		return nil
	}
	v, err := semver.Parse(recorded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIncompatibleSchema, err)
	}
	if !semver.MustParse(SchemaVersion).Compatible(v) {
		return fmt.Errorf("%w: store has %s, ledger supports %s", ErrIncompatibleSchema, v, SchemaVersion)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func cloneBlock(b *models.Block) *models.Block {
	c := *b
	c.Payload.Transactions = append([]models.PayloadTransaction(nil), b.Payload.Transactions...)
	return &c
}

func cloneTx(tx *models.Transaction) *models.Transaction {
	c := *tx
	return &c
}

// blockTxIDs returns the ids sealed in block, rejecting an id named twice
func blockTxIDs(block *models.Block) ([]string, error) {
	ids := block.TransactionIDs()
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("append block %d: transaction %s named twice: %w", block.Sequence, id, ErrTransactionChained)
		}
		seen[id] = struct{}{}
	}
	return ids, nil
}
