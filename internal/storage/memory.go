package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/movalsociety/ledger/internal/models"
)

// MemoryStore is an in-process Store. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks []*models.Block
	byID   map[string]int
	sealed map[string]int64 // transaction id -> block sequence
	txs    map[string]*models.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]int),
		sealed: make(map[string]int64),
		txs:    make(map[string]*models.Transaction),
	}
}

func (m *MemoryStore) AppendBlock(ctx context.Context, block *models.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if want := int64(len(m.blocks)) + 1; block.Sequence != want {
		return fmt.Errorf("append block %d (expected %d): %w", block.Sequence, want, ErrSequenceConflict)
	}
	if _, ok := m.byID[block.ID]; ok {
		return fmt.Errorf("append block %d: duplicate id %s: %w", block.Sequence, block.ID, ErrSequenceConflict)
	}
	ids, err := blockTxIDs(block)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if seq, ok := m.sealed[id]; ok {
			return fmt.Errorf("append block %d: transaction %s already in block %d: %w", block.Sequence, id, seq, ErrTransactionChained)
		}
	}

	for _, id := range ids {
		m.sealed[id] = block.Sequence
	}
	m.byID[block.ID] = len(m.blocks)
	m.blocks = append(m.blocks, cloneBlock(block))
	return nil
}

func (m *MemoryStore) GetTip(ctx context.Context) (*models.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.blocks) == 0 {
		return nil, nil
	}
	return cloneBlock(m.blocks[len(m.blocks)-1]), nil
}

func (m *MemoryStore) ListBlocks(ctx context.Context, limit int, order Order) ([]*models.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.blocks)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*models.Block, 0, n)
	for i := 0; i < n; i++ {
		idx := i
		if order == OrderDesc {
			idx = len(m.blocks) - 1 - i
		}
		out = append(out, cloneBlock(m.blocks[idx]))
	}
	return out, nil
}

func (m *MemoryStore) GetBlock(ctx context.Context, id string) (*models.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("block %s: %w", id, ErrNotFound)
	}
	return cloneBlock(m.blocks[idx]), nil
}

func (m *MemoryStore) GetBlockBySequence(ctx context.Context, sequence int64) (*models.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sequence < 1 || sequence > int64(len(m.blocks)) {
		return nil, fmt.Errorf("block #%d: %w", sequence, ErrNotFound)
	}
	return cloneBlock(m.blocks[sequence-1]), nil
}

func (m *MemoryStore) TransactionSequence(ctx context.Context, txID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seq, ok := m.sealed[txID]
	if !ok {
		return 0, fmt.Errorf("transaction %s in chain: %w", txID, ErrNotFound)
	}
	return seq, nil
}

func (m *MemoryStore) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.txs[tx.ID]; ok && existing.Chained() {
		return fmt.Errorf("save transaction %s: %w", tx.ID, ErrTransactionChained)
	}
	c := cloneTx(tx)
	c.BlockchainHash = ""
	m.txs[tx.ID] = c
	return nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return cloneTx(tx), nil
}

func (m *MemoryStore) StampBlockHash(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[id]
	if !ok {
		return fmt.Errorf("stamp transaction %s: %w", id, ErrNotFound)
	}
	switch tx.BlockchainHash {
	case hash:
		return nil
	case "":
		tx.BlockchainHash = hash
		return nil
	default:
		return fmt.Errorf("stamp transaction %s: %w", id, ErrHashMismatch)
	}
}

func (m *MemoryStore) ListUnchained(ctx context.Context, limit int) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Transaction
	for _, tx := range m.txs {
		if !tx.Chained() {
			out = append(out, cloneTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
