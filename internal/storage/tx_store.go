package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/movalsociety/ledger/internal/jsonx"
	"github.com/movalsociety/ledger/internal/models"
)

// PebbleTxStore handles transaction storage operations
type PebbleTxStore struct {
	db *PebbleDB
	mu sync.Mutex
}

// NewPebbleTxStore creates a new PebbleTxStore
func NewPebbleTxStore(db *PebbleDB) *PebbleTxStore {
	return &PebbleTxStore{db: db}
}

// txKey creates a key for the transactions column family
func txKey(id string) []byte {
	return []byte(id)
}

// unchainedKey orders pending transactions by creation time, then id
func unchainedKey(tx *models.Transaction) []byte {
	return []byte(fmt.Sprintf("%020d:%s", tx.CreatedAt.UnixNano(), tx.ID))
}

// SaveTransaction stores an unchained transaction and indexes it as pending
func (s *PebbleTxStore) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.get(tx.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Chained() {
		return fmt.Errorf("save transaction %s: %w", tx.ID, ErrTransactionChained)
	}

	record := cloneTx(tx)
	record.BlockchainHash = ""
	data, err := jsonx.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Destroy()

	if existing != nil {
		if err := s.db.DeleteBatch(batch, CFUnchained, unchainedKey(existing)); err != nil {
			return err
		}
	}
	if err := s.db.PutBatch(batch, CFTxs, txKey(tx.ID), data); err != nil {
		return err
	}
	if err := s.db.PutBatch(batch, CFUnchained, unchainedKey(record), []byte(tx.ID)); err != nil {
		return err
	}
	if err := s.db.WriteBatch(batch); err != nil {
		return unavailable("save transaction", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by its id
func (s *PebbleTxStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return tx, nil
}

// StampBlockHash sets the block cross-reference and drops the pending index entry
func (s *PebbleTxStore) StampBlockHash(ctx context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.get(id)
	if err != nil {
		return err
	}
	if tx == nil {
		return fmt.Errorf("stamp transaction %s: %w", id, ErrNotFound)
	}
	if tx.BlockchainHash == hash {
		return nil
	}
	if tx.Chained() {
		return fmt.Errorf("stamp transaction %s: %w", id, ErrHashMismatch)
	}

	tx.BlockchainHash = hash
	data, err := jsonx.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Destroy()

	if err := s.db.PutBatch(batch, CFTxs, txKey(id), data); err != nil {
		return err
	}
	if err := s.db.DeleteBatch(batch, CFUnchained, unchainedKey(tx)); err != nil {
		return err
	}
	if err := s.db.WriteBatch(batch); err != nil {
		return unavailable("stamp transaction", err)
	}
	return nil
}

// ListUnchained walks the pending index in creation order
func (s *PebbleTxStore) ListUnchained(ctx context.Context, limit int) ([]*models.Transaction, error) {
	iter, err := s.db.NewIterator(CFUnchained)
	if err != nil {
		return nil, unavailable("iterate pending transactions", err)
	}
	defer iter.Close()

	var txs []*models.Transaction
	for ; iter.Valid(); iter.Next() {
		tx, err := s.get(string(iter.Value()))
		if err != nil {
			return nil, err
		}
		if tx == nil || tx.Chained() {
			continue
		}
		txs = append(txs, tx)
		if limit > 0 && len(txs) >= limit {
			break
		}
	}
	return txs, nil
}

func (s *PebbleTxStore) get(id string) (*models.Transaction, error) {
	data, err := s.db.Get(CFTxs, txKey(id))
	if err != nil {
		return nil, unavailable("read transaction", err)
	}
	if data == nil {
		return nil, nil
	}

	var tx models.Transaction
	if err := jsonx.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}
