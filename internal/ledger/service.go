package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/movalsociety/ledger/internal/models"
	"github.com/movalsociety/ledger/internal/storage"
)

// Service wires the builder, verifier and reconciler over one store
type Service struct {
	Store      storage.Store
	Builder    *Builder
	Verifier   *Verifier
	Reconciler *Reconciler
}

// NewService creates a Service over store
func NewService(store storage.Store, opts Options) *Service {
	return &Service{
		Store:      store,
		Builder:    NewBuilder(store, store, opts),
		Verifier:   NewVerifier(store),
		Reconciler: NewReconciler(store, store),
	}
}

// CommitIDs loads the named stored transactions and seals them into a
// block. Unknown ids fail with storage.ErrNotFound. Ids that a block
// already holds, stamped or not, fail with storage.ErrTransactionChained
// before anything is written. The ids are reloaded on every attempt.
func (s *Service) CommitIDs(ctx context.Context, sess Session, ids []string) (*models.Block, error) {
	return s.Builder.CommitWith(ctx, sess, func(ctx context.Context) ([]*models.Transaction, error) {
		txs := make([]*models.Transaction, 0, len(ids))
		for _, id := range ids {
			tx, err := s.Store.GetTransaction(ctx, id)
			if err != nil {
				return nil, err
			}
			if tx.Chained() {
				return nil, fmt.Errorf("transaction %s in block %s: %w", id, tx.BlockchainHash, storage.ErrTransactionChained)
			}
			seq, err := s.Store.TransactionSequence(ctx, id)
			if err == nil {
				return nil, fmt.Errorf("transaction %s already in block %d: %w", id, seq, storage.ErrTransactionChained)
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			txs = append(txs, tx)
		}
		return txs, nil
	})
}

// SealPending reconciles cross-references, then commits up to limit
// pending transactions as one block. Transactions a block already holds
// but whose stamp is still missing are left out.
func (s *Service) SealPending(ctx context.Context, sess Session, limit int) (*models.Block, error) {
	if _, err := s.Reconciler.Reconcile(ctx); err != nil {
		return nil, err
	}
	return s.Builder.CommitWith(ctx, sess, func(ctx context.Context) ([]*models.Transaction, error) {
		return s.pending(ctx, limit)
	})
}

// pending returns up to limit unchained transactions that no block holds.
// limit <= 0 returns all of them.
func (s *Service) pending(ctx context.Context, limit int) ([]*models.Transaction, error) {
	fetch := limit
	for {
		listed, err := s.Store.ListUnchained(ctx, fetch)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending transactions: %w", err)
		}

		batch := make([]*models.Transaction, 0, len(listed))
		for _, tx := range listed {
			if limit > 0 && len(batch) == limit {
				break
			}
			_, err := s.Store.TransactionSequence(ctx, tx.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			batch = append(batch, tx)
		}

		if limit <= 0 || len(batch) == limit || len(listed) < fetch {
			return batch, nil
		}
		fetch += limit
	}
}
