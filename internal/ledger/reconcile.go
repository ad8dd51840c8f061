package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/movalsociety/ledger/internal/logx"
	"github.com/movalsociety/ledger/internal/metrics"
	"github.com/movalsociety/ledger/internal/storage"
)

// ReconcileResult summarizes a reconciliation pass
type ReconcileResult struct {
	Blocks         int            `json:"blocks"`
	Stamped        int            `json:"stamped"`
	AlreadyStamped int            `json:"already_stamped"`
	Failures       []StampFailure `json:"-"`
}

// FailedIDs lists the transactions that could not be stamped
func (r *ReconcileResult) FailedIDs() []string {
	ids := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		ids[i] = f.TransactionID
	}
	return ids
}

// Reconciler restores block cross-references that a block creation could
// not write. Running it again is harmless.
type Reconciler struct {
	chain storage.ChainStore
	txs   storage.TxStore
}

// NewReconciler creates a Reconciler
func NewReconciler(chain storage.ChainStore, txs storage.TxStore) *Reconciler {
	return &Reconciler{chain: chain, txs: txs}
}

// Reconcile stamps every transaction referenced by a block but missing
// its blockchain hash
func (r *Reconciler) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	blocks, err := r.chain.ListBlocks(ctx, 0, storage.OrderAsc)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain: %w", err)
	}

	result := &ReconcileResult{Blocks: len(blocks)}
	for _, block := range blocks {
		for _, id := range block.TransactionIDs() {
			tx, err := r.txs.GetTransaction(ctx, id)
			if err != nil {
				if errors.Is(err, storage.ErrStorageUnavailable) {
					return nil, err
				}
				result.Failures = append(result.Failures, StampFailure{TransactionID: id, Err: err})
				continue
			}
			if tx.BlockchainHash == block.Hash {
				result.AlreadyStamped++
				continue
			}
			if err := r.txs.StampBlockHash(ctx, id, block.Hash); err != nil {
				if errors.Is(err, storage.ErrStorageUnavailable) {
					return nil, err
				}
				result.Failures = append(result.Failures, StampFailure{TransactionID: id, Err: err})
				continue
			}
			result.Stamped++
		}
	}

	metrics.AddReconciled(result.Stamped)
	if result.Stamped > 0 || len(result.Failures) > 0 {
		logx.Info("RECONCILE", fmt.Sprintf("Scanned %d block(s): stamped %d, failed %d",
			result.Blocks, result.Stamped, len(result.Failures)))
	}
	for _, f := range result.Failures {
		logx.Warn("RECONCILE", fmt.Sprintf("Transaction %s: %v", f.TransactionID, f.Err))
	}
	return result, nil
}
