package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/movalsociety/ledger/internal/models"
	"github.com/movalsociety/ledger/internal/storage"
)

var t0 = time.Date(2024, 5, 4, 9, 30, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// stepClock returns t0, t0+1s, t0+2s, ...
func stepClock() func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func testOptions() Options {
	return Options{MaxAttempts: 3, Clock: stepClock()}
}

func newTx(id, amount string) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		Sender:      strPtr("member-" + id),
		Receiver:    nil,
		Amount:      decimal.RequireFromString(amount),
		Description: "payment " + id,
		Kind:        models.KindTransfer,
		CreatedAt:   t0.Add(-time.Hour),
	}
}

// saveTxs stores txs in s and returns them
func saveTxs(t *testing.T, s storage.TxStore, txs ...*models.Transaction) []*models.Transaction {
	t.Helper()
	for _, tx := range txs {
		require.NoError(t, s.SaveTransaction(context.Background(), tx))
	}
	return txs
}

func conflictErr() error {
	return fmt.Errorf("injected: %w", storage.ErrSequenceConflict)
}

func unavailableErr() error {
	return fmt.Errorf("injected: %w", storage.ErrStorageUnavailable)
}

// flakyChain injects failures in front of a real ChainStore
type flakyChain struct {
	storage.ChainStore
	tipErr       error
	listErr      error
	appendErrs   []error // consumed one per AppendBlock call
	beforeAppend func()  // runs once, before the first append
	appendCalls  int
}

func (f *flakyChain) GetTip(ctx context.Context) (*models.Block, error) {
	if f.tipErr != nil {
		return nil, f.tipErr
	}
	return f.ChainStore.GetTip(ctx)
}

func (f *flakyChain) ListBlocks(ctx context.Context, limit int, order storage.Order) ([]*models.Block, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.ChainStore.ListBlocks(ctx, limit, order)
}

func (f *flakyChain) AppendBlock(ctx context.Context, b *models.Block) error {
	f.appendCalls++
	if hook := f.beforeAppend; hook != nil {
		f.beforeAppend = nil
		hook()
	}
	if len(f.appendErrs) > 0 {
		err := f.appendErrs[0]
		f.appendErrs = f.appendErrs[1:]
		if err != nil {
			return err
		}
	}
	return f.ChainStore.AppendBlock(ctx, b)
}

// failingStamps rejects stamping for selected transactions
type failingStamps struct {
	storage.TxStore
	fail map[string]error
}

func (f *failingStamps) StampBlockHash(ctx context.Context, id, hash string) error {
	if err, ok := f.fail[id]; ok {
		return err
	}
	return f.TxStore.StampBlockHash(ctx, id, hash)
}

// tamperedChain rewrites blocks on the way out, as if the stored rows had
// been edited behind the ledger's back
type tamperedChain struct {
	storage.ChainStore
	mutate func(blocks []*models.Block) []*models.Block
}

func (c *tamperedChain) ListBlocks(ctx context.Context, limit int, order storage.Order) ([]*models.Block, error) {
	blocks, err := c.ChainStore.ListBlocks(ctx, limit, order)
	if err != nil {
		return nil, err
	}
	return c.mutate(blocks), nil
}
