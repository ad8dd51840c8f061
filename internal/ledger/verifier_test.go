package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movalsociety/ledger/internal/models"
	"github.com/movalsociety/ledger/internal/storage"
)

// buildChain seals T1..T3 into block 1 and T4 into block 2, then adds
// one single-transaction block per extra id
func buildChain(t *testing.T, extra ...string) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	b := NewBuilder(store, store, testOptions())

	first := saveTxs(t, store, newTx("T1", "10"), newTx("T2", "20"), newTx("T3", "30"))
	_, err := b.CreateBlock(ctx, SystemSession(), first)
	require.NoError(t, err)

	_, err = b.CreateBlock(ctx, SystemSession(), saveTxs(t, store, newTx("T4", "40")))
	require.NoError(t, err)

	for _, id := range extra {
		_, err = b.CreateBlock(ctx, SystemSession(), saveTxs(t, store, newTx(id, "1")))
		require.NoError(t, err)
	}
	return store
}

func verifyTampered(t *testing.T, store storage.ChainStore, mutate func([]*models.Block) []*models.Block) *Report {
	t.Helper()
	report, err := NewVerifier(&tamperedChain{ChainStore: store, mutate: mutate}).Verify(context.Background())
	require.NoError(t, err)
	return report
}

func rehash(t *testing.T, b *models.Block) {
	t.Helper()
	hash, err := BlockDigest(b)
	require.NoError(t, err)
	b.Hash = hash
}

func TestVerifyEmptyChain(t *testing.T) {
	report, err := NewVerifier(storage.NewMemoryStore()).Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Zero(t, report.Blocks)
	assert.NoError(t, report.Err())
}

func TestVerifySingleBlock(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	b := NewBuilder(store, store, testOptions())
	_, err := b.CreateBlock(ctx, SystemSession(), saveTxs(t, store, newTx("t1", "10")))
	require.NoError(t, err)

	report, err := NewVerifier(store).Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, int64(1), report.TipSequence)
}

func TestVerifyIsRepeatable(t *testing.T) {
	store := buildChain(t, "T5")
	v := NewVerifier(store)

	first, err := v.Verify(context.Background())
	require.NoError(t, err)
	second, err := v.Verify(context.Background())
	require.NoError(t, err)

	assert.True(t, first.Valid)
	assert.Equal(t, first.Valid, second.Valid)
	assert.Equal(t, first.TipHash, second.TipHash)
}

func TestVerifyDetectsTampering(t *testing.T) {
	store := buildChain(t, "T5")

	report, err := NewVerifier(store).Verify(context.Background())
	require.NoError(t, err)
	require.True(t, report.Valid)

	tests := []struct {
		name     string
		mutate   func([]*models.Block) []*models.Block
		sequence int64
		reason   string
	}{
		{
			name: "amount",
			mutate: func(b []*models.Block) []*models.Block {
				b[0].Payload.Transactions[1].Amount = decimal.RequireFromString("25")
				return b
			},
			sequence: 1,
			reason:   "digest mismatch",
		},
		{
			name: "description",
			mutate: func(b []*models.Block) []*models.Block {
				b[1].Payload.Transactions[0].Description = "edited"
				return b
			},
			sequence: 2,
			reason:   "digest mismatch",
		},
		{
			name: "timestamp",
			mutate: func(b []*models.Block) []*models.Block {
				b[1].Timestamp = b[1].Timestamp.Add(time.Millisecond)
				return b
			},
			sequence: 2,
			reason:   "digest mismatch",
		},
		{
			name: "previous digest",
			mutate: func(b []*models.Block) []*models.Block {
				forged := "0000000000000000000000000000000000000000000000000000000000000000"
				b[2].PreviousHash = &forged
				return b
			},
			sequence: 3,
			reason:   "digest mismatch",
		},
		{
			name: "stored digest",
			mutate: func(b []*models.Block) []*models.Block {
				b[0].Hash = b[1].Hash
				return b
			},
			sequence: 1,
			reason:   "digest mismatch",
		},
		{
			name: "rewritten block with recomputed digest",
			mutate: func(b []*models.Block) []*models.Block {
				b[1].Payload.Transactions[0].Amount = decimal.RequireFromString("4000")
				rehash(t, b[1])
				return b
			},
			sequence: 3,
			reason:   "broken link to previous block",
		},
		{
			name: "removed block",
			mutate: func(b []*models.Block) []*models.Block {
				return append(b[:1], b[2:]...)
			},
			sequence: 2,
			reason:   "sequence gap",
		},
		{
			name: "genesis with previous digest",
			mutate: func(b []*models.Block) []*models.Block {
				prev := "ff"
				b[0].PreviousHash = &prev
				rehash(t, b[0])
				return b[:1]
			},
			sequence: 1,
			reason:   "genesis block has a previous digest",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := verifyTampered(t, store, tt.mutate)

			assert.False(t, report.Valid)
			require.NotNil(t, report.Violation)
			assert.Equal(t, tt.sequence, report.Violation.Sequence)
			assert.Equal(t, tt.reason, report.Violation.Reason)

			var violation *IntegrityViolation
			assert.ErrorAs(t, report.Err(), &violation)
		})
	}
}

func TestVerifyAfterAppendingToExampleChain(t *testing.T) {
	ctx := context.Background()
	store := buildChain(t)

	tip, err := store.GetTip(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tip.Sequence)
	assert.Equal(t, []string{"T4"}, tip.TransactionIDs())

	genesis, err := store.GetBlockBySequence(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, tip.PreviousHash)
	assert.Equal(t, genesis.Hash, *tip.PreviousHash)
}

func TestVerifyStorageFailure(t *testing.T) {
	store := buildChain(t)
	chain := &flakyChain{ChainStore: store, listErr: unavailableErr()}

	report, err := NewVerifier(chain).Verify(context.Background())
	assert.Nil(t, report)
	assert.ErrorIs(t, err, storage.ErrStorageUnavailable)
}
