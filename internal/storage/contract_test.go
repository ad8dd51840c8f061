package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movalsociety/ledger/internal/models"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func testBlock(seq int64, prev *string) *models.Block {
	ts := baseTime.Add(time.Duration(seq) * time.Minute)
	return &models.Block{
		ID:        uuid.NewString(),
		Sequence:  seq,
		Timestamp: ts,
		Payload: models.Payload{
			Transactions: []models.PayloadTransaction{{
				ID:                fmt.Sprintf("tx-%d", seq),
				Sender:            strPtr("alice"),
				Amount:            decimal.RequireFromString("12.5"),
				Kind:              models.KindTransfer,
				OriginalTimestamp: ts.Add(-time.Second),
			}},
			Timestamp: ts,
		},
		PreviousHash: prev,
		Hash:         fmt.Sprintf("%064d", seq),
	}
}

func testTx(id string, created time.Time) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		Sender:      strPtr("alice"),
		Receiver:    strPtr("bob"),
		Amount:      decimal.RequireFromString("10"),
		Description: "lunch",
		Kind:        models.KindTransfer,
		CreatedAt:   created,
	}
}

// appendChain appends n linked blocks and returns them
func appendChain(t *testing.T, s ChainStore, n int) []*models.Block {
	t.Helper()
	var blocks []*models.Block
	var prev *string
	for i := 1; i <= n; i++ {
		b := testBlock(int64(i), prev)
		require.NoError(t, s.AppendBlock(context.Background(), b))
		blocks = append(blocks, b)
		prev = strPtr(b.Hash)
	}
	return blocks
}

func sequences(blocks []*models.Block) []int64 {
	out := make([]int64, len(blocks))
	for i, b := range blocks {
		out[i] = b.Sequence
	}
	return out
}

// runStoreContract exercises the behaviour every Store backend must share
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("empty chain", func(t *testing.T) {
		s := newStore(t)

		tip, err := s.GetTip(ctx)
		require.NoError(t, err)
		assert.Nil(t, tip)

		blocks, err := s.ListBlocks(ctx, 0, OrderAsc)
		require.NoError(t, err)
		assert.Empty(t, blocks)

		_, err = s.GetBlock(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetBlockBySequence(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("append and read back", func(t *testing.T) {
		s := newStore(t)
		blocks := appendChain(t, s, 3)

		tip, err := s.GetTip(ctx)
		require.NoError(t, err)
		require.NotNil(t, tip)
		assert.Equal(t, int64(3), tip.Sequence)
		assert.Equal(t, blocks[2].Hash, tip.Hash)

		got, err := s.GetBlock(ctx, blocks[1].ID)
		require.NoError(t, err)
		assert.Equal(t, blocks[1].ID, got.ID)
		assert.Equal(t, int64(2), got.Sequence)
		assert.True(t, blocks[1].Timestamp.Equal(got.Timestamp))
		require.NotNil(t, got.PreviousHash)
		assert.Equal(t, blocks[0].Hash, *got.PreviousHash)
		require.Len(t, got.Payload.Transactions, 1)
		assert.True(t, decimal.RequireFromString("12.5").Equal(got.Payload.Transactions[0].Amount))
		assert.Nil(t, got.Payload.Transactions[0].Receiver)

		genesis, err := s.GetBlockBySequence(ctx, 1)
		require.NoError(t, err)
		assert.Nil(t, genesis.PreviousHash)
	})

	t.Run("sequence conflict leaves tip unchanged", func(t *testing.T) {
		s := newStore(t)
		blocks := appendChain(t, s, 2)

		err := s.AppendBlock(ctx, testBlock(4, strPtr(blocks[1].Hash)))
		assert.ErrorIs(t, err, ErrSequenceConflict)

		err = s.AppendBlock(ctx, testBlock(2, strPtr(blocks[0].Hash)))
		assert.ErrorIs(t, err, ErrSequenceConflict)

		tip, err := s.GetTip(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), tip.Sequence)
		assert.Equal(t, blocks[1].Hash, tip.Hash)
	})

	t.Run("transaction sealed into one block only", func(t *testing.T) {
		s := newStore(t)
		blocks := appendChain(t, s, 2)

		seq, err := s.TransactionSequence(ctx, "tx-2")
		require.NoError(t, err)
		assert.Equal(t, int64(2), seq)
		_, err = s.TransactionSequence(ctx, "tx-9")
		assert.ErrorIs(t, err, ErrNotFound)

		again := testBlock(3, strPtr(blocks[1].Hash))
		again.Payload.Transactions[0].ID = "tx-1"
		err = s.AppendBlock(ctx, again)
		assert.ErrorIs(t, err, ErrTransactionChained)

		twice := testBlock(3, strPtr(blocks[1].Hash))
		twice.Payload.Transactions = append(twice.Payload.Transactions, twice.Payload.Transactions[0])
		err = s.AppendBlock(ctx, twice)
		assert.ErrorIs(t, err, ErrTransactionChained)

		tip, err := s.GetTip(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), tip.Sequence)
		_, err = s.TransactionSequence(ctx, "tx-3")
		assert.ErrorIs(t, err, ErrNotFound, "a rejected block leaves no index entries")

		require.NoError(t, s.AppendBlock(ctx, testBlock(3, strPtr(blocks[1].Hash))))
	})

	t.Run("list order and limit", func(t *testing.T) {
		s := newStore(t)
		appendChain(t, s, 4)

		asc, err := s.ListBlocks(ctx, 0, OrderAsc)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3, 4}, sequences(asc))

		desc, err := s.ListBlocks(ctx, 0, OrderDesc)
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 3, 2, 1}, sequences(desc))

		recent, err := s.ListBlocks(ctx, 2, OrderDesc)
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 3}, sequences(recent))
	})

	t.Run("transactions", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveTransaction(ctx, testTx("t2", baseTime.Add(2*time.Second))))
		require.NoError(t, s.SaveTransaction(ctx, testTx("t1", baseTime.Add(time.Second))))
		require.NoError(t, s.SaveTransaction(ctx, testTx("t3", baseTime.Add(3*time.Second))))

		_, err := s.GetTransaction(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		pending, err := s.ListUnchained(ctx, 0)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		assert.Equal(t, "t1", pending[0].ID)
		assert.Equal(t, "t2", pending[1].ID)
		assert.Equal(t, "t3", pending[2].ID)

		require.NoError(t, s.StampBlockHash(ctx, "t1", "hash-a"))
		require.NoError(t, s.StampBlockHash(ctx, "t1", "hash-a"), "re-stamping with the same hash is a no-op")
		assert.ErrorIs(t, s.StampBlockHash(ctx, "t1", "hash-b"), ErrHashMismatch)
		assert.ErrorIs(t, s.StampBlockHash(ctx, "missing", "hash-a"), ErrNotFound)

		got, err := s.GetTransaction(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "hash-a", got.BlockchainHash)
		assert.Equal(t, "bob", *got.Receiver)

		assert.ErrorIs(t, s.SaveTransaction(ctx, testTx("t1", baseTime)), ErrTransactionChained)

		pending, err = s.ListUnchained(ctx, 1)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "t2", pending[0].ID)
	})

	t.Run("save ignores caller supplied hash", func(t *testing.T) {
		s := newStore(t)
		tx := testTx("t1", baseTime)
		tx.BlockchainHash = "forged"
		require.NoError(t, s.SaveTransaction(ctx, tx))

		got, err := s.GetTransaction(ctx, "t1")
		require.NoError(t, err)
		assert.False(t, got.Chained())
	})
}
