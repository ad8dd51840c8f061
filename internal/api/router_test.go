package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movalsociety/ledger/internal/jsonx"
	"github.com/movalsociety/ledger/internal/ledger"
	"github.com/movalsociety/ledger/internal/models"
	"github.com/movalsociety/ledger/internal/storage"
)

type blockResponse struct {
	Block   models.Block `json:"block"`
	Warning *struct {
		UnstampedIDs   []string `json:"unstamped_ids"`
		ReconcileRoute string   `json:"reconcile_route"`
	} `json:"warning"`
}

type listResponse struct {
	Count  int             `json:"count"`
	Blocks []*models.Block `json:"blocks"`
}

func newTestEngine(t *testing.T) (*gin.Engine, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	svc := ledger.NewService(store, ledger.Options{MaxAttempts: 1})
	return NewRouter(svc, 10).Engine(), store
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		data, err := jsonx.Marshal(body)
		require.NoError(t, err)
		buf.Write(data)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "treasurer")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, jsonx.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func txBody(id, amount string) map[string]interface{} {
	return map[string]interface{}{
		"id":          id,
		"sender":      "member-" + id,
		"receiver":    nil,
		"amount":      amount,
		"description": "dues",
		"kind":        "transfer",
		"created_at":  time.Date(2024, 5, 4, 9, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
}

func postTxs(t *testing.T, h http.Handler, ids ...string) {
	t.Helper()
	for i, id := range ids {
		w := do(t, h, http.MethodPost, "/api/v1/transactions", txBody(id, fmt.Sprint((i+1)*10)))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestEngine(t)
	w := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBlockLifecycle(t *testing.T) {
	h, _ := newTestEngine(t)
	postTxs(t, h, "t1", "t2", "t3")

	w := do(t, h, http.MethodGet, "/api/v1/transactions/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending struct {
		Count int `json:"count"`
	}
	decode(t, w, &pending)
	assert.Equal(t, 3, pending.Count)

	w = do(t, h, http.MethodPost, "/api/v1/blocks", map[string]interface{}{"transaction_ids": []string{"t1", "t2"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first blockResponse
	decode(t, w, &first)
	assert.Equal(t, int64(1), first.Block.Sequence)
	assert.Nil(t, first.Block.PreviousHash)
	assert.Nil(t, first.Warning)

	w = do(t, h, http.MethodPost, "/api/v1/blocks/seal", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var second blockResponse
	decode(t, w, &second)
	assert.Equal(t, int64(2), second.Block.Sequence)
	assert.Equal(t, []string{"t3"}, second.Block.TransactionIDs())
	require.NotNil(t, second.Block.PreviousHash)
	assert.Equal(t, first.Block.Hash, *second.Block.PreviousHash)

	w = do(t, h, http.MethodGet, "/api/v1/blocks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list listResponse
	decode(t, w, &list)
	require.Equal(t, 2, list.Count)
	assert.Equal(t, int64(2), list.Blocks[0].Sequence)

	w = do(t, h, http.MethodGet, "/api/v1/blocks?order=asc&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, int64(1), list.Blocks[0].Sequence)

	var block models.Block
	w = do(t, h, http.MethodGet, "/api/v1/blocks/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &block)
	assert.Equal(t, second.Block.Hash, block.Hash)

	w = do(t, h, http.MethodGet, "/api/v1/blocks/sequence/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &block)
	assert.Equal(t, first.Block.Hash, block.Hash)

	w = do(t, h, http.MethodGet, "/api/v1/blocks/"+first.Block.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &block)
	assert.Equal(t, int64(1), block.Sequence)

	w = do(t, h, http.MethodGet, "/api/v1/transactions/t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tx struct {
		Transaction models.Transaction `json:"transaction"`
		Chained     bool               `json:"chained"`
	}
	decode(t, w, &tx)
	assert.True(t, tx.Chained)
	assert.Equal(t, first.Block.Hash, tx.Transaction.BlockchainHash)

	w = do(t, h, http.MethodGet, "/api/v1/chain/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report ledger.Report
	decode(t, w, &report)
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.Blocks)
	assert.Equal(t, second.Block.Hash, report.TipHash)
}

func TestErrorResponses(t *testing.T) {
	h, _ := newTestEngine(t)
	postTxs(t, h, "t1")
	w := do(t, h, http.MethodPost, "/api/v1/blocks", map[string]interface{}{"transaction_ids": []string{"t1"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	invalid := txBody("t9", "0")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"unknown block", http.MethodGet, "/api/v1/blocks/2b1b6f38-6c0e-4c44-9d1a-2f3a6a0c7d11", nil, http.StatusNotFound},
		{"sequence beyond tip", http.MethodGet, "/api/v1/blocks/sequence/5", nil, http.StatusNotFound},
		{"bad sequence", http.MethodGet, "/api/v1/blocks/sequence/abc", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/blocks?limit=-3", nil, http.StatusBadRequest},
		{"bad order", http.MethodGet, "/api/v1/blocks?order=sideways", nil, http.StatusBadRequest},
		{"unknown transaction", http.MethodGet, "/api/v1/transactions/nope", nil, http.StatusNotFound},
		{"invalid transaction", http.MethodPost, "/api/v1/transactions", invalid, http.StatusBadRequest},
		{"resubmit chained transaction", http.MethodPost, "/api/v1/transactions", txBody("t1", "10"), http.StatusConflict},
		{"commit chained transaction", http.MethodPost, "/api/v1/blocks", map[string]interface{}{"transaction_ids": []string{"t1"}}, http.StatusConflict},
		{"commit unknown transaction", http.MethodPost, "/api/v1/blocks", map[string]interface{}{"transaction_ids": []string{"ghost"}}, http.StatusNotFound},
		{"commit nothing", http.MethodPost, "/api/v1/blocks", map[string]interface{}{"transaction_ids": []string{}}, http.StatusBadRequest},
		{"seal with nothing pending", http.MethodPost, "/api/v1/blocks/seal", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestLatestOnEmptyChain(t *testing.T) {
	h, _ := newTestEngine(t)

	w := do(t, h, http.MethodGet, "/api/v1/blocks/latest", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/chain/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report ledger.Report
	decode(t, w, &report)
	assert.True(t, report.Valid)
}

// dropStamps loses the cross-reference write for the named transactions
type dropStamps struct {
	storage.TxStore
	ids map[string]bool
}

func (d *dropStamps) StampBlockHash(ctx context.Context, id, hash string) error {
	if d.ids[id] {
		return fmt.Errorf("stamp %s: %w", id, storage.ErrStorageUnavailable)
	}
	return d.TxStore.StampBlockHash(ctx, id, hash)
}

func TestDegradedBlockCreationAndReconcile(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := ledger.NewService(store, ledger.Options{MaxAttempts: 1})
	svc.Builder = ledger.NewBuilder(store, &dropStamps{TxStore: store, ids: map[string]bool{"t2": true}}, ledger.Options{MaxAttempts: 1})
	h := NewRouter(svc, 10).Engine()
	postTxs(t, h, "t1", "t2")

	w := do(t, h, http.MethodPost, "/api/v1/blocks", map[string]interface{}{"transaction_ids": []string{"t1", "t2"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created blockResponse
	decode(t, w, &created)
	require.NotNil(t, created.Warning)
	assert.Equal(t, []string{"t2"}, created.Warning.UnstampedIDs)
	assert.Equal(t, "/api/v1/chain/reconcile", created.Warning.ReconcileRoute)

	w = do(t, h, http.MethodPost, "/api/v1/blocks", map[string]interface{}{"transaction_ids": []string{"t2"}})
	assert.Equal(t, http.StatusConflict, w.Code, "t2 is already held by block 1")

	w = do(t, h, http.MethodPost, "/api/v1/chain/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result struct {
		Blocks    int      `json:"blocks"`
		Stamped   int      `json:"stamped"`
		FailedIDs []string `json:"failed_ids"`
	}
	decode(t, w, &result)
	assert.Equal(t, 1, result.Blocks)
	assert.Equal(t, 1, result.Stamped)
	assert.Empty(t, result.FailedIDs)

	tx, err := store.GetTransaction(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, created.Block.Hash, tx.BlockchainHash)
}

func TestRequestIDIsEchoed(t *testing.T) {
	h, _ := newTestEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/blocks", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}
