package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/movalsociety/ledger/internal/models"
	"github.com/movalsociety/ledger/internal/storage"
)

// TxHandler handles transaction-related API requests
type TxHandler struct {
	txStore storage.TxStore
}

// NewTxHandler creates a new TxHandler
func NewTxHandler(txStore storage.TxStore) *TxHandler {
	return &TxHandler{txStore: txStore}
}

// Create records a finalized transaction offered for chaining
// POST /api/v1/transactions
func (h *TxHandler) Create(c *gin.Context) {
	var tx models.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := tx.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx.BlockchainHash = ""

	if err := h.txStore.SaveTransaction(c.Request.Context(), &tx); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// Get returns a transaction with its block cross-reference
// GET /api/v1/transactions/:id
func (h *TxHandler) Get(c *gin.Context) {
	tx, err := h.txStore.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction": tx,
		"chained":     tx.Chained(),
	})
}

// Pending lists transactions not yet sealed into a block
// GET /api/v1/transactions/pending?limit=
func (h *TxHandler) Pending(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), defaultListLimit, maxListLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txs, err := h.txStore.ListUnchained(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":        len(txs),
		"transactions": txs,
	})
}
