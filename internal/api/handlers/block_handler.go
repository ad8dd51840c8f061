package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/movalsociety/ledger/internal/api/middleware"
	"github.com/movalsociety/ledger/internal/ledger"
	"github.com/movalsociety/ledger/internal/models"
	"github.com/movalsociety/ledger/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// BlockHandler handles block-related API requests
type BlockHandler struct {
	service   *ledger.Service
	sealLimit int
}

// NewBlockHandler creates a new BlockHandler. sealLimit caps how many
// pending transactions one seal request puts into a block.
func NewBlockHandler(service *ledger.Service, sealLimit int) *BlockHandler {
	return &BlockHandler{
		service:   service,
		sealLimit: sealLimit,
	}
}

// createBlockRequest names stored transactions to seal
type createBlockRequest struct {
	TransactionIDs []string `json:"transaction_ids"`
}

// List returns blocks, most recent first unless order=asc
// GET /api/v1/blocks?limit=&order=
func (h *BlockHandler) List(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), defaultListLimit, maxListLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := storage.ParseOrder(c.Query("order"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	blocks, err := h.service.Store.ListBlocks(c.Request.Context(), limit, order)
	if err != nil {
		respondError(c, err)
		return
	}
	if blocks == nil {
		blocks = []*models.Block{}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(blocks),
		"blocks": blocks,
	})
}

// GetByID returns a block by its id
// GET /api/v1/blocks/:id
func (h *BlockHandler) GetByID(c *gin.Context) {
	block, err := h.service.Store.GetBlock(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, block)
}

// GetBySequence returns a block by its sequence number
// GET /api/v1/blocks/sequence/:sequence
func (h *BlockHandler) GetBySequence(c *gin.Context) {
	seq, err := strconv.ParseInt(c.Param("sequence"), 10, 64)
	if err != nil || seq < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sequence number"})
		return
	}

	block, err := h.service.Store.GetBlockBySequence(c.Request.Context(), seq)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, block)
}

// GetLatest returns the chain tip
// GET /api/v1/blocks/latest
func (h *BlockHandler) GetLatest(c *gin.Context) {
	block, err := h.service.Store.GetTip(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	if block == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No blocks found"})
		return
	}

	c.JSON(http.StatusOK, block)
}

// Create seals the named stored transactions into a new block
// POST /api/v1/blocks
func (h *BlockHandler) Create(c *gin.Context) {
	var req createBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	block, err := h.service.CommitIDs(c.Request.Context(), middleware.SessionFrom(c), req.TransactionIDs)
	respondBlock(c, block, err)
}

// Seal seals pending transactions into a new block
// POST /api/v1/blocks/seal?limit=
func (h *BlockHandler) Seal(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), h.sealLimit, h.sealLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	block, err := h.service.SealPending(c.Request.Context(), middleware.SessionFrom(c), limit)
	respondBlock(c, block, err)
}

// respondBlock reports a created block, including a degraded success
// where the cross-references were not all written
func respondBlock(c *gin.Context, block *models.Block, err error) {
	if block == nil {
		respondError(c, err)
		return
	}

	body := gin.H{"block": block}
	var xerr *ledger.CrossReferenceError
	if errors.As(err, &xerr) {
		ids := make([]string, len(xerr.Failures))
		for i, f := range xerr.Failures {
			ids[i] = f.TransactionID
		}
		body["warning"] = gin.H{
			"message":         "block persisted but some transactions were not stamped",
			"unstamped_ids":   ids,
			"reconcile_route": "/api/v1/chain/reconcile",
		}
	}
	c.JSON(http.StatusCreated, body)
}

// parseLimit parses a positive limit, falling back to def and capping at max
func parseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
