package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/movalsociety/ledger/internal/ledger"
)

// ChainHandler exposes integrity checks over the whole chain
type ChainHandler struct {
	verifier   *ledger.Verifier
	reconciler *ledger.Reconciler
}

// NewChainHandler creates a new ChainHandler
func NewChainHandler(verifier *ledger.Verifier, reconciler *ledger.Reconciler) *ChainHandler {
	return &ChainHandler{verifier: verifier, reconciler: reconciler}
}

// Verify replays the chain. A violation is a successful check with
// valid=false; only a storage failure is an error response.
// GET /api/v1/chain/verify
func (h *ChainHandler) Verify(c *gin.Context) {
	report, err := h.verifier.Verify(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Reconcile re-stamps transactions missing their block cross-reference
// POST /api/v1/chain/reconcile
func (h *ChainHandler) Reconcile(c *gin.Context) {
	result, err := h.reconciler.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"blocks":          result.Blocks,
		"stamped":         result.Stamped,
		"already_stamped": result.AlreadyStamped,
		"failed_ids":      result.FailedIDs(),
	})
}
