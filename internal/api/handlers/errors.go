package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/movalsociety/ledger/internal/ledger"
	"github.com/movalsociety/ledger/internal/storage"
)

// statusFor maps ledger and storage errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrSequenceConflict),
		errors.Is(err, storage.ErrTransactionChained),
		errors.Is(err, storage.ErrHashMismatch):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrEmptyBatch),
		errors.Is(err, ledger.ErrDuplicateTransaction):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
