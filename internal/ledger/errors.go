package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyBatch is returned when a block is requested for no
	// transactions and heartbeat blocks are disabled
	ErrEmptyBatch = errors.New("empty transaction batch")

	// ErrDuplicateTransaction is returned when a batch names a transaction twice
	ErrDuplicateTransaction = errors.New("duplicate transaction in batch")
)

// StampFailure records a transaction whose block cross-reference was not written
type StampFailure struct {
	TransactionID string
	Err           error
}

// CrossReferenceError reports a block that was persisted but whose
// transactions were not all stamped with its digest. The block is durable;
// Reconciler.Reconcile repairs the linkage.
type CrossReferenceError struct {
	Sequence int64
	Hash     string
	Failures []StampFailure
}

func (e *CrossReferenceError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.TransactionID
	}
	return fmt.Sprintf("block %d persisted but %d transaction(s) not stamped: %s",
		e.Sequence, len(e.Failures), strings.Join(ids, ", "))
}

func (e *CrossReferenceError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// IntegrityViolation is the first inconsistency found while verifying the chain
type IntegrityViolation struct {
	Sequence int64  `json:"sequence_number"`
	Reason   string `json:"reason"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

func (e *IntegrityViolation) Error() string {
	return fmt.Sprintf("integrity violation at block %d: %s", e.Sequence, e.Reason)
}
