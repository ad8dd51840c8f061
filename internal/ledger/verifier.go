package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/movalsociety/ledger/internal/logx"
	"github.com/movalsociety/ledger/internal/metrics"
	"github.com/movalsociety/ledger/internal/models"
	"github.com/movalsociety/ledger/internal/storage"
)

// Report is the outcome of a full chain verification
type Report struct {
	Valid       bool                `json:"valid"`
	Blocks      int                 `json:"blocks"`
	TipSequence int64               `json:"tip_sequence"`
	TipHash     string              `json:"tip_hash,omitempty"`
	Violation   *IntegrityViolation `json:"violation,omitempty"`
	CheckedAt   time.Time           `json:"checked_at"`
}

// Err returns the violation as an error, or nil for a valid chain
func (r *Report) Err() error {
	if r.Violation == nil {
		return nil
	}
	return r.Violation
}

// Verifier replays the chain and checks digest continuity
type Verifier struct {
	chain storage.ChainStore
}

// NewVerifier creates a Verifier reading from chain
func NewVerifier(chain storage.ChainStore) *Verifier {
	return &Verifier{chain: chain}
}

// Verify reads every block in ascending order and checks it. A storage
// failure is returned as an error; no partial result is reported.
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	blocks, err := v.chain.ListBlocks(ctx, 0, storage.OrderAsc)
	if err != nil {
		metrics.RecordVerify(metrics.VerifyUnavailable)
		return nil, fmt.Errorf("failed to read chain: %w", err)
	}

	report := &Report{
		Valid:     true,
		Blocks:    len(blocks),
		CheckedAt: time.Now().UTC(),
	}
	if n := len(blocks); n > 0 {
		report.TipSequence = blocks[n-1].Sequence
		report.TipHash = blocks[n-1].Hash
	}

	if violation := VerifyBlocks(blocks); violation != nil {
		report.Valid = false
		report.Violation = violation
		metrics.RecordVerify(metrics.VerifyViolation)
		logx.Error("VERIFY", violation.Error())
		return report, nil
	}

	metrics.RecordVerify(metrics.VerifyValid)
	metrics.SetChainHeight(report.TipSequence)
	logx.Debug("VERIFY", fmt.Sprintf("Chain of %d block(s) verified", report.Blocks))
	return report, nil
}

// VerifyBlocks checks contiguity, digests and linkage of blocks given in
// ascending order, stopping at the first problem. An empty chain is valid.
func VerifyBlocks(blocks []*models.Block) *IntegrityViolation {
	for i, block := range blocks {
		want := int64(i) + 1
		if block.Sequence != want {
			return &IntegrityViolation{
				Sequence: want,
				Reason:   "sequence gap",
				Expected: fmt.Sprint(want),
				Actual:   fmt.Sprint(block.Sequence),
			}
		}

		recomputed, err := BlockDigest(block)
		if err != nil {
			return &IntegrityViolation{Sequence: block.Sequence, Reason: err.Error()}
		}
		if recomputed != block.Hash {
			return &IntegrityViolation{
				Sequence: block.Sequence,
				Reason:   "digest mismatch",
				Expected: recomputed,
				Actual:   block.Hash,
			}
		}

		if i == 0 {
			if block.PreviousDigest() != "" {
				return &IntegrityViolation{
					Sequence: block.Sequence,
					Reason:   "genesis block has a previous digest",
					Actual:   block.PreviousDigest(),
				}
			}
			continue
		}

		prev := blocks[i-1]
		if block.PreviousHash == nil || *block.PreviousHash != prev.Hash {
			return &IntegrityViolation{
				Sequence: block.Sequence,
				Reason:   "broken link to previous block",
				Expected: prev.Hash,
				Actual:   block.PreviousDigest(),
			}
		}
	}
	return nil
}
