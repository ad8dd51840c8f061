package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/movalsociety/ledger/internal/logx"
	"github.com/movalsociety/ledger/internal/metrics"
	"github.com/movalsociety/ledger/internal/models"
	"github.com/movalsociety/ledger/internal/storage"
)

// Options configures block creation
type Options struct {
	// AllowEmptyBlocks permits heartbeat blocks with no transactions.
	// When false, CreateBlock rejects empty batches with ErrEmptyBatch.
	AllowEmptyBlocks bool

	// MaxAttempts bounds Commit retries, RetryBackoff is the first delay
	// and doubles on every attempt
	MaxAttempts  int
	RetryBackoff time.Duration

	// Clock and NewID are overridable for tests
	Clock func() time.Time
	NewID func() string
}

// DefaultOptions rejects empty batches and retries up to five times
func DefaultOptions() Options {
	return Options{
		MaxAttempts:  5,
		RetryBackoff: 100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Builder seals batches of transactions into blocks
type Builder struct {
	chain storage.ChainStore
	txs   storage.TxStore
	opts  Options
}

// NewBuilder creates a Builder appending to chain and stamping into txs
func NewBuilder(chain storage.ChainStore, txs storage.TxStore, opts Options) *Builder {
	return &Builder{chain: chain, txs: txs, opts: opts.withDefaults()}
}

// now returns the current time in the precision every backend preserves
func (b *Builder) now() time.Time {
	return b.opts.Clock().UTC().Truncate(time.Microsecond)
}

// CreateBlock builds the next block over txs, appends it and stamps each
// transaction with the block digest.
//
// A returned block is always durable. If stamping failed for some
// transactions the block is returned together with a *CrossReferenceError.
// On any other error nothing was written and the whole batch may be retried.
func (b *Builder) CreateBlock(ctx context.Context, sess Session, txs []*models.Transaction) (*models.Block, error) {
	if len(txs) == 0 && !b.opts.AllowEmptyBlocks {
		return nil, ErrEmptyBatch
	}
	seen := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		if _, dup := seen[tx.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, tx.ID)
		}
		seen[tx.ID] = struct{}{}
	}

	tip, err := b.chain.GetTip(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain tip: %w", err)
	}

	block, err := b.build(tip, txs)
	if err != nil {
		return nil, err
	}

	if err := b.chain.AppendBlock(ctx, block); err != nil {
		if errors.Is(err, storage.ErrSequenceConflict) {
			metrics.IncreaseSequenceConflicts()
			logx.Warn("LEDGER", fmt.Sprintf("Block %d lost the append race (%s)", block.Sequence, sess))
		}
		return nil, fmt.Errorf("failed to append block %d: %w", block.Sequence, err)
	}

	metrics.RecordBlockCreated(block.Sequence, len(txs))
	logx.Info("LEDGER", fmt.Sprintf("Sealed block %d with %d transaction(s), hash %s (%s)",
		block.Sequence, len(txs), block.Hash, sess))

	if err := b.stamp(ctx, block); err != nil {
		return block, err
	}
	return block, nil
}

// build assembles the block that would follow tip
func (b *Builder) build(tip *models.Block, txs []*models.Transaction) (*models.Block, error) {
	sequence := int64(1)
	var previous *string
	if tip != nil {
		sequence = tip.Sequence + 1
		hash := tip.Hash
		previous = &hash
	}

	now := b.now()
	payload := models.Payload{
		Transactions: make([]models.PayloadTransaction, len(txs)),
		Timestamp:    now,
	}
	for i, tx := range txs {
		payload.Transactions[i] = project(tx)
	}

	block := &models.Block{
		ID:           b.opts.NewID(),
		Sequence:     sequence,
		Timestamp:    now,
		Payload:      payload,
		PreviousHash: previous,
	}
	hash, err := BlockDigest(block)
	if err != nil {
		return nil, err
	}
	block.Hash = hash
	return block, nil
}

func project(tx *models.Transaction) models.PayloadTransaction {
	return models.PayloadTransaction{
		ID:                tx.ID,
		Sender:            tx.Sender,
		Receiver:          tx.Receiver,
		Amount:            tx.Amount,
		Description:       tx.Description,
		Kind:              tx.Kind,
		OriginalTimestamp: tx.CreatedAt.UTC().Truncate(time.Microsecond),
	}
}

// stamp writes the block digest onto every included transaction. Every
// transaction is attempted; failures are collected, not short-circuited.
func (b *Builder) stamp(ctx context.Context, block *models.Block) error {
	var failures []StampFailure
	for _, id := range block.TransactionIDs() {
		if err := b.txs.StampBlockHash(ctx, id, block.Hash); err != nil {
			failures = append(failures, StampFailure{TransactionID: id, Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}

	metrics.AddStampFailures(len(failures))
	xerr := &CrossReferenceError{Sequence: block.Sequence, Hash: block.Hash, Failures: failures}
	logx.Error("LEDGER", xerr.Error())
	return xerr
}

// Loader returns the batch a commit attempt seals
type Loader func(ctx context.Context) ([]*models.Transaction, error)

// Commit seals a fixed batch. See CommitWith.
func (b *Builder) Commit(ctx context.Context, sess Session, txs []*models.Transaction) (*models.Block, error) {
	return b.CommitWith(ctx, sess, func(context.Context) ([]*models.Transaction, error) {
		return txs, nil
	})
}

// CommitWith runs CreateBlock over the batch returned by load, rebuilding
// the block from a fresh tip after a sequence conflict or an unavailable
// store. load runs before every attempt, so a retry sees what the
// winning writer sealed. Once a block has been persisted it is returned as
// is, even with a *CrossReferenceError.
func (b *Builder) CommitWith(ctx context.Context, sess Session, load Loader) (*models.Block, error) {
	backoff := b.opts.RetryBackoff
	for attempt := 1; ; attempt++ {
		txs, err := load(ctx)
		var block *models.Block
		if err == nil {
			block, err = b.CreateBlock(ctx, sess, txs)
		}
		if block != nil || err == nil || !retryable(err) || attempt >= b.opts.MaxAttempts {
			return block, err
		}

		logx.Warn("LEDGER", fmt.Sprintf("Block creation attempt %d/%d failed, retrying in %v: %v",
			attempt, b.opts.MaxAttempts, backoff, err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func retryable(err error) bool {
	return errors.Is(err, storage.ErrSequenceConflict) || errors.Is(err, storage.ErrStorageUnavailable)
}
