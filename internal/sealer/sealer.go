package sealer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/movalsociety/ledger/internal/ledger"
	"github.com/movalsociety/ledger/internal/logx"
	"github.com/movalsociety/ledger/internal/models"
)

// Options controls the background work. A zero interval disables that job.
type Options struct {
	SealEvery   time.Duration
	VerifyEvery time.Duration
	BatchSize   int
}

// Sealer periodically seals pending transactions into blocks and
// re-verifies the chain
type Sealer struct {
	service *ledger.Service
	opts    Options

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Sealer over service
func New(service *ledger.Service, opts Options) *Sealer {
	return &Sealer{service: service, opts: opts}
}

// Start launches the background loop. It is a no-op when already running
// or when both jobs are disabled.
func (s *Sealer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || (s.opts.SealEvery <= 0 && s.opts.VerifyEvery <= 0) {
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)
}

// Stop cancels the loop and waits for an in-flight job to finish
func (s *Sealer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Sealer) run(ctx context.Context) {
	defer close(s.done)

	var sealC, verifyC <-chan time.Time
	if s.opts.SealEvery > 0 {
		t := time.NewTicker(s.opts.SealEvery)
		defer t.Stop()
		sealC = t.C
	}
	if s.opts.VerifyEvery > 0 {
		t := time.NewTicker(s.opts.VerifyEvery)
		defer t.Stop()
		verifyC = t.C
	}
	logx.Info("SEALER", fmt.Sprintf("Started (seal every %v, verify every %v)", s.opts.SealEvery, s.opts.VerifyEvery))

	for {
		select {
		case <-ctx.Done():
			logx.Info("SEALER", "Stopped")
			return
		case <-sealC:
			if _, err := s.SealOnce(ctx); err != nil {
				logx.Warn("SEALER", "Seal failed: ", err)
			}
		case <-verifyC:
			if _, err := s.VerifyOnce(ctx); err != nil {
				logx.Warn("SEALER", "Verification failed: ", err)
			}
		}
	}
}

// SealOnce seals up to BatchSize pending transactions. It returns nil, nil
// when nothing was pending. A block persisted with missing cross-references
// is returned with its error; the next pass reconciles it.
func (s *Sealer) SealOnce(ctx context.Context) (*models.Block, error) {
	block, err := s.service.SealPending(ctx, ledger.SystemSession(), s.opts.BatchSize)
	if errors.Is(err, ledger.ErrEmptyBatch) {
		return nil, nil
	}
	return block, err
}

// VerifyOnce replays the chain. A violation is returned as an error.
func (s *Sealer) VerifyOnce(ctx context.Context) (*ledger.Report, error) {
	report, err := s.service.Verifier.Verify(ctx)
	if err != nil {
		return nil, err
	}
	return report, report.Err()
}
