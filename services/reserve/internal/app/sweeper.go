package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/clock"
	"github.com/giftwell/giftwell/services/reserve/internal/domain"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepBatch    = 100
)

// Sweeper reclaims leases whose deadline has passed. It is the only writer
// allowed to move a lease into the expired state.
type Sweeper struct {
	store     LeaseStore
	clock     clock.Clock
	logger    *log.Logger
	pub       EventPublisher
	metrics   *Metrics
	interval  time.Duration
	batch     int
	onExpired func(domain.Lease)
}

type SweeperOption func(*Sweeper)

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSweepBatch(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithOnExpired registers a hook invoked for every reclaimed lease. The
// wiring layer uses it to notify resource adapters; the sweeper itself
// never touches resources.
func WithOnExpired(fn func(domain.Lease)) SweeperOption {
	return func(s *Sweeper) {
		s.onExpired = fn
	}
}

func WithSweeperPublisher(pub EventPublisher) SweeperOption {
	return func(s *Sweeper) {
		s.pub = pub
	}
}

func WithSweeperMetrics(m *Metrics) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func NewSweeper(store LeaseStore, clk clock.Clock, logger *log.Logger, opts ...SweeperOption) *Sweeper {
	if logger == nil {
		logger = log.Default()
	}
	s := &Sweeper{
		store:    store,
		clock:    clk,
		logger:   logger,
		interval: defaultSweepInterval,
		batch:    defaultSweepBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on a fixed interval until the context is cancelled. A failed
// pass is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Printf("sweeper: pass failed: %v", err)
				continue
			}
			if reclaimed > 0 {
				s.logger.Printf("sweeper: reclaimed %d expired leases", reclaimed)
			}
		}
	}
}

// SweepOnce performs a single pass and returns how many leases it moved to
// expired. Leases finalized by their holder between the scan and the
// transition lose their version match and are skipped, not errors.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()
	overdue, err := s.store.ListExpired(ctx, now, s.batch)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, lease := range overdue {
		expired, err := s.store.Transition(ctx, lease.ID, lease.Version, domain.LeaseStateActive, domain.LeaseStateExpired)
		if err != nil {
			if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrLeaseNotFound) {
				s.metrics.sweepSkipped()
				continue
			}
			return reclaimed, err
		}

		reclaimed++
		s.metrics.swept()
		if s.pub != nil {
			s.pub.PublishLeaseEvent(domain.EventLeaseExpired, expired)
		}
		if s.onExpired != nil {
			s.onExpired(expired)
		}
	}
	return reclaimed, nil
}
