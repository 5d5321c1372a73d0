package command

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/metrics"
)

type SweeperConfig struct {
	Interval          time.Duration
	RequeueAfter      time.Duration // pending this long without progress is enqueued again
	ProcessingTimeout time.Duration // transcribing/analyzing this long is failed as timeout
	BatchSize         int
}

func (c *SweeperConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.RequeueAfter <= 0 {
		c.RequeueAfter = time.Minute
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

// Sweeper repairs commands the queue lost track of: pending rows whose
// enqueue failed or whose message was dropped, and claimed rows whose
// worker died mid-flight.
type Sweeper struct {
	cfg         SweeperConfig
	repo        domain.CommandRepository
	queue       Enqueuer
	transitions *transitions
	now         func() time.Time
}

func NewSweeper(cfg SweeperConfig, repo domain.CommandRepository, queue Enqueuer, recorder Recorder, m *metrics.Metrics, notifiers ...StatusNotifier) *Sweeper {
	cfg.setDefaults()
	return &Sweeper{
		cfg:   cfg,
		repo:  repo,
		queue: queue,
		transitions: &transitions{
			repo:      repo,
			recorder:  recorder,
			metrics:   m,
			notifiers: notifiers,
		},
		now: time.Now,
	}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			requeued, timedOut, err := s.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("sweeper: sweep failed")
			}
			if requeued > 0 || timedOut > 0 {
				log.Info().Int("requeued", requeued).Int("timed_out", timedOut).Msg("sweeper: repaired commands")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one pass.
func (s *Sweeper) Sweep(ctx context.Context) (requeued, timedOut int, err error) {
	now := s.now()

	stale, err := s.repo.ClaimStalePending(ctx, now.Add(-s.cfg.RequeueAfter), s.cfg.BatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("command.Sweeper.Sweep: pending: %w", err)
	}
	for _, st := range stale {
		if err := s.queue.Enqueue(ctx, st.CommandID); err != nil {
			return requeued, 0, fmt.Errorf("command.Sweeper.Sweep: enqueue: %w", err)
		}
		requeued++
	}

	for _, state := range []domain.CommandState{domain.CommandStateTranscribing, domain.CommandStateAnalyzing} {
		stuck, err := s.repo.ListStale(ctx, state, now.Add(-s.cfg.ProcessingTimeout), s.cfg.BatchSize)
		if err != nil {
			return requeued, timedOut, fmt.Errorf("command.Sweeper.Sweep: %s: %w", state, err)
		}
		for _, st := range stuck {
			_, err := s.transitions.apply(ctx, st.TenantID, st.UserID, st.CommandID, state,
				domain.StatusUpdate{State: domain.CommandStateFailed, ErrorReason: domain.FailureTimeout})
			if lostRace(err) {
				continue
			}
			if err != nil {
				return requeued, timedOut, fmt.Errorf("command.Sweeper.Sweep: %w", err)
			}
			timedOut++
		}
	}

	return requeued, timedOut, nil
}
