package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/control-tower/pkg/logger"
)

// SchedulerConfig holds the fan-out settings.
type SchedulerConfig struct {
	// WorkerCount is the number of tenants run concurrently.
	WorkerCount int
	// RunTimeout bounds a single tenant run. Zero disables the timeout.
	RunTimeout time.Duration
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		WorkerCount: 4,
		RunTimeout:  15 * time.Minute,
	}
}

// Outcome is the result of one tenant run inside RunAll.
type Outcome struct {
	TenantID string
	Run      *Run
	Result   *Result
	Err      error
}

// Scheduler runs the pipeline for many tenants. It owns the preconditions the
// pipeline itself does not enforce: one in-flight run per tenant and as-of,
// run status tracking and all-or-nothing publishing.
type Scheduler struct {
	pipeline   *Pipeline
	source     Source
	locker     RunLocker
	runs       RunStore
	publishers []Publisher
	cfg        SchedulerConfig
}

// NewScheduler creates a new Scheduler. locker and runs may be nil.
func NewScheduler(p *Pipeline, source Source, locker RunLocker, runs RunStore, cfg SchedulerConfig, publishers ...Publisher) *Scheduler {
	if locker == nil {
		locker = NoopLocker{}
	}
	if runs == nil {
		runs = noopRunStore{}
	}
	return &Scheduler{
		pipeline:   p,
		source:     source,
		locker:     locker,
		runs:       runs,
		publishers: publishers,
		cfg:        cfg,
	}
}

// RunTenant loads, runs and publishes one tenant.
func (s *Scheduler) RunTenant(ctx context.Context, tenantID string, asOf time.Time) (*Run, *Result, error) {
	asOf = asOf.UTC()
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	release, err := s.locker.Acquire(ctx, tenantID, asOf)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			logger.Log.Warn().Err(err).Str("tenant_id", tenantID).Msg("failed to release run lock")
		}
	}()

	run := &Run{
		TenantID:  tenantID,
		AsOf:      asOf,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline run: %w", err)
	}

	l := logger.ForRun(tenantID, run.ID).With().Time("as_of", asOf).Logger()
	ctx = l.WithContext(ctx)
	l.Info().Msg("pipeline run starting")

	run.Status = StatusProcessing
	if err := s.runs.UpdateRun(ctx, run); err != nil {
		return run, nil, fmt.Errorf("failed to update pipeline run: %w", err)
	}

	res, err := s.execute(ctx, run)
	if err != nil {
		s.fail(ctx, run, err)
		return run, nil, err
	}

	run.Apply(res)
	run.Status = StatusCompleted
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := s.runs.UpdateRun(ctx, run); err != nil {
		return run, res, fmt.Errorf("failed to complete pipeline run: %w", err)
	}

	l.Info().Int("recommendations", run.Recommendations).Str("fingerprint", run.Fingerprint).Msg("pipeline run completed")
	return run, res, nil
}

func (s *Scheduler) execute(ctx context.Context, run *Run) (*Result, error) {
	in, err := s.source.Load(ctx, run.TenantID, run.AsOf)
	if err != nil {
		return nil, fmt.Errorf("load input: %w", err)
	}
	in.TenantID = run.TenantID
	in.AsOf = run.AsOf

	res, err := s.pipeline.Run(ctx, *in)
	if err != nil {
		return nil, err
	}
	// published rows reference the tracked run
	res.RunID = run.ID

	for i, pub := range s.publishers {
		if err := ctx.Err(); err != nil {
			s.retract(ctx, res, s.publishers[:i])
			return nil, fmt.Errorf("run aborted before publishing to %s: %w", pub.Name(), err)
		}
		if err := pub.Publish(ctx, res); err != nil {
			s.retract(ctx, res, s.publishers[:i])
			return nil, fmt.Errorf("publish to %s: %w", pub.Name(), err)
		}
		zerolog.Ctx(ctx).Debug().Str("publisher", pub.Name()).Msg("published")
	}
	return res, nil
}

// retract undoes the publishers that already succeeded, newest first.
func (s *Scheduler) retract(ctx context.Context, res *Result, published []Publisher) {
	logger := zerolog.Ctx(ctx)
	// the run context may already be cancelled
	rctx := logger.WithContext(context.Background())
	for i := len(published) - 1; i >= 0; i-- {
		r, ok := published[i].(Retractor)
		if !ok {
			continue
		}
		if err := r.Retract(rctx, res); err != nil {
			logger.Warn().Err(err).Str("publisher", published[i].Name()).Msg("failed to retract published results")
			continue
		}
		logger.Info().Str("publisher", published[i].Name()).Msg("retracted published results")
	}
}

func (s *Scheduler) fail(ctx context.Context, run *Run, cause error) {
	zerolog.Ctx(ctx).Error().Err(cause).Msg("pipeline run failed")

	run.Status = StatusFailed
	run.ErrorMessage = cause.Error()
	now := time.Now().UTC()
	run.CompletedAt = &now
	// the run context may already be cancelled
	if err := s.runs.UpdateRun(context.Background(), run); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to mark pipeline run as failed")
	}
}

// RunAll runs every tenant with at most WorkerCount in parallel. A failing
// tenant does not stop the others; the joined error lists every failure.
func (s *Scheduler) RunAll(ctx context.Context, tenantIDs []string, asOf time.Time) ([]Outcome, error) {
	ids := append([]string(nil), tenantIDs...)
	sort.Strings(ids)

	outcomes := make([]Outcome, len(ids))

	var g errgroup.Group
	workers := s.cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{TenantID: id, Err: err}
				return nil
			}
			run, res, err := s.RunTenant(ctx, id, asOf)
			outcomes[i] = Outcome{TenantID: id, Run: run, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", o.TenantID, o.Err))
		}
	}
	return outcomes, errors.Join(errs...)
}

// NoopLocker grants every lock. Use it when a single scheduler process owns all tenants.
type NoopLocker struct{}

// Acquire always succeeds.
func (NoopLocker) Acquire(context.Context, string, time.Time) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

type noopRunStore struct{}

func (noopRunStore) CreateRun(_ context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = newRunID()
	}
	return nil
}

func (noopRunStore) UpdateRun(context.Context, *Run) error { return nil }
