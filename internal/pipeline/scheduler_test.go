package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	fail map[string]error
}

func (f *fakeSource) Load(_ context.Context, tenantID string, _ time.Time) (*Input, error) {
	if err := f.fail[tenantID]; err != nil {
		return nil, err
	}
	in := texasInput()
	return &in, nil
}

type memoryRuns struct {
	mu   sync.Mutex
	runs map[string]Run
	seq  int
}

func (m *memoryRuns) CreateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	run.ID = run.TenantID + "-run"
	m.runs[run.ID] = *run
	return nil
}

func (m *memoryRuns) UpdateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	name      string
	published []string
	runIDs    []string
	retracted []string
	err       error
}

func (p *recordingPublisher) Name() string {
	if p.name == "" {
		return "recording"
	}
	return p.name
}

func (p *recordingPublisher) Retract(_ context.Context, res *Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retracted = append(p.retracted, res.RunID)
	return nil
}

func (p *recordingPublisher) Publish(_ context.Context, res *Result) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, res.TenantID)
	p.runIDs = append(p.runIDs, res.RunID)
	return nil
}

type busyLocker struct {
	busy string
}

func (l busyLocker) Acquire(_ context.Context, tenantID string, _ time.Time) (func(context.Context) error, error) {
	if tenantID == l.busy {
		return nil, ErrRunInFlight
	}
	return func(context.Context) error { return nil }, nil
}

func newTestScheduler(t *testing.T, source Source, locker RunLocker, runs RunStore, pubs ...Publisher) *Scheduler {
	t.Helper()
	p, err := New(DefaultSettings())
	require.NoError(t, err)
	return NewScheduler(p, source, locker, runs, DefaultSchedulerConfig(), pubs...)
}

func TestScheduler_RunTenant(t *testing.T) {
	runs := &memoryRuns{runs: map[string]Run{}}
	pub := &recordingPublisher{}
	s := newTestScheduler(t, &fakeSource{}, nil, runs, pub)

	run, res, err := s.RunTenant(context.Background(), "tenant-a", testAsOf)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "tenant-a-run", res.RunID)
	assert.Equal(t, 2, run.Recommendations)
	assert.Equal(t, 1, run.OrdersTotal)
	assert.Equal(t, res.Fingerprint, run.Fingerprint)
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, []string{"tenant-a"}, pub.published)
	assert.Equal(t, []string{"tenant-a-run"}, pub.runIDs)
	assert.Equal(t, StatusCompleted, runs.runs["tenant-a-run"].Status)
}

func TestScheduler_PublishFailureMarksRunFailed(t *testing.T) {
	runs := &memoryRuns{runs: map[string]Run{}}
	pub := &recordingPublisher{err: errors.New("bucket unavailable")}
	s := newTestScheduler(t, &fakeSource{}, nil, runs, pub)

	run, res, err := s.RunTenant(context.Background(), "tenant-a", testAsOf)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, runs.runs["tenant-a-run"].ErrorMessage, "bucket unavailable")
}

type plainPublisher struct {
	published int
}

func (p *plainPublisher) Name() string { return "plain" }

func (p *plainPublisher) Publish(context.Context, *Result) error {
	p.published++
	return nil
}

func TestScheduler_PublishFailureRetractsEarlierPublishers(t *testing.T) {
	runs := &memoryRuns{runs: map[string]Run{}}
	first := &recordingPublisher{name: "artifacts"}
	plain := &plainPublisher{}
	second := &recordingPublisher{name: "cache"}
	failing := &recordingPublisher{name: "postgres", err: errors.New("tx aborted")}
	after := &recordingPublisher{name: "never"}
	s := newTestScheduler(t, &fakeSource{}, nil, runs, first, plain, second, failing, after)

	run, res, err := s.RunTenant(context.Background(), "tenant-a", testAsOf)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, err.Error(), "publish to postgres")

	assert.Equal(t, []string{"tenant-a-run"}, first.retracted)
	assert.Equal(t, []string{"tenant-a-run"}, second.retracted)
	assert.Equal(t, 1, plain.published)
	assert.Empty(t, failing.retracted)
	assert.Empty(t, after.published)
	assert.Empty(t, after.retracted)
}

func TestScheduler_RunInFlight(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestScheduler(t, &fakeSource{}, busyLocker{busy: "tenant-a"}, nil, pub)

	_, _, err := s.RunTenant(context.Background(), "tenant-a", testAsOf)
	assert.ErrorIs(t, err, ErrRunInFlight)
	assert.Empty(t, pub.published)
}

func TestScheduler_RunAllIsolatesFailures(t *testing.T) {
	runs := &memoryRuns{runs: map[string]Run{}}
	pub := &recordingPublisher{}
	source := &fakeSource{fail: map[string]error{"tenant-b": errors.New("feed missing")}}
	s := newTestScheduler(t, source, nil, runs, pub)

	outcomes, err := s.RunAll(context.Background(), []string{"tenant-c", "tenant-b", "tenant-a"}, testAsOf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant tenant-b")

	require.Len(t, outcomes, 3)
	assert.Equal(t, "tenant-a", outcomes[0].TenantID)
	assert.NoError(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)
	assert.NoError(t, outcomes[2].Err)

	assert.ElementsMatch(t, []string{"tenant-a", "tenant-c"}, pub.published)
	assert.Equal(t, outcomes[0].Result.Fingerprint, outcomes[2].Result.Fingerprint)
}
