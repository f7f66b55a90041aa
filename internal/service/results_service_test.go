package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/control-tower/internal/cache"
	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline"
)

var asOf = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

type fakeResultsRepo struct {
	set        *domain.ResultSet
	recs       []domain.Recommendation
	lastFilter *domain.ResultFilter
	lastAsOf   time.Time
	calls      int
}

func (f *fakeResultsRepo) LatestResultSet(context.Context, string) (*domain.ResultSet, error) {
	f.calls++
	if f.set == nil {
		return nil, domain.ErrNoResults
	}
	return f.set, nil
}

func (f *fakeResultsRepo) ListRecommendations(_ context.Context, _ string, day time.Time, filter *domain.ResultFilter) ([]domain.Recommendation, error) {
	f.lastFilter, f.lastAsOf = filter, day
	return f.recs, nil
}

func (f *fakeResultsRepo) ListAlignment(context.Context, string, time.Time, *domain.ResultFilter) ([]domain.AlignmentRecord, error) {
	return nil, nil
}

func (f *fakeResultsRepo) ListInventoryHealth(context.Context, string, time.Time, *domain.ResultFilter) ([]domain.InventoryHealthRecord, error) {
	return nil, nil
}

type fakeRunRepo struct {
	runs  []*pipeline.Run
	since time.Time
	limit int
}

func (f *fakeRunRepo) GetRun(_ context.Context, id string) (*pipeline.Run, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeRunRepo) ListRuns(_ context.Context, _ string, since time.Time, limit int) ([]*pipeline.Run, error) {
	f.since, f.limit = since, limit
	return f.runs, nil
}

type memoryCache struct {
	entries map[string]cache.Snapshot
}

func (m *memoryCache) GetLatest(_ context.Context, tenantID string) (*cache.Snapshot, bool, error) {
	s, ok := m.entries[tenantID]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (m *memoryCache) SetLatest(_ context.Context, s cache.Snapshot) error {
	m.entries[s.TenantID] = s
	return nil
}

func (m *memoryCache) InvalidateTenant(_ context.Context, tenantID string) error {
	delete(m.entries, tenantID)
	return nil
}

func TestLatest_ReadsThroughCache(t *testing.T) {
	repo := &fakeResultsRepo{
		set:  &domain.ResultSet{TenantID: "acme", AsOf: asOf, RunID: "run-1", Report: []byte(`{"orders_total":2}`)},
		recs: []domain.Recommendation{{Rank: 1, Type: domain.RecommendationPromotion}},
	}
	mc := &memoryCache{entries: map[string]cache.Snapshot{}}
	svc := NewResultsService(repo, &fakeRunRepo{}, mc)

	first, err := svc.Latest(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, 2, first.Report.OrdersTotal)
	assert.Len(t, first.Recommendations, 1)

	_, err = svc.Latest(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls)
}

func TestLatest_NoResults(t *testing.T) {
	svc := NewResultsService(&fakeResultsRepo{}, &fakeRunRepo{}, nil)
	_, err := svc.Latest(context.Background(), "acme")
	assert.ErrorIs(t, err, domain.ErrNoResults)
}

func TestRecommendations_FilteredGoesToRepository(t *testing.T) {
	repo := &fakeResultsRepo{set: &domain.ResultSet{TenantID: "acme", AsOf: asOf}}
	svc := NewResultsService(repo, &fakeRunRepo{}, nil)

	_, err := svc.Recommendations(context.Background(), "acme", nil, domain.ResultFilter{Channel: "meta"})
	require.NoError(t, err)
	require.NotNil(t, repo.lastFilter)
	assert.Equal(t, "meta", repo.lastFilter.Channel)
	assert.Equal(t, asOf, repo.lastAsOf)

	explicit := asOf.AddDate(0, 0, -3)
	_, err = svc.Recommendations(context.Background(), "acme", &explicit, domain.ResultFilter{})
	require.NoError(t, err)
	assert.Equal(t, explicit, repo.lastAsOf)
}

func TestRuns_ClampsLimit(t *testing.T) {
	runs := &fakeRunRepo{runs: []*pipeline.Run{{ID: "r-1", TenantID: "acme"}}}
	svc := NewResultsService(&fakeResultsRepo{}, runs, nil)
	svc.now = func() time.Time { return asOf }

	_, err := svc.Runs(context.Background(), "acme", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultRunsLimit, runs.limit)
	assert.Equal(t, asOf.Add(-runsLookback), runs.since)

	_, err = svc.Runs(context.Background(), "acme", 5000)
	require.NoError(t, err)
	assert.Equal(t, maxRunsLimit, runs.limit)

	run, err := svc.Run(context.Background(), "other", "r-1")
	require.NoError(t, err)
	assert.Nil(t, run)
}
