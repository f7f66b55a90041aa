package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/control-tower/internal/cache"
	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline"
	"github.com/andresuchdata/control-tower/internal/repository"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
	runsLookback     = 90 * 24 * time.Hour
)

type ResultsService struct {
	repo  repository.ResultsRepository
	runs  repository.RunRepository
	cache cache.ResultsCache
	now   func() time.Time
}

func NewResultsService(repo repository.ResultsRepository, runs repository.RunRepository, cacheImpl cache.ResultsCache) *ResultsService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopResultsCache()
	}
	return &ResultsService{repo: repo, runs: runs, cache: cacheImpl, now: time.Now}
}

// Latest returns the latest published snapshot of a tenant, reading through the cache.
func (s *ResultsService) Latest(ctx context.Context, tenantID string) (*cache.Snapshot, error) {
	if snapshot, ok, err := s.cache.GetLatest(ctx, tenantID); err == nil && ok {
		return snapshot, nil
	} else if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("results: cache get latest failed")
	}

	set, err := s.repo.LatestResultSet(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.load(ctx, set)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetLatest(ctx, *snapshot); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("results: cache set latest failed")
	}
	return snapshot, nil
}

func (s *ResultsService) load(ctx context.Context, set *domain.ResultSet) (*cache.Snapshot, error) {
	recs, err := s.repo.ListRecommendations(ctx, set.TenantID, set.AsOf, nil)
	if err != nil {
		return nil, err
	}
	alignment, err := s.repo.ListAlignment(ctx, set.TenantID, set.AsOf, nil)
	if err != nil {
		return nil, err
	}
	health, err := s.repo.ListInventoryHealth(ctx, set.TenantID, set.AsOf, nil)
	if err != nil {
		return nil, err
	}
	report, err := set.RunReport()
	if err != nil {
		return nil, err
	}

	return &cache.Snapshot{
		TenantID:        set.TenantID,
		RunID:           set.RunID,
		AsOf:            set.AsOf,
		Fingerprint:     set.Fingerprint,
		Recommendations: recs,
		Alignment:       alignment,
		InventoryHealth: health,
		Report:          report,
	}, nil
}

// Recommendations returns the ranked recommendations. Unfiltered requests for
// the latest run are served from the snapshot.
func (s *ResultsService) Recommendations(ctx context.Context, tenantID string, asOf *time.Time, filter domain.ResultFilter) ([]domain.Recommendation, error) {
	if asOf == nil && isEmpty(filter) {
		snapshot, err := s.Latest(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return snapshot.Recommendations, nil
	}

	day, err := s.resolveAsOf(ctx, tenantID, asOf)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRecommendations(ctx, tenantID, day, &filter)
}

func (s *ResultsService) Alignment(ctx context.Context, tenantID string, asOf *time.Time, filter domain.ResultFilter) ([]domain.AlignmentRecord, error) {
	if asOf == nil && isEmpty(filter) {
		snapshot, err := s.Latest(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return snapshot.Alignment, nil
	}

	day, err := s.resolveAsOf(ctx, tenantID, asOf)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAlignment(ctx, tenantID, day, &filter)
}

func (s *ResultsService) InventoryHealth(ctx context.Context, tenantID string, asOf *time.Time, filter domain.ResultFilter) ([]domain.InventoryHealthRecord, error) {
	if asOf == nil && isEmpty(filter) {
		snapshot, err := s.Latest(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return snapshot.InventoryHealth, nil
	}

	day, err := s.resolveAsOf(ctx, tenantID, asOf)
	if err != nil {
		return nil, err
	}
	return s.repo.ListInventoryHealth(ctx, tenantID, day, &filter)
}

// Runs lists the recent runs of a tenant, newest first.
func (s *ResultsService) Runs(ctx context.Context, tenantID string, limit int) ([]*pipeline.Run, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}
	return s.runs.ListRuns(ctx, tenantID, s.now().Add(-runsLookback), limit)
}

// Run returns a single run, or nil when it does not exist or belongs to another tenant.
func (s *ResultsService) Run(ctx context.Context, tenantID, runID string) (*pipeline.Run, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil || run == nil || run.TenantID != tenantID {
		return nil, err
	}
	return run, nil
}

func (s *ResultsService) resolveAsOf(ctx context.Context, tenantID string, asOf *time.Time) (time.Time, error) {
	if asOf != nil {
		return asOf.UTC(), nil
	}
	if snapshot, ok, err := s.cache.GetLatest(ctx, tenantID); err == nil && ok {
		return snapshot.AsOf, nil
	}
	set, err := s.repo.LatestResultSet(ctx, tenantID)
	if err != nil {
		return time.Time{}, err
	}
	return set.AsOf, nil
}

func isEmpty(filter domain.ResultFilter) bool {
	return filter == domain.ResultFilter{}
}
