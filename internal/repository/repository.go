package repository

import (
	"context"
	"time"

	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline"
)

// ResultsRepository reads published pipeline output.
type ResultsRepository interface {
	LatestResultSet(ctx context.Context, tenantID string) (*domain.ResultSet, error)
	ListRecommendations(ctx context.Context, tenantID string, asOf time.Time, filter *domain.ResultFilter) ([]domain.Recommendation, error)
	ListAlignment(ctx context.Context, tenantID string, asOf time.Time, filter *domain.ResultFilter) ([]domain.AlignmentRecord, error)
	ListInventoryHealth(ctx context.Context, tenantID string, asOf time.Time, filter *domain.ResultFilter) ([]domain.InventoryHealthRecord, error)
}

// RunRepository reads the run history kept by the scheduler.
type RunRepository interface {
	GetRun(ctx context.Context, id string) (*pipeline.Run, error)
	ListRuns(ctx context.Context, tenantID string, since time.Time, limit int) ([]*pipeline.Run, error)
}
