package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline"
	"github.com/andresuchdata/control-tower/internal/service"
)

var asOf = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

type stubResults struct {
	lastFilter *domain.ResultFilter
}

func (s *stubResults) LatestResultSet(_ context.Context, tenantID string) (*domain.ResultSet, error) {
	if tenantID != "acme" {
		return nil, domain.ErrNoResults
	}
	return &domain.ResultSet{TenantID: "acme", AsOf: asOf, RunID: "run-1", Fingerprint: "f00d"}, nil
}

func (s *stubResults) ListRecommendations(_ context.Context, _ string, _ time.Time, filter *domain.ResultFilter) ([]domain.Recommendation, error) {
	s.lastFilter = filter
	return []domain.Recommendation{{Rank: 1, Type: domain.RecommendationReduceSpend}}, nil
}

func (s *stubResults) ListAlignment(context.Context, string, time.Time, *domain.ResultFilter) ([]domain.AlignmentRecord, error) {
	return []domain.AlignmentRecord{{ProductID: "p-1", Channel: "meta"}}, nil
}

func (s *stubResults) ListInventoryHealth(context.Context, string, time.Time, *domain.ResultFilter) ([]domain.InventoryHealthRecord, error) {
	return nil, nil
}

type stubRuns struct{}

func (stubRuns) GetRun(_ context.Context, id string) (*pipeline.Run, error) {
	if id == "run-1" {
		return &pipeline.Run{ID: "run-1", TenantID: "acme", Status: pipeline.StatusCompleted}, nil
	}
	return nil, nil
}

func (stubRuns) ListRuns(context.Context, string, time.Time, int) ([]*pipeline.Run, error) {
	return []*pipeline.Run{{ID: "run-1", TenantID: "acme"}}, nil
}

func newTestRouter(repo *stubResults) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := service.NewResultsService(repo, stubRuns{}, nil)
	return NewRouter(&Services{ResultsService: svc}, nil)
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_Latest(t *testing.T) {
	router := newTestRouter(&stubResults{})

	w := get(t, router, "/api/v1/tenants/acme/latest")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "f00d", body["fingerprint"])

	w = get(t, router, "/api/v1/tenants/unknown/latest")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_RecommendationsFilter(t *testing.T) {
	repo := &stubResults{}
	router := newTestRouter(repo)

	w := get(t, router, "/api/v1/tenants/acme/recommendations?channel=meta&type=reduce_spend&limit=3")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, repo.lastFilter)
	assert.Equal(t, domain.ResultFilter{Channel: "meta", Type: "reduce_spend", Limit: 3}, *repo.lastFilter)

	var body struct {
		Items []domain.Recommendation `json:"items"`
		Total int                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, domain.RecommendationReduceSpend, body.Items[0].Type)
}

func TestRouter_InvalidAsOf(t *testing.T) {
	router := newTestRouter(&stubResults{})
	w := get(t, router, "/api/v1/tenants/acme/alignment?as_of=15-01-2024")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_Runs(t *testing.T) {
	router := newTestRouter(&stubResults{})

	w := get(t, router, "/api/v1/tenants/acme/runs")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(t, router, "/api/v1/tenants/acme/runs/run-1")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(t, router, "/api/v1/tenants/other/runs/run-1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	origins, all := normalizeAllowedOrigins([]string{"https://a.example, https://b.example", ""})
	assert.False(t, all)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, origins)

	_, all = normalizeAllowedOrigins([]string{"*"})
	assert.True(t, all)
}
