package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/control-tower/internal/config"
	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline"
)

func TestBuildRedisOptions(t *testing.T) {
	opts, err := buildRedisOptions(config.CacheConfig{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", opts.Addr)

	opts, err = buildRedisOptions(config.CacheConfig{RedisHost: "cache", RedisPort: "6380", RedisDB: 2, RedisPassword: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "s3cret", opts.Password)

	opts, err = buildRedisOptions(config.CacheConfig{RedisURL: "redis://:pw@redis.internal:6379/3"})
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)

	_, err = buildRedisOptions(config.CacheConfig{RedisURL: "http://nope"})
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "control_tower:latest:acme", latestKey(" ACME "))
	asOf := time.Date(2024, 1, 15, 23, 0, 0, 0, time.FixedZone("x", -5*3600))
	assert.Equal(t, "lock:run:acme:2024-01-16", runLockKey("acme", asOf))
}

func TestNewResultsCache_DisabledIsNoop(t *testing.T) {
	c, err := NewResultsCache(config.CacheConfig{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.SetLatest(ctx, Snapshot{TenantID: "acme"}))
	got, ok, err := c.GetLatest(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.NoError(t, c.InvalidateTenant(ctx, "acme"))
}

type recordingCache struct {
	noopResultsCache
	set         []Snapshot
	invalidated []string
}

func (r *recordingCache) InvalidateTenant(_ context.Context, tenantID string) error {
	r.invalidated = append(r.invalidated, tenantID)
	return nil
}

func (r *recordingCache) SetLatest(_ context.Context, s Snapshot) error {
	r.set = append(r.set, s)
	return nil
}

func TestPublisher_StoresSnapshot(t *testing.T) {
	rc := &recordingCache{}
	p := NewPublisher(rc)
	assert.Equal(t, "redis_cache", p.Name())

	res := &pipeline.Result{
		RunID:           "run-1",
		TenantID:        "acme",
		AsOf:            time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Fingerprint:     "abc",
		Recommendations: []domain.Recommendation{{Rank: 1, Type: domain.RecommendationReduceSpend}},
		Report:          domain.NewRunReport(),
	}
	require.NoError(t, p.Publish(context.Background(), res))
	require.Len(t, rc.set, 1)
	assert.Equal(t, "run-1", rc.set[0].RunID)
	assert.Equal(t, "abc", rc.set[0].Fingerprint)
	assert.Len(t, rc.set[0].Recommendations, 1)
}

func TestPublisher_RetractInvalidatesTenant(t *testing.T) {
	rc := &recordingCache{}
	var p pipeline.Retractor = NewPublisher(rc)

	require.NoError(t, p.Retract(context.Background(), &pipeline.Result{TenantID: "acme", RunID: "run-1"}))
	assert.Equal(t, []string{"acme"}, rc.invalidated)
}
