package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/control-tower/internal/config"
	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline"
)

const (
	latestKeyPrefix = "control_tower:latest"
)

// Snapshot is the latest published output of a tenant, as served by the API.
type Snapshot struct {
	TenantID        string                         `json:"tenant_id"`
	RunID           string                         `json:"run_id"`
	AsOf            time.Time                      `json:"as_of"`
	Fingerprint     string                         `json:"fingerprint"`
	Recommendations []domain.Recommendation        `json:"recommendations"`
	Alignment       []domain.AlignmentRecord       `json:"alignment"`
	InventoryHealth []domain.InventoryHealthRecord `json:"inventory_health"`
	Report          *domain.RunReport              `json:"report,omitempty"`
}

// SnapshotFromResult projects a pipeline result onto the cached view.
func SnapshotFromResult(res *pipeline.Result) Snapshot {
	return Snapshot{
		TenantID:        res.TenantID,
		RunID:           res.RunID,
		AsOf:            res.AsOf,
		Fingerprint:     res.Fingerprint,
		Recommendations: res.Recommendations,
		Alignment:       res.Alignment,
		InventoryHealth: res.Health,
		Report:          res.Report,
	}
}

type ResultsCache interface {
	GetLatest(ctx context.Context, tenantID string) (*Snapshot, bool, error)
	SetLatest(ctx context.Context, snapshot Snapshot) error
	InvalidateTenant(ctx context.Context, tenantID string) error
}

type redisResultsCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopResultsCache struct{}

func NewResultsCache(cfg config.CacheConfig) (ResultsCache, error) {
	if !cfg.Enabled {
		return &noopResultsCache{}, nil
	}

	client, ttl, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewRedisResultsCache(client, ttl), nil
}

// NewRedisResultsCache wraps an existing client.
func NewRedisResultsCache(client *redis.Client, ttl time.Duration) ResultsCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &redisResultsCache{client: client, ttl: ttl}
}

func NewNoopResultsCache() ResultsCache {
	return &noopResultsCache{}
}

func (c *redisResultsCache) GetLatest(ctx context.Context, tenantID string) (*Snapshot, bool, error) {
	payload, err := c.client.Get(ctx, latestKey(tenantID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, false, fmt.Errorf("decode latest results cache: %w", err)
	}
	return &snapshot, true, nil
}

func (c *redisResultsCache) SetLatest(ctx context.Context, snapshot Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode latest results cache: %w", err)
	}
	if err := c.client.Set(ctx, latestKey(snapshot.TenantID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisResultsCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	return c.client.Del(ctx, latestKey(tenantID)).Err()
}

func (n *noopResultsCache) GetLatest(ctx context.Context, tenantID string) (*Snapshot, bool, error) {
	return nil, false, nil
}

func (n *noopResultsCache) SetLatest(ctx context.Context, snapshot Snapshot) error {
	return nil
}

func (n *noopResultsCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	return nil
}

func latestKey(tenantID string) string {
	return fmt.Sprintf("%s:%s", latestKeyPrefix, strings.ToLower(strings.TrimSpace(tenantID)))
}

// Publisher refreshes the cached snapshot once a run has been persisted.
type Publisher struct {
	cache ResultsCache
}

func NewPublisher(cache ResultsCache) *Publisher {
	return &Publisher{cache: cache}
}

func (p *Publisher) Name() string { return "redis_cache" }

func (p *Publisher) Publish(ctx context.Context, res *pipeline.Result) error {
	return p.cache.SetLatest(ctx, SnapshotFromResult(res))
}

// Retract drops the cached snapshot so reads fall back to the database.
func (p *Publisher) Retract(ctx context.Context, res *pipeline.Result) error {
	return p.cache.InvalidateTenant(ctx, res.TenantID)
}
