package inventory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/control-tower/internal/domain"
)

// Config holds settings for the inventory health calculator.
type Config struct {
	// WindowDays is the trailing sales window used for velocity.
	WindowDays int `validate:"gte=1,lte=365"`
	// DefaultLocationID is used for orders and snapshots that carry no location.
	DefaultLocationID string `validate:"required"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WindowDays:        30,
		DefaultLocationID: "default",
	}
}

type pairKey struct {
	productID  string
	locationID string
}

// Calculator derives days of cover per product and location.
type Calculator struct {
	config Config
}

// NewCalculator creates a new inventory health calculator
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{config: cfg}
}

// Calculate computes velocity, cover and status for one pair.
// Cover is nil when nothing sold and stock remains.
func (c *Calculator) Calculate(units, onHand int64) (float64, *float64, domain.StockStatus) {
	velocity := float64(units) / float64(c.config.WindowDays)

	switch {
	case onHand == 0:
		zero := 0.0
		return velocity, &zero, domain.StockStatusStockout
	case velocity == 0:
		return 0, nil, domain.StockStatusNoMovement
	}

	cover := float64(onHand) / velocity
	return velocity, &cover, domain.StockStatusCovered
}

// WindowStart returns the exclusive lower bound of the sales window ending at asOf.
func (c *Calculator) WindowStart(asOf time.Time) time.Time {
	return asOf.Add(-time.Duration(c.config.WindowDays) * 24 * time.Hour)
}

func (c *Calculator) location(id string) string {
	if id == "" {
		return c.config.DefaultLocationID
	}
	return id
}

// unitsSold sums line-item quantities per pair for orders placed in (asOf-window, asOf].
func (c *Calculator) unitsSold(ctx context.Context, asOf time.Time, orders []domain.Order, report *domain.RunReport) map[pairKey]int64 {
	logger := zerolog.Ctx(ctx)
	start := c.WindowStart(asOf)

	sold := make(map[pairKey]int64)
	for _, o := range orders {
		if !o.PlacedAt.After(start) || o.PlacedAt.After(asOf) {
			continue
		}
		location := c.location(o.LocationID)
		for _, item := range o.Items {
			if item.ProductID == "" || item.Quantity < 0 {
				report.AddMalformed("orders")
				logger.Debug().Str("order_id", o.ID).Str("product_id", item.ProductID).Int("quantity", item.Quantity).Msg("dropping line item")
				continue
			}
			sold[pairKey{productID: item.ProductID, locationID: location}] += int64(item.Quantity)
		}
	}
	return sold
}

// latestSnapshots picks the most recent usable snapshot at or before asOf per pair.
// Negative on-hand snapshots are malformed and never selected.
func (c *Calculator) latestSnapshots(ctx context.Context, asOf time.Time, snapshots []domain.InventorySnapshot, report *domain.RunReport) map[pairKey]domain.InventorySnapshot {
	logger := zerolog.Ctx(ctx)

	latest := make(map[pairKey]domain.InventorySnapshot)
	for _, s := range snapshots {
		if s.TakenAt.After(asOf) {
			continue
		}
		if s.OnHand < 0 {
			report.AddMalformed("inventory")
			logger.Debug().Str("product_id", s.ProductID).Str("location_id", s.LocationID).Int64("on_hand", s.OnHand).Msg("dropping negative snapshot")
			continue
		}
		key := pairKey{productID: s.ProductID, locationID: c.location(s.LocationID)}
		if cur, ok := latest[key]; !ok || s.TakenAt.After(cur.TakenAt) {
			latest[key] = s
		}
	}
	return latest
}

// ComputeHealth returns one record per product/location with a snapshot, sorted
// by product then location. Pairs with sales but no snapshot are recorded as gaps.
func (c *Calculator) ComputeHealth(ctx context.Context, asOf time.Time, orders []domain.Order, snapshots []domain.InventorySnapshot, report *domain.RunReport) ([]domain.InventoryHealthRecord, error) {
	logger := zerolog.Ctx(ctx)

	sold := c.unitsSold(ctx, asOf, orders, report)
	latest := c.latestSnapshots(ctx, asOf, snapshots, report)

	for key, units := range sold {
		if _, ok := latest[key]; ok {
			continue
		}
		gap := domain.Gap(domain.GapMissingSnapshot, key.productID+"@"+key.locationID, "no inventory snapshot for product with sales")
		report.RecordGap(gap)
		logger.Warn().
			Err(gap).
			Str("product_id", key.productID).
			Str("location_id", key.locationID).
			Int64("units_sold", units).
			Msg("no inventory snapshot for product with sales, skipping")
	}

	out := make([]domain.InventoryHealthRecord, 0, len(latest))
	for key, snap := range latest {
		velocity, cover, status := c.Calculate(sold[key], snap.OnHand)
		if cover != nil && (*cover < 0 || math.IsNaN(*cover) || math.IsInf(*cover, 0)) {
			return nil, domain.InvariantError("days of cover %v for %s@%s", *cover, key.productID, key.locationID)
		}
		out = append(out, domain.InventoryHealthRecord{
			ProductID:   key.productID,
			LocationID:  key.locationID,
			Velocity:    velocity,
			OnHand:      snap.OnHand,
			DaysOfCover: cover,
			Status:      status,
			SnapshotAt:  snap.TakenAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out, nil
}

// ComputeHealth runs a calculator built from cfg.
func ComputeHealth(ctx context.Context, cfg Config, asOf time.Time, orders []domain.Order, snapshots []domain.InventorySnapshot, report *domain.RunReport) ([]domain.InventoryHealthRecord, error) {
	return NewCalculator(cfg).ComputeHealth(ctx, asOf, orders, snapshots, report)
}
