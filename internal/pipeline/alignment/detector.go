package alignment

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline/inventory"
	"github.com/andresuchdata/control-tower/internal/pipeline/normalize"
)

// Config holds the mismatch thresholds.
type Config struct {
	LowStockDays   float64 `validate:"gt=0"`
	LowStockShare  float64 `validate:"gte=0,lte=1"`
	OverstockDays  float64 `validate:"gtfield=LowStockDays"`
	OverstockShare float64 `validate:"gte=0,lte=1"`
	// SpendWindowDays bounds the campaign days whose spend is allocated, ending at the as-of day.
	SpendWindowDays int `validate:"gte=1,lte=90"`
	// IncludeUnadvertised adds a zero-spend cell for products that have no ad cells.
	IncludeUnadvertised bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		LowStockDays:        14,
		LowStockShare:       0.15,
		OverstockDays:       90,
		OverstockShare:      0.05,
		SpendWindowDays:     7,
		IncludeUnadvertised: true,
	}
}

// Input is everything the detector joins.
type Input struct {
	AsOf       time.Time
	Orders     []domain.Order
	Attributed []domain.AttributedOrder
	Campaigns  []domain.CampaignPerformanceRecord
	Health     []domain.InventoryHealthRecord
}

type cell struct {
	spend   decimal.Decimal
	revenue decimal.Decimal
}

// Detector classifies (product, channel, geography) cells.
type Detector struct {
	config Config
}

// NewDetector creates a new alignment detector
func NewDetector(cfg Config) *Detector {
	return &Detector{config: cfg}
}

// Detect allocates campaign spend to products and classifies every resulting cell.
// Output is ordered by product, channel and geography.
func (d *Detector) Detect(ctx context.Context, in Input, report *domain.RunReport) []domain.AlignmentRecord {
	logger := zerolog.Ctx(ctx)

	cells := d.allocate(ctx, in, report)
	health := inventory.ByProduct(in.Health)

	productSpend := make(map[string]decimal.Decimal)
	for key, c := range cells {
		productSpend[key.ProductID] = productSpend[key.ProductID].Add(c.spend)
	}

	if d.config.IncludeUnadvertised {
		advertised := make(map[string]bool, len(productSpend))
		for key := range cells {
			advertised[key.ProductID] = true
		}
		for _, id := range inventory.ProductIDs(health) {
			if !advertised[id] {
				cells[domain.CellKey{ProductID: id, Channel: domain.ChannelUnadvertised}] = &cell{}
			}
		}
	}

	missing := make(map[string]bool)
	out := make([]domain.AlignmentRecord, 0, len(cells))
	for key, c := range cells {
		h, ok := health[key.ProductID]
		if !ok {
			gap := domain.Gap(domain.GapMissingHealth, key.ProductID, "no inventory health for advertised product")
			if !missing[key.ProductID] {
				missing[key.ProductID] = true
				logger.Warn().Err(gap).Str("product_id", key.ProductID).Msg("no inventory health for advertised product, skipping")
			}
			report.RecordGap(gap)
			continue
		}

		rec := domain.AlignmentRecord{
			ProductID:   key.ProductID,
			Channel:     key.Channel,
			Geography:   key.Geography,
			Spend:       c.spend.Round(2),
			Revenue:     c.revenue.Round(2),
			ROAS:        roas(c.revenue, c.spend),
			SpendShare:  share(c.spend, productSpend[key.ProductID]),
			OnHand:      h.OnHand,
			DaysOfCover: h.DaysOfCover,
			Status:      h.Status,
		}
		rec.Category = d.Classify(rec)
		out = append(out, rec)
	}

	SortRecords(out)
	return out
}

// Classify applies the mismatch rules in order; the first match wins.
func (d *Detector) Classify(rec domain.AlignmentRecord) domain.MismatchCategory {
	switch {
	case rec.OnHand == 0 && rec.Spend.IsPositive():
		return domain.CategorySpendingOnStockout
	case rec.DaysOfCover != nil && rec.Status != domain.StockStatusNoMovement &&
		*rec.DaysOfCover < d.config.LowStockDays && rec.SpendShare > d.config.LowStockShare:
		return domain.CategoryOverspendingLowStock
	case coverAbove(rec, d.config.OverstockDays) && rec.SpendShare < d.config.OverstockShare:
		return domain.CategoryUnderspendingOverstock
	default:
		return domain.CategoryAligned
	}
}

// allocate splits each campaign's in-window spend over products in proportion to
// the line-item revenue of the orders attributed to it. Revenue counts only
// orders credited to a campaign day inside the same window as the spend.
func (d *Detector) allocate(ctx context.Context, in Input, report *domain.RunReport) map[domain.CellKey]*cell {
	logger := zerolog.Ctx(ctx)

	last := normalize.Day(in.AsOf)
	first := last.AddDate(0, 0, -(d.config.SpendWindowDays - 1))

	spend := make(map[domain.CampaignKey]decimal.Decimal)
	for _, r := range in.Campaigns {
		if r.Date.Before(first) || r.Date.After(last) {
			continue
		}
		spend[r.Key()] = spend[r.Key()].Add(r.Spend)
	}

	orders := make(map[string]domain.Order, len(in.Orders))
	for _, o := range in.Orders {
		orders[o.ID] = o
	}

	type productRevenue map[string]decimal.Decimal
	byCampaign := make(map[domain.CampaignKey]productRevenue)
	for _, a := range in.Attributed {
		if !a.Attributed() || a.CampaignDay == nil {
			continue
		}
		if a.CampaignDay.Before(first) || a.CampaignDay.After(last) {
			continue
		}
		o, ok := orders[a.OrderID]
		if !ok {
			continue
		}
		key := a.CampaignKey()
		if byCampaign[key] == nil {
			byCampaign[key] = make(productRevenue)
		}
		for _, item := range o.Items {
			byCampaign[key][item.ProductID] = byCampaign[key][item.ProductID].Add(item.Revenue())
		}
	}

	cells := make(map[domain.CellKey]*cell)
	get := func(k domain.CampaignKey, product string) *cell {
		ck := domain.CellKey{ProductID: product, Channel: string(k.Platform), Geography: k.Geography}
		c, ok := cells[ck]
		if !ok {
			c = &cell{}
			cells[ck] = c
		}
		return c
	}

	for _, k := range sortedCampaignKeys(spend) {
		total := decimal.Zero
		for _, rev := range byCampaign[k] {
			total = total.Add(rev)
		}
		if !total.IsPositive() {
			if spend[k].IsPositive() {
				gap := domain.Gap(domain.GapUnallocatedSpend, k.CampaignID, "campaign spend has no attributed orders")
				report.RecordGap(gap)
				report.UnallocatedSpend = report.UnallocatedSpend.Add(spend[k])
				logger.Warn().
					Err(gap).
					Str("platform", string(k.Platform)).
					Str("campaign_id", k.CampaignID).
					Str("geography", k.Geography.Key()).
					Str("spend", spend[k].StringFixed(2)).
					Msg("campaign spend has no attributed orders")
			}
			continue
		}
		for product, rev := range byCampaign[k] {
			c := get(k, product)
			c.spend = c.spend.Add(spend[k].Mul(rev).Div(total))
		}
	}

	for k, products := range byCampaign {
		for product, rev := range products {
			c := get(k, product)
			c.revenue = c.revenue.Add(rev)
		}
	}
	return cells
}

// Detect runs a detector built from cfg.
func Detect(ctx context.Context, cfg Config, in Input, report *domain.RunReport) []domain.AlignmentRecord {
	return NewDetector(cfg).Detect(ctx, in, report)
}

// SortRecords orders records by product, channel and geography.
func SortRecords(records []domain.AlignmentRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if a.Channel != b.Channel {
			return a.Channel < b.Channel
		}
		return a.Geography.Key() < b.Geography.Key()
	})
}

func sortedCampaignKeys(m map[domain.CampaignKey]decimal.Decimal) []domain.CampaignKey {
	keys := make([]domain.CampaignKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Platform != keys[j].Platform {
			return keys[i].Platform < keys[j].Platform
		}
		if keys[i].CampaignID != keys[j].CampaignID {
			return keys[i].CampaignID < keys[j].CampaignID
		}
		return keys[i].Geography.Key() < keys[j].Geography.Key()
	})
	return keys
}

func coverAbove(rec domain.AlignmentRecord, days float64) bool {
	if rec.Status == domain.StockStatusNoMovement {
		return true
	}
	return rec.DaysOfCover != nil && *rec.DaysOfCover > days
}

func roas(revenue, spend decimal.Decimal) *float64 {
	if !spend.IsPositive() {
		return nil
	}
	v, _ := revenue.Div(spend).Float64()
	return &v
}

func share(part, total decimal.Decimal) float64 {
	if !total.IsPositive() {
		return 0
	}
	v, _ := part.Div(total).Float64()
	return v
}
