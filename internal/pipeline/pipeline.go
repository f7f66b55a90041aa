package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline/alignment"
	"github.com/andresuchdata/control-tower/internal/pipeline/attribution"
	"github.com/andresuchdata/control-tower/internal/pipeline/inventory"
	"github.com/andresuchdata/control-tower/internal/pipeline/normalize"
	"github.com/andresuchdata/control-tower/internal/pipeline/recommend"
)

// Pipeline runs the five stages left to right for one tenant.
type Pipeline struct {
	settings Settings
}

// New validates settings and returns a pipeline.
func New(settings Settings) (*Pipeline, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{settings: settings}, nil
}

// Settings returns the validated settings.
func (p *Pipeline) Settings() Settings {
	return p.settings
}

// Run executes every stage against in and returns the complete result, or an
// error and no result. Callers must not run the same tenant and as-of twice
// concurrently; the Scheduler enforces this with a RunLocker.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	if in.TenantID == "" {
		return nil, domain.ConfigError("tenant id is required")
	}
	if in.AsOf.IsZero() {
		return nil, domain.ConfigError("as-of time is required")
	}

	logger := zerolog.Ctx(ctx)
	report := domain.NewRunReport()
	report.Merge(in.Report)
	res := &Result{
		RunID:    uuid.NewString(),
		TenantID: in.TenantID,
		AsOf:     in.AsOf.UTC(),
		Report:   report,
	}

	start := time.Now()
	stage := func(name string) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run aborted before %s: %w", name, err)
		}
		logger.Debug().Str("stage", name).Dur("elapsed", time.Since(start)).Msg("stage starting")
		return nil
	}

	if err := stage("normalize"); err != nil {
		return nil, err
	}
	orders := p.convertOrders(ctx, in.Orders, report)
	res.Campaigns = normalize.NewNormalizer(p.settings.Normalize).NormalizeAll(ctx, in.AdRows, report)

	if err := stage("attribution"); err != nil {
		return nil, err
	}
	attributed, err := attribution.Attribute(ctx, p.settings.Attribution, orders, res.Campaigns, report)
	if err != nil {
		return nil, fmt.Errorf("attribution: %w", err)
	}
	res.Attributed = attributed

	if err := stage("inventory"); err != nil {
		return nil, err
	}
	health, err := inventory.ComputeHealth(ctx, p.settings.Inventory, res.AsOf, orders, in.Snapshots, report)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	res.Health = health

	if err := stage("alignment"); err != nil {
		return nil, err
	}
	res.Alignment = alignment.Detect(ctx, p.settings.Alignment, alignment.Input{
		AsOf:       res.AsOf,
		Orders:     orders,
		Attributed: res.Attributed,
		Campaigns:  res.Campaigns,
		Health:     res.Health,
	}, report)

	if err := stage("recommend"); err != nil {
		return nil, err
	}
	res.Recommendations = recommend.Generate(ctx, p.settings.Recommend, res.Alignment)

	fingerprint, err := Fingerprint(res.Recommendations)
	if err != nil {
		return nil, domain.InvariantError("fingerprint: %v", err)
	}
	res.Fingerprint = fingerprint

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run aborted after recommend: %w", err)
	}

	logger.Info().
		Int("orders", report.OrdersTotal).
		Float64("unattributed_rate", report.UnattributedRate()).
		Int("malformed", report.MalformedTotal()).
		Interface("gaps", report.Gaps).
		Str("unallocated_spend", report.UnallocatedSpend.StringFixed(2)).
		Int("recommendations", len(res.Recommendations)).
		Str("fingerprint", res.Fingerprint).
		Dur("took", time.Since(start)).
		Msg("pipeline run finished")

	return res, nil
}

// convertOrders drops orders in a currency with no FX rate and converts the
// rest into the reporting currency.
func (p *Pipeline) convertOrders(ctx context.Context, orders []domain.Order, report *domain.RunReport) []domain.Order {
	n := normalize.NewNormalizer(p.settings.Normalize)
	logger := zerolog.Ctx(ctx)

	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		rate, err := n.Rate(o.Currency)
		if err != nil {
			report.AddMalformed("orders")
			logger.Debug().Err(err).Str("order_id", o.ID).Msg("dropping order")
			continue
		}
		if rate.Equal(one) {
			out = append(out, o)
			continue
		}
		converted := o
		converted.Total = o.Total.Mul(rate)
		converted.Currency = p.settings.Normalize.ReportingCurrency
		converted.Items = make([]domain.LineItem, len(o.Items))
		for i, item := range o.Items {
			item.UnitPrice = item.UnitPrice.Mul(rate)
			converted.Items[i] = item
		}
		out = append(out, converted)
	}
	return out
}

var one = decimal.NewFromInt(1)
