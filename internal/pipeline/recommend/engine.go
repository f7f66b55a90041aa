package recommend

import (
	"context"
	"math"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/control-tower/internal/domain"
)

// Rule ids carried in RecommendationReason.Rule, in evaluation order.
const (
	RuleStockoutPause      = "stockout_pause"
	RuleLowStockReduce     = "low_stock_reduce"
	RuleOverstockIncrease  = "overstock_increase"
	RuleHighCoverPromotion = "high_cover_promotion"
)

var ruleOrder = map[string]int{
	RuleStockoutPause:      0,
	RuleLowStockReduce:     1,
	RuleOverstockIncrease:  2,
	RuleHighCoverPromotion: 3,
}

// Config holds the rule thresholds and the scoring model.
type Config struct {
	TargetROAS          float64 `validate:"gt=0"`
	ReducePct           float64 `validate:"gt=0,lte=1"`
	StockoutReducePct   float64 `validate:"gt=0,lte=1"`
	IncreasePct         float64 `validate:"gt=0,lte=5"`
	MaxIncreaseDelta    float64 `validate:"gt=0"`
	MinHealthyCoverDays float64 `validate:"gte=0"`
	PromotionCoverDays  float64 `validate:"gt=0"`

	ReduceWeight    float64 `validate:"gt=0"`
	IncreaseWeight  float64 `validate:"gte=0"`
	PromotionWeight float64 `validate:"gte=0"`
	// Magnitude bands on |delta|: above LargeDelta adds LargeBonus, above MediumDelta adds MediumBonus.
	LargeDelta    float64 `validate:"gtfield=MediumDelta"`
	LargeBonus    float64 `validate:"gte=0"`
	MediumDelta   float64 `validate:"gte=0"`
	MediumBonus   float64 `validate:"gte=0"`
	StockoutBonus float64 `validate:"gte=0"`

	TopN int `validate:"gte=1,lte=1000"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TargetROAS:          2.0,
		ReducePct:           0.20,
		StockoutReducePct:   1.0,
		IncreasePct:         0.50,
		MaxIncreaseDelta:    1000,
		MinHealthyCoverDays: 30,
		PromotionCoverDays:  90,
		ReduceWeight:        100,
		IncreaseWeight:      40,
		PromotionWeight:     20,
		LargeDelta:          1000,
		LargeBonus:          30,
		MediumDelta:         500,
		MediumBonus:         15,
		StockoutBonus:       25,
		TopN:                5,
	}
}

var validate = validator.New()

// Validate checks field ranges and that any reduction outranks any increase.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return domain.ConfigError("recommend: %v", err)
	}
	if maxBand := math.Max(c.LargeBonus, c.MediumBonus); c.ReduceWeight <= c.IncreaseWeight+maxBand {
		return domain.ConfigError("recommend: reduce weight %.2f must exceed increase weight %.2f plus max band bonus %.2f",
			c.ReduceWeight, c.IncreaseWeight, maxBand)
	}
	return nil
}

// Engine turns alignment records into ranked recommendations.
type Engine struct {
	config Config
}

// NewEngine creates a recommendation engine. The config should be validated first.
func NewEngine(cfg Config) *Engine {
	return &Engine{config: cfg}
}

// Candidates returns every recommendation the rules produce for one record, in rule order.
func (e *Engine) Candidates(rec domain.AlignmentRecord) []domain.Recommendation {
	var out []domain.Recommendation
	cfg := e.config

	switch {
	case rec.Category == domain.CategorySpendingOnStockout:
		delta := rec.Spend.Mul(decimal.NewFromFloat(cfg.StockoutReducePct)).Neg().Round(2)
		out = append(out, e.build(rec, domain.RecommendationReduceSpend, RuleStockoutPause, &delta))

	case rec.Category == domain.CategoryOverspendingLowStock && rec.ROAS != nil && *rec.ROAS < cfg.TargetROAS:
		delta := rec.Spend.Mul(decimal.NewFromFloat(cfg.ReducePct)).Neg().Round(2)
		out = append(out, e.build(rec, domain.RecommendationReduceSpend, RuleLowStockReduce, &delta))

	case rec.Category == domain.CategoryUnderspendingOverstock && rec.ROAS != nil && *rec.ROAS > cfg.TargetROAS &&
		coverAtLeast(rec, cfg.MinHealthyCoverDays):
		delta := decimal.Min(
			rec.Spend.Mul(decimal.NewFromFloat(cfg.IncreasePct)),
			decimal.NewFromFloat(cfg.MaxIncreaseDelta),
		).Round(2)
		if delta.IsPositive() {
			out = append(out, e.build(rec, domain.RecommendationIncreaseSpend, RuleOverstockIncrease, &delta))
		}
	}

	if rec.Status == domain.StockStatusNoMovement || (rec.DaysOfCover != nil && *rec.DaysOfCover > cfg.PromotionCoverDays) {
		out = append(out, e.build(rec, domain.RecommendationPromotion, RuleHighCoverPromotion, nil))
	}
	return out
}

func (e *Engine) build(rec domain.AlignmentRecord, typ domain.RecommendationType, rule string, delta *decimal.Decimal) domain.Recommendation {
	return domain.Recommendation{
		Type: typ,
		Target: domain.RecommendationTarget{
			ProductID: rec.ProductID,
			Channel:   rec.Channel,
			Geography: rec.Geography,
		},
		Delta:    delta,
		Priority: e.Score(typ, rule, delta),
		Reason: domain.RecommendationReason{
			Rule:        rule,
			Category:    rec.Category,
			ROAS:        rec.ROAS,
			DaysOfCover: rec.DaysOfCover,
			SpendShare:  rec.SpendShare,
			Spend:       rec.Spend,
			StockStatus: rec.Status,
		},
	}
}

// Score is type weight plus magnitude band plus the stockout bonus.
func (e *Engine) Score(typ domain.RecommendationType, rule string, delta *decimal.Decimal) float64 {
	cfg := e.config

	var score float64
	switch typ {
	case domain.RecommendationReduceSpend:
		score = cfg.ReduceWeight
	case domain.RecommendationIncreaseSpend:
		score = cfg.IncreaseWeight
	case domain.RecommendationPromotion:
		score = cfg.PromotionWeight
	}

	if delta != nil {
		magnitude, _ := delta.Abs().Float64()
		switch {
		case magnitude > cfg.LargeDelta:
			score += cfg.LargeBonus
		case magnitude > cfg.MediumDelta:
			score += cfg.MediumBonus
		}
	}

	if rule == RuleStockoutPause {
		score += cfg.StockoutBonus
	}
	return score
}

// Generate evaluates every record, keeps the best recommendation per cell,
// orders the result and returns at most TopN entries ranked from 1.
func (e *Engine) Generate(ctx context.Context, records []domain.AlignmentRecord) []domain.Recommendation {
	best := make(map[domain.CellKey]domain.Recommendation)
	for _, rec := range records {
		for _, cand := range e.Candidates(rec) {
			key := rec.Cell()
			cur, ok := best[key]
			if !ok || better(cand, cur) {
				best[key] = cand
			}
		}
	}

	out := make([]domain.Recommendation, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	Sort(out)

	total := len(out)
	if len(out) > e.config.TopN {
		out = out[:e.config.TopN]
	}
	for i := range out {
		out[i].Rank = i + 1
	}

	zerolog.Ctx(ctx).Debug().Int("candidates", total).Int("emitted", len(out)).Msg("recommendations generated")
	return out
}

// Generate runs an engine built from cfg.
func Generate(ctx context.Context, cfg Config, records []domain.AlignmentRecord) []domain.Recommendation {
	return NewEngine(cfg).Generate(ctx, records)
}

// better reports whether a should replace b for the same cell.
func better(a, b domain.Recommendation) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return ruleOrder[a.Reason.Rule] < ruleOrder[b.Reason.Rule]
}

// Sort orders by priority desc, then product, channel, geography and type.
func Sort(recs []domain.Recommendation) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Target.ProductID != b.Target.ProductID {
			return a.Target.ProductID < b.Target.ProductID
		}
		if a.Target.Channel != b.Target.Channel {
			return a.Target.Channel < b.Target.Channel
		}
		if ga, gb := a.Target.Geography.Key(), b.Target.Geography.Key(); ga != gb {
			return ga < gb
		}
		return a.Type < b.Type
	})
}

func coverAtLeast(rec domain.AlignmentRecord, days float64) bool {
	if rec.Status == domain.StockStatusNoMovement {
		return true
	}
	return rec.DaysOfCover != nil && *rec.DaysOfCover >= days
}
