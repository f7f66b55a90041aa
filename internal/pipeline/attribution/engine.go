package attribution

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline/normalize"
)

// Config holds the last-touch attribution settings.
type Config struct {
	// WindowDays is the look-back window; a campaign dated exactly WindowDays
	// before the order day is still eligible.
	WindowDays int `validate:"gte=0,lte=90"`
	// ConfidenceFloor is the confidence of a country-only match at the window edge.
	ConfidenceFloor float64 `validate:"gte=0,lt=1"`
	// RecencyWeight splits the confidence range between recency and geography specificity.
	RecencyWeight float64 `validate:"gte=0,lte=1"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WindowDays:      7,
		ConfidenceFloor: 0.3,
		RecencyWeight:   0.5,
	}
}

// Engine attributes orders to campaign records. It indexes the campaign
// records once so orders can be streamed through it one at a time.
type Engine struct {
	config    Config
	byCountry map[string][]domain.CampaignPerformanceRecord
}

// NewEngine builds the campaign index. Records are grouped by country and
// kept in preference order (see Less).
func NewEngine(cfg Config, records []domain.CampaignPerformanceRecord) *Engine {
	byCountry := make(map[string][]domain.CampaignPerformanceRecord)
	for _, r := range records {
		byCountry[r.Geography.Country] = append(byCountry[r.Geography.Country], r)
	}
	for _, list := range byCountry {
		sort.SliceStable(list, func(i, j int) bool { return Less(list[i], list[j]) })
	}
	return &Engine{config: cfg, byCountry: byCountry}
}

// Less is the candidate preference order: most recent date, then highest spend,
// then lowest campaign id, then lowest platform name.
func Less(a, b domain.CampaignPerformanceRecord) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	if c := a.Spend.Cmp(b.Spend); c != 0 {
		return c > 0
	}
	if a.CampaignID != b.CampaignID {
		return a.CampaignID < b.CampaignID
	}
	if a.Platform != b.Platform {
		return a.Platform < b.Platform
	}
	return a.Geography.Region < b.Geography.Region
}

// AttributeOrder resolves a single order. Region-level candidates always win
// over country-level candidates, regardless of recency.
func (e *Engine) AttributeOrder(order domain.Order) domain.AttributedOrder {
	out := domain.AttributedOrder{OrderID: order.ID, Reason: domain.ReasonNoCandidate}
	if order.Shipping.IsZero() {
		out.Reason = domain.ReasonNoGeography
		return out
	}

	orderDay := normalize.Day(order.PlacedAt)
	var (
		countryMatch *domain.CampaignPerformanceRecord
		countryAge   int
	)
	for i := range e.byCountry[order.Shipping.Country] {
		rec := &e.byCountry[order.Shipping.Country][i]
		age := daysBetween(rec.Date, orderDay)
		if age < 0 || age > e.config.WindowDays {
			continue
		}
		switch {
		case rec.Geography.Region != "" && rec.Geography.Region == order.Shipping.Region:
			return e.resolved(order.ID, rec, age, true)
		case rec.Geography.Region == "" && countryMatch == nil:
			countryMatch = rec
			countryAge = age
		}
	}
	if countryMatch != nil {
		return e.resolved(order.ID, countryMatch, countryAge, false)
	}
	return out
}

func (e *Engine) resolved(orderID string, rec *domain.CampaignPerformanceRecord, age int, regionMatch bool) domain.AttributedOrder {
	reason := domain.ReasonCountryMatch
	if regionMatch {
		reason = domain.ReasonRegionMatch
	}
	day := rec.Date
	return domain.AttributedOrder{
		OrderID:     orderID,
		CampaignID:  rec.CampaignID,
		Platform:    rec.Platform,
		Geography:   rec.Geography,
		CampaignDay: &day,
		AgeDays:     age,
		Confidence:  e.Confidence(age, regionMatch),
		Reason:      reason,
	}
}

// Confidence is monotonic in recency (younger is higher) and in geography
// specificity (region above country). A same-day region match is 1.0 and a
// country match at the window edge equals the configured floor.
func (e *Engine) Confidence(ageDays int, regionMatch bool) float64 {
	recency := 1.0
	if e.config.WindowDays > 0 {
		recency = 1 - float64(ageDays)/float64(e.config.WindowDays)
	}
	recency = math.Max(0, math.Min(1, recency))

	specificity := 0.0
	if regionMatch {
		specificity = 1.0
	}

	w := e.config.RecencyWeight
	score := e.config.ConfidenceFloor + (1-e.config.ConfidenceFloor)*(w*recency+(1-w)*specificity)
	return math.Max(0, math.Min(1, score))
}

// AttributeStream attributes orders as they arrive and hands each result to emit.
// It stops on context cancellation or the first emit error.
func (e *Engine) AttributeStream(ctx context.Context, orders <-chan domain.Order, emit func(domain.AttributedOrder) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case order, ok := <-orders:
			if !ok {
				return nil
			}
			if err := emit(e.AttributeOrder(order)); err != nil {
				return err
			}
		}
	}
}

// Attribute attributes a batch of orders and returns the results ordered by order id.
func Attribute(ctx context.Context, cfg Config, orders []domain.Order, records []domain.CampaignPerformanceRecord, report *domain.RunReport) ([]domain.AttributedOrder, error) {
	engine := NewEngine(cfg, records)

	ch := make(chan domain.Order)
	go func() {
		defer close(ch)
		for _, o := range orders {
			select {
			case ch <- o:
			case <-ctx.Done():
				return
			}
		}
	}()

	out := make([]domain.AttributedOrder, 0, len(orders))
	err := engine.AttributeStream(ctx, ch, func(a domain.AttributedOrder) error {
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// the producer closes the channel on cancel, which looks like a clean end
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })

	if report != nil {
		report.OrdersTotal += len(out)
		for _, a := range out {
			if a.Attributed() {
				report.OrdersAttributed++
			} else {
				report.AddGap(domain.GapUnattributedOrders)
			}
		}
	}
	return out, nil
}

// daysBetween counts calendar days from one UTC midnight to another.
func daysBetween(from, to time.Time) int {
	return int(math.Floor(to.Sub(from).Hours() / 24))
}
