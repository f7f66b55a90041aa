package attribution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/control-tower/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func campaign(id string, platform domain.Platform, date time.Time, country, region, spend string) domain.CampaignPerformanceRecord {
	return domain.CampaignPerformanceRecord{
		Date:       date,
		Platform:   platform,
		CampaignID: id,
		Geography:  domain.Geography{Country: country, Region: region},
		Spend:      decimal.RequireFromString(spend),
	}
}

func order(id string, at time.Time, country, region string) domain.Order {
	return domain.Order{
		ID:       id,
		PlacedAt: at,
		Shipping: domain.Geography{Country: country, Region: region},
		Items:    []domain.LineItem{{ProductID: "p-1", Quantity: 1, UnitPrice: decimal.NewFromInt(50)}},
	}
}

func TestAttributeOrder_TexasScenario(t *testing.T) {
	e := NewEngine(DefaultConfig(), []domain.CampaignPerformanceRecord{
		campaign("tx-1", domain.PlatformMeta, day(2024, 1, 14), "US", "TX", "100"),
	})

	got := e.AttributeOrder(order("o-1", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), "US", "TX"))

	assert.Equal(t, "tx-1", got.CampaignID)
	assert.Equal(t, domain.ReasonRegionMatch, got.Reason)
	assert.Equal(t, 1, got.AgeDays)
	assert.Greater(t, got.Confidence, 0.9)
	assert.LessOrEqual(t, got.Confidence, 1.0)
}

func TestAttributeOrder_WindowBoundary(t *testing.T) {
	placed := time.Date(2024, 1, 15, 23, 59, 0, 0, time.UTC)

	t.Run("age equal to window is attributed", func(t *testing.T) {
		e := NewEngine(DefaultConfig(), []domain.CampaignPerformanceRecord{
			campaign("edge", domain.PlatformGoogle, day(2024, 1, 8), "US", "TX", "10"),
		})
		got := e.AttributeOrder(order("o-1", placed, "US", "TX"))
		assert.Equal(t, "edge", got.CampaignID)
		assert.Equal(t, 7, got.AgeDays)
	})

	t.Run("age one past window is not attributed", func(t *testing.T) {
		e := NewEngine(DefaultConfig(), []domain.CampaignPerformanceRecord{
			campaign("stale", domain.PlatformGoogle, day(2024, 1, 7), "US", "TX", "10"),
		})
		got := e.AttributeOrder(order("o-1", placed, "US", "TX"))
		assert.False(t, got.Attributed())
		assert.Equal(t, domain.ReasonNoCandidate, got.Reason)
		assert.Zero(t, got.Confidence)
	})

	t.Run("campaign after the order is not a candidate", func(t *testing.T) {
		e := NewEngine(DefaultConfig(), []domain.CampaignPerformanceRecord{
			campaign("future", domain.PlatformGoogle, day(2024, 1, 16), "US", "TX", "10"),
		})
		got := e.AttributeOrder(order("o-1", placed, "US", "TX"))
		assert.False(t, got.Attributed())
	})
}

func TestLess_TieBreakChain(t *testing.T) {
	d := day(2024, 1, 10)
	cases := []struct {
		name string
		a, b domain.CampaignPerformanceRecord
	}{
		{"more recent date wins", campaign("z", domain.PlatformTikTok, day(2024, 1, 11), "US", "", "1"), campaign("a", domain.PlatformMeta, d, "US", "", "999")},
		{"higher spend wins", campaign("z", domain.PlatformTikTok, d, "US", "", "50"), campaign("a", domain.PlatformMeta, d, "US", "", "49.99")},
		{"lower campaign id wins", campaign("a", domain.PlatformTikTok, d, "US", "", "50"), campaign("b", domain.PlatformMeta, d, "US", "", "50")},
		{"lower platform wins", campaign("a", domain.PlatformGoogle, d, "US", "", "50"), campaign("a", domain.PlatformMeta, d, "US", "", "50")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, Less(tc.a, tc.b))
			assert.False(t, Less(tc.b, tc.a))
		})
	}
}

func TestAttributeOrder_TieBreakSelectsWinner(t *testing.T) {
	d := day(2024, 3, 1)
	e := NewEngine(DefaultConfig(), []domain.CampaignPerformanceRecord{
		campaign("c-b", domain.PlatformMeta, d, "US", "CA", "200"),
		campaign("c-a", domain.PlatformTikTok, d, "US", "CA", "200"),
		campaign("c-0", domain.PlatformMeta, d, "US", "CA", "150"),
	})
	got := e.AttributeOrder(order("o-1", d.Add(5*time.Hour), "US", "CA"))
	assert.Equal(t, "c-a", got.CampaignID)
	assert.Equal(t, domain.PlatformTikTok, got.Platform)
}

func TestAttributeOrder_RegionBeatsNewerCountryMatch(t *testing.T) {
	e := NewEngine(DefaultConfig(), []domain.CampaignPerformanceRecord{
		campaign("country-wide", domain.PlatformGoogle, day(2024, 1, 15), "US", "", "500"),
		campaign("texas", domain.PlatformMeta, day(2024, 1, 10), "US", "TX", "20"),
		campaign("ohio", domain.PlatformMeta, day(2024, 1, 15), "US", "OH", "900"),
	})

	got := e.AttributeOrder(order("o-1", day(2024, 1, 15), "US", "TX"))
	assert.Equal(t, "texas", got.CampaignID)
	assert.Equal(t, domain.ReasonRegionMatch, got.Reason)

	fallback := e.AttributeOrder(order("o-2", day(2024, 1, 15), "US", "NV"))
	assert.Equal(t, "country-wide", fallback.CampaignID)
	assert.Equal(t, domain.ReasonCountryMatch, fallback.Reason)
}

func TestAttributeOrder_NoGeography(t *testing.T) {
	e := NewEngine(DefaultConfig(), []domain.CampaignPerformanceRecord{
		campaign("c-1", domain.PlatformMeta, day(2024, 1, 15), "US", "", "10"),
	})
	got := e.AttributeOrder(order("o-1", day(2024, 1, 15), "", ""))
	assert.Equal(t, domain.ReasonNoGeography, got.Reason)
	assert.False(t, got.Attributed())
}

func TestConfidence_Boundaries(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	assert.InDelta(t, 1.0, e.Confidence(0, true), 1e-9)
	assert.InDelta(t, 0.3, e.Confidence(7, false), 1e-9)
	assert.InDelta(t, 0.65, e.Confidence(0, false), 1e-9)
	assert.InDelta(t, 0.65, e.Confidence(7, true), 1e-9)

	for age := 0; age < 7; age++ {
		assert.Greater(t, e.Confidence(age, true), e.Confidence(age+1, true), "region age %d", age)
		assert.Greater(t, e.Confidence(age, false), e.Confidence(age+1, false), "country age %d", age)
		assert.Greater(t, e.Confidence(age, true), e.Confidence(age, false), "specificity age %d", age)
	}
}

func TestAttributeStream_StopsOnCancel(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan domain.Order)
	err := e.AttributeStream(ctx, ch, func(domain.AttributedOrder) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAttribute_CancelledReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orders := make([]domain.Order, 100)
	for i := range orders {
		orders[i] = order(fmt.Sprintf("o-%03d", i), day(2024, 1, 15), "US", "TX")
	}
	report := domain.NewRunReport()

	out, err := Attribute(ctx, DefaultConfig(), orders, nil, report)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
	assert.Zero(t, report.OrdersTotal)
}

func TestAttribute_SortsAndReports(t *testing.T) {
	records := []domain.CampaignPerformanceRecord{
		campaign("c-1", domain.PlatformMeta, day(2024, 1, 14), "US", "TX", "100"),
	}
	orders := []domain.Order{
		order("o-3", day(2024, 1, 15), "US", "TX"),
		order("o-1", day(2024, 1, 15), "GB", ""),
		order("o-2", day(2024, 1, 15), "US", "TX"),
	}
	report := domain.NewRunReport()

	out, err := Attribute(context.Background(), DefaultConfig(), orders, records, report)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, []string{"o-1", "o-2", "o-3"}, []string{out[0].OrderID, out[1].OrderID, out[2].OrderID})
	assert.Equal(t, 3, report.OrdersTotal)
	assert.Equal(t, 2, report.OrdersAttributed)
	assert.Equal(t, 1, report.Gaps[domain.GapUnattributedOrders])
	assert.InDelta(t, 1.0/3.0, report.UnattributedRate(), 1e-9)
}
