package alignment

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

var (
	asOf = time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC)
	tx   = domain.Geography{Country: "US", Region: "TX"}
	us   = domain.Geography{Country: "US"}
)

func fptr(v float64) *float64 { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tptr(t time.Time) *time.Time { return &t }

func TestClassify_RulePrecedence(t *testing.T) {
	d := NewDetector(DefaultConfig())

	cases := []struct {
		name string
		rec  domain.AlignmentRecord
		want domain.MismatchCategory
	}{
		{
			name: "stockout with spend beats low stock",
			rec:  domain.AlignmentRecord{Spend: dec("10"), SpendShare: 0.9, OnHand: 0, DaysOfCover: fptr(0), Status: domain.StockStatusStockout},
			want: domain.CategorySpendingOnStockout,
		},
		{
			name: "stockout without spend is not spending on stockout",
			rec:  domain.AlignmentRecord{Spend: decimal.Zero, SpendShare: 0, OnHand: 0, DaysOfCover: fptr(0), Status: domain.StockStatusStockout},
			want: domain.CategoryAligned,
		},
		{
			name: "low cover and high share",
			rec:  domain.AlignmentRecord{Spend: dec("10"), SpendShare: 0.5, OnHand: 5, DaysOfCover: fptr(13.9), Status: domain.StockStatusCovered},
			want: domain.CategoryOverspendingLowStock,
		},
		{
			name: "low cover at share threshold",
			rec:  domain.AlignmentRecord{Spend: dec("10"), SpendShare: 0.15, OnHand: 5, DaysOfCover: fptr(5), Status: domain.StockStatusCovered},
			want: domain.CategoryAligned,
		},
		{
			name: "cover at low stock threshold",
			rec:  domain.AlignmentRecord{Spend: dec("10"), SpendShare: 0.5, OnHand: 5, DaysOfCover: fptr(14), Status: domain.StockStatusCovered},
			want: domain.CategoryAligned,
		},
		{
			name: "high cover and low share",
			rec:  domain.AlignmentRecord{Spend: dec("1"), SpendShare: 0.01, OnHand: 500, DaysOfCover: fptr(120), Status: domain.StockStatusCovered},
			want: domain.CategoryUnderspendingOverstock,
		},
		{
			name: "no movement counts as infinite cover",
			rec:  domain.AlignmentRecord{Spend: decimal.Zero, SpendShare: 0, OnHand: 500, Status: domain.StockStatusNoMovement},
			want: domain.CategoryUnderspendingOverstock,
		},
		{
			name: "high cover but large share",
			rec:  domain.AlignmentRecord{Spend: dec("100"), SpendShare: 0.6, OnHand: 500, DaysOfCover: fptr(120), Status: domain.StockStatusCovered},
			want: domain.CategoryAligned,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, d.Classify(tc.rec))
		})
	}
}

func TestDetect_AllocatesSpendByAttributedRevenue(t *testing.T) {
	campaignDay := time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)
	in := Input{
		AsOf: asOf,
		Orders: []domain.Order{
			{ID: "o-1", Items: []domain.LineItem{
				{ProductID: "p-1", Quantity: 3, UnitPrice: dec("100")},
				{ProductID: "p-2", Quantity: 1, UnitPrice: dec("100")},
			}},
			{ID: "o-2", Items: []domain.LineItem{{ProductID: "p-3", Quantity: 1, UnitPrice: dec("20")}}},
		},
		Attributed: []domain.AttributedOrder{
			{OrderID: "o-1", CampaignID: "c-1", Platform: domain.PlatformMeta, Geography: tx, CampaignDay: tptr(campaignDay), Reason: domain.ReasonRegionMatch},
			{OrderID: "o-2", Reason: domain.ReasonNoCandidate},
		},
		Campaigns: []domain.CampaignPerformanceRecord{
			{Date: campaignDay, Platform: domain.PlatformMeta, CampaignID: "c-1", Geography: tx, Spend: dec("60")},
			{Date: campaignDay.AddDate(0, 0, -1), Platform: domain.PlatformMeta, CampaignID: "c-1", Geography: tx, Spend: dec("40")},
			// outside the spend window
			{Date: campaignDay.AddDate(0, 0, -10), Platform: domain.PlatformMeta, CampaignID: "c-1", Geography: tx, Spend: dec("999")},
			// spend without orders
			{Date: campaignDay, Platform: domain.PlatformGoogle, CampaignID: "g-1", Geography: us, Spend: dec("25")},
		},
		Health: []domain.InventoryHealthRecord{
			{ProductID: "p-1", LocationID: "wh", OnHand: 10, Velocity: 1, DaysOfCover: fptr(10), Status: domain.StockStatusCovered},
			{ProductID: "p-2", LocationID: "wh", OnHand: 0, Velocity: 1, DaysOfCover: fptr(0), Status: domain.StockStatusStockout},
			{ProductID: "p-4", LocationID: "wh", OnHand: 50, Status: domain.StockStatusNoMovement},
		},
	}
	report := domain.NewRunReport()

	got := Detect(context.Background(), DefaultConfig(), in, report)
	require.Len(t, got, 3)

	assert.Equal(t, "p-1", got[0].ProductID)
	assert.Equal(t, "meta", got[0].Channel)
	assert.Equal(t, tx, got[0].Geography)
	assert.True(t, got[0].Spend.Equal(dec("75")), got[0].Spend.String())
	assert.True(t, got[0].Revenue.Equal(dec("300")))
	require.NotNil(t, got[0].ROAS)
	assert.InDelta(t, 4.0, *got[0].ROAS, 1e-9)
	assert.Equal(t, 1.0, got[0].SpendShare)
	assert.Equal(t, domain.CategoryOverspendingLowStock, got[0].Category)

	assert.Equal(t, "p-2", got[1].ProductID)
	assert.True(t, got[1].Spend.Equal(dec("25")))
	assert.Equal(t, domain.CategorySpendingOnStockout, got[1].Category)

	assert.Equal(t, "p-4", got[2].ProductID)
	assert.Equal(t, domain.ChannelUnadvertised, got[2].Channel)
	assert.Nil(t, got[2].ROAS)
	assert.Equal(t, domain.CategoryUnderspendingOverstock, got[2].Category)

	assert.Equal(t, 1, report.Gaps[domain.GapUnallocatedSpend])
	assert.True(t, report.UnallocatedSpend.Equal(dec("25")))
}

func TestDetect_MissingHealthIsGap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IncludeUnadvertised = false

	in := Input{
		AsOf:       asOf,
		Orders:     []domain.Order{{ID: "o-1", Items: []domain.LineItem{{ProductID: "ghost", Quantity: 1, UnitPrice: dec("10")}}}},
		Attributed: []domain.AttributedOrder{{OrderID: "o-1", CampaignID: "c-1", Platform: domain.PlatformTikTok, Geography: us, CampaignDay: tptr(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))}},
		Campaigns: []domain.CampaignPerformanceRecord{
			{Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Platform: domain.PlatformTikTok, CampaignID: "c-1", Geography: us, Spend: dec("5")},
		},
	}
	report := domain.NewRunReport()

	got := Detect(context.Background(), cfg, in, report)
	assert.Empty(t, got)
	assert.Equal(t, 1, report.Gaps[domain.GapMissingHealth])
}

func TestDetect_SpendShareAcrossCells(t *testing.T) {
	cfg := DefaultConfig()
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	in := Input{
		AsOf: asOf,
		Orders: []domain.Order{
			{ID: "o-1", Items: []domain.LineItem{{ProductID: "p-1", Quantity: 1, UnitPrice: dec("10")}}},
			{ID: "o-2", Items: []domain.LineItem{{ProductID: "p-1", Quantity: 1, UnitPrice: dec("10")}}},
		},
		Attributed: []domain.AttributedOrder{
			{OrderID: "o-1", CampaignID: "m", Platform: domain.PlatformMeta, Geography: us, CampaignDay: tptr(day)},
			{OrderID: "o-2", CampaignID: "g", Platform: domain.PlatformGoogle, Geography: us, CampaignDay: tptr(day)},
		},
		Campaigns: []domain.CampaignPerformanceRecord{
			{Date: day, Platform: domain.PlatformMeta, CampaignID: "m", Geography: us, Spend: dec("97")},
			{Date: day, Platform: domain.PlatformGoogle, CampaignID: "g", Geography: us, Spend: dec("3")},
		},
		Health: []domain.InventoryHealthRecord{
			{ProductID: "p-1", LocationID: "wh", OnHand: 1000, Velocity: 1, DaysOfCover: fptr(1000), Status: domain.StockStatusCovered},
		},
	}

	got := Detect(context.Background(), cfg, in, domain.NewRunReport())
	require.Len(t, got, 2)
	assert.Equal(t, "google", got[0].Channel)
	assert.InDelta(t, 0.03, got[0].SpendShare, 1e-9)
	assert.Equal(t, domain.CategoryUnderspendingOverstock, got[0].Category)
	assert.Equal(t, "meta", got[1].Channel)
	assert.Equal(t, domain.CategoryAligned, got[1].Category)
}

func TestDetect_RevenueUsesSpendWindow(t *testing.T) {
	var (
		orders     []domain.Order
		attributed []domain.AttributedOrder
		campaigns  []domain.CampaignPerformanceRecord
	)
	last := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		day := last.AddDate(0, 0, -i)
		id := fmt.Sprintf("o-%02d", i)
		orders = append(orders, domain.Order{ID: id, PlacedAt: day.Add(time.Hour), Items: []domain.LineItem{{ProductID: "p", Quantity: 1, UnitPrice: dec("150")}}})
		attributed = append(attributed, domain.AttributedOrder{OrderID: id, CampaignID: "c", Platform: domain.PlatformMeta, Geography: us, CampaignDay: tptr(day)})
		campaigns = append(campaigns, domain.CampaignPerformanceRecord{Date: day, Platform: domain.PlatformMeta, CampaignID: "c", Geography: us, Spend: dec("100")})
	}
	in := Input{
		AsOf:       asOf,
		Orders:     orders,
		Attributed: attributed,
		Campaigns:  campaigns,
		Health: []domain.InventoryHealthRecord{
			{ProductID: "p", LocationID: "wh", OnHand: 10, Velocity: 1, DaysOfCover: fptr(10), Status: domain.StockStatusCovered},
		},
	}

	got := Detect(context.Background(), DefaultConfig(), in, domain.NewRunReport())
	require.Len(t, got, 1)
	assert.True(t, got[0].Spend.Equal(dec("700")), got[0].Spend.String())
	assert.True(t, got[0].Revenue.Equal(dec("1050")), got[0].Revenue.String())
	require.NotNil(t, got[0].ROAS)
	assert.InDelta(t, 1.5, *got[0].ROAS, 1e-9)
	assert.Equal(t, domain.CategoryOverspendingLowStock, got[0].Category)
}
