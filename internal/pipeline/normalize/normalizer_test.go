package normalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/control-tower/internal/domain"
)

func raw(platform domain.Platform, payload string) domain.RawPerformanceRow {
	return domain.RawPerformanceRow{Platform: platform, Payload: []byte(payload), Source: "test:1"}
}

func TestNormalize_Meta(t *testing.T) {
	n := NewNormalizer(DefaultConfig())

	rec, err := n.Normalize(raw(domain.PlatformMeta, `{
		"date_start": "2024-01-14",
		"campaign_id": "c-1",
		"spend": "100.50",
		"impressions": "1000",
		"clicks": "40",
		"actions": [
			{"action_type": "link_click", "value": "40"},
			{"action_type": "purchase", "value": "3"},
			{"action_type": "offsite_conversion.fb_pixel_purchase", "value": "1"}
		],
		"action_values": [{"action_type": "purchase", "value": "250.25"}],
		"country": "United States",
		"region": "Texas"
	}`))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC), rec.Date)
	assert.Equal(t, "c-1", rec.CampaignID)
	assert.True(t, rec.Spend.Equal(decimal.RequireFromString("100.50")))
	assert.Equal(t, 4.0, rec.Conversions)
	assert.True(t, rec.Revenue.Equal(decimal.RequireFromString("250.25")))
	assert.Equal(t, domain.Geography{Country: "US", Region: "TX"}, rec.Geography)
	assert.Equal(t, int64(1000), rec.Impressions)
}

func TestNormalize_GoogleMicros(t *testing.T) {
	n := NewNormalizer(DefaultConfig())

	rec, err := n.Normalize(raw(domain.PlatformGoogle, `{
		"segments": {"date": "2024-01-10"},
		"campaign": {"id": "987"},
		"metrics": {"cost_micros": "12345678", "conversions": 2.5, "conversions_value": 80.0, "clicks": "7"},
		"geo": {"country_code": "us", "region": "US-CA"}
	}`))
	require.NoError(t, err)

	assert.True(t, rec.Spend.Equal(decimal.RequireFromString("12.345678")), rec.Spend.String())
	assert.Equal(t, 2.5, rec.Conversions)
	assert.Equal(t, domain.Geography{Country: "US", Region: "CA"}, rec.Geography)
	assert.Equal(t, int64(7), rec.Clicks)
}

func TestNormalize_TikTokCountryOnlyWithFX(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FXRates = map[string]decimal.Decimal{"EUR": decimal.RequireFromString("1.10")}
	n := NewNormalizer(cfg)

	rec, err := n.Normalize(raw(domain.PlatformTikTok, `{
		"stat_time_day": "2024-01-09 00:00:00",
		"campaign_id": "555",
		"spend": "10",
		"conversion": "1",
		"total_purchase_value": "40",
		"country_code": "DE",
		"currency": "EUR"
	}`))
	require.NoError(t, err)

	assert.True(t, rec.Spend.Equal(decimal.RequireFromString("11")))
	assert.True(t, rec.Revenue.Equal(decimal.RequireFromString("44")))
	assert.Equal(t, domain.Geography{Country: "DE"}, rec.Geography)
}

func TestNormalize_MalformedRows(t *testing.T) {
	n := NewNormalizer(DefaultConfig())

	cases := []struct {
		name string
		row  domain.RawPerformanceRow
	}{
		{"missing spend", raw(domain.PlatformMeta, `{"date_start":"2024-01-14","campaign_id":"1","country":"US"}`)},
		{"missing date", raw(domain.PlatformMeta, `{"campaign_id":"1","spend":"5","country":"US"}`)},
		{"missing micros", raw(domain.PlatformGoogle, `{"segments":{"date":"2024-01-14"},"campaign":{"id":"1"},"geo":{"country_code":"US"}}`)},
		{"negative spend", raw(domain.PlatformTikTok, `{"stat_time_day":"2024-01-14","campaign_id":"1","spend":"-1","country_code":"US"}`)},
		{"unknown currency", raw(domain.PlatformTikTok, `{"stat_time_day":"2024-01-14","campaign_id":"1","spend":"1","country_code":"US","currency":"JPY"}`)},
		{"unknown platform", raw("snap", `{}`)},
		{"invalid meta purchase value", raw(domain.PlatformMeta, `{"date_start":"2024-01-14","campaign_id":"1","spend":"5","country":"US","action_values":[{"action_type":"purchase","value":"n/a"}]}`)},
		{"invalid google revenue", raw(domain.PlatformGoogle, `{"segments":{"date":"2024-01-14"},"campaign":{"id":"1"},"metrics":{"cost_micros":"100","conversions_value":"abc"},"geo":{"country_code":"US"}}`)},
		{"invalid tiktok revenue", raw(domain.PlatformTikTok, `{"stat_time_day":"2024-01-14","campaign_id":"1","spend":"1","country_code":"US","total_purchase_value":"12..5"}`)},
		{"invalid json", raw(domain.PlatformMeta, `{"spend":`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize(tc.row)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMalformedRecord))
		})
	}
}

func TestNormalize_AbsentRevenueIsZero(t *testing.T) {
	n := NewNormalizer(DefaultConfig())

	rec, err := n.Normalize(raw(domain.PlatformTikTok, `{"stat_time_day":"2024-01-14","campaign_id":"1","spend":"3","country_code":"US"}`))
	require.NoError(t, err)
	assert.True(t, rec.Revenue.IsZero())
	assert.True(t, rec.Spend.Equal(decimal.NewFromInt(3)))
}

func TestNormalizeAll_CountsDroppedRows(t *testing.T) {
	n := NewNormalizer(DefaultConfig())
	report := domain.NewRunReport()

	rows := []domain.RawPerformanceRow{
		raw(domain.PlatformMeta, `{"date_start":"2024-01-14","campaign_id":"1","spend":"5","country":"US"}`),
		raw(domain.PlatformMeta, `{"date_start":"2024-01-14","campaign_id":"2","country":"US"}`),
		raw(domain.PlatformGoogle, `{"campaign":{"id":"3"}}`),
	}

	out := n.NormalizeAll(context.Background(), rows, report)

	assert.Len(t, out, 1)
	assert.Equal(t, 1, report.Malformed["ads:meta"])
	assert.Equal(t, 1, report.Malformed["ads:google"])
	assert.Equal(t, 2, report.MalformedTotal())
}

func TestNormalizeGeography(t *testing.T) {
	cases := []struct {
		country, region string
		want            domain.Geography
	}{
		{"US", "TX", domain.Geography{Country: "US", Region: "TX"}},
		{"usa", "texas", domain.Geography{Country: "US", Region: "TX"}},
		{"US", "US-NY", domain.Geography{Country: "US", Region: "NY"}},
		{" gb ", "", domain.Geography{Country: "GB"}},
		{"Indonesia", "Jawa Barat", domain.Geography{Country: "ID", Region: "JAWA BARAT"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeGeography(tc.country, tc.region))
	}
}
