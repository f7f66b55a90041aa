package normalize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/andresuchdata/control-tower/internal/domain"
)

// Config holds settings for the metric normalizer.
type Config struct {
	// PurchaseActionTypes are the Meta action_type values counted as conversions.
	PurchaseActionTypes []string `validate:"min=1,dive,required"`
	// ReportingCurrency is the single currency all money is expressed in.
	ReportingCurrency string `validate:"required,len=3"`
	// FXRates converts one unit of the keyed currency into ReportingCurrency.
	FXRates map[string]decimal.Decimal
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PurchaseActionTypes: []string{"purchase", "offsite_conversion.fb_pixel_purchase", "omni_purchase"},
		ReportingCurrency:   "USD",
	}
}

// fields is the platform-independent view of a raw row.
type fields struct {
	date        gjson.Result
	campaignID  gjson.Result
	spend       decimal.Decimal
	hasSpend    bool
	impressions int64
	clicks      int64
	conversions float64
	revenue     decimal.Decimal
	country     string
	region      string
	currency    string
}

type extractor func(n *Normalizer, doc gjson.Result) (fields, error)

// Normalizer converts raw per-platform ad rows into CampaignPerformanceRecords.
type Normalizer struct {
	config     Config
	purchases  map[string]struct{}
	extractors map[domain.Platform]extractor
}

// NewNormalizer creates a normalizer for the known platforms.
func NewNormalizer(cfg Config) *Normalizer {
	purchases := make(map[string]struct{}, len(cfg.PurchaseActionTypes))
	for _, t := range cfg.PurchaseActionTypes {
		purchases[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return &Normalizer{
		config:    cfg,
		purchases: purchases,
		extractors: map[domain.Platform]extractor{
			domain.PlatformMeta:   extractMeta,
			domain.PlatformGoogle: extractGoogle,
			domain.PlatformTikTok: extractTikTok,
		},
	}
}

// Normalize converts one raw row. It fails with a malformed-record error when
// the platform is unknown or spend/date are missing.
func (n *Normalizer) Normalize(row domain.RawPerformanceRow) (domain.CampaignPerformanceRecord, error) {
	source := string(row.Platform)
	extract, ok := n.extractors[row.Platform]
	if !ok {
		return domain.CampaignPerformanceRecord{}, domain.Malformed(source, row.Source, "unknown platform")
	}
	if !gjson.ValidBytes(row.Payload) {
		return domain.CampaignPerformanceRecord{}, domain.Malformed(source, row.Source, "invalid json")
	}
	doc := gjson.ParseBytes(row.Payload)

	f, err := extract(n, doc)
	if err != nil {
		return domain.CampaignPerformanceRecord{}, domain.Malformed(source, row.Source, err.Error())
	}
	if !f.date.Exists() || strings.TrimSpace(f.date.String()) == "" {
		return domain.CampaignPerformanceRecord{}, domain.Malformed(source, row.Source, "missing date")
	}
	if !f.hasSpend {
		return domain.CampaignPerformanceRecord{}, domain.Malformed(source, row.Source, "missing spend")
	}
	if f.spend.IsNegative() {
		return domain.CampaignPerformanceRecord{}, domain.Malformed(source, row.Source, "negative spend")
	}
	campaignID := strings.TrimSpace(f.campaignID.String())
	if campaignID == "" {
		return domain.CampaignPerformanceRecord{}, domain.Malformed(source, row.Source, "missing campaign id")
	}

	day, err := ParseDay(f.date.String())
	if err != nil {
		return domain.CampaignPerformanceRecord{}, domain.Malformed(source, row.Source, err.Error())
	}

	rate, err := n.rate(f.currency)
	if err != nil {
		return domain.CampaignPerformanceRecord{}, domain.Malformed(source, row.Source, err.Error())
	}

	geo := NormalizeGeography(f.country, f.region)
	if geo.IsZero() {
		return domain.CampaignPerformanceRecord{}, domain.Malformed(source, row.Source, "missing country")
	}

	return domain.CampaignPerformanceRecord{
		Date:        day,
		Platform:    row.Platform,
		CampaignID:  campaignID,
		Geography:   geo,
		Spend:       f.spend.Mul(rate),
		Impressions: f.impressions,
		Clicks:      f.clicks,
		Conversions: f.conversions,
		Revenue:     f.revenue.Mul(rate),
	}, nil
}

// NormalizeAll normalizes rows, dropping and counting malformed ones in report.
func (n *Normalizer) NormalizeAll(ctx context.Context, rows []domain.RawPerformanceRow, report *domain.RunReport) []domain.CampaignPerformanceRecord {
	logger := zerolog.Ctx(ctx)
	out := make([]domain.CampaignPerformanceRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := n.Normalize(row)
		if err != nil {
			report.AddMalformed("ads:" + string(row.Platform))
			logger.Debug().Err(err).Str("platform", string(row.Platform)).Msg("dropping ad row")
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Rate returns the multiplier converting currency into the reporting currency.
func (n *Normalizer) Rate(currency string) (decimal.Decimal, error) {
	return n.rate(currency)
}

func (n *Normalizer) rate(currency string) (decimal.Decimal, error) {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" || cur == strings.ToUpper(n.config.ReportingCurrency) {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := n.config.FXRates[cur]; ok && r.IsPositive() {
		return r, nil
	}
	return decimal.Zero, fmt.Errorf("no fx rate for currency %s", cur)
}

// ParseDay parses a platform date into a UTC midnight.
func ParseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339, "20060102"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func decimalField(r gjson.Result) (decimal.Decimal, bool, error) {
	if !r.Exists() || r.Type == gjson.Null || strings.TrimSpace(r.String()) == "" {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(r.String()), ",", ""))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid number %q", r.String())
	}
	return d, true, nil
}

// optionalDecimal reads a field that may be absent. Present but unparseable
// values are errors.
func optionalDecimal(r gjson.Result) (decimal.Decimal, error) {
	d, _, err := decimalField(r)
	return d, err
}

// sumActions totals the values of action-type tagged entries that count as purchases.
func (n *Normalizer) sumActions(arr gjson.Result) (decimal.Decimal, error) {
	total := decimal.Zero
	var err error
	arr.ForEach(func(_, entry gjson.Result) bool {
		if _, ok := n.purchases[strings.ToLower(entry.Get("action_type").String())]; !ok {
			return true
		}
		var v decimal.Decimal
		if v, err = optionalDecimal(entry.Get("value")); err != nil {
			err = fmt.Errorf("%s: %w", entry.Get("action_type").String(), err)
			return false
		}
		total = total.Add(v)
		return true
	})
	return total, err
}

func extractMeta(n *Normalizer, doc gjson.Result) (fields, error) {
	spend, ok, err := decimalField(doc.Get("spend"))
	if err != nil {
		return fields{}, err
	}
	actions, err := n.sumActions(doc.Get("actions"))
	if err != nil {
		return fields{}, fmt.Errorf("actions: %w", err)
	}
	revenue, err := n.sumActions(doc.Get("action_values"))
	if err != nil {
		return fields{}, fmt.Errorf("action_values: %w", err)
	}
	conversions, _ := actions.Float64()
	return fields{
		date:        doc.Get("date_start"),
		campaignID:  doc.Get("campaign_id"),
		spend:       spend,
		hasSpend:    ok,
		impressions: doc.Get("impressions").Int(),
		clicks:      doc.Get("clicks").Int(),
		conversions: conversions,
		revenue:     revenue,
		country:     doc.Get("country").String(),
		region:      doc.Get("region").String(),
		currency:    doc.Get("account_currency").String(),
	}, nil
}

func extractGoogle(_ *Normalizer, doc gjson.Result) (fields, error) {
	micros, ok, err := decimalField(doc.Get("metrics.cost_micros"))
	if err != nil {
		return fields{}, err
	}
	revenue, err := optionalDecimal(doc.Get("metrics.conversions_value"))
	if err != nil {
		return fields{}, fmt.Errorf("conversions_value: %w", err)
	}
	return fields{
		date:        doc.Get("segments.date"),
		campaignID:  doc.Get("campaign.id"),
		spend:       micros.Shift(-6),
		hasSpend:    ok,
		impressions: doc.Get("metrics.impressions").Int(),
		clicks:      doc.Get("metrics.clicks").Int(),
		conversions: doc.Get("metrics.conversions").Float(),
		revenue:     revenue,
		country:     doc.Get("geo.country_code").String(),
		region:      doc.Get("geo.region").String(),
		currency:    doc.Get("customer.currency_code").String(),
	}, nil
}

func extractTikTok(_ *Normalizer, doc gjson.Result) (fields, error) {
	spend, ok, err := decimalField(doc.Get("spend"))
	if err != nil {
		return fields{}, err
	}
	revenue, err := optionalDecimal(doc.Get("total_purchase_value"))
	if err != nil {
		return fields{}, fmt.Errorf("total_purchase_value: %w", err)
	}
	return fields{
		date:        doc.Get("stat_time_day"),
		campaignID:  doc.Get("campaign_id"),
		spend:       spend,
		hasSpend:    ok,
		impressions: doc.Get("impressions").Int(),
		clicks:      doc.Get("clicks").Int(),
		conversions: doc.Get("conversion").Float(),
		revenue:     revenue,
		country:     doc.Get("country_code").String(),
		region:      doc.Get("province").String(),
		currency:    doc.Get("currency").String(),
	}, nil
}
