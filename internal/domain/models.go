// internal/domain/models.go
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Geography is a canonical shipping or targeting location.
// Country is an ISO-3166 alpha-2 code; Region is empty for country-wide targeting.
type Geography struct {
	Country string `json:"country" db:"country"`
	Region  string `json:"region" db:"region"`
}

// Key returns "US/TX" style keys used for grouping and ordering.
func (g Geography) Key() string {
	if g.Region == "" {
		return g.Country
	}
	return g.Country + "/" + g.Region
}

// IsZero reports whether no country is set.
func (g Geography) IsZero() bool {
	return g.Country == ""
}

// LineItem is a single product line of an order.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Revenue returns quantity × unit price.
func (li LineItem) Revenue() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Order is a storefront order as delivered by the order feed.
type Order struct {
	ID         string          `json:"id"`
	PlacedAt   time.Time       `json:"placed_at"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
	Shipping   Geography       `json:"shipping"`
	LocationID string          `json:"location_id,omitempty"` // fulfillment location, optional
	Items      []LineItem      `json:"items"`
}

// Platform identifies an advertising channel.
type Platform string

const (
	PlatformMeta   Platform = "meta"
	PlatformGoogle Platform = "google"
	PlatformTikTok Platform = "tiktok"
)

// RawPerformanceRow is an un-normalized ad-performance row as returned by a platform API.
type RawPerformanceRow struct {
	Platform Platform
	Payload  []byte
	Source   string // file name / line reference, for error reporting
}

// CampaignPerformanceRecord is the canonical per (platform, campaign, date, geography) row.
type CampaignPerformanceRecord struct {
	Date        time.Time       `json:"date"`
	Platform    Platform        `json:"platform"`
	CampaignID  string          `json:"campaign_id"`
	Geography   Geography       `json:"geography"`
	Spend       decimal.Decimal `json:"spend"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Conversions float64         `json:"conversions"`
	Revenue     decimal.Decimal `json:"revenue"` // as reported by the platform
}

// CampaignKey identifies one targeted campaign line independent of date.
type CampaignKey struct {
	Platform   Platform
	CampaignID string
	Geography  Geography
}

// Key returns the grouping key of the record.
func (r CampaignPerformanceRecord) Key() CampaignKey {
	return CampaignKey{Platform: r.Platform, CampaignID: r.CampaignID, Geography: r.Geography}
}

// InventorySnapshot is a point-in-time on-hand quantity.
type InventorySnapshot struct {
	ProductID  string    `json:"product_id"`
	LocationID string    `json:"location_id"`
	OnHand     int64     `json:"on_hand"`
	TakenAt    time.Time `json:"taken_at"`
}

// AttributionReason explains why an order was or was not attributed.
type AttributionReason string

const (
	ReasonRegionMatch  AttributionReason = "region_match"
	ReasonCountryMatch AttributionReason = "country_match"
	ReasonNoCandidate  AttributionReason = "no_candidate"
	ReasonNoGeography  AttributionReason = "no_geography"
)

// AttributedOrder is the attribution outcome for a single order.
// An empty CampaignID means the order is unattributed.
type AttributedOrder struct {
	OrderID     string            `json:"order_id" db:"order_id"`
	CampaignID  string            `json:"campaign_id,omitempty" db:"campaign_id"`
	Platform    Platform          `json:"platform,omitempty" db:"platform"`
	Geography   Geography         `json:"geography"`
	CampaignDay *time.Time        `json:"campaign_date,omitempty" db:"campaign_date"`
	AgeDays     int               `json:"age_days" db:"age_days"`
	Confidence  float64           `json:"confidence" db:"confidence"`
	Reason      AttributionReason `json:"reason" db:"reason"`
}

// Attributed reports whether a campaign was resolved.
func (a AttributedOrder) Attributed() bool {
	return a.CampaignID != ""
}

// CampaignKey returns the key of the matched campaign line.
func (a AttributedOrder) CampaignKey() CampaignKey {
	return CampaignKey{Platform: a.Platform, CampaignID: a.CampaignID, Geography: a.Geography}
}

// StockStatus is the inventory state of a product/location.
type StockStatus string

const (
	StockStatusCovered    StockStatus = "covered"
	StockStatusNoMovement StockStatus = "no_movement" // velocity 0, on-hand > 0 (overstocked)
	StockStatusStockout   StockStatus = "stockout"
)

// InventoryHealthRecord is the derived health of one product at one location.
// DaysOfCover is nil in the no-movement state.
type InventoryHealthRecord struct {
	ProductID   string      `json:"product_id" db:"product_id"`
	LocationID  string      `json:"location_id" db:"location_id"`
	Velocity    float64     `json:"velocity" db:"velocity"`
	OnHand      int64       `json:"on_hand" db:"on_hand"`
	DaysOfCover *float64    `json:"days_of_cover" db:"days_of_cover"`
	Status      StockStatus `json:"status" db:"status"`
	SnapshotAt  time.Time   `json:"snapshot_at" db:"snapshot_at"`
}

// MismatchCategory classifies an alignment cell.
type MismatchCategory string

const (
	CategorySpendingOnStockout     MismatchCategory = "spending_on_stockout"
	CategoryOverspendingLowStock   MismatchCategory = "overspending_low_stock"
	CategoryUnderspendingOverstock MismatchCategory = "underspending_overstock"
	CategoryAligned                MismatchCategory = "aligned"
)

// ChannelUnadvertised marks cells for products that carry no ad spend at all.
const ChannelUnadvertised = "unadvertised"

// CellKey identifies a (product, channel, geography) triple.
type CellKey struct {
	ProductID string
	Channel   string
	Geography Geography
}

// AlignmentRecord joins spend and inventory health for one cell.
type AlignmentRecord struct {
	ProductID   string           `json:"product_id" db:"product_id"`
	Channel     string           `json:"channel" db:"channel"`
	Geography   Geography        `json:"geography"`
	Spend       decimal.Decimal  `json:"spend" db:"spend"`
	Revenue     decimal.Decimal  `json:"revenue" db:"revenue"`
	ROAS        *float64         `json:"roas" db:"roas"` // nil when spend is zero
	SpendShare  float64          `json:"spend_share" db:"spend_share"`
	OnHand      int64            `json:"on_hand" db:"on_hand"`
	DaysOfCover *float64         `json:"days_of_cover" db:"days_of_cover"`
	Status      StockStatus      `json:"stock_status" db:"stock_status"`
	Category    MismatchCategory `json:"category" db:"category"`
}

// Cell returns the cell key.
func (a AlignmentRecord) Cell() CellKey {
	return CellKey{ProductID: a.ProductID, Channel: a.Channel, Geography: a.Geography}
}

// RecommendationType is the proposed action.
type RecommendationType string

const (
	RecommendationReduceSpend   RecommendationType = "reduce_spend"
	RecommendationIncreaseSpend RecommendationType = "increase_spend"
	RecommendationPromotion     RecommendationType = "promotion"
)

// RecommendationTarget is the cell a recommendation applies to.
type RecommendationTarget struct {
	ProductID string    `json:"product_id"`
	Channel   string    `json:"channel"`
	Geography Geography `json:"geography"`
}

// RecommendationReason carries the structured inputs behind a recommendation.
// Turning these into prose is left to downstream consumers.
type RecommendationReason struct {
	Rule        string           `json:"rule"`
	Category    MismatchCategory `json:"category"`
	ROAS        *float64         `json:"roas"`
	DaysOfCover *float64         `json:"days_of_cover"`
	SpendShare  float64          `json:"spend_share"`
	Spend       decimal.Decimal  `json:"spend"`
	StockStatus StockStatus      `json:"stock_status"`
}

// Recommendation is a ranked budget or promotion action.
type Recommendation struct {
	Rank     int                  `json:"rank"`
	Type     RecommendationType   `json:"type"`
	Target   RecommendationTarget `json:"target"`
	Delta    *decimal.Decimal     `json:"delta,omitempty"`
	Priority float64              `json:"priority"`
	Reason   RecommendationReason `json:"reason"`
}

// ResultFilter narrows the published result rows returned by the API.
// Empty fields match everything.
type ResultFilter struct {
	Channel  string
	Country  string
	Region   string
	Type     string
	Category string
	Status   string
	Limit    int
}

// ErrNoResults is returned when a tenant has nothing published yet.
var ErrNoResults = errors.New("no published results")

// ResultSet identifies one published run of a tenant.
type ResultSet struct {
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	AsOf        time.Time `db:"as_of" json:"as_of"`
	RunID       string    `db:"run_id" json:"run_id"`
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	Report      []byte    `db:"report" json:"-"`
	PublishedAt time.Time `db:"published_at" json:"published_at"`
}

// RunReport decodes the stored report of a result set.
func (s *ResultSet) RunReport() (*RunReport, error) {
	report := NewRunReport()
	if len(s.Report) == 0 {
		return report, nil
	}
	if err := json.Unmarshal(s.Report, report); err != nil {
		return nil, fmt.Errorf("decode run report: %w", err)
	}
	return report, nil
}
