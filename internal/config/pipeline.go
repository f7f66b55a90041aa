package config

import (
	"github.com/spf13/viper"

	"github.com/andresuchdata/control-tower/internal/pipeline"
)

// Pipeline threshold keys. Every key has a documented default in setPipelineDefaults.
const (
	keyPurchaseActionTypes = "NORMALIZE_PURCHASE_ACTION_TYPES"
	keyReportingCurrency   = "REPORTING_CURRENCY"
	keyFXRates             = "FX_RATES"

	keyAttributionWindowDays = "ATTRIBUTION_WINDOW_DAYS"
	keyConfidenceFloor       = "ATTRIBUTION_CONFIDENCE_FLOOR"
	keyRecencyWeight         = "ATTRIBUTION_RECENCY_WEIGHT"

	keyVelocityWindowDays = "INVENTORY_VELOCITY_WINDOW_DAYS"
	keyDefaultLocationID  = "DEFAULT_LOCATION_ID"

	keyLowStockDays        = "ALIGNMENT_LOW_STOCK_DAYS"
	keyLowStockShare       = "ALIGNMENT_LOW_STOCK_SHARE"
	keyOverstockDays       = "ALIGNMENT_OVERSTOCK_DAYS"
	keyOverstockShare      = "ALIGNMENT_OVERSTOCK_SHARE"
	keySpendWindowDays     = "ALIGNMENT_SPEND_WINDOW_DAYS"
	keyIncludeUnadvertised = "ALIGNMENT_INCLUDE_UNADVERTISED"

	keyTargetROAS          = "RECOMMEND_TARGET_ROAS"
	keyReducePct           = "RECOMMEND_REDUCE_PCT"
	keyStockoutReducePct   = "RECOMMEND_STOCKOUT_REDUCE_PCT"
	keyIncreasePct         = "RECOMMEND_INCREASE_PCT"
	keyMaxIncreaseDelta    = "RECOMMEND_MAX_INCREASE_DELTA"
	keyMinHealthyCoverDays = "RECOMMEND_MIN_HEALTHY_COVER_DAYS"
	keyPromotionCoverDays  = "RECOMMEND_PROMOTION_COVER_DAYS"
	keyReduceWeight        = "RECOMMEND_REDUCE_WEIGHT"
	keyIncreaseWeight      = "RECOMMEND_INCREASE_WEIGHT"
	keyPromotionWeight     = "RECOMMEND_PROMOTION_WEIGHT"
	keyLargeDelta          = "RECOMMEND_LARGE_DELTA"
	keyLargeBonus          = "RECOMMEND_LARGE_BONUS"
	keyMediumDelta         = "RECOMMEND_MEDIUM_DELTA"
	keyMediumBonus         = "RECOMMEND_MEDIUM_BONUS"
	keyStockoutBonus       = "RECOMMEND_STOCKOUT_BONUS"
	keyTopN                = "RECOMMEND_TOP_N"
)

func setPipelineDefaults() {
	d := pipeline.DefaultSettings()

	viper.SetDefault(keyPurchaseActionTypes, joinList(d.Normalize.PurchaseActionTypes))
	viper.SetDefault(keyReportingCurrency, d.Normalize.ReportingCurrency)
	viper.SetDefault(keyFXRates, "")

	viper.SetDefault(keyAttributionWindowDays, d.Attribution.WindowDays)
	viper.SetDefault(keyConfidenceFloor, d.Attribution.ConfidenceFloor)
	viper.SetDefault(keyRecencyWeight, d.Attribution.RecencyWeight)

	viper.SetDefault(keyVelocityWindowDays, d.Inventory.WindowDays)
	viper.SetDefault(keyDefaultLocationID, d.Inventory.DefaultLocationID)

	viper.SetDefault(keyLowStockDays, d.Alignment.LowStockDays)
	viper.SetDefault(keyLowStockShare, d.Alignment.LowStockShare)
	viper.SetDefault(keyOverstockDays, d.Alignment.OverstockDays)
	viper.SetDefault(keyOverstockShare, d.Alignment.OverstockShare)
	viper.SetDefault(keySpendWindowDays, d.Alignment.SpendWindowDays)
	viper.SetDefault(keyIncludeUnadvertised, d.Alignment.IncludeUnadvertised)

	r := d.Recommend
	viper.SetDefault(keyTargetROAS, r.TargetROAS)
	viper.SetDefault(keyReducePct, r.ReducePct)
	viper.SetDefault(keyStockoutReducePct, r.StockoutReducePct)
	viper.SetDefault(keyIncreasePct, r.IncreasePct)
	viper.SetDefault(keyMaxIncreaseDelta, r.MaxIncreaseDelta)
	viper.SetDefault(keyMinHealthyCoverDays, r.MinHealthyCoverDays)
	viper.SetDefault(keyPromotionCoverDays, r.PromotionCoverDays)
	viper.SetDefault(keyReduceWeight, r.ReduceWeight)
	viper.SetDefault(keyIncreaseWeight, r.IncreaseWeight)
	viper.SetDefault(keyPromotionWeight, r.PromotionWeight)
	viper.SetDefault(keyLargeDelta, r.LargeDelta)
	viper.SetDefault(keyLargeBonus, r.LargeBonus)
	viper.SetDefault(keyMediumDelta, r.MediumDelta)
	viper.SetDefault(keyMediumBonus, r.MediumBonus)
	viper.SetDefault(keyStockoutBonus, r.StockoutBonus)
	viper.SetDefault(keyTopN, r.TopN)
}

// PipelineSettings reads the stage thresholds and validates them. Any problem
// is a configuration error and must stop the run before input is read.
func (c *Config) PipelineSettings() (pipeline.Settings, error) {
	s := pipeline.DefaultSettings()

	s.Normalize.PurchaseActionTypes = splitList(viper.GetString(keyPurchaseActionTypes))
	s.Normalize.ReportingCurrency = viper.GetString(keyReportingCurrency)
	rates, err := ParseFXRates(viper.GetString(keyFXRates))
	if err != nil {
		return pipeline.Settings{}, err
	}
	s.Normalize.FXRates = rates

	s.Attribution.WindowDays = viper.GetInt(keyAttributionWindowDays)
	s.Attribution.ConfidenceFloor = viper.GetFloat64(keyConfidenceFloor)
	s.Attribution.RecencyWeight = viper.GetFloat64(keyRecencyWeight)

	s.Inventory.WindowDays = viper.GetInt(keyVelocityWindowDays)
	s.Inventory.DefaultLocationID = viper.GetString(keyDefaultLocationID)

	s.Alignment.LowStockDays = viper.GetFloat64(keyLowStockDays)
	s.Alignment.LowStockShare = viper.GetFloat64(keyLowStockShare)
	s.Alignment.OverstockDays = viper.GetFloat64(keyOverstockDays)
	s.Alignment.OverstockShare = viper.GetFloat64(keyOverstockShare)
	s.Alignment.SpendWindowDays = viper.GetInt(keySpendWindowDays)
	s.Alignment.IncludeUnadvertised = viper.GetBool(keyIncludeUnadvertised)

	s.Recommend.TargetROAS = viper.GetFloat64(keyTargetROAS)
	s.Recommend.ReducePct = viper.GetFloat64(keyReducePct)
	s.Recommend.StockoutReducePct = viper.GetFloat64(keyStockoutReducePct)
	s.Recommend.IncreasePct = viper.GetFloat64(keyIncreasePct)
	s.Recommend.MaxIncreaseDelta = viper.GetFloat64(keyMaxIncreaseDelta)
	s.Recommend.MinHealthyCoverDays = viper.GetFloat64(keyMinHealthyCoverDays)
	s.Recommend.PromotionCoverDays = viper.GetFloat64(keyPromotionCoverDays)
	s.Recommend.ReduceWeight = viper.GetFloat64(keyReduceWeight)
	s.Recommend.IncreaseWeight = viper.GetFloat64(keyIncreaseWeight)
	s.Recommend.PromotionWeight = viper.GetFloat64(keyPromotionWeight)
	s.Recommend.LargeDelta = viper.GetFloat64(keyLargeDelta)
	s.Recommend.LargeBonus = viper.GetFloat64(keyLargeBonus)
	s.Recommend.MediumDelta = viper.GetFloat64(keyMediumDelta)
	s.Recommend.MediumBonus = viper.GetFloat64(keyMediumBonus)
	s.Recommend.StockoutBonus = viper.GetFloat64(keyStockoutBonus)
	s.Recommend.TopN = viper.GetInt(keyTopN)

	if err := s.Validate(); err != nil {
		return pipeline.Settings{}, err
	}
	return s, nil
}

func joinList(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}
