package inventory

import (
	"sort"

	"github.com/andresuchdata/control-tower/internal/domain"
)

// ProductHealth is the health of a product summed over its locations.
type ProductHealth struct {
	ProductID   string
	OnHand      int64
	Velocity    float64
	DaysOfCover *float64
	Status      domain.StockStatus
}

// Covers reports whether the product cover exceeds days. No movement counts as infinite.
func (p ProductHealth) Covers(days float64) bool {
	if p.Status == domain.StockStatusNoMovement {
		return true
	}
	return p.DaysOfCover != nil && *p.DaysOfCover > days
}

// ByProduct rolls location records up to product level.
func ByProduct(records []domain.InventoryHealthRecord) map[string]ProductHealth {
	sums := make(map[string]*ProductHealth)
	for _, r := range records {
		p, ok := sums[r.ProductID]
		if !ok {
			p = &ProductHealth{ProductID: r.ProductID}
			sums[r.ProductID] = p
		}
		p.OnHand += r.OnHand
		p.Velocity += r.Velocity
	}

	out := make(map[string]ProductHealth, len(sums))
	for id, p := range sums {
		switch {
		case p.OnHand == 0:
			zero := 0.0
			p.DaysOfCover = &zero
			p.Status = domain.StockStatusStockout
		case p.Velocity == 0:
			p.Status = domain.StockStatusNoMovement
		default:
			cover := float64(p.OnHand) / p.Velocity
			p.DaysOfCover = &cover
			p.Status = domain.StockStatusCovered
		}
		out[id] = *p
	}
	return out
}

// ProductIDs returns the keys of health in sorted order.
func ProductIDs(health map[string]ProductHealth) []string {
	ids := make([]string, 0, len(health))
	for id := range health {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
