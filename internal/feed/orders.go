package feed

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline/normalize"
)

// ReadOrders parses an order export with one row per line item. Rows sharing an
// order id are folded into one order in first-seen order. Unusable rows are
// dropped and counted under "orders": a blank or unparseable unit price or an
// unparseable total makes a row unusable. A blank total is derived from the items.
func ReadOrders(r io.Reader, source string, report *domain.RunReport) ([]domain.Order, error) {
	reader := newReader(r)

	cols, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", source, err)
	}
	h := header(cols)

	idxID := h.colIndex("order_id", "order id", "id")
	idxPlaced := h.colIndex("placed_at", "created_at", "order_date", "timestamp")
	idxTotal := h.colIndex("total", "order_total", "total_price")
	idxCurrency := h.colIndex("currency")
	idxCountry := h.colIndex("ship_country", "shipping_country", "country")
	idxRegion := h.colIndex("ship_region", "shipping_region", "province", "region", "state")
	idxLocation := h.colIndex("location_id", "fulfillment_location")
	idxProduct := h.colIndex("product_id", "sku")
	idxQty := h.colIndex("quantity", "qty")
	idxPrice := h.colIndex("unit_price", "price")

	if idxID < 0 || idxPlaced < 0 || idxProduct < 0 || idxQty < 0 || idxPrice < 0 {
		return nil, fmt.Errorf("%s: missing required columns (order_id, placed_at, product_id, quantity, unit_price)", source)
	}

	byID := make(map[string]int)
	derived := make(map[int]bool)
	var orders []domain.Order

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.AddMalformed("orders")
			continue
		}
		rec := record(row)

		id := rec.get(idxID)
		placed, perr := parseTimestamp(rec.get(idxPlaced))
		qty, qerr := strconv.Atoi(rec.get(idxQty))
		price, prerr := parseDecimal(rec.get(idxPrice))
		total, terr := parseDecimal(rec.get(idxTotal))
		if id == "" || perr != nil || qerr != nil || qty < 0 || prerr != nil || terr != nil ||
			rec.get(idxPrice) == "" || price.IsNegative() || rec.get(idxProduct) == "" {
			report.AddMalformed("orders")
			continue
		}

		pos, ok := byID[id]
		if !ok {
			orders = append(orders, domain.Order{
				ID:         id,
				PlacedAt:   placed.UTC(),
				Total:      total,
				Currency:   strings.ToUpper(rec.get(idxCurrency)),
				Shipping:   normalize.NormalizeGeography(rec.get(idxCountry), rec.get(idxRegion)),
				LocationID: rec.get(idxLocation),
			})
			pos = len(orders) - 1
			byID[id] = pos
			derived[pos] = rec.get(idxTotal) == ""
		}
		item := domain.LineItem{
			ProductID: rec.get(idxProduct),
			Quantity:  qty,
			UnitPrice: price,
		}
		orders[pos].Items = append(orders[pos].Items, item)
		if derived[pos] {
			orders[pos].Total = orders[pos].Total.Add(item.Revenue())
		}
	}
	return orders, nil
}

func parseDecimal(v string) (decimal.Decimal, error) {
	v = strings.ReplaceAll(strings.TrimSpace(v), ",", "")
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}
