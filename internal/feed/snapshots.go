package feed

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/andresuchdata/control-tower/internal/domain"
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(v string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", v)
}

// ReadSnapshots parses an inventory export. Negative quantities are kept so the
// calculator can reject them; unparseable rows are counted under "inventory".
func ReadSnapshots(r io.Reader, source string, report *domain.RunReport) ([]domain.InventorySnapshot, error) {
	reader := newReader(r)

	cols, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", source, err)
	}
	h := header(cols)

	idxProduct := h.colIndex("product_id", "sku")
	idxLocation := h.colIndex("location_id", "location", "warehouse")
	idxOnHand := h.colIndex("on_hand", "available", "stock", "quantity")
	idxTaken := h.colIndex("taken_at", "snapshot_at", "updated_at", "date")

	if idxProduct < 0 || idxOnHand < 0 || idxTaken < 0 {
		return nil, fmt.Errorf("%s: missing required columns (product_id, on_hand, taken_at)", source)
	}

	var out []domain.InventorySnapshot
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.AddMalformed("inventory")
			continue
		}
		rec := record(row)

		onHand, qerr := strconv.ParseInt(rec.get(idxOnHand), 10, 64)
		taken, terr := parseTimestamp(rec.get(idxTaken))
		if rec.get(idxProduct) == "" || qerr != nil || terr != nil {
			report.AddMalformed("inventory")
			continue
		}

		location := rec.get(idxLocation)
		out = append(out, domain.InventorySnapshot{
			ProductID:  rec.get(idxProduct),
			LocationID: location,
			OnHand:     onHand,
			TakenAt:    taken.UTC(),
		})
	}
	return out, nil
}
