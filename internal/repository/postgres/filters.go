package postgres

import (
	"fmt"
	"strings"

	"github.com/andresuchdata/control-tower/internal/domain"
)

// filterColumns maps the filter fields a table supports onto its columns.
type filterColumns struct {
	channel  string
	country  string
	region   string
	typ      string
	category string
	status   string
}

var (
	recommendationColumns = filterColumns{channel: "channel", country: "country", region: "region", typ: "type", category: "category", status: "stock_status"}
	alignmentColumns      = filterColumns{channel: "channel", country: "country", region: "region", category: "category", status: "stock_status"}
	healthColumns         = filterColumns{status: "status"}
)

// buildResultFilterClause constructs the AND-ed filter clauses of a result query.
// Placeholders are numbered from startIndex.
func buildResultFilterClause(filter *domain.ResultFilter, cols filterColumns, alias string, startIndex int) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var (
		clauses []string
		args    []interface{}
	)
	idx := startIndex

	add := func(column, value string, upper bool) {
		value = strings.TrimSpace(value)
		if column == "" || value == "" {
			return
		}
		if upper {
			value = strings.ToUpper(value)
		} else {
			value = strings.ToLower(value)
		}
		clauses = append(clauses, fmt.Sprintf("%s%s = $%d", alias, column, idx))
		args = append(args, value)
		idx++
	}

	add(cols.channel, filter.Channel, false)
	add(cols.country, filter.Country, true)
	add(cols.region, filter.Region, true)
	add(cols.typ, filter.Type, false)
	add(cols.category, filter.Category, false)
	add(cols.status, filter.Status, false)

	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

func limitClause(filter *domain.ResultFilter, idx int) (string, []interface{}) {
	if filter == nil || filter.Limit <= 0 {
		return "", nil
	}
	return fmt.Sprintf(" LIMIT $%d", idx), []interface{}{filter.Limit}
}
