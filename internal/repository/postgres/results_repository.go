package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline"
)

type ResultsRepository struct {
	db *DB
}

func NewResultsRepository(db *DB) *ResultsRepository {
	return &ResultsRepository{db: db}
}

func (r *ResultsRepository) Name() string { return "postgres" }

// Publish replaces the stored results of the run's tenant and as-of day in a
// single transaction.
func (r *ResultsRepository) Publish(ctx context.Context, res *pipeline.Result) error {
	report, err := json.Marshal(res.Report)
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	asOf := res.AsOf.UTC()

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"recommendations", "alignment_records", "inventory_health", "attributed_orders"} {
			query := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND as_of = $2`, table)
			if _, err := tx.ExecContext(ctx, query, res.TenantID, asOf); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO result_sets (tenant_id, as_of, run_id, fingerprint, report, published_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (tenant_id, as_of)
			DO UPDATE SET
				run_id = EXCLUDED.run_id,
				fingerprint = EXCLUDED.fingerprint,
				report = EXCLUDED.report,
				published_at = NOW()
		`, res.TenantID, asOf, res.RunID, res.Fingerprint, report)
		if err != nil {
			return fmt.Errorf("failed to upsert result set: %w", err)
		}

		if err := insertRows(ctx, tx, `
			INSERT INTO recommendations (
				tenant_id, as_of, run_id, rank, type, product_id, channel, country, region,
				delta, priority, rule, category, roas, days_of_cover, spend_share, spend, stock_status
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		`, len(res.Recommendations), func(i int) []interface{} {
			rec := res.Recommendations[i]
			var delta decimal.NullDecimal
			if rec.Delta != nil {
				delta = decimal.NewNullDecimal(*rec.Delta)
			}
			return []interface{}{
				res.TenantID, asOf, res.RunID, rec.Rank, string(rec.Type),
				rec.Target.ProductID, rec.Target.Channel, rec.Target.Geography.Country, rec.Target.Geography.Region,
				delta, rec.Priority, rec.Reason.Rule, string(rec.Reason.Category),
				rec.Reason.ROAS, rec.Reason.DaysOfCover, rec.Reason.SpendShare, rec.Reason.Spend, string(rec.Reason.StockStatus),
			}
		}); err != nil {
			return fmt.Errorf("failed to insert recommendations: %w", err)
		}

		if err := insertRows(ctx, tx, `
			INSERT INTO alignment_records (
				tenant_id, as_of, run_id, product_id, channel, country, region, spend, revenue,
				roas, spend_share, on_hand, days_of_cover, stock_status, category
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, len(res.Alignment), func(i int) []interface{} {
			a := res.Alignment[i]
			return []interface{}{
				res.TenantID, asOf, res.RunID, a.ProductID, a.Channel, a.Geography.Country, a.Geography.Region,
				a.Spend, a.Revenue, a.ROAS, a.SpendShare, a.OnHand, a.DaysOfCover, string(a.Status), string(a.Category),
			}
		}); err != nil {
			return fmt.Errorf("failed to insert alignment records: %w", err)
		}

		if err := insertRows(ctx, tx, `
			INSERT INTO inventory_health (
				tenant_id, as_of, run_id, product_id, location_id, velocity, on_hand, days_of_cover, status, snapshot_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, len(res.Health), func(i int) []interface{} {
			h := res.Health[i]
			return []interface{}{
				res.TenantID, asOf, res.RunID, h.ProductID, h.LocationID, h.Velocity, h.OnHand, h.DaysOfCover, string(h.Status), h.SnapshotAt,
			}
		}); err != nil {
			return fmt.Errorf("failed to insert inventory health: %w", err)
		}

		if err := insertRows(ctx, tx, `
			INSERT INTO attributed_orders (
				tenant_id, as_of, run_id, order_id, campaign_id, platform, country, region,
				campaign_date, age_days, confidence, reason
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, len(res.Attributed), func(i int) []interface{} {
			a := res.Attributed[i]
			return []interface{}{
				res.TenantID, asOf, res.RunID, a.OrderID, a.CampaignID, string(a.Platform), a.Geography.Country, a.Geography.Region,
				a.CampaignDay, a.AgeDays, a.Confidence, string(a.Reason),
			}
		}); err != nil {
			return fmt.Errorf("failed to insert attributed orders: %w", err)
		}

		return nil
	})
}

func insertRows(ctx context.Context, tx *sql.Tx, query string, n int, args func(i int) []interface{}) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return nil
}

// LatestResultSet returns the most recent published run of a tenant.
func (r *ResultsRepository) LatestResultSet(ctx context.Context, tenantID string) (*domain.ResultSet, error) {
	var set domain.ResultSet
	err := r.db.GetContext(ctx, &set, `
		SELECT tenant_id, as_of, run_id, fingerprint, report, published_at
		FROM result_sets
		WHERE tenant_id = $1
		ORDER BY as_of DESC
		LIMIT 1
	`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoResults
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest result set: %w", err)
	}
	return &set, nil
}

type recommendationRow struct {
	Rank        int                 `db:"rank"`
	Type        string              `db:"type"`
	ProductID   string              `db:"product_id"`
	Channel     string              `db:"channel"`
	Country     string              `db:"country"`
	Region      string              `db:"region"`
	Delta       decimal.NullDecimal `db:"delta"`
	Priority    float64             `db:"priority"`
	Rule        string              `db:"rule"`
	Category    string              `db:"category"`
	ROAS        *float64            `db:"roas"`
	DaysOfCover *float64            `db:"days_of_cover"`
	SpendShare  float64             `db:"spend_share"`
	Spend       decimal.Decimal     `db:"spend"`
	StockStatus string              `db:"stock_status"`
}

func (row recommendationRow) toDomain() domain.Recommendation {
	rec := domain.Recommendation{
		Rank: row.Rank,
		Type: domain.RecommendationType(row.Type),
		Target: domain.RecommendationTarget{
			ProductID: row.ProductID,
			Channel:   row.Channel,
			Geography: domain.Geography{Country: row.Country, Region: row.Region},
		},
		Priority: row.Priority,
		Reason: domain.RecommendationReason{
			Rule:        row.Rule,
			Category:    domain.MismatchCategory(row.Category),
			ROAS:        row.ROAS,
			DaysOfCover: row.DaysOfCover,
			SpendShare:  row.SpendShare,
			Spend:       row.Spend,
			StockStatus: domain.StockStatus(row.StockStatus),
		},
	}
	if row.Delta.Valid {
		d := row.Delta.Decimal
		rec.Delta = &d
	}
	return rec
}

// ListRecommendations returns the ranked recommendations of one published run.
func (r *ResultsRepository) ListRecommendations(ctx context.Context, tenantID string, asOf time.Time, filter *domain.ResultFilter) ([]domain.Recommendation, error) {
	filterClause, filterArgs := buildResultFilterClause(filter, recommendationColumns, "", 3)
	limit, limitArgs := limitClause(filter, 3+len(filterArgs))

	query := fmt.Sprintf(`
		SELECT rank, type, product_id, channel, country, region, delta, priority, rule,
		       category, roas, days_of_cover, spend_share, spend, stock_status
		FROM recommendations
		WHERE tenant_id = $1 AND as_of = $2%s
		ORDER BY rank ASC%s
	`, filterClause, limit)

	args := append([]interface{}{tenantID, asOf.UTC()}, filterArgs...)
	args = append(args, limitArgs...)

	var rows []recommendationRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}

	out := make([]domain.Recommendation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

type alignmentRow struct {
	ProductID   string          `db:"product_id"`
	Channel     string          `db:"channel"`
	Country     string          `db:"country"`
	Region      string          `db:"region"`
	Spend       decimal.Decimal `db:"spend"`
	Revenue     decimal.Decimal `db:"revenue"`
	ROAS        *float64        `db:"roas"`
	SpendShare  float64         `db:"spend_share"`
	OnHand      int64           `db:"on_hand"`
	DaysOfCover *float64        `db:"days_of_cover"`
	StockStatus string          `db:"stock_status"`
	Category    string          `db:"category"`
}

// ListAlignment returns the alignment records of one published run.
func (r *ResultsRepository) ListAlignment(ctx context.Context, tenantID string, asOf time.Time, filter *domain.ResultFilter) ([]domain.AlignmentRecord, error) {
	filterClause, filterArgs := buildResultFilterClause(filter, alignmentColumns, "", 3)
	limit, limitArgs := limitClause(filter, 3+len(filterArgs))

	query := fmt.Sprintf(`
		SELECT product_id, channel, country, region, spend, revenue, roas, spend_share,
		       on_hand, days_of_cover, stock_status, category
		FROM alignment_records
		WHERE tenant_id = $1 AND as_of = $2%s
		ORDER BY product_id, channel, country, region%s
	`, filterClause, limit)

	args := append([]interface{}{tenantID, asOf.UTC()}, filterArgs...)
	args = append(args, limitArgs...)

	var rows []alignmentRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list alignment records: %w", err)
	}

	out := make([]domain.AlignmentRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.AlignmentRecord{
			ProductID:   row.ProductID,
			Channel:     row.Channel,
			Geography:   domain.Geography{Country: row.Country, Region: row.Region},
			Spend:       row.Spend,
			Revenue:     row.Revenue,
			ROAS:        row.ROAS,
			SpendShare:  row.SpendShare,
			OnHand:      row.OnHand,
			DaysOfCover: row.DaysOfCover,
			Status:      domain.StockStatus(row.StockStatus),
			Category:    domain.MismatchCategory(row.Category),
		})
	}
	return out, nil
}

// ListInventoryHealth returns the per product and location health of one published run.
func (r *ResultsRepository) ListInventoryHealth(ctx context.Context, tenantID string, asOf time.Time, filter *domain.ResultFilter) ([]domain.InventoryHealthRecord, error) {
	filterClause, filterArgs := buildResultFilterClause(filter, healthColumns, "", 3)
	limit, limitArgs := limitClause(filter, 3+len(filterArgs))

	query := fmt.Sprintf(`
		SELECT product_id, location_id, velocity, on_hand, days_of_cover, status, snapshot_at
		FROM inventory_health
		WHERE tenant_id = $1 AND as_of = $2%s
		ORDER BY product_id, location_id%s
	`, filterClause, limit)

	args := append([]interface{}{tenantID, asOf.UTC()}, filterArgs...)
	args = append(args, limitArgs...)

	var out []domain.InventoryHealthRecord
	if err := sqlx.SelectContext(ctx, r.db, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list inventory health: %w", err)
	}
	return out, nil
}
