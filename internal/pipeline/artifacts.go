package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/control-tower/internal/domain"
)

// Artifact is one serialized output file of a run.
type Artifact struct {
	Name        string
	ContentType string
	Body        []byte
}

// ArtifactPrefix is the object prefix of a run: tenant/as-of/run-id.
func ArtifactPrefix(res *Result) string {
	return path.Join(res.TenantID, res.AsOf.Format("20060102"), res.RunID)
}

// BuildArtifacts serializes a result into CSV and JSON files.
func BuildArtifacts(res *Result) ([]Artifact, error) {
	var out []Artifact

	add := func(name, contentType string, body []byte, err error) error {
		if err != nil {
			return fmt.Errorf("build %s: %w", name, err)
		}
		out = append(out, Artifact{Name: name, ContentType: contentType, Body: body})
		return nil
	}

	recs := res.Recommendations
	if recs == nil {
		recs = []domain.Recommendation{}
	}
	body, err := json.MarshalIndent(recs, "", "  ")
	if err := add("recommendations.json", "application/json", body, err); err != nil {
		return nil, err
	}

	body, err = json.MarshalIndent(struct {
		RunID       string            `json:"run_id"`
		TenantID    string            `json:"tenant_id"`
		AsOf        string            `json:"as_of"`
		Fingerprint string            `json:"fingerprint"`
		Report      *domain.RunReport `json:"report"`
	}{res.RunID, res.TenantID, res.AsOf.Format(time.RFC3339), res.Fingerprint, res.Report}, "", "  ")
	if err := add("report.json", "application/json", body, err); err != nil {
		return nil, err
	}

	body, err = writeCSV(recommendationRows(res.Recommendations))
	if err := add("recommendations.csv", "text/csv", body, err); err != nil {
		return nil, err
	}
	body, err = writeCSV(alignmentRows(res.Alignment))
	if err := add("alignment.csv", "text/csv", body, err); err != nil {
		return nil, err
	}
	body, err = writeCSV(healthRows(res.Health))
	if err := add("inventory_health.csv", "text/csv", body, err); err != nil {
		return nil, err
	}
	body, err = writeCSV(attributionRows(res.Attributed))
	if err := add("attributed_orders.csv", "text/csv", body, err); err != nil {
		return nil, err
	}
	return out, nil
}

// LocalPublisher writes run artifacts under Dir/tenant/as-of/run-id.
type LocalPublisher struct {
	Dir string
}

// Name implements Publisher.
func (p *LocalPublisher) Name() string { return "local" }

// Publish implements Publisher.
func (p *LocalPublisher) Publish(ctx context.Context, res *Result) error {
	artifacts, err := BuildArtifacts(res)
	if err != nil {
		return err
	}

	dir := filepath.Join(p.Dir, filepath.FromSlash(ArtifactPrefix(res)))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, a := range artifacts {
		if err := os.WriteFile(filepath.Join(dir, a.Name), a.Body, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", a.Name, err)
		}
	}
	zerolog.Ctx(ctx).Info().Str("dir", dir).Int("files", len(artifacts)).Msg("wrote run artifacts")
	return nil
}

// Retract implements Retractor by removing the run directory.
func (p *LocalPublisher) Retract(_ context.Context, res *Result) error {
	dir := filepath.Join(p.Dir, filepath.FromSlash(ArtifactPrefix(res)))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}

// table is a header plus records.
type table struct {
	header []string
	rows   [][]string
}

func writeCSV(t table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func recommendationRows(recs []domain.Recommendation) table {
	t := table{header: []string{
		"rank", "type", "product_id", "channel", "country", "region", "delta", "priority",
		"rule", "category", "roas", "days_of_cover", "spend_share", "spend", "stock_status",
	}}
	for _, r := range recs {
		delta := ""
		if r.Delta != nil {
			delta = r.Delta.StringFixed(2)
		}
		t.rows = append(t.rows, []string{
			strconv.Itoa(r.Rank), string(r.Type), r.Target.ProductID, r.Target.Channel,
			r.Target.Geography.Country, r.Target.Geography.Region, delta, formatFloat(r.Priority),
			r.Reason.Rule, string(r.Reason.Category), formatOptional(r.Reason.ROAS),
			formatOptional(r.Reason.DaysOfCover), formatFloat(r.Reason.SpendShare),
			r.Reason.Spend.StringFixed(2), string(r.Reason.StockStatus),
		})
	}
	return t
}

func alignmentRows(records []domain.AlignmentRecord) table {
	t := table{header: []string{
		"product_id", "channel", "country", "region", "spend", "revenue", "roas",
		"spend_share", "on_hand", "days_of_cover", "stock_status", "category",
	}}
	for _, a := range records {
		t.rows = append(t.rows, []string{
			a.ProductID, a.Channel, a.Geography.Country, a.Geography.Region,
			a.Spend.StringFixed(2), a.Revenue.StringFixed(2), formatOptional(a.ROAS),
			formatFloat(a.SpendShare), strconv.FormatInt(a.OnHand, 10), formatOptional(a.DaysOfCover),
			string(a.Status), string(a.Category),
		})
	}
	return t
}

func healthRows(records []domain.InventoryHealthRecord) table {
	t := table{header: []string{"product_id", "location_id", "velocity", "on_hand", "days_of_cover", "status", "snapshot_at"}}
	for _, h := range records {
		t.rows = append(t.rows, []string{
			h.ProductID, h.LocationID, formatFloat(h.Velocity), strconv.FormatInt(h.OnHand, 10),
			formatOptional(h.DaysOfCover), string(h.Status), h.SnapshotAt.UTC().Format(time.RFC3339),
		})
	}
	return t
}

func attributionRows(records []domain.AttributedOrder) table {
	t := table{header: []string{
		"order_id", "campaign_id", "platform", "country", "region", "campaign_date", "age_days", "confidence", "reason",
	}}
	for _, a := range records {
		day := ""
		if a.CampaignDay != nil {
			day = a.CampaignDay.Format("2006-01-02")
		}
		t.rows = append(t.rows, []string{
			a.OrderID, a.CampaignID, string(a.Platform), a.Geography.Country, a.Geography.Region,
			day, strconv.Itoa(a.AgeDays), formatFloat(a.Confidence), string(a.Reason),
		})
	}
	return t
}
