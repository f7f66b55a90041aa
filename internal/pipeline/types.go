package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/andresuchdata/control-tower/internal/domain"
)

// ErrRunInFlight is returned when a run for the same tenant and as-of is already executing.
var ErrRunInFlight = errors.New("run already in flight for tenant")

// Input is the tenant-scoped data of one run. Inputs are never mutated.
type Input struct {
	TenantID  string
	AsOf      time.Time
	Orders    []domain.Order
	AdRows    []domain.RawPerformanceRow
	Snapshots []domain.InventorySnapshot
	// Report carries counters from loading, such as unparseable feed rows. Optional.
	Report *domain.RunReport
}

// Result holds every derived entity of a completed run.
type Result struct {
	RunID           string                             `json:"run_id"`
	TenantID        string                             `json:"tenant_id"`
	AsOf            time.Time                          `json:"as_of"`
	Campaigns       []domain.CampaignPerformanceRecord `json:"-"`
	Attributed      []domain.AttributedOrder           `json:"attributed_orders"`
	Health          []domain.InventoryHealthRecord     `json:"inventory_health"`
	Alignment       []domain.AlignmentRecord           `json:"alignment"`
	Recommendations []domain.Recommendation            `json:"recommendations"`
	Report          *domain.RunReport                  `json:"report"`
	Fingerprint     string                             `json:"fingerprint"`
}

// Source loads the input of one tenant for an as-of time.
type Source interface {
	Load(ctx context.Context, tenantID string, asOf time.Time) (*Input, error)
}

// Publisher makes a completed result visible downstream. Publishers are
// only called after every stage succeeded.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, res *Result) error
}

// Retractor is a Publisher that can undo its own publish. When a later
// publisher fails, earlier ones are retracted in reverse order.
type Retractor interface {
	Retract(ctx context.Context, res *Result) error
}

// RunLocker guarantees at most one in-flight run per tenant and as-of.
// Acquire returns ErrRunInFlight when the lock is held elsewhere.
type RunLocker interface {
	Acquire(ctx context.Context, tenantID string, asOf time.Time) (release func(context.Context) error, err error)
}

// RunStore persists run status.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
}

// RunStatus represents the current state of a pipeline run
type RunStatus string

const (
	StatusPending    RunStatus = "pending"
	StatusProcessing RunStatus = "processing"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
)

// Run tracks a single execution for one tenant and as-of time.
type Run struct {
	ID               string     `json:"id" db:"id"`
	TenantID         string     `json:"tenant_id" db:"tenant_id"`
	AsOf             time.Time  `json:"as_of" db:"as_of"`
	Status           RunStatus  `json:"status" db:"status"`
	OrdersTotal      int        `json:"orders_total" db:"orders_total"`
	OrdersAttributed int        `json:"orders_attributed" db:"orders_attributed"`
	MalformedRows    int        `json:"malformed_rows" db:"malformed_rows"`
	Recommendations  int        `json:"recommendations" db:"recommendations"`
	Fingerprint      string     `json:"fingerprint" db:"fingerprint"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at" db:"completed_at"`
	ErrorMessage     string     `json:"error_message" db:"error_message"`
}

// Apply copies the result counters onto the run.
func (r *Run) Apply(res *Result) {
	r.Fingerprint = res.Fingerprint
	r.Recommendations = len(res.Recommendations)
	if res.Report != nil {
		r.OrdersTotal = res.Report.OrdersTotal
		r.OrdersAttributed = res.Report.OrdersAttributed
		r.MalformedRows = res.Report.MalformedTotal()
	}
}
