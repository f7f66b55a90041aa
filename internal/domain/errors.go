package domain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Error kinds. Row-level kinds (malformed, gap) are counted and skipped,
// run-level kinds (configuration, invariant) abort the run.
var (
	ErrMalformedRecord    = errors.New("malformed record")
	ErrDataGap            = errors.New("data gap")
	ErrConfiguration      = errors.New("configuration error")
	ErrInvariantViolation = errors.New("computation invariant violation")
)

// RecordError describes a single unusable input row.
type RecordError struct {
	Kind   error
	Source string
	Key    string
	Reason string
}

func (e *RecordError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%v: %s: %s", e.Kind, e.Source, e.Reason)
	}
	return fmt.Sprintf("%v: %s[%s]: %s", e.Kind, e.Source, e.Key, e.Reason)
}

func (e *RecordError) Unwrap() error {
	return e.Kind
}

// Malformed builds a malformed-record error.
func Malformed(source, key, reason string) error {
	return &RecordError{Kind: ErrMalformedRecord, Source: source, Key: key, Reason: reason}
}

// Gap builds a data-gap error. kind is one of the Gap* constants.
func Gap(kind, key, reason string) error {
	return &RecordError{Kind: ErrDataGap, Source: kind, Key: key, Reason: reason}
}

// ConfigError wraps a configuration problem.
func ConfigError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// InvariantError wraps a violated computation invariant.
func InvariantError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// Gap kinds recorded in the run report.
const (
	GapMissingSnapshot    = "missing_snapshot"
	GapMissingHealth      = "missing_health"
	GapUnallocatedSpend   = "unallocated_spend"
	GapUnattributedOrders = "unattributed_orders"
)

// RunReport holds the row-level counters of one run. Stages run sequentially,
// so the report is not safe for concurrent use.
type RunReport struct {
	Malformed        map[string]int  `json:"malformed"`
	Gaps             map[string]int  `json:"gaps"`
	OrdersTotal      int             `json:"orders_total"`
	OrdersAttributed int             `json:"orders_attributed"`
	UnallocatedSpend decimal.Decimal `json:"unallocated_spend"`
}

// NewRunReport returns an empty report.
func NewRunReport() *RunReport {
	return &RunReport{
		Malformed: make(map[string]int),
		Gaps:      make(map[string]int),
	}
}

// AddMalformed counts a dropped row for source.
func (r *RunReport) AddMalformed(source string) {
	r.Malformed[source]++
}

// AddGap counts a data gap of the given kind.
func (r *RunReport) AddGap(kind string) {
	r.Gaps[kind]++
}

// RecordGap counts a data-gap error under its kind. Errors that are not
// data gaps are counted as "other".
func (r *RunReport) RecordGap(err error) {
	var re *RecordError
	if errors.As(err, &re) && errors.Is(err, ErrDataGap) {
		r.AddGap(re.Source)
		return
	}
	r.AddGap("other")
}

// Merge adds the counters of other into r.
func (r *RunReport) Merge(other *RunReport) {
	if other == nil {
		return
	}
	for k, n := range other.Malformed {
		r.Malformed[k] += n
	}
	for k, n := range other.Gaps {
		r.Gaps[k] += n
	}
	r.OrdersTotal += other.OrdersTotal
	r.OrdersAttributed += other.OrdersAttributed
	r.UnallocatedSpend = r.UnallocatedSpend.Add(other.UnallocatedSpend)
}

// UnattributedRate is the share of orders with no campaign.
func (r *RunReport) UnattributedRate() float64 {
	if r.OrdersTotal == 0 {
		return 0
	}
	return float64(r.OrdersTotal-r.OrdersAttributed) / float64(r.OrdersTotal)
}

// MalformedTotal sums the malformed counters.
func (r *RunReport) MalformedTotal() int {
	total := 0
	for _, n := range r.Malformed {
		total += n
	}
	return total
}

// GapKinds returns the recorded gap kinds in sorted order.
func (r *RunReport) GapKinds() []string {
	kinds := make([]string, 0, len(r.Gaps))
	for k := range r.Gaps {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
