package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline"
)

// Feed object names under a tenant prefix.
const (
	OrdersFile    = "orders.csv"
	InventoryFile = "inventory.csv"
	AdsDir        = "ads"
)

// ErrNotFound is returned by a Bucket when an object does not exist.
var ErrNotFound = errors.New("feed object not found")

// TenantLister enumerates the tenants that have feeds.
type TenantLister interface {
	Tenants(ctx context.Context) ([]string, error)
}

// Bucket is a read-only view of a feed store keyed by slash-separated names.
type Bucket interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Source loads tenant feeds laid out as:
//
//	<tenant>/orders.csv
//	<tenant>/inventory.csv
//	<tenant>/ads/<platform>.jsonl
type Source struct {
	bucket Bucket
}

// NewSource creates a feed source over bucket.
func NewSource(bucket Bucket) *Source {
	return &Source{bucket: bucket}
}

var _ pipeline.Source = (*Source)(nil)

// Load implements pipeline.Source.
func (s *Source) Load(ctx context.Context, tenantID string, asOf time.Time) (*pipeline.Input, error) {
	logger := zerolog.Ctx(ctx)
	report := domain.NewRunReport()
	in := &pipeline.Input{TenantID: tenantID, AsOf: asOf, Report: report}

	err := s.read(ctx, path.Join(tenantID, OrdersFile), func(r io.Reader, name string) error {
		orders, err := ReadOrders(r, name, report)
		in.Orders = orders
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.read(ctx, path.Join(tenantID, InventoryFile), func(r io.Reader, name string) error {
		snapshots, err := ReadSnapshots(r, name, report)
		in.Snapshots = snapshots
		return err
	})
	if err != nil {
		return nil, err
	}

	names, err := s.bucket.List(ctx, path.Join(tenantID, AdsDir)+"/")
	if err != nil {
		return nil, fmt.Errorf("list ad feeds: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		platform := PlatformFromName(name)
		err := s.read(ctx, name, func(r io.Reader, name string) error {
			rows, err := ReadAdRows(r, platform, name)
			in.AdRows = append(in.AdRows, rows...)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Info().
		Int("orders", len(in.Orders)).
		Int("snapshots", len(in.Snapshots)).
		Int("ad_rows", len(in.AdRows)).
		Int("malformed", report.MalformedTotal()).
		Msg("loaded tenant feeds")
	return in, nil
}

func (s *Source) read(ctx context.Context, name string, fn func(io.Reader, string) error) error {
	rc, err := s.bucket.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	return fn(rc, name)
}

// DirBucket serves feeds from a local directory.
type DirBucket struct {
	Root string
}

// Open implements Bucket.
func (b DirBucket) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(b.Root, filepath.FromSlash(name)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return f, err
}

// List implements Bucket. A missing prefix directory lists as empty.
func (b DirBucket) List(_ context.Context, prefix string) ([]string, error) {
	dir := filepath.Join(b.Root, filepath.FromSlash(prefix))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, path.Join(strings.TrimSuffix(prefix, "/"), e.Name()))
	}
	return names, nil
}

// Tenants lists the tenant directories under the root.
func (b DirBucket) Tenants(context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.Root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
