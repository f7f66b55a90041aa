package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/andresuchdata/control-tower/internal/storage"
)

// ObjectBucket serves feeds from object storage below Prefix.
type ObjectBucket struct {
	Store  storage.ObjectStorage
	Prefix string
}

func (b ObjectBucket) key(name string) string {
	if b.Prefix == "" {
		return name
	}
	return path.Join(b.Prefix, name)
}

// Open implements Bucket.
func (b ObjectBucket) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := b.Store.OpenObject(ctx, b.key(name))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return rc, err
}

// List implements Bucket. Returned names are relative to Prefix.
func (b ObjectBucket) List(ctx context.Context, prefix string) ([]string, error) {
	full := b.key(prefix)
	if (prefix == "" || strings.HasSuffix(prefix, "/")) && full != "" && !strings.HasSuffix(full, "/") {
		full += "/"
	}
	objects, err := b.Store.ListObjects(ctx, full)
	if err != nil {
		return nil, err
	}

	trim := ""
	if b.Prefix != "" {
		trim = strings.TrimSuffix(b.Prefix, "/") + "/"
	}
	names := make([]string, 0, len(objects))
	for _, o := range objects {
		names = append(names, strings.TrimPrefix(o.Key, trim))
	}
	return names, nil
}

// Tenants lists the first path segment of every object below Prefix.
func (b ObjectBucket) Tenants(ctx context.Context) ([]string, error) {
	names, err := b.List(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		tenant, _, ok := strings.Cut(n, "/")
		if !ok || tenant == "" || seen[tenant] {
			continue
		}
		seen[tenant] = true
		out = append(out, tenant)
	}
	sort.Strings(out)
	return out, nil
}
