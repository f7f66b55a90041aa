package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/control-tower/internal/feed"
)

// Files is the subset of the Drive API the syncer needs.
type Files interface {
	ListFiles(ctx context.Context, folderID string) ([]*File, error)
	DownloadFile(ctx context.Context, fileID string, w io.Writer) error
}

// SyncOptions controls how tenant feeds are pulled from Google Drive.
type SyncOptions struct {
	// FolderID holds one sub-folder per tenant.
	FolderID string
	// DownloadDir receives the local feed layout read by feed.DirBucket.
	DownloadDir string
}

// Syncer mirrors tenant feed folders from Drive into a local feed directory:
//
//	<folder>/<tenant>/orders.(csv|xlsx)     -> <dir>/<tenant>/orders.csv
//	<folder>/<tenant>/inventory.(csv|xlsx)  -> <dir>/<tenant>/inventory.csv
//	<folder>/<tenant>/ads/<platform>.jsonl  -> <dir>/<tenant>/ads/<platform>.jsonl
type Syncer struct {
	files Files
}

func NewSyncer(files Files) *Syncer {
	return &Syncer{files: files}
}

// SyncTenants downloads every tenant folder and returns the synced tenant ids.
func (s *Syncer) SyncTenants(ctx context.Context, opts SyncOptions) ([]string, error) {
	if opts.DownloadDir == "" {
		return nil, fmt.Errorf("download dir is required")
	}

	entries, err := s.files.ListFiles(ctx, opts.FolderID)
	if err != nil {
		return nil, err
	}

	var tenants []string
	for _, entry := range entries {
		if !entry.IsFolder() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.syncTenant(ctx, entry, opts.DownloadDir); err != nil {
			return nil, fmt.Errorf("sync tenant %s: %w", entry.Name, err)
		}
		tenants = append(tenants, entry.Name)
	}

	sort.Strings(tenants)
	return tenants, nil
}

func (s *Syncer) syncTenant(ctx context.Context, folder *File, downloadDir string) error {
	dir := filepath.Join(downloadDir, folder.Name)
	if err := os.MkdirAll(filepath.Join(dir, feed.AdsDir), 0755); err != nil {
		return fmt.Errorf("failed to create tenant dir: %w", err)
	}

	files, err := s.files.ListFiles(ctx, folder.ID)
	if err != nil {
		return err
	}

	synced := 0
	for _, f := range files {
		if f.IsFolder() {
			if f.Name == feed.AdsDir {
				n, err := s.syncAds(ctx, f, filepath.Join(dir, feed.AdsDir))
				if err != nil {
					return err
				}
				synced += n
			}
			continue
		}

		target, ok := tabularTarget(f.Name)
		if !ok {
			continue
		}
		if err := s.download(ctx, f, filepath.Join(dir, target)); err != nil {
			return err
		}
		synced++
	}

	log.Info().Str("tenant_id", folder.Name).Int("files", synced).Msg("synced tenant feeds from drive")
	return nil
}

func (s *Syncer) syncAds(ctx context.Context, folder *File, dir string) (int, error) {
	files, err := s.files.ListFiles(ctx, folder.ID)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, f := range files {
		if f.IsFolder() || strings.ToLower(filepath.Ext(f.Name)) != ".jsonl" {
			continue
		}
		if err := s.download(ctx, f, filepath.Join(dir, strings.ToLower(f.Name))); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// tabularTarget maps a Drive file name onto the local feed file it provides.
func tabularTarget(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".csv" && ext != ".xlsx" {
		return "", false
	}
	switch strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name))) {
	case "orders":
		return feed.OrdersFile, true
	case "inventory":
		return feed.InventoryFile, true
	}
	return "", false
}

// download writes a Drive file to localPath, converting XLSX workbooks to CSV.
// The file is written next to localPath and renamed so readers never see a partial feed.
func (s *Syncer) download(ctx context.Context, f *File, localPath string) error {
	var buf bytes.Buffer
	if err := s.files.DownloadFile(ctx, f.ID, &buf); err != nil {
		return fmt.Errorf("failed to download %s: %w", f.Name, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if strings.ToLower(filepath.Ext(f.Name)) == ".xlsx" {
		err = convertXLSXToCSV(&buf, tmp)
	} else {
		_, err = io.Copy(tmp, &buf)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", f.Name, err)
	}

	return os.Rename(tmp.Name(), localPath)
}
