package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/control-tower/internal/cache"
	"github.com/andresuchdata/control-tower/internal/config"
	"github.com/andresuchdata/control-tower/internal/drive"
	"github.com/andresuchdata/control-tower/internal/feed"
	"github.com/andresuchdata/control-tower/internal/pipeline"
	"github.com/andresuchdata/control-tower/internal/repository/postgres"
	"github.com/andresuchdata/control-tower/internal/storage"
	"github.com/andresuchdata/control-tower/pkg/logger"
)

// deps holds the wired dependencies of one command invocation.
type deps struct {
	cfg       *config.Config
	scheduler *pipeline.Scheduler
	tenants   feed.TenantLister
	closers   []io.Closer
}

func (r *deps) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			logger.Log.Warn().Err(err).Msg("close failed")
		}
	}
}

type bucketSource interface {
	feed.Bucket
	feed.TenantLister
}

func buildDeps(c *cli.Context) (*deps, error) {
	ctx := c.Context
	cfg := config.Load()
	rt := &deps{cfg: cfg}

	settings, err := cfg.PipelineSettings()
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(settings)
	if err != nil {
		return nil, err
	}

	feedDir := cfg.App.FeedDir
	if c.String("feed-dir") != "" {
		feedDir = c.String("feed-dir")
	}
	if c.Bool("sync-drive") {
		if err := runDriveSync(ctx, cfg.Drive.CredentialsJSON, cfg.Drive.FolderID, feedDir); err != nil {
			return nil, err
		}
	}

	var (
		bucket     bucketSource = feed.DirBucket{Root: feedDir}
		publishers []pipeline.Publisher
		runs       pipeline.RunStore
		locker     pipeline.RunLocker
		results    *postgres.ResultsRepository
	)

	if c.Bool("persist") {
		db, err := postgres.NewDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		rt.closers = append(rt.closers, db)
		runs = pipeline.NewRepository(db.DB.DB)
		results = postgres.NewResultsRepository(db)
	}

	if cfg.Storage.Enabled {
		store, err := storage.NewMinioClient(ctx, storage.MinioConfig{
			Endpoint:     cfg.Storage.Endpoint,
			AccessKey:    cfg.Storage.AccessKey,
			SecretKey:    cfg.Storage.SecretKey,
			Bucket:       cfg.Storage.Bucket,
			Region:       cfg.Storage.Region,
			UseSSL:       cfg.Storage.UseSSL,
			CreateBucket: cfg.Storage.CreateBucket,
		})
		if err != nil {
			return nil, err
		}
		bucket = feed.ObjectBucket{Store: store, Prefix: cfg.Storage.FeedPrefix}
		publishers = append(publishers, storage.NewArtifactPublisher(store, cfg.Storage.ArtifactPrefix))
	}

	outputDir := cfg.App.DataDir
	if c.IsSet("output-dir") {
		outputDir = c.String("output-dir")
	}
	if outputDir != "" {
		publishers = append(publishers, &pipeline.LocalPublisher{Dir: outputDir})
	}

	if cfg.Cache.Enabled {
		client, ttl, err := cache.NewRedisClient(cfg.Cache)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client)
		locker = cache.NewRunLock(client, time.Duration(cfg.Cache.LockTTLSeconds)*time.Second)
		publishers = append(publishers, cache.NewPublisher(cache.NewRedisResultsCache(client, ttl)))
	}

	// postgres commits last in one transaction; earlier publishers are
	// retracted when it fails
	if results != nil {
		publishers = append(publishers, results)
	}

	rt.tenants = bucket
	rt.scheduler = pipeline.NewScheduler(p, feed.NewSource(bucket), locker, runs, cfg.SchedulerSettings(), publishers...)
	return rt, nil
}

func runDriveSync(ctx context.Context, credentialsJSON, folderID, dir string) error {
	if credentialsJSON == "" || folderID == "" {
		return cli.Exit("drive sync requires DRIVE_CREDENTIALS_JSON and DRIVE_FOLDER_ID", 2)
	}
	svc, err := drive.NewService(ctx, credentialsJSON)
	if err != nil {
		return err
	}
	tenants, err := drive.NewSyncer(svc).SyncTenants(ctx, drive.SyncOptions{FolderID: folderID, DownloadDir: dir})
	if err != nil {
		return err
	}
	logger.Log.Info().Strs("tenants", tenants).Str("dir", dir).Msg("drive sync complete")
	return nil
}
