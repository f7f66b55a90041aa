package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/control-tower/internal/config"
	"github.com/andresuchdata/control-tower/pkg/logger"
)

const dayLayout = "2006-01-02"

func asOfFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "as-of",
		Usage:   "As-of day (YYYY-MM-DD, UTC); defaults to today",
		EnvVars: []string{"PIPELINE_AS_OF"},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		asOfFlag(),
		&cli.StringFlag{
			Name:    "feed-dir",
			Usage:   "Local feed directory used when object storage is disabled",
			EnvVars: []string{"APP_FEED_DIR"},
		},
		&cli.StringFlag{
			Name:    "output-dir",
			Usage:   "Directory for local run artifacts; empty disables local artifacts",
			EnvVars: []string{"APP_DATA_DIR"},
		},
		&cli.BoolFlag{
			Name:    "persist",
			Usage:   "Track runs and publish results to Postgres",
			Value:   true,
			EnvVars: []string{"PIPELINE_PERSIST"},
		},
		&cli.BoolFlag{
			Name:    "sync-drive",
			Usage:   "Pull tenant feeds from Google Drive into the feed directory first",
			EnvVars: []string{"PIPELINE_SYNC_DRIVE"},
		},
		&cli.BoolFlag{
			Name:  "print",
			Usage: "Print the ranked recommendations as JSON to stdout",
		},
	}
}

func setupLogging(c *cli.Context) error {
	if err := godotenv.Load(".env"); err != nil {
		logger.Log.Debug().Err(err).Msg("no .env file loaded")
	}
	cfg := config.Load()

	level := cfg.Log.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	format := cfg.Log.Format
	if c.IsSet("log-format") {
		format = c.String("log-format")
	}
	logger.SetFormat(format)
	logger.SetLevel(level)
	return nil
}

func parseAsOf(c *cli.Context) (time.Time, error) {
	raw := c.String("as-of")
	if raw == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse(dayLayout, raw)
	if err != nil {
		return time.Time{}, cli.Exit("invalid --as-of, expected YYYY-MM-DD", 2)
	}
	return day, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "control-tower",
		Usage: "Run the ad spend and inventory control tower pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (console, json)",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the pipeline for a single tenant",
				Flags: append(runFlags(), &cli.StringFlag{
					Name:     "tenant",
					Usage:    "Tenant id",
					Required: true,
				}),
				Action: runTenant,
			},
			{
				Name:  "run-all",
				Usage: "Run the pipeline for every tenant with feeds",
				Flags: append(runFlags(), &cli.StringSliceFlag{
					Name:    "tenants",
					Usage:   "Tenant ids; defaults to every tenant found in the feed store",
					EnvVars: []string{"SCHEDULER_TENANTS"},
				}),
				Action: runAll,
			},
			{
				Name:  "sync-drive",
				Usage: "Download tenant feeds from Google Drive",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "drive-folder-id",
						Usage:   "Google Drive folder holding one sub-folder per tenant",
						EnvVars: []string{"DRIVE_FOLDER_ID"},
					},
					&cli.StringFlag{
						Name:    "download-dir",
						Usage:   "Local directory where feeds are written",
						EnvVars: []string{"DRIVE_DOWNLOAD_DIR"},
					},
				},
				Action: syncDrive,
			},
			{
				Name:  "fail-stale",
				Usage: "Mark runs stuck in processing as failed",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Age after which a processing run is considered stale",
						Value: time.Hour,
					},
				},
				Action: failStale,
			},
			{
				Name:  "migrate",
				Usage: "Apply SQL migrations",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "db-url",
						Usage:    "Database connection string",
						Required: true,
						EnvVars:  []string{"DATABASE_URL"},
					},
					&cli.StringFlag{
						Name:    "migrations-dir",
						Usage:   "Directory containing SQL migrations",
						Value:   "./scripts/migrations",
						EnvVars: []string{"MIGRATIONS_DIR"},
					},
				},
				Action: migrate,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("control-tower failed")
	}
}
