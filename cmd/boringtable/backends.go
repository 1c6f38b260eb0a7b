package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/boringtable/pkg/config"
	"github.com/platinummonkey/boringtable/pkg/observability"
	"github.com/platinummonkey/boringtable/pkg/plugins"
	"github.com/platinummonkey/boringtable/pkg/plugins/fetch"
)

func engineLogger(cfg config.ObservabilityConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})
	switch cfg.LogLevel {
	case observability.DebugLevel:
		log.SetLevel(logrus.DebugLevel)
	case observability.WarnLevel:
		log.SetLevel(logrus.WarnLevel)
	case observability.ErrorLevel:
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

func openRedis(ctx context.Context, cfg config.SourcesConfig) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func openDatabase(ctx context.Context, cfg config.SourcesConfig) (*sql.DB, fetch.Placeholder, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, nil
	}
	db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	placeholder := fetch.QuestionPlaceholder
	if cfg.DatabaseDriver == "postgres" {
		placeholder = fetch.DollarPlaceholder
	}
	return db, placeholder, nil
}

// loadManifest returns the configured manifest, either the single file or
// the table picked by ID from the manifest directories.
func loadManifest(ctx context.Context, cfg config.TableConfig, loader *plugins.Loader[plugins.Row]) (*plugins.Manifest, error) {
	if cfg.Manifest != "" {
		return plugins.LoadManifest(cfg.Manifest)
	}

	manifests, err := loader.Discover(ctx, cfg.ManifestDirs)
	if err != nil {
		return nil, err
	}
	for _, m := range manifests {
		if m.ID == cfg.ID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("table %q not found in %v", cfg.ID, cfg.ManifestDirs)
}
