package plugins

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/boringtable/pkg/plugins/change"
	"github.com/platinummonkey/boringtable/pkg/plugins/fetch"
	"github.com/platinummonkey/boringtable/pkg/plugins/pagination"
	"github.com/platinummonkey/boringtable/pkg/table"
)

// ErrNoSource is returned when a fetch-plugin entry names no source it can
// read from.
var ErrNoSource = errors.New("fetch-plugin needs a url, an s3 object, a sql table or a source")

// BuiltinDeps carries the shared resources the built-in factories wire into
// the plugins they create. Every field is optional.
type BuiltinDeps[T any] struct {
	Logger   logrus.FieldLogger
	Recorder fetch.Recorder
	// Sources are selected by a fetch-plugin "source" option.
	Sources map[string]fetch.Source[T]
	// Redis enables the "redis" fetch cache option.
	Redis *redis.Client
	// S3 enables the "s3" fetch source option.
	S3 fetch.S3GetObjectAPI
	// DB enables the "sql" fetch source option. Placeholder defaults to
	// fetch.QuestionPlaceholder and Scan must decode one result row.
	DB          *sql.DB
	Placeholder fetch.Placeholder
	Scan        func(rows *sql.Rows) (T, error)
	// Scheduler receives fetch plugins with a "refresh" cron spec.
	Scheduler *fetch.Scheduler
	// Launcher overrides how fetch plugins start background fetches.
	Launcher fetch.Launcher
}

// FetchOptions is the manifest form of a fetch-plugin entry.
type FetchOptions struct {
	URL            string            `yaml:"url"`
	DataPath       string            `yaml:"dataPath"`
	TotalPath      string            `yaml:"totalPath"`
	Source         string            `yaml:"source"`
	Headers        map[string]string `yaml:"headers"`
	QueryParams    fetch.QueryParams `yaml:"queryParams"`
	NoFetchOnMount bool              `yaml:"noFetchOnMount"`
	Timeout        time.Duration     `yaml:"timeout"`
	Singleflight   bool              `yaml:"singleflight"`
	Refresh        string            `yaml:"refresh"`
	S3             struct {
		Bucket string `yaml:"bucket"`
		Key    string `yaml:"key"`
	} `yaml:"s3"`
	SQL struct {
		Table       string            `yaml:"table"`
		Columns     []string          `yaml:"columns"`
		Filters     map[string]string `yaml:"filters"`
		OrderBy     string            `yaml:"orderBy"`
		LimitParam  string            `yaml:"limitParam"`
		OffsetParam string            `yaml:"offsetParam"`
		CountTotal  bool              `yaml:"countTotal"`
	} `yaml:"sql"`
	Cache struct {
		Size int           `yaml:"size"`
		TTL  time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
	Redis struct {
		Prefix string        `yaml:"prefix"`
		TTL    time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
}

// DecodeOptions decodes raw manifest options into out, which must be a
// pointer to a struct with yaml tags.
func DecodeOptions(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode options: %w", err)
	}
	return nil
}

// RegisterBuiltins registers pagination-plugin, change-plugin and
// fetch-plugin.
func RegisterBuiltins[T any](r *Registry[T], deps BuiltinDeps[T]) error {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}

	err := r.Register(pagination.Name, func(_ *Manifest, spec PluginSpec) (table.Plugin, error) {
		var opts pagination.Options
		if err := DecodeOptions(spec.Options, &opts); err != nil {
			return nil, err
		}
		return pagination.New[T](opts), nil
	})
	if err != nil {
		return err
	}

	err = r.Register(change.Name, func(*Manifest, PluginSpec) (table.Plugin, error) {
		return change.New[T](), nil
	})
	if err != nil {
		return err
	}

	return r.Register(fetch.Name, func(m *Manifest, spec PluginSpec) (table.Plugin, error) {
		return newFetchPlugin(m, spec, deps)
	})
}

func newFetchPlugin[T any](m *Manifest, spec PluginSpec, deps BuiltinDeps[T]) (table.Plugin, error) {
	var opts FetchOptions
	if err := DecodeOptions(spec.Options, &opts); err != nil {
		return nil, err
	}

	var (
		src  fetch.Source[T]
		name string
	)
	switch {
	case opts.Source != "":
		s, ok := deps.Sources[opts.Source]
		if !ok {
			return nil, fmt.Errorf("unknown fetch source: %s", opts.Source)
		}
		src, name = s, opts.Source
	case opts.URL != "":
		hs := fetch.NewHTTPSource[T](opts.URL)
		hs.DataPath, hs.TotalPath = opts.DataPath, opts.TotalPath
		if len(opts.Headers) > 0 {
			hs.Headers = make(http.Header, len(opts.Headers))
			for k, v := range opts.Headers {
				hs.Headers.Set(k, v)
			}
		}
		src, name = hs, opts.URL
	case opts.S3.Bucket != "":
		if deps.S3 == nil {
			return nil, fmt.Errorf("fetch-plugin s3 source requested for %s without an s3 client", m.ID)
		}
		src = &fetch.S3Source[T]{Client: deps.S3, Bucket: opts.S3.Bucket, Key: opts.S3.Key}
		name = "s3://" + opts.S3.Bucket + "/" + opts.S3.Key
	case opts.SQL.Table != "":
		if deps.DB == nil || deps.Scan == nil {
			return nil, fmt.Errorf("fetch-plugin sql source requested for %s without a database", m.ID)
		}
		ss := &fetch.SQLSource[T]{
			DB:          deps.DB,
			Table:       opts.SQL.Table,
			Columns:     opts.SQL.Columns,
			Filters:     opts.SQL.Filters,
			OrderBy:     opts.SQL.OrderBy,
			LimitParam:  opts.SQL.LimitParam,
			OffsetParam: opts.SQL.OffsetParam,
			CountTotal:  opts.SQL.CountTotal,
			Placeholder: deps.Placeholder,
			Scan:        deps.Scan,
		}
		if err := ss.Validate(); err != nil {
			return nil, err
		}
		src, name = ss, "sql:"+opts.SQL.Table
	default:
		return nil, ErrNoSource
	}

	if opts.Redis.TTL > 0 {
		if deps.Redis == nil {
			return nil, fmt.Errorf("fetch-plugin redis cache requested for %s without a redis client", m.ID)
		}
		prefix := opts.Redis.Prefix
		if prefix == "" {
			prefix = "boringtable:" + m.ID + ":"
		}
		src = fetch.WithRedisCache(src, deps.Redis, fetch.RedisOptions{
			Prefix:   prefix,
			TTL:      opts.Redis.TTL,
			Logger:   deps.Logger,
			Recorder: deps.Recorder,
		})
	}
	if opts.Cache.Size > 0 {
		src = fetch.WithLRUCache(src, opts.Cache.Size, opts.Cache.TTL, deps.Recorder)
	}
	if opts.Singleflight {
		src = fetch.WithSingleflight(src)
	}

	p := fetch.New(fetch.Options[T]{
		Source:         src,
		SourceName:     name,
		QueryParams:    opts.QueryParams,
		NoFetchOnMount: opts.NoFetchOnMount,
		Launcher:       deps.Launcher,
		Timeout:        opts.Timeout,
		Logger:         deps.Logger,
		Recorder:       deps.Recorder,
	})

	if opts.Refresh != "" {
		if deps.Scheduler == nil {
			return nil, fmt.Errorf("fetch-plugin refresh %q for %s needs a scheduler", opts.Refresh, m.ID)
		}
		if err := deps.Scheduler.Add(m.ID+"/"+fetch.Name, opts.Refresh, p); err != nil {
			return nil, err
		}
	}

	return p, nil
}
