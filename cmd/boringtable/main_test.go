package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/boringtable/pkg/config"
	"github.com/platinummonkey/boringtable/pkg/observability"
	"github.com/platinummonkey/boringtable/pkg/plugins"
	"github.com/platinummonkey/boringtable/pkg/plugins/fetch"
)

const usersManifest = `
id: users
name: Users
version: 1.0.0
api_version: 1.0.0
columns:
  - key: name
plugins:
  - name: change-plugin
`

func TestFanout(t *testing.T) {
	a := observability.NewMetrics(prometheus.NewRegistry())
	b := observability.NewMetrics(prometheus.NewRegistry())
	rec := fanout{a, b}
	ctx := context.Background()

	rec.RecordDispatch(ctx, "updateData", time.Millisecond, errors.New("boom"))
	rec.RecordFetch(ctx, "orders", time.Millisecond, nil)
	rec.RecordCache(ctx, "lru", true)
	rec.RecordRows(ctx, "orders", 3, 2)
	rec.RecordHook(ctx, "onUpdate", "change-plugin", time.Millisecond)

	for _, m := range []*observability.Metrics{a, b} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchErrorsTotal.WithLabelValues("updateData")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("orders", "success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("lru")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.CustomBodyRows.WithLabelValues("orders")))
	}
}

func TestEngineLogger(t *testing.T) {
	tests := map[observability.LogLevel]logrus.Level{
		observability.DebugLevel: logrus.DebugLevel,
		observability.InfoLevel:  logrus.InfoLevel,
		observability.WarnLevel:  logrus.WarnLevel,
		observability.ErrorLevel: logrus.ErrorLevel,
	}
	for in, want := range tests {
		log := engineLogger(config.ObservabilityConfig{LogLevel: in})
		assert.Equal(t, want, log.GetLevel(), in.String())
	}
}

func TestOpenRedis(t *testing.T) {
	ctx := context.Background()

	client, err := openRedis(ctx, config.SourcesConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)

	mr := miniredis.RunT(t)
	client, err = openRedis(ctx, config.SourcesConfig{RedisURL: "redis://" + mr.Addr(), RedisDB: 2})
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, 2, client.Options().DB)

	_, err = openRedis(ctx, config.SourcesConfig{RedisURL: "mysql://nope"})
	assert.Error(t, err)
}

func TestOpenDatabase(t *testing.T) {
	ctx := context.Background()

	db, _, err := openDatabase(ctx, config.SourcesConfig{})
	require.NoError(t, err)
	assert.Nil(t, db)

	db, placeholder, err := openDatabase(ctx, config.SourcesConfig{DatabaseDriver: "sqlite3", DatabaseURL: ":memory:"})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, fetch.QuestionPlaceholder(1), placeholder(1))
}

func TestLoadManifest(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	loader := plugins.NewLoader(plugins.NewRegistry[plugins.Row](), log)

	root := t.TempDir()
	dir := filepath.Join(root, "users")
	require.NoError(t, os.Mkdir(dir, 0755))
	path := filepath.Join(dir, plugins.ManifestFile)
	require.NoError(t, os.WriteFile(path, []byte(usersManifest), 0644))

	m, err := loadManifest(ctx, config.TableConfig{Manifest: path}, loader)
	require.NoError(t, err)
	assert.Equal(t, "users", m.ID)

	m, err = loadManifest(ctx, config.TableConfig{ManifestDirs: []string{root}, ID: "users"}, loader)
	require.NoError(t, err)
	assert.Equal(t, "users", m.ID)

	_, err = loadManifest(ctx, config.TableConfig{ManifestDirs: []string{root}, ID: "orders"}, loader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `table "orders" not found`)
}
