// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	BORINGTABLE_HOST="0.0.0.0"
//	BORINGTABLE_PORT="8080"
//	BORINGTABLE_READ_TIMEOUT="15s"
//	BORINGTABLE_WRITE_TIMEOUT="60s"    # must exceed the wait timeout
//	BORINGTABLE_WAIT_TIMEOUT="30s"     # GET /table/wait
//	BORINGTABLE_MAX_BODY_BYTES="1048576"
//
// Table settings:
//
//	BORINGTABLE_MANIFEST="/etc/boringtable/orders/table.yaml"
//	BORINGTABLE_MANIFEST_DIRS="/etc/boringtable,/opt/tables"
//	BORINGTABLE_TABLE_ID="orders"      # required with MANIFEST_DIRS
//	BORINGTABLE_ROWS_FILE="/var/lib/boringtable/orders.json"
//	BORINGTABLE_SCHEDULER_WORKERS="4"
//	BORINGTABLE_REFRESH_TIMEOUT="30s"
//
// Source settings:
//
//	BORINGTABLE_REDIS_URL="redis://localhost:6379/0"
//	BORINGTABLE_DATABASE_DRIVER="postgres"  # postgres, sqlite3
//	BORINGTABLE_DATABASE_URL="postgres://localhost/orders?sslmode=disable"
//	BORINGTABLE_S3_ENDPOINT="http://localhost:9000"
//	BORINGTABLE_S3_REGION="us-east-1"
//	BORINGTABLE_S3_USE_PATH_STYLE="true"
//
// Observability settings:
//
//	BORINGTABLE_LOG_LEVEL="info"  # debug, info, warn, error
//	BORINGTABLE_METRICS_ENABLED="true"
//	BORINGTABLE_OTEL_ENABLED="true"
//	BORINGTABLE_OTEL_ENDPOINT="otel-collector:4317"
//	BORINGTABLE_OTEL_SAMPLE_RATIO="0.1"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	srv := &http.Server{Addr: cfg.Server.Addr(), WriteTimeout: cfg.Server.WriteTimeout}
//
// # Related Packages
//
//   - pkg/observability: Uses observability configuration
//   - pkg/plugins: Receives the source backends built from SourcesConfig
package config
