package database

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"contrib.go.opencensus.io/integrations/ocsql"
	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Notifuse/insights/config"
)

// pingTimeout bounds the connectivity check of a freshly opened pool
const pingTimeout = 10 * time.Second

// GetPostgresDSN returns the DSN of the analytics database. Sessions run in UTC so that
// timestamp truncation and bucket boundaries do not depend on the server timezone.
func GetPostgresDSN(cfg *config.DatabaseConfig) string {
	query := url.Values{}
	query.Set("sslmode", cfg.SSLMode)
	query.Set("timezone", "UTC")

	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.DBName,
		RawQuery: query.Encode(),
	}
	return dsn.String()
}

// OpenPostgres connects to the analytics database. With traced set, the driver is wrapped so
// every query gets a span.
func OpenPostgres(ctx context.Context, cfg *config.DatabaseConfig, traced bool) (*sql.DB, error) {
	driverName := "postgres"
	if traced {
		var err error
		driverName, err = ocsql.Register(driverName, ocsql.WithAllTraceOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to register opencensus sql driver: %w", err)
		}
	}

	db, err := sql.Open(driverName, GetPostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to analytics database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping analytics database: %w", err)
	}
	return db, nil
}

// ClickHouseOptions maps the ClickHouse settings to driver options
func ClickHouseOptions(cfg *config.ClickHouseConfig) *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxOpenConns / 2,
	}
	if cfg.Secure {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// OpenClickHouse connects to the ClickHouse event store through database/sql
func OpenClickHouse(ctx context.Context, cfg *config.ClickHouseConfig) (*sql.DB, error) {
	db := clickhouse.OpenDB(ClickHouseOptions(cfg))

	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return db, nil
}

func ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}
