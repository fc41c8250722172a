package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/escrow/ledger/pkg/postgres"
)

// PostgresConfig holds the PostgreSQL connection settings.
type PostgresConfig struct {
	Host          string `yaml:"host"`
	Port          string `yaml:"port"`
	Database      string `yaml:"database"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SSLMode       string `yaml:"sslmode"`
	MaxConns      int32  `yaml:"max_conns"`
	MinConns      int32  `yaml:"min_conns"`
	RunMigrations bool   `yaml:"run_migrations"`
}

func (c PostgresConfig) Validate() error {
	if c.Database == "" {
		return errors.New("POSTGRES_DB is required")
	}
	if c.Username == "" {
		return errors.New("POSTGRES_USER is required")
	}
	if c.Password == "" {
		return errors.New("POSTGRES_PASSWORD is required")
	}
	return nil
}

func (c PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// OpenPostgres connects a pool, pings it and applies migrations when enabled.
func OpenPostgres(ctx context.Context, log *slog.Logger, cfg PostgresConfig) (*pgxpool.Pool, error) {
	connStr := cfg.ConnString()
	log.Info("connecting to postgres", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database, "username", cfg.Username)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if cfg.RunMigrations {
		if err := postgres.MigrateUp(ctx, log, connStr); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return pool, nil
}
