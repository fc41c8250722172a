// Package config loads the escrow service configuration. Sources are layered
// as defaults < YAML file < .env file < environment; the binary overlays
// command line flags last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/escrow/escrow/pkg/faucet"
	"github.com/malbeclabs/escrow/ledger/pkg/identity"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    string         `yaml:"store"`
	Postgres PostgresConfig `yaml:"postgres"`
	Program  ProgramConfig  `yaml:"program"`
	Faucet   FaucetConfig   `yaml:"faucet"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Auth     AuthConfig     `yaml:"auth"`
	Sentry   SentryConfig   `yaml:"sentry"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	TrustProxy      bool          `yaml:"trust_proxy"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ProgramConfig struct {
	// ID is the base58 program identity every address is derived under.
	ID string `yaml:"id"`
	// CapabilitySecret keys the escrow and pool capabilities.
	CapabilitySecret string `yaml:"capability_secret"`
}

type FaucetConfig struct {
	RateLimit uint64        `yaml:"rate_limit"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// TasksConfig names the reward token: either a mint directly or the faucet
// whose mint tasks are paid in.
type TasksConfig struct {
	Mint       string `yaml:"mint"`
	FaucetSeed string `yaml:"faucet_seed"`
}

type AuthConfig struct {
	MaxSkew   time.Duration `yaml:"max_skew"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			MetricsAddr:     ":9090",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreMemory,
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     "5432",
			SSLMode:  "disable",
			MaxConns: 10,
			MinConns: 2,
		},
		Faucet: FaucetConfig{
			RateLimit: faucet.DefaultRateLimit,
			Cooldown:  time.Duration(faucet.DefaultCooldownPeriod) * time.Second,
		},
		Auth: AuthConfig{
			MaxSkew:   5 * time.Minute,
			RateLimit: 5,
			Burst:     20,
		},
	}
}

// Load builds the configuration from yamlPath and envFile. Either file may
// be missing.
func Load(yamlPath, envFile string) (*Config, error) {
	cfg := Defaults()
	if yamlPath != "" {
		if err := loadYAML(&cfg, yamlPath); err != nil {
			return nil, fmt.Errorf("config yaml: %w", err)
		}
	}
	if envFile != "" {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config env file: %w", err)
		}
	}
	if err := loadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) error {
	setString(&cfg.Server.ListenAddr, "ESCROW_LISTEN_ADDR")
	setString(&cfg.Server.MetricsAddr, "ESCROW_METRICS_ADDR")
	if v := os.Getenv("ESCROW_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("ESCROW_TRUST_PROXY"); v != "" {
		cfg.Server.TrustProxy = v == "true"
	}
	setString(&cfg.Store, "ESCROW_STORE")

	setString(&cfg.Postgres.Host, "POSTGRES_HOST")
	setString(&cfg.Postgres.Port, "POSTGRES_PORT")
	setString(&cfg.Postgres.Database, "POSTGRES_DB")
	setString(&cfg.Postgres.Username, "POSTGRES_USER")
	setString(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setString(&cfg.Postgres.SSLMode, "POSTGRES_SSLMODE")
	if v := os.Getenv("POSTGRES_RUN_MIGRATIONS"); v != "" {
		cfg.Postgres.RunMigrations = v == "true"
	}

	setString(&cfg.Program.ID, "ESCROW_PROGRAM_ID")
	setString(&cfg.Program.CapabilitySecret, "ESCROW_CAPABILITY_SECRET")
	setString(&cfg.Tasks.Mint, "ESCROW_TASK_MINT")
	setString(&cfg.Tasks.FaucetSeed, "ESCROW_TASK_FAUCET_SEED")
	setString(&cfg.Sentry.DSN, "SENTRY_DSN")
	setString(&cfg.Sentry.Environment, "SENTRY_ENVIRONMENT")

	if v := os.Getenv("ESCROW_FAUCET_RATE_LIMIT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ESCROW_FAUCET_RATE_LIMIT: %w", err)
		}
		cfg.Faucet.RateLimit = n
	}
	if err := setDuration(&cfg.Faucet.Cooldown, "ESCROW_FAUCET_COOLDOWN"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Auth.MaxSkew, "ESCROW_AUTH_MAX_SKEW"); err != nil {
		return err
	}
	if v := os.Getenv("ESCROW_API_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ESCROW_API_RATE_LIMIT: %w", err)
		}
		cfg.Auth.RateLimit = f
	}
	if v := os.Getenv("ESCROW_API_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ESCROW_API_BURST: %w", err)
		}
		cfg.Auth.Burst = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate checks the final configuration, after flags have been applied.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if err := c.Postgres.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreMemory, StorePostgres)
	}
	if c.Program.ID == "" {
		return errors.New("program id is required")
	}
	if _, err := identity.Parse(c.Program.ID); err != nil {
		return fmt.Errorf("program id: %w", err)
	}
	if c.Program.CapabilitySecret == "" {
		return errors.New("capability secret is required")
	}
	if c.Tasks.Mint == "" && c.Tasks.FaucetSeed == "" {
		return errors.New("tasks need either a mint or a faucet seed")
	}
	if c.Tasks.Mint != "" {
		if _, err := identity.Parse(c.Tasks.Mint); err != nil {
			return fmt.Errorf("task mint: %w", err)
		}
	}
	if c.Faucet.RateLimit == 0 {
		return errors.New("faucet rate limit must be positive")
	}
	if c.Faucet.Cooldown < time.Second {
		return errors.New("faucet cooldown must be at least one second")
	}
	if c.Auth.MaxSkew <= 0 {
		return errors.New("auth max skew must be positive")
	}
	if c.Auth.RateLimit <= 0 || c.Auth.Burst <= 0 {
		return errors.New("api rate limit and burst must be positive")
	}
	return nil
}
