package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/escrow/api/config"
	"github.com/malbeclabs/escrow/api/handlers"
	"github.com/malbeclabs/escrow/api/metrics"
	"github.com/malbeclabs/escrow/api/server"
	"github.com/malbeclabs/escrow/escrow/pkg/faucet"
	"github.com/malbeclabs/escrow/escrow/pkg/task"
	"github.com/malbeclabs/escrow/ledger/pkg/identity"
	"github.com/malbeclabs/escrow/ledger/pkg/memory"
	"github.com/malbeclabs/escrow/ledger/pkg/postgres"
	"github.com/malbeclabs/escrow/ledger/pkg/runtime"
	"github.com/malbeclabs/escrow/utils/pkg/logger"
	"github.com/malbeclabs/escrow/utils/pkg/retry"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	configFlag := flag.String("config", "escrow.yaml", "Path to the YAML configuration file")
	envFileFlag := flag.String("env-file", ".env", "Path to a .env file loaded into the environment")
	listenAddrFlag := flag.String("listen-addr", "", "Address to listen on for the API (or set ESCROW_LISTEN_ADDR env var)")
	metricsAddrFlag := flag.String("metrics-addr", "", "Address to listen on for prometheus metrics (or set ESCROW_METRICS_ADDR env var)")
	storeFlag := flag.String("store", "", "Runtime store: memory or postgres (or set ESCROW_STORE env var)")
	migrateFlag := flag.Bool("pg-migrate", false, "Apply PostgreSQL migrations on startup (or set POSTGRES_RUN_MIGRATIONS=true)")

	flag.Parse()

	log := logger.New(logger.Config{Verbose: *verboseFlag, Service: "escrow-api"})

	cfg, err := config.Load(*configFlag, *envFileFlag)
	if err != nil {
		return err
	}
	if *listenAddrFlag != "" {
		cfg.Server.ListenAddr = *listenAddrFlag
	}
	if *metricsAddrFlag != "" {
		cfg.Server.MetricsAddr = *metricsAddrFlag
	}
	if *storeFlag != "" {
		cfg.Store = *storeFlag
	}
	if *migrateFlag {
		cfg.Postgres.RunMigrations = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry enabled", "environment", cfg.Sentry.Environment)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	program, err := identity.Parse(cfg.Program.ID)
	if err != nil {
		return fmt.Errorf("program id: %w", err)
	}
	addresses, err := identity.NewDeriver(identity.DeriverConfig{Program: program})
	if err != nil {
		return fmt.Errorf("failed to create address deriver: %w", err)
	}
	defer addresses.Close()
	keyring, err := runtime.NewKeyring([]byte(cfg.Program.CapabilitySecret))
	if err != nil {
		return fmt.Errorf("failed to create keyring: %w", err)
	}

	rt, ready, closeRuntime, err := newRuntime(ctx, log, cfg, addresses, keyring)
	if err != nil {
		return err
	}
	defer closeRuntime()

	faucets, err := faucet.New(faucet.Config{
		Logger:         log,
		Runtime:        rt,
		RateLimit:      cfg.Faucet.RateLimit,
		CooldownPeriod: int64(cfg.Faucet.Cooldown / time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to create faucet engine: %w", err)
	}

	mint, err := taskMint(cfg, faucets)
	if err != nil {
		return err
	}
	tasks, err := task.New(task.Config{Logger: log, Runtime: rt, Mint: mint})
	if err != nil {
		return fmt.Errorf("failed to create task engine: %w", err)
	}
	log.Info("task rewards configured", "mint", mint, "faucet_seed", cfg.Tasks.FaucetSeed)

	limiter := handlers.NewRateLimiter(rate.Limit(cfg.Auth.RateLimit), cfg.Auth.Burst)
	defer limiter.Close()

	api, err := handlers.New(handlers.Config{
		Logger:  log,
		Clock:   clockwork.NewRealClock(),
		Faucet:  faucets,
		Tasks:   tasks,
		MaxSkew: cfg.Auth.MaxSkew,
		Limiter: limiter,
		Retry:   retry.DefaultConfig(),
	})
	if err != nil {
		return fmt.Errorf("failed to create api: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      cfg.Server.ListenAddr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		TrustProxy:      cfg.Server.TrustProxy,
		VersionInfo:     handlers.VersionResponse{Version: version, Commit: commit, Date: date, Program: program.String()},
		API:             api,
		Ready:           ready,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, log, cfg.Server.MetricsAddr)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("escrow api stopped")
	return nil
}

// newRuntime opens the configured host runtime and returns its readiness
// probe and a release func.
func newRuntime(ctx context.Context, log *slog.Logger, cfg *config.Config, addresses *identity.Deriver, keyring *runtime.Keyring) (runtime.Runtime, func(context.Context) error, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := config.OpenPostgres(ctx, log, cfg.Postgres)
		if err != nil {
			return nil, nil, nil, err
		}
		rt, err := postgres.NewRuntime(postgres.RuntimeConfig{
			Logger:    log,
			Pool:      pool,
			Addresses: addresses,
			Keyring:   keyring,
		})
		if err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("failed to create postgres runtime: %w", err)
		}
		log.Info("using postgres runtime", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return rt, rt.Ping, pool.Close, nil
	default:
		rt, err := memory.NewRuntime(memory.RuntimeConfig{
			Logger:    log,
			Addresses: addresses,
			Keyring:   keyring,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create memory runtime: %w", err)
		}
		log.Warn("using in-memory runtime, state is lost on restart")
		return rt, nil, func() {}, nil
	}
}

func taskMint(cfg *config.Config, faucets *faucet.Engine) (solana.PublicKey, error) {
	if cfg.Tasks.Mint != "" {
		return identity.Parse(cfg.Tasks.Mint)
	}
	addrs, err := faucets.Address(cfg.Tasks.FaucetSeed)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("task faucet %q: %w", cfg.Tasks.FaucetSeed, err)
	}
	return addrs.Mint, nil
}

func serveMetrics(ctx context.Context, log *slog.Logger, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("prometheus metrics server listening", "address", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
