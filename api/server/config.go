package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/malbeclabs/escrow/api/handlers"
)

type Config struct {
	Logger          *slog.Logger
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// TrustProxy takes the client address from forwarding headers. Only set
	// it behind a proxy that overwrites them.
	TrustProxy bool
	VersionInfo     handlers.VersionResponse
	API             *handlers.API

	// Ready reports whether the backing runtime can serve invocations. Nil
	// means always ready.
	Ready func(ctx context.Context) error
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.API == nil {
		return errors.New("api is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return nil
}
