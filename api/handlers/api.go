// Package handlers is the HTTP surface of the escrow service. Reads are open;
// mutations are authenticated by a request signature and run as the signer.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/escrow/api/metrics"
	"github.com/malbeclabs/escrow/escrow/pkg/faucet"
	"github.com/malbeclabs/escrow/escrow/pkg/task"
	"github.com/malbeclabs/escrow/utils/pkg/retry"
)

const DefaultMaxSkew = 5 * time.Minute

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Faucet *faucet.Engine
	Tasks  *task.Engine

	// MaxSkew bounds the distance between a request timestamp and now.
	MaxSkew time.Duration
	// Limiter throttles signed requests per signer and reads per client IP.
	// Nil disables rate limiting.
	Limiter *RateLimiter
	Retry   retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Faucet == nil {
		return errors.New("faucet engine is required")
	}
	if cfg.Tasks == nil {
		return errors.New("task engine is required")
	}
	if cfg.MaxSkew < 0 {
		return errors.New("max skew must not be negative")
	}
	if cfg.MaxSkew == 0 {
		cfg.MaxSkew = DefaultMaxSkew
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

type API struct {
	log     *slog.Logger
	clock   clockwork.Clock
	maxSkew time.Duration
	faucet  *faucet.Engine
	tasks   *task.Engine
	limiter *RateLimiter
	replays *replayGuard
	retry   retry.Config
}

func New(cfg Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &API{
		log:     cfg.Logger,
		clock:   cfg.Clock,
		maxSkew: cfg.MaxSkew,
		faucet:  cfg.Faucet,
		tasks:   cfg.Tasks,
		limiter: cfg.Limiter,
		replays: newReplayGuard(cfg.MaxSkew),
		retry:   cfg.Retry,
	}, nil
}

// Routes mounts the faucet and task endpoints on r.
func (a *API) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		a.throttle(r)
		r.Get("/faucets/{seed}", a.GetFaucet)
		r.Get("/faucets/{seed}/users/{user}", a.GetUserRecord)
	})

	r.Group(func(r chi.Router) {
		a.signed(r)
		r.Post("/faucets", a.InitializeFaucet)
		r.Post("/faucets/{seed}/requests", a.RequestTokens)
		r.Delete("/faucets/{seed}", a.DeleteFaucet)
		r.Post("/tasks", a.CreateTask)
	})

	// Mounting claims every method on the pattern, so the open read lives
	// inside the same subrouter as the signed mutations.
	r.Route("/tasks/{creator}/{id}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			a.throttle(r)
			r.Get("/", a.GetTask)
		})
		r.Group(func(r chi.Router) {
			a.signed(r)
			r.Delete("/", a.DeleteTask)
			r.Post("/assignees", a.AssignTask)
			r.Post("/status", a.UpdateTaskStatus)
			r.Post("/complete", a.CompleteTask)
			r.Post("/claim", a.ClaimReward)
			r.Post("/close", a.CloseTask)
			r.Post("/cancel", a.CancelTask)
			r.Put("/reward", a.UpdateTaskReward)
			r.Post("/reward/decrease/execute", a.ExecutePendingDecrease)
			r.Delete("/reward/decrease", a.CancelPendingDecrease)
		})
	})
}

func (a *API) signed(r chi.Router) {
	r.Use(a.RequireSignature)
	a.throttle(r)
}

func (a *API) throttle(r chi.Router) {
	if a.limiter != nil {
		r.Use(RateLimitMiddleware(a.limiter))
	}
}

// invoke runs fn, replaying it while the runtime reports a conflicting
// concurrent writer.
func (a *API) invoke(ctx context.Context, op string, fn func() error) error {
	return retry.DoWithHook(ctx, a.retry, fn, func(attempt int, err error) {
		metrics.RecordConflictRetry(op)
		a.log.Debug("api: retrying conflicting invocation", "operation", op, "attempt", attempt, "error", err)
	})
}

func (a *API) signer(r *http.Request) solana.PublicKey {
	signer, _ := SignerFromContext(r.Context())
	return signer
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
