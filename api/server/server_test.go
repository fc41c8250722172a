package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/escrow/api/handlers"
	"github.com/malbeclabs/escrow/api/server"
	"github.com/malbeclabs/escrow/escrow/pkg/faucet"
	"github.com/malbeclabs/escrow/escrow/pkg/task"
	"github.com/malbeclabs/escrow/ledger/pkg/identity"
	"github.com/malbeclabs/escrow/ledger/pkg/memory"
	"github.com/malbeclabs/escrow/ledger/pkg/runtime"
	escrowtesting "github.com/malbeclabs/escrow/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newServer(t *testing.T, ready func(context.Context) error) *server.Server {
	t.Helper()
	return newServerWith(t, ready, nil, false)
}

func newServerWith(t *testing.T, ready func(context.Context) error, limiter *handlers.RateLimiter, trustProxy bool) *server.Server {
	t.Helper()
	log := escrowtesting.NewLogger()
	d, err := identity.NewDeriver(identity.DeriverConfig{Program: solana.NewWallet().PublicKey()})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	k, err := runtime.NewKeyring([]byte("server-test-secret"))
	require.NoError(t, err)
	rt, err := memory.NewRuntime(memory.RuntimeConfig{Logger: log, Addresses: d, Keyring: k})
	require.NoError(t, err)
	fe, err := faucet.New(faucet.Config{Logger: log, Runtime: rt})
	require.NoError(t, err)
	addrs, err := fe.Address("dev")
	require.NoError(t, err)
	te, err := task.New(task.Config{Logger: log, Runtime: rt, Mint: addrs.Mint})
	require.NoError(t, err)
	api, err := handlers.New(handlers.Config{Logger: log, Faucet: fe, Tasks: te, Limiter: limiter})
	require.NoError(t, err)

	srv, err := server.New(server.Config{
		Logger:      log,
		ListenAddr:  "127.0.0.1:0",
		CORSOrigins: []string{"https://app.example"},
		TrustProxy:  trustProxy,
		VersionInfo: handlers.VersionResponse{Version: "1.2.3", Commit: "abc", Date: "today"},
		API:         api,
		Ready:       ready,
	})
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Config(t *testing.T) {
	t.Parallel()

	_, err := server.New(server.Config{ListenAddr: ":0"})
	require.ErrorContains(t, err, "logger is required")
	_, err = server.New(server.Config{Logger: escrowtesting.NewLogger()})
	require.ErrorContains(t, err, "listen addr is required")
	_, err = server.New(server.Config{Logger: escrowtesting.NewLogger(), ListenAddr: ":0"})
	require.ErrorContains(t, err, "api is required")
}

func TestServer_Endpoints(t *testing.T) {
	t.Parallel()

	t.Run("healthz", func(t *testing.T) {
		t.Parallel()
		rec := get(t, newServer(t, nil).Handler(), "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok\n", rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get(handlers.HeaderRequestID))
	})

	t.Run("readyz follows runtime", func(t *testing.T) {
		t.Parallel()
		var down error = errors.New("db down")
		srv := newServer(t, func(context.Context) error { return down })
		assert.Equal(t, http.StatusServiceUnavailable, get(t, srv.Handler(), "/readyz").Code)
		down = nil
		assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/readyz").Code)
	})

	t.Run("version", func(t *testing.T) {
		t.Parallel()
		rec := get(t, newServer(t, nil).Handler(), "/version")
		require.Equal(t, http.StatusOK, rec.Code)
		var v handlers.VersionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
		assert.Equal(t, "1.2.3", v.Version)
		assert.Equal(t, "abc", v.Commit)
	})

	t.Run("api is mounted", func(t *testing.T) {
		t.Parallel()
		rec := get(t, newServer(t, nil).Handler(), "/api/faucets/dev")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		var resp handlers.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "FaucetNotFound", resp.Error)
	})

	t.Run("request id is propagated", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(handlers.HeaderRequestID, "3f1c2a9e-8f51-4c1e-9d6a-2b7b0f9a1c44")
		rec := httptest.NewRecorder()
		newServer(t, nil).Handler().ServeHTTP(rec, req)
		assert.Equal(t, "3f1c2a9e-8f51-4c1e-9d6a-2b7b0f9a1c44", rec.Header().Get(handlers.HeaderRequestID))
	})

	t.Run("cors preflight", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
		req.Header.Set("Origin", "https://app.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", handlers.HeaderSignature)
		rec := httptest.NewRecorder()
		newServer(t, nil).Handler().ServeHTTP(rec, req)
		assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestServer_TrustProxy(t *testing.T) {
	t.Parallel()

	read := func(h http.Handler, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/faucets/dev", nil)
		req.RemoteAddr = "10.0.0.1:4444"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	limiter := func(t *testing.T) *handlers.RateLimiter {
		l := handlers.NewRateLimiter(rate.Limit(1), 1)
		t.Cleanup(l.Close)
		return l
	}

	t.Run("untrusted", func(t *testing.T) {
		t.Parallel()
		h := newServerWith(t, nil, limiter(t), false).Handler()
		assert.Equal(t, http.StatusNotFound, read(h, "203.0.113.1"))
		assert.Equal(t, http.StatusTooManyRequests, read(h, "203.0.113.2"))
	})

	t.Run("trusted", func(t *testing.T) {
		t.Parallel()
		h := newServerWith(t, nil, limiter(t), true).Handler()
		assert.Equal(t, http.StatusNotFound, read(h, "203.0.113.1"))
		assert.Equal(t, http.StatusNotFound, read(h, "203.0.113.2"))
		assert.Equal(t, http.StatusTooManyRequests, read(h, "203.0.113.1"))
	})
}

func TestServer_Serve(t *testing.T) {
	t.Parallel()
	srv := newServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/healthz", ln.Addr().String())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && string(body) == "ok\n"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
