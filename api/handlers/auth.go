package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/escrow/api/metrics"
)

// MaxBodyBytes caps request bodies read for signature verification.
const MaxBodyBytes = 1 << 20

type signerKey struct{}

// WithSigner returns ctx carrying the verified signer.
func WithSigner(ctx context.Context, signer solana.PublicKey) context.Context {
	return context.WithValue(ctx, signerKey{}, signer)
}

// SignerFromContext returns the verified signer of the request, if any.
func SignerFromContext(ctx context.Context) (solana.PublicKey, bool) {
	signer, ok := ctx.Value(signerKey{}).(solana.PublicKey)
	return signer, ok
}

// RequireSignature authenticates the request by its signature headers and
// stores the signer in the request context. A signed request is accepted
// once. The body is buffered so handlers can read it again.
func (a *API) RequireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			a.rejectAuth(w, r, &authError{authReasonBody, err})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		req := SignedRequest{Method: r.Method, Path: r.URL.RequestURI(), Body: body}
		now := a.clock.Now()
		signer, ts, err := verifySignedRequest(req,
			r.Header.Get(HeaderSigner),
			r.Header.Get(HeaderTimestamp),
			r.Header.Get(HeaderSignature),
			now, a.maxSkew)
		if err != nil {
			a.rejectAuth(w, r, err)
			return
		}
		req.Timestamp = ts
		if a.replays.observe(signer, req, now) {
			a.rejectAuth(w, r, &authError{authReasonReplay, errors.New("replayed request, sign it again with a new timestamp")})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSigner(r.Context(), signer)))
	})
}

func (a *API) rejectAuth(w http.ResponseWriter, r *http.Request, err error) {
	reason := authReasonSignature
	var ae *authError
	if errors.As(err, &ae) {
		reason = ae.reason
	}
	metrics.RecordAuthFailure(reason)
	a.log.Debug("auth: rejected request", "reason", reason, "path", r.URL.Path, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:     "unauthenticated",
		Message:   err.Error(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}
