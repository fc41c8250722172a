package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/escrow/ledger/pkg/identity"
)

const (
	HeaderSigner    = "X-Escrow-Signer"
	HeaderTimestamp = "X-Escrow-Timestamp"
	HeaderSignature = "X-Escrow-Signature"
)

// Reasons reported on auth failures; they double as metric labels.
const (
	authReasonMissing   = "missing_headers"
	authReasonSigner    = "invalid_signer"
	authReasonTimestamp = "invalid_timestamp"
	authReasonSkew      = "clock_skew"
	authReasonSignature = "invalid_signature"
	authReasonBody      = "unreadable_body"
	authReasonReplay    = "replayed"
)

type authError struct {
	reason string
	err    error
}

func (e *authError) Error() string { return e.err.Error() }
func (e *authError) Unwrap() error { return e.err }

// SignedRequest is the material a client signs to authenticate a mutation.
type SignedRequest struct {
	Method    string
	Path      string
	Timestamp int64
	Body      []byte
}

// Message returns the signed bytes: METHOD\nPATH\nTIMESTAMP\nBODY.
func (s SignedRequest) Message() []byte {
	head := s.Method + "\n" + s.Path + "\n" + strconv.FormatInt(s.Timestamp, 10) + "\n"
	msg := make([]byte, 0, len(head)+len(s.Body))
	msg = append(msg, head...)
	return append(msg, s.Body...)
}

// Sign returns the base64 signature of the request, as a client would send it.
func (s SignedRequest) Sign(key solana.PrivateKey) (string, error) {
	sig, err := key.Sign(s.Message())
	if err != nil {
		return "", err
	}
	return encodeSignature(sig), nil
}

// verifySignedRequest checks the signer, timestamp window and signature of a
// request and returns the verified signer and timestamp.
func verifySignedRequest(req SignedRequest, signerHeader, timestampHeader, signatureHeader string, now time.Time, maxSkew time.Duration) (solana.PublicKey, int64, error) {
	if signerHeader == "" || timestampHeader == "" || signatureHeader == "" {
		return solana.PublicKey{}, 0, &authError{authReasonMissing, errors.New("missing signature headers")}
	}
	signer, err := identity.Parse(signerHeader)
	if err != nil {
		return solana.PublicKey{}, 0, &authError{authReasonSigner, err}
	}
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return solana.PublicKey{}, 0, &authError{authReasonTimestamp, fmt.Errorf("invalid timestamp: %w", err)}
	}
	if skew := now.Sub(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
		return solana.PublicKey{}, 0, &authError{authReasonSkew, fmt.Errorf("timestamp outside the accepted window of %s", maxSkew)}
	}
	req.Timestamp = ts
	valid, err := identity.VerifySignature(signer, req.Message(), signatureHeader)
	if err != nil {
		return solana.PublicKey{}, 0, &authError{authReasonSignature, err}
	}
	if !valid {
		return solana.PublicKey{}, 0, &authError{authReasonSignature, errors.New("signature does not match signer")}
	}
	return signer, ts, nil
}

func encodeSignature(sig solana.Signature) string {
	return base64.StdEncoding.EncodeToString(sig[:])
}
