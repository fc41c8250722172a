package handlers

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/blake2b"
)

// replayGuard remembers every accepted signed request until its timestamp
// leaves the skew window. Signatures are deterministic, so a repeated digest
// is a replay of the same request.
type replayGuard struct {
	mu      sync.Mutex
	seen    map[[blake2b.Size256]byte]time.Time
	swept   time.Time
	maxSkew time.Duration
}

func newReplayGuard(maxSkew time.Duration) *replayGuard {
	return &replayGuard{
		seen:    make(map[[blake2b.Size256]byte]time.Time),
		maxSkew: maxSkew,
	}
}

// observe records the request and reports whether it was seen before.
func (g *replayGuard) observe(signer solana.PublicKey, req SignedRequest, now time.Time) bool {
	h, _ := blake2b.New256(nil)
	h.Write(signer[:])
	h.Write(req.Message())
	var key [blake2b.Size256]byte
	copy(key[:], h.Sum(nil))

	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Sub(g.swept) >= g.maxSkew {
		for k, expires := range g.seen {
			if now.After(expires) {
				delete(g.seen, k)
			}
		}
		g.swept = now
	}

	if expires, ok := g.seen[key]; ok && !now.After(expires) {
		return true
	}
	g.seen[key] = time.Unix(req.Timestamp, 0).Add(g.maxSkew)
	return false
}

func (g *replayGuard) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
