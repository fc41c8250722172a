package identity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/gagliardetto/solana-go"
)

// Address is a derived address and the bump that moved it off the curve.
type Address struct {
	Key  solana.PublicKey
	Bump uint8
}

type DeriverConfig struct {
	Program   solana.PublicKey
	CacheSize int64
}

func (cfg *DeriverConfig) Validate() error {
	if cfg.Program.IsZero() {
		return errors.New("program is required")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100_000
	}
	return nil
}

// Deriver resolves seed tuples to program-derived addresses. The bump search
// is repeated for every lookup of the same entity, so results are cached.
type Deriver struct {
	cfg   DeriverConfig
	cache *ristretto.Cache[string, Address]
}

func NewDeriver(cfg DeriverConfig) (*Deriver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, Address]{
		NumCounters: cfg.CacheSize * 10,
		MaxCost:     cfg.CacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create address cache: %w", err)
	}
	return &Deriver{cfg: cfg, cache: cache}, nil
}

func (d *Deriver) Program() solana.PublicKey {
	return d.cfg.Program
}

// Derive returns the program address for seeds. Components longer than
// MaxSeedLen are hashed with Seed.
func (d *Deriver) Derive(seeds ...[]byte) (Address, error) {
	normalized := make([][]byte, len(seeds))
	for i, s := range seeds {
		normalized[i] = Seed(s)
	}
	key := cacheKey("pda", normalized)
	if addr, ok := d.cache.Get(key); ok {
		return addr, nil
	}
	pk, bump, err := solana.FindProgramAddress(normalized, d.cfg.Program)
	if err != nil {
		return Address{}, fmt.Errorf("failed to derive address: %w", err)
	}
	addr := Address{Key: pk, Bump: bump}
	d.cache.Set(key, addr, 1)
	return addr, nil
}

// Associated returns the canonical token account of owner for mint.
func (d *Deriver) Associated(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	key := cacheKey("ata", [][]byte{owner[:], mint[:]})
	if addr, ok := d.cache.Get(key); ok {
		return addr.Key, nil
	}
	pk, bump, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated account: %w", err)
	}
	d.cache.Set(key, Address{Key: pk, Bump: bump}, 1)
	return pk, nil
}

func (d *Deriver) Close() {
	d.cache.Close()
}

func cacheKey(kind string, seeds [][]byte) string {
	var sb strings.Builder
	sb.WriteString(kind)
	var n [2]byte
	for _, s := range seeds {
		binary.LittleEndian.PutUint16(n[:], uint16(len(s)))
		sb.Write(n[:])
		sb.Write(s)
	}
	return sb.String()
}
