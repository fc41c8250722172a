package state

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	MaxFaucetSeedLen = 32

	// FaucetSize and UserRequestRecordSize are the allocated record sizes.
	FaucetSize            = discriminatorLen + 4 + MaxFaucetSeedLen + 4*32 + 8 + 8 + 1
	UserRequestRecordSize = discriminatorLen + 32 + 8 + 8 + 4 + 1
)

// Faucet is the configuration of one rate-limited dispenser. Authority is
// the faucet's own derived address, which owns the pool and mints tokens.
type Faucet struct {
	Seed           string
	Mint           solana.PublicKey
	Authority      solana.PublicKey
	Pool           solana.PublicKey
	Admin          solana.PublicKey
	RateLimit      uint64
	CooldownPeriod int64
	Bump           uint8
}

func (f *Faucet) Validate() error {
	if f.RateLimit == 0 {
		return fmt.Errorf("faucet %q: rate limit must be positive", f.Seed)
	}
	if f.CooldownPeriod < 0 {
		return fmt.Errorf("faucet %q: cooldown period must not be negative", f.Seed)
	}
	return nil
}

func (f *Faucet) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteString(f.Seed); err != nil {
		return err
	}
	for _, k := range []solana.PublicKey{f.Mint, f.Authority, f.Pool, f.Admin} {
		if err := writeKey(enc, k); err != nil {
			return err
		}
	}
	if err := enc.WriteUint64(f.RateLimit, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteInt64(f.CooldownPeriod, bin.LE); err != nil {
		return err
	}
	return enc.WriteUint8(f.Bump)
}

func (f *Faucet) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if f.Seed, err = dec.ReadString(); err != nil {
		return err
	}
	for _, k := range []*solana.PublicKey{&f.Mint, &f.Authority, &f.Pool, &f.Admin} {
		if *k, err = readKey(dec); err != nil {
			return err
		}
	}
	if f.RateLimit, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if f.CooldownPeriod, err = dec.ReadInt64(bin.LE); err != nil {
		return err
	}
	f.Bump, err = dec.ReadUint8()
	return err
}

func EncodeFaucet(f *Faucet) ([]byte, error) {
	return encode(faucetDiscriminator, f)
}

func DecodeFaucet(data []byte) (*Faucet, error) {
	dec, err := decoder(data, faucetDiscriminator)
	if err != nil {
		return nil, fmt.Errorf("failed to decode faucet: %w", err)
	}
	var f Faucet
	if err := f.UnmarshalWithDecoder(dec); err != nil {
		return nil, fmt.Errorf("failed to decode faucet: %w", err)
	}
	return &f, nil
}

// UserRequestRecord tracks one identity's requests against one faucet.
// LastRequest is zero until the first successful request.
type UserRequestRecord struct {
	User          solana.PublicKey
	LastRequest   int64
	TotalReceived uint64
	RequestCount  uint32
	Bump          uint8
}

func (r *UserRequestRecord) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := writeKey(enc, r.User); err != nil {
		return err
	}
	if err := enc.WriteInt64(r.LastRequest, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(r.TotalReceived, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint32(r.RequestCount, bin.LE); err != nil {
		return err
	}
	return enc.WriteUint8(r.Bump)
}

func (r *UserRequestRecord) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if r.User, err = readKey(dec); err != nil {
		return err
	}
	if r.LastRequest, err = dec.ReadInt64(bin.LE); err != nil {
		return err
	}
	if r.TotalReceived, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if r.RequestCount, err = dec.ReadUint32(bin.LE); err != nil {
		return err
	}
	r.Bump, err = dec.ReadUint8()
	return err
}

func EncodeUserRequestRecord(r *UserRequestRecord) ([]byte, error) {
	return encode(userRecordDiscriminator, r)
}

func DecodeUserRequestRecord(data []byte) (*UserRequestRecord, error) {
	dec, err := decoder(data, userRecordDiscriminator)
	if err != nil {
		return nil, fmt.Errorf("failed to decode user request record: %w", err)
	}
	var r UserRequestRecord
	if err := r.UnmarshalWithDecoder(dec); err != nil {
		return nil, fmt.Errorf("failed to decode user request record: %w", err)
	}
	return &r, nil
}
