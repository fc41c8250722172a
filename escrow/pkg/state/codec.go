// Package state defines the records persisted by the faucet and task
// engines and their borsh layouts. Every record starts with an 8-byte
// discriminator naming its layout.
package state

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const discriminatorLen = 8

var (
	faucetDiscriminator     = bin.SighashAccount("Faucet")
	userRecordDiscriminator = bin.SighashAccount("UserRequestRecord")
	taskV1Discriminator     = bin.SighashAccount("Task")
	taskV2Discriminator     = bin.SighashAccount("TaskV2")

	ErrUnknownLayout = errors.New("unknown record layout")
)

func encode(disc []byte, m bin.BinaryMarshaler) ([]byte, error) {
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	if _, err := enc.Write(disc); err != nil {
		return nil, err
	}
	if err := m.MarshalWithEncoder(enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decoder checks the discriminator and returns a decoder positioned after it.
func decoder(data []byte, disc []byte) (*bin.Decoder, error) {
	if len(data) < discriminatorLen {
		return nil, fmt.Errorf("record of %d bytes: %w", len(data), ErrUnknownLayout)
	}
	if !bytes.Equal(data[:discriminatorLen], disc) {
		return nil, ErrUnknownLayout
	}
	return bin.NewBorshDecoder(data[discriminatorLen:]), nil
}

func writeKey(enc *bin.Encoder, k solana.PublicKey) error {
	return enc.WriteBytes(k[:], false)
}

func readKey(dec *bin.Decoder) (solana.PublicKey, error) {
	b, err := dec.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}

func writeKeys(enc *bin.Encoder, keys []solana.PublicKey) error {
	if err := enc.WriteUint32(uint32(len(keys)), bin.LE); err != nil {
		return err
	}
	for _, k := range keys {
		if err := writeKey(enc, k); err != nil {
			return err
		}
	}
	return nil
}

func readKeys(dec *bin.Decoder, limit int) ([]solana.PublicKey, error) {
	n, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	if int(n) > limit {
		return nil, fmt.Errorf("list of %d keys exceeds %d", n, limit)
	}
	keys := make([]solana.PublicKey, 0, n)
	for range n {
		k, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func writeOptionU64(enc *bin.Encoder, v *uint64) error {
	if err := enc.WriteOption(v != nil); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return enc.WriteUint64(*v, bin.LE)
}

func readOptionU64(dec *bin.Decoder) (*uint64, error) {
	some, err := dec.ReadOption()
	if err != nil || !some {
		return nil, err
	}
	v, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func writeOptionI64(enc *bin.Encoder, v *int64) error {
	if err := enc.WriteOption(v != nil); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return enc.WriteInt64(*v, bin.LE)
}

func readOptionI64(dec *bin.Decoder) (*int64, error) {
	some, err := dec.ReadOption()
	if err != nil || !some {
		return nil, err
	}
	v, err := dec.ReadInt64(bin.LE)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
