package substrate

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/vietddude/walletd/internal/core/amount"
	"github.com/vietddude/walletd/internal/core/domain"
	"golang.org/x/crypto/blake2b"
)

// Balances call indices.
const (
	callTransferAllowDeath = 0
	callTransferKeepAlive  = 3
)

// RuntimeVersion is the subset of state_getRuntimeVersion used for signing.
type RuntimeVersion struct {
	SpecVersion        uint32 `json:"specVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}

// SigningContext is the chain state a signature commits to.
type SigningContext struct {
	Nonce        uint64
	Tip          *big.Int
	Runtime      RuntimeVersion
	GenesisHash  []byte
	MetadataHash bool // CheckMetadataHash extension present, mode disabled
}

// EncodeTransferCall builds Balances.transfer_keep_alive or
// Balances.transfer_allow_death to dest.
func EncodeTransferCall(pallet uint8, dest []byte, value *big.Int, keepAlive bool) (types.Call, error) {
	if value == nil || value.Sign() < 0 || value.Cmp(amount.MaxRaw) > 0 {
		return types.Call{}, fmt.Errorf("%w: amount %v does not fit a u128 balance", domain.ErrInvalidInput, value)
	}
	to, err := types.NewMultiAddressFromAccountID(dest)
	if err != nil {
		return types.Call{}, fmt.Errorf("%w: destination: %v", domain.ErrInvalidInput, err)
	}

	method := uint8(callTransferAllowDeath)
	if keepAlive {
		method = callTransferKeepAlive
	}

	var args bytes.Buffer
	if err := encodeAll(scale.NewEncoder(&args), &to, types.NewUCompact(value)); err != nil {
		return types.Call{}, fmt.Errorf("encode transfer args: %w", err)
	}
	return types.Call{
		CallIndex: types.CallIndex{SectionIndex: pallet, MethodIndex: method},
		Args:      args.Bytes(),
	}, nil
}

// encodeExtra writes the signed-extension data carried in the extrinsic.
func (c SigningContext) encodeExtra(enc *scale.Encoder) error {
	tip := c.Tip
	if tip == nil {
		tip = new(big.Int)
	}
	era := types.ExtrinsicEra{IsImmortalEra: true}
	if err := encodeAll(enc, &era, types.NewUCompactFromUInt(c.Nonce), types.NewUCompact(tip)); err != nil {
		return err
	}
	if c.MetadataHash {
		return enc.PushByte(0) // mode: disabled
	}
	return nil
}

// encodeAdditional writes the implicit data signed but not transmitted.
func (c SigningContext) encodeAdditional(enc *scale.Encoder) error {
	if len(c.GenesisHash) != 32 {
		return fmt.Errorf("genesis hash has %d bytes", len(c.GenesisHash))
	}
	genesis := types.NewHash(c.GenesisHash)
	// Immortal era: the checkpoint block is genesis.
	err := encodeAll(enc,
		types.NewU32(c.Runtime.SpecVersion),
		types.NewU32(c.Runtime.TransactionVersion),
		&genesis,
		&genesis,
	)
	if err != nil {
		return err
	}
	if c.MetadataHash {
		return enc.PushByte(0) // Option::None
	}
	return nil
}

// SigningPayload returns the bytes the account must sign for call.
func SigningPayload(call types.Call, c SigningContext) ([]byte, error) {
	var buf bytes.Buffer
	enc := scale.NewEncoder(&buf)
	if err := enc.Encode(&call); err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}
	if err := c.encodeExtra(enc); err != nil {
		return nil, fmt.Errorf("encode extra: %w", err)
	}
	if err := c.encodeAdditional(enc); err != nil {
		return nil, fmt.Errorf("encode additional: %w", err)
	}

	payload := buf.Bytes()
	if len(payload) > 256 {
		sum := blake2b.Sum256(payload)
		return sum[:], nil
	}
	return payload, nil
}

func multiSignature(sig domain.Signature) (types.MultiSignature, error) {
	want := 64
	if sig.Scheme == domain.SchemeEcdsa {
		want = 65
	}
	if len(sig.Bytes) != want {
		return types.MultiSignature{}, fmt.Errorf("invalid %s signature length %d", sig.Scheme, len(sig.Bytes))
	}

	switch sig.Scheme {
	case domain.SchemeEd25519:
		return types.MultiSignature{IsEd25519: true, AsEd25519: types.NewSignature(sig.Bytes)}, nil
	case domain.SchemeSr25519:
		return types.MultiSignature{IsSr25519: true, AsSr25519: types.NewSignature(sig.Bytes)}, nil
	case domain.SchemeEcdsa:
		return types.MultiSignature{IsEcdsa: true, AsEcdsa: types.NewEcdsaSignature(sig.Bytes)}, nil
	default:
		return types.MultiSignature{}, fmt.Errorf("unsupported signature scheme %q", sig.Scheme)
	}
}

// EncodeSignedExtrinsic assembles a length-prefixed signed v4 extrinsic.
func EncodeSignedExtrinsic(signer []byte, sig domain.Signature, call types.Call, c SigningContext) ([]byte, error) {
	from, err := types.NewMultiAddressFromAccountID(signer)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	ms, err := multiSignature(sig)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	enc := scale.NewEncoder(&body)
	if err := enc.PushByte(types.ExtrinsicBitSigned | types.ExtrinsicVersion4); err != nil {
		return nil, err
	}
	if err := encodeAll(enc, &from, &ms); err != nil {
		return nil, fmt.Errorf("encode signature: %w", err)
	}
	if err := c.encodeExtra(enc); err != nil {
		return nil, fmt.Errorf("encode extra: %w", err)
	}
	if err := enc.Encode(&call); err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}

	return codec.Encode(types.NewBytes(body.Bytes()))
}

// ExtrinsicHash returns the 0x-prefixed blake2b-256 hash of an encoded
// extrinsic.
func ExtrinsicHash(ext []byte) string {
	sum := blake2b.Sum256(ext)
	return "0x" + hex.EncodeToString(sum[:])
}

func encodeAll(enc *scale.Encoder, values ...any) error {
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}
