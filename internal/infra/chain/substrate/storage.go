package substrate

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/cespare/xxhash/v2"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/vietddude/walletd/internal/core/domain"
	"golang.org/x/crypto/blake2b"
)

// twox128 is the Substrate Twox128 hasher: two seeded xxh64 digests,
// little-endian, concatenated.
func twox128(data []byte) []byte {
	out := make([]byte, 16)
	for seed := uint64(0); seed < 2; seed++ {
		d := xxhash.NewWithSeed(seed)
		d.Write(data)
		binary.LittleEndian.PutUint64(out[seed*8:], d.Sum64())
	}
	return out
}

// blake2128Concat is the Blake2_128Concat map hasher.
func blake2128Concat(data []byte) []byte {
	h, _ := blake2b.New(16, nil)
	h.Write(data)
	return append(h.Sum(nil), data...)
}

func storagePrefix(pallet, item string) []byte {
	return append(twox128([]byte(pallet)), twox128([]byte(item))...)
}

// AccountStorageKey returns the hex storage key of System.Account for an
// account id.
func AccountStorageKey(accountID []byte) string {
	key := append(storagePrefix("System", "Account"), blake2128Concat(accountID)...)
	return "0x" + hex.EncodeToString(key)
}

// EventsStorageKey returns the hex storage key of System.Events.
func EventsStorageKey() string {
	return "0x" + hex.EncodeToString(storagePrefix("System", "Events"))
}

// accountInfo is frame_system AccountInfo with pallet_balances AccountData.
// The trailing flags word is not read.
type accountInfo struct {
	Nonce       types.U32
	Consumers   types.U32
	Providers   types.U32
	Sufficients types.U32
	Free        types.U128
	Reserved    types.U128
	Frozen      types.U128
}

// DecodeAccountInfo decodes a SCALE-encoded System.Account value.
func DecodeAccountInfo(b []byte) (domain.AccountInfo, error) {
	var ai accountInfo
	if err := codec.Decode(b, &ai); err != nil {
		return domain.AccountInfo{}, fmt.Errorf("decode account info: %w", err)
	}
	return domain.AccountInfo{
		Nonce:    uint32(ai.Nonce),
		Free:     ai.Free.Int,
		Reserved: ai.Reserved.Int,
		Frozen:   ai.Frozen.Int,
	}, nil
}

func emptyAccountInfo() domain.AccountInfo {
	return domain.AccountInfo{Free: new(big.Int), Reserved: new(big.Int), Frozen: new(big.Int)}
}
