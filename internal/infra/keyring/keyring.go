// Package keyring is a local wallet provider holding ed25519 keys derived
// from a bip39 mnemonic.
package keyring

import (
	"context"
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tyler-smith/go-bip39"
	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/core/ss58"
	"github.com/vietddude/walletd/internal/lifecycle/wallet"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/pbkdf2"
)

// ErrUnknownAccount is returned when asked to sign for an address the
// keyring does not hold.
var ErrUnknownAccount = errors.New("unknown account")

// Authorizer decides whether appName may see accounts and sign with them.
type Authorizer func(ctx context.Context, appName string, accounts []domain.Account) (bool, error)

// AllowAll authorizes every request.
func AllowAll(context.Context, string, []domain.Account) (bool, error) { return true, nil }

type key struct {
	account domain.Account
	priv    ed25519.PrivateKey
}

// Keyring implements wallet.Provider.
type Keyring struct {
	keys      []key
	authorize Authorizer
}

var _ wallet.Provider = (*Keyring)(nil)

// Options configures FromMnemonic.
type Options struct {
	Password   string
	Accounts   int
	SS58Prefix uint16
	Authorize  Authorizer
}

// NewMnemonic generates a fresh 12-word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// SeedFromMnemonic returns the 32-byte secret seed of a mnemonic the way
// Substrate derives it: pbkdf2 over the bip39 entropy, not over the phrase.
func SeedFromMnemonic(mnemonic, password string) ([]byte, error) {
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	seed := pbkdf2.Key(entropy, []byte("mnemonic"+password), 2048, 64, sha512.New)
	return seed[:32], nil
}

// DeriveHard applies the hard junction //index to an ed25519 seed.
func DeriveHard(seed []byte, index uint64) []byte {
	var chainCode [32]byte
	binary.LittleEndian.PutUint64(chainCode[:], index)

	const tag = "Ed25519HDKD"
	buf := make([]byte, 0, 1+len(tag)+len(seed)+len(chainCode))
	buf = append(buf, byte(len(tag)<<2))
	buf = append(buf, tag...)
	buf = append(buf, seed...)
	buf = append(buf, chainCode[:]...)
	derived := blake2b.Sum256(buf)
	return derived[:]
}

// FromMnemonic builds a keyring with opts.Accounts accounts. Account 0 is the
// root key of the mnemonic; account i > 0 is derived with //i.
func FromMnemonic(mnemonic string, opts Options) (*Keyring, error) {
	if opts.Accounts < 0 {
		return nil, fmt.Errorf("invalid account count %d", opts.Accounts)
	}
	root, err := SeedFromMnemonic(mnemonic, opts.Password)
	if err != nil {
		return nil, err
	}

	kr := &Keyring{authorize: opts.Authorize}
	if kr.authorize == nil {
		kr.authorize = AllowAll
	}
	for i := 0; i < opts.Accounts; i++ {
		seed := root
		name := "root"
		if i > 0 {
			seed = DeriveHard(root, uint64(i))
			name = fmt.Sprintf("//%d", i)
		}
		priv := ed25519.NewKeyFromSeed(seed)
		addr, err := ss58.Encode(opts.SS58Prefix, priv.Public().(ed25519.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("failed to encode address: %w", err)
		}
		kr.keys = append(kr.keys, key{
			account: domain.Account{Address: addr, Name: name},
			priv:    priv,
		})
	}
	return kr, nil
}

// Enable asks the authorizer for access on behalf of appName.
func (k *Keyring) Enable(ctx context.Context, appName string) (wallet.Injected, error) {
	accounts := k.accounts()
	ok, err := k.authorize(ctx, appName, accounts)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize %s: %w", appName, err)
	}
	if !ok {
		return nil, wallet.ErrRejected
	}
	return &injected{k: k}, nil
}

func (k *Keyring) accounts() []domain.Account {
	out := make([]domain.Account, len(k.keys))
	for i, key := range k.keys {
		out[i] = key.account
	}
	return out
}

type injected struct {
	k *Keyring
}

func (i *injected) Accounts(context.Context) ([]domain.Account, error) {
	return i.k.accounts(), nil
}

func (i *injected) Signer() wallet.Signer {
	return i
}

// SignPayload signs payload with the key behind address. Any SS58 prefix of
// a held public key is accepted.
func (i *injected) SignPayload(ctx context.Context, address string, payload []byte) (domain.Signature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signature{}, err
	}
	pub, err := ss58.PublicKey(address)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("%w: %s", ErrUnknownAccount, address)
	}
	for _, key := range i.k.keys {
		if string(key.priv.Public().(ed25519.PublicKey)) == string(pub) {
			return domain.Signature{
				Scheme: domain.SchemeEd25519,
				Bytes:  ed25519.Sign(key.priv, payload),
			}, nil
		}
	}
	return domain.Signature{}, fmt.Errorf("%w: %s", ErrUnknownAccount, address)
}
