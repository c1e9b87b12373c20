// Package ss58 encodes and validates Substrate SS58 addresses.
package ss58

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	// PublicKeyLength is the size of an account id.
	PublicKeyLength = 32
	checksumLength  = 2
	maxPrefix       = 16383
)

var checksumPreimage = []byte("SS58PRE")

var (
	ErrInvalidBase58   = errors.New("ss58: invalid base58")
	ErrInvalidLength   = errors.New("ss58: invalid length")
	ErrInvalidChecksum = errors.New("ss58: checksum mismatch")
	ErrInvalidPrefix   = errors.New("ss58: invalid prefix")
)

// Address is a decoded SS58 address.
type Address struct {
	Prefix    uint16
	PublicKey []byte
}

// Decode parses and verifies an SS58 address for a 32-byte account id.
func Decode(addr string) (Address, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidBase58, err)
	}
	if len(raw) < 1 {
		return Address{}, ErrInvalidLength
	}

	var prefix uint16
	prefixLen := 1
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
	case raw[0] < 128:
		if len(raw) < 2 {
			return Address{}, ErrInvalidLength
		}
		lower := (raw[0]&0x3f)<<2 | raw[1]>>6
		upper := raw[1] & 0x3f
		prefix = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return Address{}, ErrInvalidPrefix
	}

	if len(raw) != prefixLen+PublicKeyLength+checksumLength {
		return Address{}, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(raw))
	}

	body := raw[:prefixLen+PublicKeyLength]
	sum := checksum(body)
	if !bytes.Equal(sum[:checksumLength], raw[len(body):]) {
		return Address{}, ErrInvalidChecksum
	}

	pub := make([]byte, PublicKeyLength)
	copy(pub, raw[prefixLen:len(body)])
	return Address{Prefix: prefix, PublicKey: pub}, nil
}

// Encode renders a public key as an SS58 address with the given prefix.
func Encode(prefix uint16, publicKey []byte) (string, error) {
	if len(publicKey) != PublicKeyLength {
		return "", fmt.Errorf("%w: public key is %d bytes", ErrInvalidLength, len(publicKey))
	}
	if prefix > maxPrefix {
		return "", fmt.Errorf("%w: %d", ErrInvalidPrefix, prefix)
	}

	var body []byte
	if prefix < 64 {
		body = append(body, byte(prefix))
	} else {
		first := byte((prefix&0xfc)>>2) | 0x40
		second := byte(prefix>>8) | byte(prefix&0x03)<<6
		body = append(body, first, second)
	}
	body = append(body, publicKey...)

	sum := checksum(body)
	return base58.Encode(append(body, sum[:checksumLength]...)), nil
}

// PublicKey returns the account id encoded in addr.
func PublicKey(addr string) ([]byte, error) {
	a, err := Decode(addr)
	if err != nil {
		return nil, err
	}
	return a.PublicKey, nil
}

// Valid reports whether addr is a well-formed SS58 account address.
func Valid(addr string) bool {
	_, err := Decode(addr)
	return err == nil
}

func checksum(body []byte) [64]byte {
	return blake2b.Sum512(append(append([]byte{}, checksumPreimage...), body...))
}
