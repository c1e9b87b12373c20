package domain

// Account is a wallet-exposed account. Accounts are never mutated after the
// wallet hands them out.
type Account struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// DisplayName returns the wallet label, or "Unnamed" when the wallet has none.
func (a Account) DisplayName() string {
	if a.Name == "" {
		return "Unnamed"
	}
	return a.Name
}

type SignatureScheme string

// Signature schemes, in Substrate MultiSignature variant order.
const (
	SchemeEd25519 SignatureScheme = "ed25519"
	SchemeSr25519 SignatureScheme = "sr25519"
	SchemeEcdsa   SignatureScheme = "ecdsa"
)

// Signature is a signature produced by a wallet signer.
type Signature struct {
	Scheme SignatureScheme
	Bytes  []byte
}
