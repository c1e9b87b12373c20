package chain

import (
	"context"

	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/infra/rpc/provider"
)

// Client is the network client capability a session is built on.
// Implementations own the transport; Close releases it.
type Client interface {
	// QueryAccount reads the current ledger entry of address
	QueryAccount(ctx context.Context, address string) (domain.AccountInfo, error)

	// SubscribeAccount streams every change of the ledger entry of address
	SubscribeAccount(ctx context.Context, address string) (AccountWatch, error)

	// SignAndSubmit builds the transfer, has signer sign it on behalf of from,
	// broadcasts it and watches its status
	SignAndSubmit(ctx context.Context, call domain.TransferCall, from string, signer Signer) (TxWatch, error)

	// Close releases the transport
	Close() error
}

// HealthReporter is implemented by clients whose transport tracks the
// health of its calls. ok is false when the transport does not.
type HealthReporter interface {
	Health() (h provider.HealthStatus, ok bool)
}

// Signer signs an encoded payload on behalf of address.
type Signer interface {
	SignPayload(ctx context.Context, address string, payload []byte) (domain.Signature, error)
}

// AccountWatch is a live ledger subscription.
type AccountWatch interface {
	// Changes is closed when the watch ends, either through Close or
	// because the transport gave up on it.
	Changes() <-chan domain.AccountChange

	// Close releases the subscription. It is idempotent.
	Close() error
}

// TxWatch follows a submitted transaction.
type TxWatch interface {
	// TxHash is the hash of the submitted extrinsic
	TxHash() string

	// Updates delivers every status transition and is closed after a
	// terminal status or Close.
	Updates() <-chan domain.TxStatusEvent

	// Close stops watching. It is idempotent.
	Close() error
}
