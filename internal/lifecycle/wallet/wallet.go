// Package wallet connects to an injected signing-wallet provider.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vietddude/walletd/internal/core/domain"
)

var (
	// ErrRejected is returned by providers when the user declines a request.
	ErrRejected = errors.New("request rejected by wallet")
	// ErrSignerRevoked is returned by a signer after its connection was
	// disconnected.
	ErrSignerRevoked = fmt.Errorf("%w: signer revoked", domain.ErrAuthorizationDenied)
)

// Signer signs payloads on behalf of wallet accounts.
type Signer interface {
	SignPayload(ctx context.Context, address string, payload []byte) (domain.Signature, error)
}

// Injected is an authorized wallet session.
type Injected interface {
	Accounts(ctx context.Context) ([]domain.Account, error)
	Signer() Signer
}

// Provider is a wallet that can be asked for authorization.
type Provider interface {
	Enable(ctx context.Context, appName string) (Injected, error)
}

// Connection is an authorized wallet: its accounts in wallet order and a
// signing handle bound to the grant.
type Connection struct {
	WalletID string
	Accounts []domain.Account
	Signer   Signer

	revoke func()
}

// Disconnect revokes the signing handle. It is idempotent.
func (c *Connection) Disconnect() {
	if c != nil && c.revoke != nil {
		c.revoke()
	}
}

// Connector looks up providers by wallet id.
type Connector struct {
	appName   string
	providers map[string]Provider
	log       *slog.Logger
}

// NewConnector creates a connector over the given providers. appName is
// presented to the wallet when authorization is requested.
func NewConnector(appName string, providers map[string]Provider) *Connector {
	return &Connector{
		appName:   appName,
		providers: providers,
		log:       slog.Default(),
	}
}

// Connect requests authorization from walletID and returns its accounts.
func (c *Connector) Connect(ctx context.Context, walletID string) (*Connection, error) {
	p, ok := c.providers[walletID]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrWalletNotFound, walletID)
	}

	injected, err := p.Enable(ctx, c.appName)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.ContextError(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthorizationDenied, err)
	}

	accounts, err := injected.Accounts(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.ContextError(ctx.Err())
		}
		return nil, fmt.Errorf("%w: failed to list accounts: %w", domain.ErrAuthorizationDenied, err)
	}

	signer := &revocableSigner{inner: injected.Signer()}
	c.log.Info("Wallet connected", "wallet", walletID, "accounts", len(accounts))

	return &Connection{
		WalletID: walletID,
		Accounts: append([]domain.Account(nil), accounts...),
		Signer:   signer,
		revoke:   signer.revoke,
	}, nil
}

type revocableSigner struct {
	inner   Signer
	revoked atomic.Bool
	once    sync.Once
}

func (s *revocableSigner) SignPayload(ctx context.Context, address string, payload []byte) (domain.Signature, error) {
	if s.revoked.Load() {
		return domain.Signature{}, ErrSignerRevoked
	}
	return s.inner.SignPayload(ctx, address, payload)
}

func (s *revocableSigner) revoke() {
	s.once.Do(func() { s.revoked.Store(true) })
}
