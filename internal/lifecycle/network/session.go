// Package network owns the connection to a chain node.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/infra/chain"
	"github.com/vietddude/walletd/internal/infra/rpc/provider"
)

// Dialer connects to a node endpoint. onState receives connection state
// transitions for the lifetime of the returned client.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, onState func(domain.SessionState)) (chain.Client, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, endpoint string, onState func(domain.SessionState)) (chain.Client, error)

func (f DialFunc) Dial(ctx context.Context, endpoint string, onState func(domain.SessionState)) (chain.Client, error) {
	return f(ctx, endpoint, onState)
}

// Session is an open connection to a node.
type Session struct {
	endpoint string
	client   chain.Client
	log      *slog.Logger

	mu        sync.Mutex
	state     domain.SessionState
	observers []func(domain.SessionState)
	closed    bool

	closeOnce sync.Once
	closeErr  error
}

// Open makes a single connection attempt to endpoint.
func Open(ctx context.Context, d Dialer, endpoint string) (*Session, error) {
	s := &Session{
		endpoint: endpoint,
		log:      slog.Default().With("endpoint", endpoint),
		state:    domain.SessionConnecting,
	}

	client, err := d.Dial(ctx, endpoint, s.setState)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.ContextError(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	s.client = client
	s.setState(domain.SessionConnected)
	s.log.Info("Network session opened")
	return s, nil
}

// Endpoint returns the endpoint the session was opened on.
func (s *Session) Endpoint() string {
	return s.endpoint
}

// State returns the current connection state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers fn for every later state transition. fn runs on
// the transport's goroutine and must not block.
func (s *Session) OnStateChange(fn func(domain.SessionState)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Session) setState(state domain.SessionState) {
	s.mu.Lock()
	// A closed session stays disconnected.
	if s.state == state || s.closed {
		s.mu.Unlock()
		return
	}
	s.state = state
	observers := append([]func(domain.SessionState){}, s.observers...)
	s.mu.Unlock()

	s.log.Debug("Session state changed", "state", state)
	for _, fn := range observers {
		fn(state)
	}
}

// ProviderHealth returns the call health of the session's transport, or nil
// when the client does not track it.
func (s *Session) ProviderHealth() *provider.HealthStatus {
	hr, ok := s.client.(chain.HealthReporter)
	if !ok {
		return nil
	}
	h, ok := hr.Health()
	if !ok {
		return nil
	}
	return &h
}

func (s *Session) connected() bool {
	return s.State() == domain.SessionConnected
}

// QueryAccount reads the current ledger entry of address.
func (s *Session) QueryAccount(ctx context.Context, address string) (domain.AccountInfo, error) {
	if !s.connected() {
		return domain.AccountInfo{}, fmt.Errorf("%w: session is %s", domain.ErrConnection, s.State())
	}
	info, err := s.client.QueryAccount(ctx, address)
	if err != nil {
		return domain.AccountInfo{}, classify(ctx, err, domain.ErrConnection)
	}
	return info, nil
}

// SubscribeAccount watches the ledger entry of address.
func (s *Session) SubscribeAccount(ctx context.Context, address string) (chain.AccountWatch, error) {
	if !s.connected() {
		return nil, fmt.Errorf("%w: session is %s", domain.ErrSubscription, s.State())
	}
	w, err := s.client.SubscribeAccount(ctx, address)
	if err != nil {
		return nil, classify(ctx, err, domain.ErrSubscription)
	}
	return w, nil
}

// SignAndSubmit signs call through signer and broadcasts it. The returned
// watch emits every status transition and is closed after a terminal one.
func (s *Session) SignAndSubmit(
	ctx context.Context,
	call domain.TransferCall,
	from string,
	signer chain.Signer,
) (chain.TxWatch, error) {
	if !s.connected() {
		return nil, fmt.Errorf("%w: session is %s", domain.ErrSubmission, s.State())
	}
	w, err := s.client.SignAndSubmit(ctx, call, from, signer)
	if err != nil {
		return nil, classify(ctx, err, domain.ErrSubmission)
	}
	return w, nil
}

// Close releases the transport. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setState(domain.SessionDisconnected)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.closeErr = s.client.Close()
		s.log.Info("Network session closed")
	})
	return s.closeErr
}

func classify(ctx context.Context, err, kind error) error {
	if ctx.Err() != nil {
		return domain.ContextError(ctx.Err())
	}
	if errors.Is(err, domain.ErrInvalidInput) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
