package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/infra/rpc/routing"
	"github.com/vietddude/walletd/internal/lifecycle/balance"
	"github.com/vietddude/walletd/internal/lifecycle/network"
	"github.com/vietddude/walletd/internal/lifecycle/wallet"
)

// RetryConfig is the retry policy for opening the network session.
// MaxAttempts 1 disables retries.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Config holds the orchestrator configuration.
type Config struct {
	WalletID string
	// Account selects the account to track. Empty selects the first one.
	Account   string
	Endpoints []string
	Retry     RetryConfig
}

// SetupResult describes what a setup acquired.
type SetupResult struct {
	Accounts   []domain.Account
	NoAccounts bool
	Account    domain.Account
	Connection *wallet.Connection
	Session    *network.Session
	Balance    domain.BalanceSnapshot
}

// Orchestrator composes wallet connection, network session and balance
// tracking into one setup/teardown lifecycle.
type Orchestrator struct {
	cfg       Config
	connector *wallet.Connector
	dialer    network.Dialer
	tracker   *balance.Tracker
	log       *slog.Logger

	// serializes setups and teardowns
	mu sync.Mutex
}

func NewOrchestrator(cfg Config, connector *wallet.Connector, dialer network.Dialer, tracker *balance.Tracker) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		connector: connector,
		dialer:    dialer,
		tracker:   tracker,
		log:       slog.Default(),
	}
}

// Setup connects the wallet, opens the network session, fetches the initial
// balance and subscribes to balance changes, in that order. The returned
// Teardown is never nil and releases whatever was acquired, also when Setup
// fails midway.
func (o *Orchestrator) Setup(ctx context.Context, hooks Hooks) (*Teardown, *SetupResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	td := &Teardown{mu: &o.mu, log: o.log}
	res := &SetupResult{}

	conn, err := o.connector.Connect(ctx, o.cfg.WalletID)
	if err != nil {
		return td, res, fmt.Errorf("failed to connect wallet: %w", err)
	}
	td.conn = conn
	res.Connection = conn
	res.Accounts = conn.Accounts
	hooks.accounts(conn.Accounts)

	if len(conn.Accounts) == 0 {
		o.log.Info("Wallet has no accounts, skipping network setup", "wallet", o.cfg.WalletID)
		res.NoAccounts = true
		return td, res, nil
	}

	account, err := o.selectAccount(conn.Accounts)
	if err != nil {
		return td, res, err
	}
	res.Account = account

	session, err := o.open(ctx)
	if err != nil {
		return td, res, fmt.Errorf("failed to open network session: %w", err)
	}
	td.session = session
	res.Session = session
	session.OnStateChange(hooks.sessionState)
	hooks.sessionState(session.State())

	snap, err := o.tracker.FetchOnce(ctx, session, account.Address)
	if err != nil {
		return td, res, err
	}
	res.Balance = snap
	hooks.balance(snap)

	unsubscribe, err := o.tracker.Subscribe(ctx, session, account.Address, hooks.balance)
	if err != nil {
		return td, res, fmt.Errorf("failed to subscribe to balance: %w", err)
	}
	td.unsubscribe = unsubscribe

	o.log.Info("Session ready", "account", account.Address, "endpoint", session.Endpoint(), "balance", snap.Display)
	return td, res, nil
}

func (o *Orchestrator) selectAccount(accounts []domain.Account) (domain.Account, error) {
	if o.cfg.Account == "" {
		return accounts[0], nil
	}
	for _, a := range accounts {
		if a.Address == o.cfg.Account {
			return a, nil
		}
	}
	return domain.Account{}, fmt.Errorf("%w: account %s is not provided by wallet %s",
		domain.ErrInvalidInput, o.cfg.Account, o.cfg.WalletID)
}

// open tries the configured endpoints in turn until one connects or the
// retry policy is exhausted.
func (o *Orchestrator) open(ctx context.Context) (*network.Session, error) {
	if len(o.cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints configured", domain.ErrConnection)
	}

	policy := routing.RetryConfig{
		MaxAttempts:  o.cfg.Retry.MaxAttempts,
		InitialDelay: o.cfg.Retry.InitialDelay,
		MaxDelay:     o.cfg.Retry.MaxDelay,
	}

	var session *network.Session
	err := routing.Retry(ctx, policy, func(attempt int) error {
		endpoint := o.cfg.Endpoints[attempt%len(o.cfg.Endpoints)]
		s, err := network.Open(ctx, o.dialer, endpoint)
		if err != nil {
			o.log.Warn("Failed to open network session", "endpoint", endpoint, "attempt", attempt+1, "error", err)
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.ContextError(ctx.Err())
		}
		return nil, err
	}
	return session, nil
}

// Teardown releases a setup: the balance subscription first, then the
// network session, then the wallet connection.
type Teardown struct {
	mu   *sync.Mutex
	log  *slog.Logger
	once sync.Once

	unsubscribe balance.Unsubscribe
	session     *network.Session
	conn        *wallet.Connection
}

// Close is idempotent and waits for an in-flight setup to return.
func (t *Teardown) Close() {
	t.once.Do(func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		if t.unsubscribe != nil {
			t.unsubscribe()
		}
		if t.session != nil {
			if err := t.session.Close(); err != nil {
				t.log.Warn("Failed to close network session", "error", err)
			}
		}
		if t.conn != nil {
			t.conn.Disconnect()
		}
	})
}
