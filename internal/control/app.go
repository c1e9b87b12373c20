package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/walletd/internal/core/amount"
	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/events"
	"github.com/vietddude/walletd/internal/lifecycle/network"
	"github.com/vietddude/walletd/internal/lifecycle/transfer"
	"github.com/vietddude/walletd/internal/lifecycle/wallet"
)

const maxRecentTransfers = 256

// ViewState is everything a view layer renders.
type ViewState struct {
	Network         domain.NetworkName      `json:"network"`
	Accounts        []domain.Account        `json:"accounts"`
	Account         *domain.Account         `json:"account,omitempty"`
	NoAccounts      bool                    `json:"no_accounts"`
	Balance         *domain.BalanceSnapshot `json:"balance,omitempty"`
	Session         domain.SessionState     `json:"session,omitempty"`
	LoadingAccounts bool                    `json:"loading_accounts"`
	LoadingBalance  bool                    `json:"loading_balance"`
	Transferring    bool                    `json:"transferring"`
	Error           string                  `json:"error,omitempty"`
	ErrorKind       domain.ErrorKind        `json:"error_kind,omitempty"`
	LastTransfer    *domain.TransferUpdate  `json:"last_transfer,omitempty"`
	TransferError   string                  `json:"transfer_error,omitempty"`
}

// App holds presentation state on top of the orchestrator and the transfer
// coordinator.
type App struct {
	network     domain.Network
	orch        *Orchestrator
	coordinator *transfer.Coordinator
	emitter     events.Emitter
	log         *slog.Logger

	// held for the whole of Start and Stop
	lifecycle sync.Mutex
	teardown  *Teardown
	stopped   bool

	mu        sync.Mutex
	state     ViewState
	session   *network.Session
	conn      *wallet.Connection
	account   domain.Account
	busy      bool
	busyID    string // submission holding the guard, once known
	transfers map[string]domain.TransferUpdate
	order     []string
	updatedAt time.Time
}

// NewApp creates an App. keepAlive selects transfers that refuse to reap
// the sender account.
func NewApp(net domain.Network, orch *Orchestrator, emitter events.Emitter, keepAlive bool) *App {
	if emitter == nil {
		emitter = events.Nop{}
	}
	a := &App{
		network:   net,
		orch:      orch,
		emitter:   emitter,
		log:       slog.Default().With("network", net.Name),
		transfers: make(map[string]domain.TransferUpdate),
		state:     ViewState{Network: net.Name},
	}
	a.coordinator = transfer.NewCoordinator(transfer.Config{
		Network:   net,
		KeepAlive: keepAlive,
		Observe:   a.onTransferUpdate,
	})
	return a
}

// Start runs the setup sequence. A failed setup is reflected in the view
// state and returned; whatever it acquired is released by Stop.
func (a *App) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.stopped {
		return fmt.Errorf("%w: app stopped", domain.ErrCanceled)
	}
	if a.teardown != nil {
		return fmt.Errorf("app already started")
	}

	a.mu.Lock()
	a.state.LoadingAccounts = true
	a.state.Error, a.state.ErrorKind = "", domain.KindNone
	a.mu.Unlock()

	td, res, err := a.orch.Setup(ctx, Hooks{
		Accounts:     a.onAccounts,
		Balance:      a.onBalance,
		SessionState: a.onSessionState,
	})
	a.teardown = td

	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.LoadingAccounts = false
	a.state.LoadingBalance = false
	a.state.NoAccounts = res.NoAccounts
	if err != nil {
		a.state.Error = domain.UserMessage(err)
		a.state.ErrorKind = domain.KindOf(err)
		a.log.Error("Setup failed", "kind", a.state.ErrorKind, "error", err)
		return err
	}
	a.conn = res.Connection
	a.session = res.Session
	if !res.NoAccounts {
		account := res.Account
		a.account = account
		a.state.Account = &account
	}
	return nil
}

// Stop tears the setup down. It is safe to call at any time and more than
// once. A stopped App cannot be started again.
func (a *App) Stop() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.stopped = true
	if a.teardown == nil {
		return
	}
	a.teardown.Close()
	a.teardown = nil

	a.mu.Lock()
	a.session = nil
	a.conn = nil
	a.state.Session = domain.SessionDisconnected
	a.mu.Unlock()
}

// State returns a copy of the view state.
func (a *App) State() ViewState {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	s.Accounts = append([]domain.Account(nil), a.state.Accounts...)
	return s
}

// GetHealth implements HealthMonitor.
func (a *App) GetHealth() HealthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := HealthStatus{
		Network:   a.network.Name,
		Session:   a.state.Session,
		UpdatedAt: a.updatedAt,
	}
	if a.session != nil {
		h.Endpoint = a.session.Endpoint()
		h.Provider = a.session.ProviderHealth()
	}
	switch a.state.Session {
	case domain.SessionConnected:
		h.Healthy, h.Status = true, "healthy"
		if h.Provider != nil && !h.Provider.Available {
			// connected, but most calls fail or the node is throttling us
			h.Healthy, h.Status = false, "degraded"
		}
	case domain.SessionConnecting, domain.SessionDisconnected:
		h.Status = "degraded"
	default:
		h.Status = "down"
	}
	if a.state.NoAccounts {
		h.Healthy, h.Status = true, "healthy"
	}
	return h
}

// Transfer submits amount (display units) to destination from the tracked
// account and returns the submission id. While an earlier submission has
// not been broadcast yet it fails with ErrBusy. ctx bounds the lifetime of
// the submission.
func (a *App) Transfer(ctx context.Context, destination, amt string) (string, error) {
	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		return "", domain.ErrBusy
	}
	session, conn, account := a.session, a.conn, a.account
	if session == nil || conn == nil {
		a.mu.Unlock()
		return "", fmt.Errorf("%w: no active session", domain.ErrConnection)
	}
	a.busy, a.busyID = true, ""
	a.state.Transferring = true
	a.state.TransferError = ""
	a.mu.Unlock()

	value, err := amount.Parse(amt)
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		a.release(err)
		return "", err
	}

	sub, err := a.coordinator.Submit(ctx, session, conn.Signer, account.Address, domain.TransferRequest{
		Destination: destination,
		Amount:      value,
	})
	if err != nil {
		return "", err
	}
	return sub.ID, nil
}

// LookupTransfer returns the latest update of a recent submission.
func (a *App) LookupTransfer(id string) (domain.TransferUpdate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.transfers[id]
	return u, ok
}

// PruneSettled drops terminal transfers last updated before the cutoff.
func (a *App) PruneSettled(before time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.order[:0]
	pruned := 0
	for _, id := range a.order {
		u := a.transfers[id]
		if u.Status.Terminal() && u.At.Before(before) {
			delete(a.transfers, id)
			pruned++
			continue
		}
		kept = append(kept, id)
	}
	a.order = kept
	return pruned
}

// release clears the busy guard after a failure that never reached the
// coordinator.
func (a *App) release(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.busy, a.busyID = false, ""
	a.state.Transferring = false
	a.state.TransferError = domain.UserMessage(err)
}

func (a *App) onAccounts(accounts []domain.Account) {
	a.mu.Lock()
	a.state.Accounts = append([]domain.Account(nil), accounts...)
	a.state.LoadingAccounts = false
	a.state.LoadingBalance = len(accounts) > 0
	a.updatedAt = time.Now()
	a.mu.Unlock()
}

func (a *App) onBalance(snap domain.BalanceSnapshot) {
	a.mu.Lock()
	a.state.Balance = &snap
	a.state.LoadingBalance = false
	a.updatedAt = time.Now()
	a.mu.Unlock()

	a.emit(&domain.Event{Type: domain.EventTypeBalanceUpdated, Account: snap.Address, Balance: &snap})
}

func (a *App) onSessionState(s domain.SessionState) {
	a.mu.Lock()
	a.state.Session = s
	a.updatedAt = time.Now()
	account := a.account.Address
	a.mu.Unlock()

	a.emit(&domain.Event{Type: domain.EventTypeSessionState, Account: account, State: s})
}

func (a *App) onTransferUpdate(u domain.TransferUpdate) {
	a.mu.Lock()
	a.state.LastTransfer = &u
	// Validating is published synchronously under the guard, so the
	// submission it names is the one holding it.
	if a.busy && a.busyID == "" && u.Status == domain.TxStatusValidating {
		a.busyID = u.ID
	}
	if u.Status.Terminal() {
		a.state.TransferError = domain.UserMessage(u.Err)
	}
	if a.busy && u.ID == a.busyID && (u.Status.Terminal() || u.Status == domain.TxStatusSubmitted) {
		// broadcast or failed; later submissions are independent of this one
		a.busy, a.busyID = false, ""
		a.state.Transferring = false
	}
	if _, ok := a.transfers[u.ID]; !ok {
		a.order = append(a.order, u.ID)
		if len(a.order) > maxRecentTransfers {
			delete(a.transfers, a.order[0])
			a.order = a.order[1:]
		}
	}
	a.transfers[u.ID] = u
	a.updatedAt = time.Now()
	a.mu.Unlock()

	a.emit(&domain.Event{Type: domain.EventTypeTransferStatus, Account: u.From, Transfer: &u})
}

func (a *App) emit(ev *domain.Event) {
	ev.Network = string(a.network.Name)
	ev.EmittedAt = time.Now()
	if err := a.emitter.Emit(context.Background(), ev); err != nil {
		a.log.Warn("Failed to emit event", "type", ev.Type, "error", err)
	}
}
