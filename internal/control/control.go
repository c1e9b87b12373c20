package control

import (
	"time"

	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/infra/rpc/provider"
)

// HealthMonitor reports service health
type HealthMonitor interface {
	// GetHealth returns the current health status
	GetHealth() HealthStatus
}

type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Network   domain.NetworkName     `json:"network"`
	Endpoint  string                 `json:"endpoint,omitempty"`
	Session   domain.SessionState    `json:"session"`
	Status    string                 `json:"status"` // "healthy", "degraded", "down"
	Provider  *provider.HealthStatus `json:"provider,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Hooks receives progress of a setup and the live updates of the session it
// established. Every field is optional.
type Hooks struct {
	// Accounts is called once the wallet returned its accounts
	Accounts func([]domain.Account)

	// Balance is called with the initial balance and every pushed update
	Balance func(domain.BalanceSnapshot)

	// SessionState is called with the state of the network session and
	// every later transition
	SessionState func(domain.SessionState)
}

func (h Hooks) accounts(a []domain.Account) {
	if h.Accounts != nil {
		h.Accounts(a)
	}
}

func (h Hooks) balance(b domain.BalanceSnapshot) {
	if h.Balance != nil {
		h.Balance(b)
	}
}

func (h Hooks) sessionState(s domain.SessionState) {
	if h.SessionState != nil {
		h.SessionState(s)
	}
}
