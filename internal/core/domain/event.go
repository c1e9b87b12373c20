package domain

import "time"

// Event is a state change published to presentation consumers.
type Event struct {
	Type      EventType        `json:"type"`
	Network   string           `json:"network"`
	Account   string           `json:"account,omitempty"`
	Balance   *BalanceSnapshot `json:"balance,omitempty"`
	Transfer  *TransferUpdate  `json:"transfer,omitempty"`
	State     SessionState     `json:"state,omitempty"`
	EmittedAt time.Time        `json:"emitted_at"`
}

type EventType string

const (
	EventTypeBalanceUpdated EventType = "balance_updated"
	EventTypeTransferStatus EventType = "transfer_status"
	EventTypeSessionState   EventType = "session_state"
)
