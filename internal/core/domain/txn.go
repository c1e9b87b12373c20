package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// TransferRequest is the user's transfer input in display units.
type TransferRequest struct {
	Destination string
	Amount      decimal.Decimal
}

// TransferCall is a validated transfer converted to raw ledger units.
type TransferCall struct {
	Destination string
	Amount      *big.Int
	KeepAlive   bool
}

type TxStatus string

const (
	TxStatusIdle            TxStatus = "idle"
	TxStatusValidating      TxStatus = "validating"
	TxStatusConverting      TxStatus = "converting"
	TxStatusSubmitting      TxStatus = "submitting"
	TxStatusSubmitted       TxStatus = "submitted"
	TxStatusIncludedInBlock TxStatus = "included_in_block"
	TxStatusFinalized       TxStatus = "finalized"
	TxStatusFailed          TxStatus = "failed"
)

// Terminal reports whether no status can follow s.
func (s TxStatus) Terminal() bool {
	return s == TxStatusFinalized || s == TxStatusFailed
}

// ModuleError identifies a pallet error inside a dispatch error.
type ModuleError struct {
	Index  uint8
	Error  [4]byte
	Pallet string
	Name   string
}

// DispatchError is the execution-layer failure of an included transaction.
type DispatchError struct {
	Kind   string
	Module *ModuleError
	Detail string
}

func (e *DispatchError) Error() string {
	switch {
	case e.Module != nil && e.Module.Name != "":
		return fmt.Sprintf("Module(%s.%s)", e.Module.Pallet, e.Module.Name)
	case e.Module != nil:
		return fmt.Sprintf("Module(index=%d, error=%d)", e.Module.Index, e.Module.Error[0])
	case e.Detail != "":
		return fmt.Sprintf("%s(%s)", e.Kind, e.Detail)
	default:
		return e.Kind
	}
}

// TxStatusEvent is a single status notification from the network for a
// watched transaction.
type TxStatusEvent struct {
	Status        TxStatus
	TxHash        string
	BlockHash     string
	DispatchError *DispatchError
	Err           error
}

// TransferUpdate is a status transition of one submission as seen by the
// presentation layer. The last update of a submission is its outcome.
type TransferUpdate struct {
	ID            string         `json:"id"`
	Status        TxStatus       `json:"status"`
	From          string         `json:"from"`
	Destination   string         `json:"destination"`
	Amount        *big.Int       `json:"amount"`
	TxHash        string         `json:"tx_hash,omitempty"`
	BlockHash     string         `json:"block_hash,omitempty"`
	DispatchError *DispatchError `json:"dispatch_error,omitempty"`
	Err           error          `json:"-"`
	At            time.Time      `json:"at"`
}

// Succeeded reports whether the update is a successful terminal outcome.
func (u TransferUpdate) Succeeded() bool {
	return u.Status == TxStatusFinalized && u.Err == nil
}
