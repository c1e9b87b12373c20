package domain

import (
	"math/big"
	"time"
)

// AccountInfo is the part of the on-chain ledger entry this service reads.
type AccountInfo struct {
	Nonce    uint32
	Free     *big.Int
	Reserved *big.Int
	Frozen   *big.Int
}

// AccountChange is one push notification for a watched ledger entry.
type AccountChange struct {
	Block string
	Info  AccountInfo
}

// BalanceSnapshot is the latest known transferable balance of an account.
type BalanceSnapshot struct {
	Address    string    `json:"address"`
	Free       *big.Int  `json:"free"`
	Decimals   int32     `json:"decimals"`
	Symbol     string    `json:"symbol"`
	Display    string    `json:"display"`
	Block      string    `json:"block,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}
