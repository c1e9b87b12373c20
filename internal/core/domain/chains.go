package domain

import "strings"

type NetworkName string

const (
	NetworkWestend  NetworkName = "westend"
	NetworkPolkadot NetworkName = "polkadot"
	NetworkKusama   NetworkName = "kusama"
)

// Network is the static description of a supported chain.
type Network struct {
	Name       NetworkName
	Symbol     string
	Decimals   int32
	SS58Prefix uint16
	Endpoints  []string

	// BalancesPallet is the runtime index of the Balances pallet.
	BalancesPallet uint8
}

// KnownNetworks holds the presets used when the config names a network
// without overriding its parameters.
var KnownNetworks = map[NetworkName]Network{
	NetworkWestend: {
		Name:           NetworkWestend,
		Symbol:         "WND",
		Decimals:       12,
		SS58Prefix:     42,
		Endpoints:      []string{"wss://westend-rpc.polkadot.io"},
		BalancesPallet: 4,
	},
	NetworkPolkadot: {
		Name:           NetworkPolkadot,
		Symbol:         "DOT",
		Decimals:       10,
		SS58Prefix:     0,
		Endpoints:      []string{"wss://rpc.polkadot.io"},
		BalancesPallet: 5,
	},
	NetworkKusama: {
		Name:           NetworkKusama,
		Symbol:         "KSM",
		Decimals:       12,
		SS58Prefix:     2,
		Endpoints:      []string{"wss://kusama-rpc.polkadot.io"},
		BalancesPallet: 4,
	},
}

// LookupNetwork returns the preset for name, matched case-insensitively.
func LookupNetwork(name string) (Network, bool) {
	n, ok := KnownNetworks[NetworkName(strings.ToLower(strings.TrimSpace(name)))]
	return n, ok
}
