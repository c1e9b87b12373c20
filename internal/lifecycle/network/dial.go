package network

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/infra/chain"
	"github.com/vietddude/walletd/internal/infra/chain/substrate"
	"github.com/vietddude/walletd/internal/infra/rpc/provider"
)

const httpTimeout = 30 * time.Second

// SubstrateDialer dials Substrate nodes. ws:// and wss:// endpoints get a
// websocket transport with subscriptions and reconnection; http:// and
// https:// endpoints support queries only.
type SubstrateDialer struct {
	Network      domain.Network
	MetadataHash bool
	Reconnect    provider.ReconnectPolicy
	Logger       *slog.Logger
}

var _ Dialer = (*SubstrateDialer)(nil)

func (d *SubstrateDialer) Dial(ctx context.Context, endpoint string, onState func(domain.SessionState)) (chain.Client, error) {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	name := string(d.Network.Name)

	var p provider.Provider
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		p = provider.NewHTTPProvider(name, endpoint, httpTimeout)
	} else {
		ws, err := provider.DialWS(ctx, provider.WSConfig{
			Name:          name,
			Endpoint:      endpoint,
			Reconnect:     d.Reconnect,
			Logger:        log,
			OnStateChange: onState,
		})
		if err != nil {
			return nil, err
		}
		p = ws
	}

	return substrate.NewClient(substrate.FromProvider(p), substrate.Config{
		Network:      d.Network,
		MetadataHash: d.MetadataHash,
		Logger:       log,
	}), nil
}
