package substrate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vietddude/walletd/internal/infra/rpc/provider"
)

// Transport is the JSON-RPC surface the client needs.
type Transport interface {
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
	Subscribe(ctx context.Context, req provider.SubscribeRequest) (Stream, error)
	Close() error
}

// Stream is a live subscription on a transport.
type Stream interface {
	Notifications() <-chan json.RawMessage
	Err() error
	Unsubscribe(ctx context.Context) error
}

// FromProvider adapts an RPC provider. Providers without push support
// reject subscriptions with provider.ErrSubscriptionsUnsupported.
func FromProvider(p provider.Provider) Transport {
	return providerTransport{p}
}

type providerTransport struct {
	provider.Provider
}

func (t providerTransport) Subscribe(ctx context.Context, req provider.SubscribeRequest) (Stream, error) {
	s, ok := t.Provider.(provider.Subscriber)
	if !ok {
		return nil, provider.ErrSubscriptionsUnsupported
	}
	sub, err := s.Subscribe(ctx, req)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func decodeHex(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("expected hex string, got %s", raw)
	}
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("expected string, got %s", raw)
	}
	return s, nil
}
