// Package provider implements JSON-RPC transports for Substrate nodes.
//
// This package contains:
//   - Provider interface: core abstraction for RPC endpoints
//   - HTTPProvider: JSON-RPC over HTTP for one-shot calls
//   - WSProvider: JSON-RPC over websocket with subscriptions and reconnection
//   - ProviderMonitor: health and rate tracking
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotConnected is returned when a call is made while the transport
	// has no live connection.
	ErrNotConnected = errors.New("provider not connected")
	// ErrConnectionLost ends in-flight calls and non-resumable subscriptions
	// when the connection drops.
	ErrConnectionLost = errors.New("connection lost")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("provider closed")
	// ErrSubscriptionsUnsupported is returned by transports without push.
	ErrSubscriptionsUnsupported = errors.New("subscriptions not supported by transport")
)

// Provider defines the core interface for a JSON-RPC endpoint.
type Provider interface {
	// GetName returns provider identifier (e.g., "westend")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Call makes a single RPC request and returns the raw result
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)

	// Close cleans up resources
	Close() error
}

// Subscriber extends Provider with server push.
type Subscriber interface {
	Provider

	// Subscribe issues method with params and streams notifications until
	// the subscription is cancelled or the transport gives up on it.
	// Resumable subscriptions are re-issued after a reconnect.
	Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error)
}

// SubscribeRequest describes a pub/sub pair of RPC methods.
type SubscribeRequest struct {
	Method      string
	Params      []any
	Unsubscribe string
	Resumable   bool
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, strings.Trim(string(e.Data), `"`))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at,omitempty"`
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}

// IsNull reports whether a raw result is absent or JSON null.
func IsNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// HTTPEndpoint maps a websocket endpoint to its HTTP equivalent.
func HTTPEndpoint(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "wss://"):
		return "https://" + strings.TrimPrefix(endpoint, "wss://")
	case strings.HasPrefix(endpoint, "ws://"):
		return "http://" + strings.TrimPrefix(endpoint, "ws://")
	default:
		return endpoint
	}
}
