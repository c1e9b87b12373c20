package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal tracks RPC calls per network and method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"network", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per network and method
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"network", "method"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletd_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network", "method"},
	)

	// Reconnects counts websocket reconnection attempts
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_ws_reconnects_total",
			Help: "Total number of websocket reconnection attempts",
		},
		[]string{"network", "result"},
	)

	// SessionConnected is 1 while the network session is connected
	SessionConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletd_session_connected",
			Help: "Whether the network session is connected",
		},
		[]string{"network"},
	)

	// BalanceUpdates counts balance pushes delivered to the presentation layer
	BalanceUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_balance_updates_total",
			Help: "Total number of balance updates delivered",
		},
		[]string{"network"},
	)

	// TransfersTotal counts terminal transfer outcomes
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_transfers_total",
			Help: "Total number of transfers by terminal status and error kind",
		},
		[]string{"network", "status", "kind"},
	)

	// TransferDuration tracks time from submission to terminal status
	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletd_transfer_duration_seconds",
			Help:    "Time from submission to terminal transfer status",
			Buckets: []float64{1, 3, 6, 12, 18, 30, 60, 120},
		},
		[]string{"network", "status"},
	)
)
