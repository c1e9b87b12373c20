package provider

import (
	"errors"
	"sync"
	"time"

	"github.com/vietddude/walletd/internal/metrics"
)

// BaseProvider implements common provider functionality.
// It handles health tracking, metrics, and basic status checks.
type BaseProvider struct {
	Name string

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int

	Monitor *ProviderMonitor
}

// NewBaseProvider creates a new BaseProvider.
func NewBaseProvider(name string) *BaseProvider {
	return &BaseProvider{
		Name: name,
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
		Monitor: NewProviderMonitor(),
	}
}

// GetName returns the provider's name.
func (p *BaseProvider) GetName() string {
	return p.Name
}

// GetHealth returns the provider's health status.
func (p *BaseProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	health := p.health
	p.mu.RUnlock()

	stats := p.Monitor.GetStats()
	health.MonitorStats = &stats
	return health
}

// IsAvailable checks if the provider is available.
func (p *BaseProvider) IsAvailable() bool {
	status := p.Monitor.CheckProviderStatus()
	return status == StatusHealthy || status == StatusDegraded
}

// observe records the outcome of one call in health, monitor and metrics.
func (p *BaseProvider) observe(method string, latency time.Duration, err error) {
	metrics.RPCCallsTotal.WithLabelValues(p.Name, method).Inc()
	metrics.RPCLatency.WithLabelValues(p.Name, method).Observe(latency.Seconds())

	var rpcErr *RPCError
	if err != nil && !errors.As(err, &rpcErr) {
		// Application-level RPC errors mean the node is reachable.
		metrics.RPCErrorsTotal.WithLabelValues(p.Name, method).Inc()
		p.RecordFailure()
		return
	}
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(p.Name, method).Inc()
	}
	p.RecordSuccess(latency)
}

func (p *BaseProvider) RecordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.totalLatency += latency
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}
	if p.successCount > 0 {
		p.health.Latency = p.totalLatency / time.Duration(p.successCount)
	}

	// Also update monitor
	p.Monitor.RecordRequest(latency)
}

func (p *BaseProvider) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.LastFailureAt = time.Now()

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}

	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}
