package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/infra/rpc/routing"
	"github.com/vietddude/walletd/internal/metrics"
)

const (
	writeTimeout     = 10 * time.Second
	dialTimeout      = 15 * time.Second
	resubscribeWait  = 30 * time.Second
	maxMessageSize   = 32 << 20
	handshakeTimeout = 10 * time.Second
)

// ReconnectPolicy controls how a dropped websocket is re-established.
type ReconnectPolicy struct {
	Enabled      bool
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int // 0 = unlimited
}

// WSConfig configures a websocket provider.
type WSConfig struct {
	Name      string
	Endpoint  string
	Dialer    *websocket.Dialer
	Reconnect ReconnectPolicy
	Logger    *slog.Logger

	// OnStateChange is called on every connection state transition from the
	// provider's own goroutine. It must not block.
	OnStateChange func(domain.SessionState)
}

// WSProvider implements Subscriber for JSON-RPC over a websocket.
type WSProvider struct {
	*BaseProvider
	cfg    WSConfig
	log    *slog.Logger
	dialer *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu        sync.Mutex
	conn      *websocket.Conn
	state     domain.SessionState
	pending   map[uint64]*pendingCall
	subs      map[string]*Subscription
	resumable map[*Subscription]struct{}

	closeOnce sync.Once
}

type pendingCall struct {
	ch  chan callResult
	sub *Subscription
}

type callResult struct {
	result json.RawMessage
	err    error
}

// DialWS makes a single connection attempt to cfg.Endpoint.
func DialWS(ctx context.Context, cfg WSConfig) (*WSProvider, error) {
	if cfg.Name == "" {
		cfg.Name = cfg.Endpoint
	}
	p := &WSProvider{
		BaseProvider: NewBaseProvider(cfg.Name),
		cfg:          cfg,
		log:          cfg.Logger,
		dialer:       cfg.Dialer,
		done:         make(chan struct{}),
		pending:      make(map[uint64]*pendingCall),
		subs:         make(map[string]*Subscription),
		resumable:    make(map[*Subscription]struct{}),
		state:        domain.SessionConnecting,
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.dialer == nil {
		p.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Endpoint, err)
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	p.setState(domain.SessionConnected)

	go p.run(conn)
	return p, nil
}

func (p *WSProvider) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := p.dialer.DialContext(ctx, p.cfg.Endpoint, nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusTooManyRequests:
				p.Monitor.RecordThrottle(429, parseRetryAfter(resp.Header.Get("Retry-After")))
			case http.StatusForbidden:
				p.Monitor.RecordThrottle(403, 0)
			}
			return nil, fmt.Errorf("%w (http %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// State returns the current connection state.
func (p *WSProvider) State() domain.SessionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *WSProvider) setState(s domain.SessionState) {
	p.mu.Lock()
	changed := p.state != s
	p.state = s
	p.mu.Unlock()

	if !changed {
		return
	}
	if s == domain.SessionConnected {
		metrics.SessionConnected.WithLabelValues(p.Name).Set(1)
	} else {
		metrics.SessionConnected.WithLabelValues(p.Name).Set(0)
	}
	if p.cfg.OnStateChange != nil {
		p.cfg.OnStateChange(s)
	}
}

func (p *WSProvider) closing() bool {
	select {
	case <-p.ctx.Done():
		return true
	default:
		return false
	}
}

// run owns the read side of the connection and reconnects after drops.
func (p *WSProvider) run(conn *websocket.Conn) {
	defer close(p.done)

	for {
		err := p.readLoop(conn)
		if p.closing() {
			p.shutdown(ErrClosed)
			return
		}

		p.log.Warn("Websocket connection lost", "network", p.Name, "error", err)
		p.RecordFailure()
		p.dropConnection()
		p.setState(domain.SessionDisconnected)

		if !p.cfg.Reconnect.Enabled {
			p.shutdown(ErrConnectionLost)
			return
		}

		p.setState(domain.SessionConnecting)
		conn = p.redial()
		if conn == nil {
			if p.closing() {
				p.shutdown(ErrClosed)
				return
			}
			p.setState(domain.SessionFailed)
			p.shutdown(ErrConnectionLost)
			return
		}

		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()
		p.setState(domain.SessionConnected)
		p.log.Info("Websocket reconnected", "network", p.Name)

		go p.resubscribe()
	}
}

func (p *WSProvider) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		p.dispatch(data)
	}
}

func (p *WSProvider) dispatch(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		p.log.Debug("Dropping malformed frame", "network", p.Name, "error", err)
		return
	}

	if msg.isNotification() {
		key := subscriptionKey(msg.Params.Subscription)
		p.mu.Lock()
		sub := p.subs[key]
		p.mu.Unlock()
		if sub == nil {
			p.log.Debug("Notification for unknown subscription", "network", p.Name, "subscription", key)
			return
		}
		sub.push(msg.Params.Result)
		return
	}

	id, ok := msg.id()
	if !ok {
		return
	}

	p.mu.Lock()
	pc := p.pending[id]
	delete(p.pending, id)
	if pc != nil && pc.sub != nil && msg.Error == nil && !pc.sub.isFinished() {
		// Register before reading the next frame so no notification is missed.
		key := subscriptionKey(msg.Result)
		pc.sub.setID(key)
		p.subs[key] = pc.sub
		if pc.sub.req.Resumable {
			p.resumable[pc.sub] = struct{}{}
		}
	}
	p.mu.Unlock()

	if pc == nil {
		return
	}
	if msg.Error != nil {
		if p.Monitor.DetectThrottlePattern(msg.Error.Message) {
			p.Monitor.RecordThrottle(429, 0)
		}
		pc.ch <- callResult{err: msg.Error}
		return
	}
	pc.ch <- callResult{result: msg.Result}
}

// dropConnection fails in-flight calls and ends subscriptions that will not
// be re-issued. Resumable subscriptions stay registered for resubscribe.
func (p *WSProvider) dropConnection() {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[uint64]*pendingCall)
	var ended []*Subscription
	for _, sub := range p.subs {
		if _, ok := p.resumable[sub]; !ok {
			ended = append(ended, sub)
		}
	}
	p.subs = make(map[string]*Subscription)
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, pc := range pending {
		pc.ch <- callResult{err: ErrConnectionLost}
	}
	for _, sub := range ended {
		sub.finish(ErrConnectionLost)
	}
}

func (p *WSProvider) shutdown(reason error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[uint64]*pendingCall)
	subs := make(map[*Subscription]struct{}, len(p.subs)+len(p.resumable))
	for _, sub := range p.subs {
		subs[sub] = struct{}{}
	}
	for sub := range p.resumable {
		subs[sub] = struct{}{}
	}
	p.subs = make(map[string]*Subscription)
	p.resumable = make(map[*Subscription]struct{})
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, pc := range pending {
		pc.ch <- callResult{err: reason}
	}
	for sub := range subs {
		sub.finish(reason)
	}
}

func (p *WSProvider) redial() *websocket.Conn {
	backoff := routing.RetryConfig{
		InitialDelay:    p.cfg.Reconnect.InitialDelay,
		MaxDelay:        p.cfg.Reconnect.MaxDelay,
		BackoffMultiple: 2,
	}
	if backoff.InitialDelay <= 0 {
		backoff.InitialDelay = time.Second
	}

	for attempt := 0; p.cfg.Reconnect.MaxAttempts == 0 || attempt < p.cfg.Reconnect.MaxAttempts; attempt++ {
		delay := routing.Backoff(attempt, backoff)
		select {
		case <-p.ctx.Done():
			return nil
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(p.ctx, dialTimeout)
		conn, err := p.dial(ctx)
		cancel()
		if err == nil {
			metrics.Reconnects.WithLabelValues(p.Name, "ok").Inc()
			return conn
		}
		metrics.Reconnects.WithLabelValues(p.Name, "error").Inc()
		p.log.Warn("Reconnect attempt failed", "network", p.Name, "attempt", attempt+1, "error", err)
	}
	return nil
}

func (p *WSProvider) resubscribe() {
	p.mu.Lock()
	subs := make([]*Subscription, 0, len(p.resumable))
	for sub := range p.resumable {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(p.ctx, resubscribeWait)
		_, err := p.request(ctx, sub.req.Method, sub.req.Params, sub)
		cancel()
		if err != nil {
			p.log.Warn("Resubscribe failed", "network", p.Name, "method", sub.req.Method, "error", err)
			p.forget(sub)
			sub.finish(fmt.Errorf("resubscribe: %w", err))
			continue
		}
		p.log.Debug("Resubscribed", "network", p.Name, "method", sub.req.Method, "subscription", sub.ID())
	}
}

// Call makes a single JSON-RPC call over the websocket.
func (p *WSProvider) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	start := time.Now()
	result, err := p.request(ctx, method, params, nil)
	p.observe(method, time.Since(start), err)
	return result, err
}

// Subscribe issues req.Method and registers the returned subscription id.
func (p *WSProvider) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	sub := newSubscription(p, req)

	start := time.Now()
	_, err := p.request(ctx, req.Method, req.Params, sub)
	p.observe(req.Method, time.Since(start), err)
	if err != nil {
		p.forget(sub)
		sub.finish(err)
		return nil, err
	}
	return sub, nil
}

func (p *WSProvider) request(ctx context.Context, method string, params []any, sub *Subscription) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	p.mu.Lock()
	if p.closing() {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.state != domain.SessionConnected || p.conn == nil {
		p.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := p.conn
	id := p.nextID.Add(1)
	pc := &pendingCall{ch: make(chan callResult, 1), sub: sub}
	p.pending[id] = pc
	p.mu.Unlock()

	if err := p.write(conn, request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		p.removePending(id)
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case r := <-pc.ch:
		return r.result, r.err
	case <-ctx.Done():
		p.removePending(id)
		return nil, ctx.Err()
	}
}

func (p *WSProvider) write(conn *websocket.Conn, v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (p *WSProvider) removePending(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// forget removes sub from the routing tables and returns its current id.
func (p *WSProvider) forget(sub *Subscription) string {
	id := sub.ID()
	p.mu.Lock()
	if id != "" && p.subs[id] == sub {
		delete(p.subs, id)
	}
	delete(p.resumable, sub)
	p.mu.Unlock()
	return id
}

// Close releases the connection. In-flight calls and live subscriptions end
// with ErrClosed. Close is idempotent.
func (p *WSProvider) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()

		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn != nil {
			p.writeMu.Lock()
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			p.writeMu.Unlock()
			conn.Close()
		}

		<-p.done
		p.setState(domain.SessionDisconnected)
	})
	return nil
}
