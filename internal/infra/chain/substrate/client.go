// Package substrate implements chain.Client for Substrate nodes over
// JSON-RPC.
package substrate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/core/ss58"
	"github.com/vietddude/walletd/internal/infra/chain"
	"github.com/vietddude/walletd/internal/infra/rpc/provider"
	"golang.org/x/sync/errgroup"
)

const unsubscribeTimeout = 5 * time.Second

// Config holds chain parameters the client encodes with.
type Config struct {
	Network      domain.Network
	MetadataHash bool
	Logger       *slog.Logger
}

// Client implements chain.Client on a JSON-RPC transport.
type Client struct {
	t   Transport
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	genesis []byte
	meta    map[uint32]*runtimeMeta
}

var (
	_ chain.Client         = (*Client)(nil)
	_ chain.HealthReporter = (*Client)(nil)
)

// NewClient creates a client that owns t.
func NewClient(t Transport, cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{t: t, cfg: cfg, log: log, meta: make(map[uint32]*runtimeMeta)}
}

// healthTracker is the health surface of provider transports.
type healthTracker interface {
	GetHealth() provider.HealthStatus
	IsAvailable() bool
}

// Health reports the transport's call health. A throttled or blocked
// endpoint counts as unavailable.
func (c *Client) Health() (provider.HealthStatus, bool) {
	ht, ok := c.t.(healthTracker)
	if !ok {
		return provider.HealthStatus{}, false
	}
	h := ht.GetHealth()
	h.Available = h.Available && ht.IsAvailable()
	return h, true
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.t.Close()
}

func (c *Client) accountKey(address string) (string, error) {
	pub, err := ss58.PublicKey(address)
	if err != nil {
		return "", fmt.Errorf("%w: invalid address %q: %v", domain.ErrInvalidInput, address, err)
	}
	return AccountStorageKey(pub), nil
}

// QueryAccount reads System.Account for address. Unknown accounts read as
// zero balances.
func (c *Client) QueryAccount(ctx context.Context, address string) (domain.AccountInfo, error) {
	key, err := c.accountKey(address)
	if err != nil {
		return domain.AccountInfo{}, err
	}

	raw, err := c.t.Call(ctx, "state_getStorage", []any{key})
	if err != nil {
		return domain.AccountInfo{}, fmt.Errorf("failed to query account: %w", err)
	}
	return decodeAccountValue(raw)
}

func decodeAccountValue(raw json.RawMessage) (domain.AccountInfo, error) {
	if provider.IsNull(raw) {
		return emptyAccountInfo(), nil
	}
	b, err := decodeHex(raw)
	if err != nil {
		return domain.AccountInfo{}, fmt.Errorf("failed to decode storage value: %w", err)
	}
	return DecodeAccountInfo(b)
}

// SubscribeAccount watches System.Account for address. The subscription is
// re-issued by the transport after a reconnect.
func (c *Client) SubscribeAccount(ctx context.Context, address string) (chain.AccountWatch, error) {
	key, err := c.accountKey(address)
	if err != nil {
		return nil, err
	}

	stream, err := c.t.Subscribe(ctx, provider.SubscribeRequest{
		Method:      "state_subscribeStorage",
		Params:      []any{[]string{key}},
		Unsubscribe: "state_unsubscribeStorage",
		Resumable:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to account: %w", err)
	}

	w := &accountWatch{
		stream: stream,
		key:    key,
		log:    c.log.With("account", address),
		out:    make(chan domain.AccountChange),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

type storageChangeSet struct {
	Block   string      `json:"block"`
	Changes [][]*string `json:"changes"`
}

type accountWatch struct {
	stream Stream
	key    string
	log    *slog.Logger

	out    chan domain.AccountChange
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	err    error
}

func (w *accountWatch) Changes() <-chan domain.AccountChange {
	return w.out
}

func (w *accountWatch) run() {
	defer close(w.exited)
	defer close(w.out)

	for {
		select {
		case <-w.done:
			return
		case raw, ok := <-w.stream.Notifications():
			if !ok {
				if err := w.stream.Err(); err != nil {
					w.log.Warn("Account subscription ended", "error", err)
				}
				return
			}

			var set storageChangeSet
			if err := json.Unmarshal(raw, &set); err != nil {
				w.log.Warn("Malformed storage change set", "error", err)
				continue
			}
			for _, change := range set.Changes {
				if len(change) != 2 || change[0] == nil || *change[0] != w.key {
					continue
				}
				var value json.RawMessage
				if change[1] != nil {
					value, _ = json.Marshal(*change[1])
				}
				info, err := decodeAccountValue(value)
				if err != nil {
					w.log.Warn("Failed to decode account info", "block", set.Block, "error", err)
					continue
				}
				select {
				case w.out <- domain.AccountChange{Block: set.Block, Info: info}:
				case <-w.done:
					return
				}
			}
		}
	}
}

func (w *accountWatch) Close() error {
	w.once.Do(func() {
		close(w.done)
		ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
		defer cancel()
		w.err = w.stream.Unsubscribe(ctx)
		<-w.exited
	})
	return w.err
}

// SignAndSubmit builds a Balances transfer, signs it through signer and
// submits it with author_submitAndWatchExtrinsic.
func (c *Client) SignAndSubmit(
	ctx context.Context,
	call domain.TransferCall,
	from string,
	signer chain.Signer,
) (chain.TxWatch, error) {
	fromPub, err := ss58.PublicKey(from)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid sender address: %v", domain.ErrInvalidInput, err)
	}
	destPub, err := ss58.PublicKey(call.Destination)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid destination address: %v", domain.ErrInvalidInput, err)
	}
	if call.Amount == nil || call.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}

	sc, err := c.signingContext(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signing context: %w", err)
	}

	callData, err := EncodeTransferCall(c.cfg.Network.BalancesPallet, destPub, call.Amount, call.KeepAlive)
	if err != nil {
		return nil, err
	}
	payload, err := SigningPayload(callData, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to build signing payload: %w", err)
	}
	sig, err := signer.SignPayload(ctx, from, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transfer: %w", err)
	}

	ext, err := EncodeSignedExtrinsic(fromPub, sig, callData, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extrinsic: %w", err)
	}
	txHash := ExtrinsicHash(ext)

	stream, err := c.t.Subscribe(ctx, provider.SubscribeRequest{
		Method:      "author_submitAndWatchExtrinsic",
		Params:      []any{"0x" + hex.EncodeToString(ext)},
		Unsubscribe: "author_unwatchExtrinsic",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit extrinsic: %w", err)
	}

	c.log.Info("Extrinsic submitted", "network", c.cfg.Network.Name, "tx", txHash, "nonce", sc.Nonce)

	wctx, cancel := context.WithCancel(context.Background())
	w := &txWatch{
		c:        c,
		ctx:      wctx,
		cancel:   cancel,
		stream:   stream,
		ext:      ext,
		hash:     txHash,
		out:      make(chan domain.TxStatusEvent),
		exited:   make(chan struct{}),
		resolved: make(map[string]*domain.DispatchError),
	}
	go w.run()
	return w, nil
}

// signingContext fetches the nonce, runtime version and genesis hash
// concurrently.
func (c *Client) signingContext(ctx context.Context, from string) (SigningContext, error) {
	sc := SigningContext{MetadataHash: c.cfg.MetadataHash}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := c.t.Call(gctx, "system_accountNextIndex", []any{from})
		if err != nil {
			return fmt.Errorf("account next index: %w", err)
		}
		if err := json.Unmarshal(raw, &sc.Nonce); err != nil {
			return fmt.Errorf("decode nonce: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		raw, err := c.t.Call(gctx, "state_getRuntimeVersion", nil)
		if err != nil {
			return fmt.Errorf("runtime version: %w", err)
		}
		if err := json.Unmarshal(raw, &sc.Runtime); err != nil {
			return fmt.Errorf("decode runtime version: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		genesis, err := c.genesisHash(gctx)
		if err != nil {
			return err
		}
		sc.GenesisHash = genesis
		return nil
	})
	if err := g.Wait(); err != nil {
		return SigningContext{}, err
	}
	return sc, nil
}

func (c *Client) genesisHash(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	cached := c.genesis
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	raw, err := c.t.Call(ctx, "chain_getBlockHash", []any{0})
	if err != nil {
		return nil, fmt.Errorf("genesis hash: %w", err)
	}
	genesis, err := decodeHex(raw)
	if err != nil {
		return nil, fmt.Errorf("decode genesis hash: %w", err)
	}
	if len(genesis) != 32 {
		return nil, fmt.Errorf("decode genesis hash: got %d bytes", len(genesis))
	}

	c.mu.Lock()
	c.genesis = genesis
	c.mu.Unlock()
	return genesis, nil
}

type txWatch struct {
	c      *Client
	ctx    context.Context
	cancel context.CancelFunc
	stream Stream
	ext    []byte
	hash   string

	out      chan domain.TxStatusEvent
	exited   chan struct{}
	once     sync.Once
	resolved map[string]*domain.DispatchError
}

func (w *txWatch) TxHash() string {
	return w.hash
}

func (w *txWatch) Updates() <-chan domain.TxStatusEvent {
	return w.out
}

func (w *txWatch) run() {
	defer close(w.exited)
	defer close(w.out)

	for {
		select {
		case <-w.ctx.Done():
			return
		case raw, ok := <-w.stream.Notifications():
			if !ok {
				if err := w.stream.Err(); err != nil {
					w.emit(domain.TxStatusEvent{
						Status: domain.TxStatusFailed,
						TxHash: w.hash,
						Err:    fmt.Errorf("%w: status stream ended: %w", domain.ErrConnection, err),
					})
				}
				return
			}

			st, err := parseExtrinsicStatus(raw)
			if err != nil {
				w.c.log.Warn("Ignoring extrinsic status", "tx", w.hash, "error", err)
				continue
			}
			ev, ok := st.toEvent(w.hash)
			if !ok {
				w.c.log.Debug("Extrinsic status", "tx", w.hash, "status", st.Name)
				continue
			}
			if ev.Status == domain.TxStatusIncludedInBlock || ev.Status == domain.TxStatusFinalized {
				ev = w.withOutcome(ev)
			}
			if !w.emit(ev) {
				return
			}
			if ev.Status.Terminal() {
				w.unsubscribe()
				return
			}
		}
	}
}

// withOutcome attaches the dispatch result read from the block's events.
// An outcome that cannot be read leaves an in-block event pending and turns
// finality into a failure classified as outcome unknown.
func (w *txWatch) withOutcome(ev domain.TxStatusEvent) domain.TxStatusEvent {
	de, ok := w.resolved[ev.BlockHash]
	if !ok {
		var err error
		de, err = w.c.dispatchOutcome(w.ctx, w.ext, ev.BlockHash)
		if err != nil {
			w.c.log.Warn("Could not resolve dispatch outcome", "tx", w.hash, "block", ev.BlockHash, "status", ev.Status, "error", err)
			if ev.Status == domain.TxStatusFinalized {
				return domain.TxStatusEvent{
					Status:    domain.TxStatusFailed,
					TxHash:    w.hash,
					BlockHash: ev.BlockHash,
					Err:       fmt.Errorf("%w: finalized in %s: %w", domain.ErrOutcomeUnknown, ev.BlockHash, err),
				}
			}
			return ev
		}
		w.resolved[ev.BlockHash] = de
	}
	ev.DispatchError = de
	return ev
}

func (w *txWatch) emit(ev domain.TxStatusEvent) bool {
	select {
	case w.out <- ev:
		return true
	case <-w.ctx.Done():
		return false
	}
}

func (w *txWatch) unsubscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := w.stream.Unsubscribe(ctx); err != nil {
		w.c.log.Debug("Unwatch extrinsic", "tx", w.hash, "error", err)
	}
}

func (w *txWatch) Close() error {
	w.once.Do(func() {
		w.cancel()
		w.unsubscribe()
		<-w.exited
	})
	return nil
}
