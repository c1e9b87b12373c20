package control

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/infra/chain"
	"github.com/vietddude/walletd/internal/infra/rpc/provider"
	"github.com/vietddude/walletd/internal/lifecycle/balance"
	"github.com/vietddude/walletd/internal/lifecycle/network"
	"github.com/vietddude/walletd/internal/lifecycle/wallet"
)

const (
	alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	bob   = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"
)

var westend = domain.Network{Name: "westend", Symbol: "WND", Decimals: 12, SS58Prefix: 42, Endpoints: []string{"ws://node"}}

type fakeSigner struct{}

func (fakeSigner) SignPayload(context.Context, string, []byte) (domain.Signature, error) {
	return domain.Signature{Scheme: domain.SchemeEd25519, Bytes: make([]byte, 64)}, nil
}

type fakeWallet struct {
	accounts []domain.Account
	err      error
}

func (w *fakeWallet) Enable(context.Context, string) (wallet.Injected, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w, nil
}

func (w *fakeWallet) Accounts(context.Context) ([]domain.Account, error) { return w.accounts, nil }
func (w *fakeWallet) Signer() wallet.Signer                             { return fakeSigner{} }

type fakeAccountWatch struct {
	ch        chan domain.AccountChange
	closeOnce sync.Once
	closed    chan struct{}
}

func (w *fakeAccountWatch) Changes() <-chan domain.AccountChange { return w.ch }

func (w *fakeAccountWatch) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return nil
}

type fakeTxWatch struct {
	ch chan domain.TxStatusEvent
}

func (w *fakeTxWatch) TxHash() string                        { return "0xfeed" }
func (w *fakeTxWatch) Updates() <-chan domain.TxStatusEvent { return w.ch }
func (w *fakeTxWatch) Close() error                          { return nil }

// fakeChain is a chain.Client recording the order of calls.
type fakeChain struct {
	mu       sync.Mutex
	free     *big.Int
	queryErr error
	subErr   error
	calls    []string
	watch    *fakeAccountWatch
	txs      []*fakeTxWatch
	gate     chan struct{} // when set, SignAndSubmit waits for it
	health   *provider.HealthStatus
	closed   bool
}

func (c *fakeChain) Health() (provider.HealthStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.health == nil {
		return provider.HealthStatus{}, false
	}
	return *c.health, true
}

func newFakeChain(free int64) *fakeChain {
	return &fakeChain{
		free:  big.NewInt(free),
		watch: &fakeAccountWatch{ch: make(chan domain.AccountChange), closed: make(chan struct{})},
	}
}

func (c *fakeChain) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *fakeChain) history() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeChain) QueryAccount(context.Context, string) (domain.AccountInfo, error) {
	c.record("query")
	if c.queryErr != nil {
		return domain.AccountInfo{}, c.queryErr
	}
	return domain.AccountInfo{Free: c.free}, nil
}

func (c *fakeChain) SubscribeAccount(context.Context, string) (chain.AccountWatch, error) {
	c.record("subscribe")
	if c.subErr != nil {
		return nil, c.subErr
	}
	return &unsubscribeRecorder{fakeAccountWatch: c.watch, c: c}, nil
}

func (c *fakeChain) SignAndSubmit(ctx context.Context, _ domain.TransferCall, _ string, _ chain.Signer) (chain.TxWatch, error) {
	c.record("submit")
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	w := &fakeTxWatch{ch: make(chan domain.TxStatusEvent, 4)}
	c.mu.Lock()
	c.txs = append(c.txs, w)
	c.mu.Unlock()
	return w, nil
}

func (c *fakeChain) submits() int {
	n := 0
	for _, call := range c.history() {
		if call == "submit" {
			n++
		}
	}
	return n
}

func (c *fakeChain) lastTx() *fakeTxWatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txs[len(c.txs)-1]
}

func (c *fakeChain) Close() error {
	c.record("close")
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type unsubscribeRecorder struct {
	*fakeAccountWatch
	c *fakeChain
}

func (u *unsubscribeRecorder) Close() error {
	u.c.record("unsubscribe")
	return u.fakeAccountWatch.Close()
}

// fakeDialer fails the first failures dials.
type fakeDialer struct {
	mu        sync.Mutex
	chain     *fakeChain
	failures  int
	endpoints []string
}

func (d *fakeDialer) Dial(_ context.Context, endpoint string, _ func(domain.SessionState)) (chain.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints = append(d.endpoints, endpoint)
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	return d.chain, nil
}

func (d *fakeDialer) dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.endpoints...)
}

func newOrchestrator(cfg Config, w *fakeWallet, d network.Dialer) *Orchestrator {
	if cfg.WalletID == "" {
		cfg.WalletID = "keyring"
	}
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = westend.Endpoints
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 1
	}
	connector := wallet.NewConnector("walletd", map[string]wallet.Provider{"keyring": w})
	return NewOrchestrator(cfg, connector, d, balance.NewTracker(westend))
}
