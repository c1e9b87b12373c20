package network

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/infra/chain"
	"github.com/vietddude/walletd/internal/infra/rpc/provider"
)

const alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"

type mockClient struct {
	queryErr  error
	subErr    error
	submitErr error
	closes    int
	info      domain.AccountInfo
}

func (m *mockClient) QueryAccount(context.Context, string) (domain.AccountInfo, error) {
	return m.info, m.queryErr
}

func (m *mockClient) SubscribeAccount(context.Context, string) (chain.AccountWatch, error) {
	return nil, m.subErr
}

func (m *mockClient) SignAndSubmit(context.Context, domain.TransferCall, string, chain.Signer) (chain.TxWatch, error) {
	return nil, m.submitErr
}

func (m *mockClient) Close() error {
	m.closes++
	return nil
}

type recorder struct {
	mu     sync.Mutex
	states []domain.SessionState
}

func (r *recorder) record(s domain.SessionState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) all() []domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SessionState(nil), r.states...)
}

func openMock(t *testing.T, c *mockClient) (*Session, func(domain.SessionState)) {
	t.Helper()
	var notify func(domain.SessionState)
	d := DialFunc(func(_ context.Context, _ string, onState func(domain.SessionState)) (chain.Client, error) {
		notify = onState
		return c, nil
	})
	s, err := Open(context.Background(), d, "ws://node")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, notify
}

func TestOpen_DialFailure(t *testing.T) {
	calls := 0
	d := DialFunc(func(context.Context, string, func(domain.SessionState)) (chain.Client, error) {
		calls++
		return nil, errors.New("connection refused")
	})

	_, err := Open(context.Background(), d, "ws://node")
	if !errors.Is(err, domain.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one dial attempt, got %d", calls)
	}
}

func TestOpen_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := DialFunc(func(context.Context, string, func(domain.SessionState)) (chain.Client, error) {
		cancel()
		return nil, context.Canceled
	})

	_, err := Open(ctx, d, "ws://node")
	if domain.KindOf(err) != domain.KindCanceled {
		t.Errorf("expected canceled, got %v", err)
	}
}

func TestSession_StateChanges(t *testing.T) {
	s, notify := openMock(t, &mockClient{})
	if s.State() != domain.SessionConnected {
		t.Fatalf("expected connected, got %s", s.State())
	}

	rec := &recorder{}
	s.OnStateChange(rec.record)

	notify(domain.SessionDisconnected)
	notify(domain.SessionConnecting)
	notify(domain.SessionConnected)

	want := []domain.SessionState{domain.SessionDisconnected, domain.SessionConnecting, domain.SessionConnected}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSession_FailFastWhenNotConnected(t *testing.T) {
	s, notify := openMock(t, &mockClient{})
	notify(domain.SessionDisconnected)

	ctx := context.Background()
	if _, err := s.QueryAccount(ctx, alice); !errors.Is(err, domain.ErrConnection) {
		t.Errorf("query: expected ErrConnection, got %v", err)
	}
	if _, err := s.SubscribeAccount(ctx, alice); !errors.Is(err, domain.ErrSubscription) {
		t.Errorf("subscribe: expected ErrSubscription, got %v", err)
	}
	call := domain.TransferCall{Destination: alice, Amount: big.NewInt(1)}
	if _, err := s.SignAndSubmit(ctx, call, alice, nil); !errors.Is(err, domain.ErrSubmission) {
		t.Errorf("submit: expected ErrSubmission, got %v", err)
	}
}

func TestSession_ErrorClassification(t *testing.T) {
	c := &mockClient{
		queryErr:  errors.New("rpc error -32000: boom"),
		subErr:    errors.New("unsupported"),
		submitErr: errors.New("rpc error 1010: Invalid Transaction"),
	}
	s, _ := openMock(t, c)
	ctx := context.Background()

	if _, err := s.QueryAccount(ctx, alice); !errors.Is(err, domain.ErrConnection) {
		t.Errorf("query: expected ErrConnection, got %v", err)
	}
	if _, err := s.SubscribeAccount(ctx, alice); !errors.Is(err, domain.ErrSubscription) {
		t.Errorf("subscribe: expected ErrSubscription, got %v", err)
	}
	if _, err := s.SignAndSubmit(ctx, domain.TransferCall{}, alice, nil); !errors.Is(err, domain.ErrSubmission) {
		t.Errorf("submit: expected ErrSubmission, got %v", err)
	}

	c.submitErr = errors.Join(domain.ErrInvalidInput, errors.New("bad destination"))
	_, err := s.SignAndSubmit(ctx, domain.TransferCall{}, alice, nil)
	if domain.KindOf(err) != domain.KindInvalidInput {
		t.Errorf("expected invalid input to pass through, got %v", err)
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	c := &mockClient{}
	s, notify := openMock(t, c)
	rec := &recorder{}
	s.OnStateChange(rec.record)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if c.closes != 1 {
		t.Errorf("expected one transport close, got %d", c.closes)
	}

	// late transport notifications do not revive a closed session
	notify(domain.SessionConnected)
	if s.State() != domain.SessionDisconnected {
		t.Errorf("expected disconnected after close, got %s", s.State())
	}
	if got := rec.all(); len(got) != 1 || got[0] != domain.SessionDisconnected {
		t.Errorf("states = %v", got)
	}
}

func TestSubstrateDialer_QueryOverWebsocket(t *testing.T) {
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID     uint64 `json:"id"`
				Method string `json:"method"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			// unknown accounts have no storage entry
			conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": nil})
		}
	}))
	defer srv.Close()

	network, _ := domain.LookupNetwork("westend")
	d := &SubstrateDialer{Network: network}
	s, err := Open(context.Background(), d, "ws://"+strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	info, err := s.QueryAccount(context.Background(), alice)
	if err != nil {
		t.Fatalf("QueryAccount: %v", err)
	}
	if info.Free.Sign() != 0 {
		t.Errorf("expected zero balance, got %s", info.Free)
	}
}

func TestSubstrateDialer_Unreachable(t *testing.T) {
	network, _ := domain.LookupNetwork("westend")
	d := &SubstrateDialer{Network: network}

	_, err := Open(context.Background(), d, "ws://127.0.0.1:1")
	if !errors.Is(err, domain.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
}

type healthClient struct {
	*mockClient
	health provider.HealthStatus
	ok     bool
}

func (c *healthClient) Health() (provider.HealthStatus, bool) { return c.health, c.ok }

func TestSession_ProviderHealth(t *testing.T) {
	open := func(c chain.Client) *Session {
		d := DialFunc(func(context.Context, string, func(domain.SessionState)) (chain.Client, error) {
			return c, nil
		})
		s, err := Open(context.Background(), d, "ws://node")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return s
	}

	if h := open(&mockClient{}).ProviderHealth(); h != nil {
		t.Errorf("client without health tracking reported %+v", h)
	}
	if h := open(&healthClient{mockClient: &mockClient{}}).ProviderHealth(); h != nil {
		t.Errorf("transport without health tracking reported %+v", h)
	}

	want := provider.HealthStatus{Available: true, ErrorRate: 0.25}
	h := open(&healthClient{mockClient: &mockClient{}, health: want, ok: true}).ProviderHealth()
	if h == nil || !h.Available || h.ErrorRate != 0.25 {
		t.Errorf("health = %+v", h)
	}
}
