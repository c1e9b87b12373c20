package substrate

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/infra/rpc/provider"
)

var westend = domain.KnownNetworks[domain.NetworkWestend]

func newTestClient(t *fakeTransport) *Client {
	return NewClient(t, Config{Network: westend, MetadataHash: true})
}

type fakeSigner struct {
	mu       sync.Mutex
	payloads [][]byte
	address  string
	err      error
}

func (s *fakeSigner) SignPayload(_ context.Context, address string, payload []byte) (domain.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Signature{}, s.err
	}
	s.address = address
	s.payloads = append(s.payloads, payload)
	return domain.Signature{Scheme: domain.SchemeEd25519, Bytes: bytes.Repeat([]byte{0x11}, 64)}, nil
}

func TestClient_QueryAccount(t *testing.T) {
	ft := newFakeTransport()
	raw := encodeAccountInfo(3, big.NewInt(5_000_000_000_000), big.NewInt(0), big.NewInt(0))

	var gotKey string
	ft.handle("state_getStorage", func(params []any) (any, error) {
		gotKey = params[0].(string)
		return "0x" + hex.EncodeToString(raw), nil
	})

	c := newTestClient(ft)
	info, err := c.QueryAccount(context.Background(), alice)
	if err != nil {
		t.Fatalf("QueryAccount: %v", err)
	}
	if info.Free.String() != "5000000000000" || info.Nonce != 3 {
		t.Errorf("unexpected info %+v", info)
	}
	if gotKey != AccountStorageKey(mustHex(t, alicePub)) {
		t.Errorf("queried wrong key %s", gotKey)
	}
}

func TestClient_QueryAccountUnknown(t *testing.T) {
	ft := newFakeTransport()
	ft.reply("state_getStorage", nil)

	info, err := newTestClient(ft).QueryAccount(context.Background(), bob)
	if err != nil {
		t.Fatalf("QueryAccount: %v", err)
	}
	if info.Free.Sign() != 0 {
		t.Errorf("expected zero balance for unknown account, got %s", info.Free)
	}
}

func TestClient_QueryAccountErrors(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(ft)

	if _, err := c.QueryAccount(context.Background(), "not-an-address"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	callErr := errors.New("connection refused")
	ft.handle("state_getStorage", func([]any) (any, error) { return nil, callErr })
	if _, err := c.QueryAccount(context.Background(), alice); !errors.Is(err, callErr) {
		t.Errorf("expected wrapped transport error, got %v", err)
	}
}

func TestClient_SubscribeAccount(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(ft)

	w, err := c.SubscribeAccount(context.Background(), alice)
	if err != nil {
		t.Fatalf("SubscribeAccount: %v", err)
	}

	req := ft.lastSubscribe()
	if req.Method != "state_subscribeStorage" || req.Unsubscribe != "state_unsubscribeStorage" || !req.Resumable {
		t.Errorf("unexpected subscribe request %+v", req)
	}

	key := AccountStorageKey(mustHex(t, alicePub))
	value := "0x" + hex.EncodeToString(encodeAccountInfo(0, big.NewInt(42), big.NewInt(0), big.NewInt(0)))
	other := "0x00"

	stream := ft.lastStream()
	stream.send(map[string]any{
		"block":   "0xb1",
		"changes": [][]*string{{&other, &value}, {&key, &value}},
	})
	stream.send(map[string]any{
		"block":   "0xb2",
		"changes": [][]*string{{&key, nil}},
	})

	first := recvChange(t, w.Changes())
	if first.Block != "0xb1" || first.Info.Free.Int64() != 42 {
		t.Errorf("unexpected first change %+v", first)
	}
	second := recvChange(t, w.Changes())
	if second.Block != "0xb2" || second.Info.Free.Sign() != 0 {
		t.Errorf("unexpected second change %+v", second)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !stream.isUnsubscribed() {
		t.Error("expected transport subscription released")
	}
	if _, ok := <-w.Changes(); ok {
		t.Error("expected changes channel closed")
	}
}

func TestClient_SubscribeAccountRejected(t *testing.T) {
	ft := newFakeTransport()
	ft.subErr = provider.ErrSubscriptionsUnsupported

	if _, err := newTestClient(ft).SubscribeAccount(context.Background(), alice); !errors.Is(err, provider.ErrSubscriptionsUnsupported) {
		t.Errorf("expected subscription error, got %v", err)
	}
}

func recvChange(t *testing.T, ch <-chan domain.AccountChange) domain.AccountChange {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("changes channel closed")
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return domain.AccountChange{}
}

func recvStatus(t *testing.T, ch <-chan domain.TxStatusEvent) domain.TxStatusEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("status channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status")
	}
	return domain.TxStatusEvent{}
}

func expectClosed(t *testing.T, ch <-chan domain.TxStatusEvent) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("status channel not closed")
	}
}

// submitFixture serves a node that includes the submitted extrinsic at
// position 1 of every block and reports events for it.
func submitFixture(t *testing.T, events string) *fakeTransport {
	t.Helper()
	ft := newFakeTransport()
	ft.reply("system_accountNextIndex", 5)
	ft.reply("chain_getBlockHash", "0x"+hex.EncodeToString(bytes.Repeat([]byte{0xe1}, 32)))
	serveBlock(t, ft, func() []string {
		return []string{"0x0102", ft.lastSubscribe().Params[0].(string)}
	}, events)
	return ft
}

func successEvents() string {
	return eventsHex(extrinsicSuccess(0), extrinsicSuccess(1))
}

func transferCall(amount int64) domain.TransferCall {
	return domain.TransferCall{Destination: bob, Amount: big.NewInt(amount), KeepAlive: true}
}

func TestClient_SignAndSubmit(t *testing.T) {
	ft := submitFixture(t, successEvents())
	c := newTestClient(ft)
	signer := &fakeSigner{}

	w, err := c.SignAndSubmit(context.Background(), transferCall(2_500_000_000_000), alice, signer)
	if err != nil {
		t.Fatalf("SignAndSubmit: %v", err)
	}
	defer w.Close()

	if signer.address != alice {
		t.Errorf("signed for %s, want %s", signer.address, alice)
	}

	wantPayload, err := SigningPayload(
		mustCall(t, mustHex(t, bobPub), big.NewInt(2_500_000_000_000), true),
		SigningContext{
			Nonce:        5,
			Runtime:      RuntimeVersion{SpecVersion: 1016001, TransactionVersion: 27},
			GenesisHash:  bytes.Repeat([]byte{0xe1}, 32),
			MetadataHash: true,
		},
	)
	if err != nil {
		t.Fatalf("SigningPayload: %v", err)
	}
	if !bytes.Equal(signer.payloads[0], wantPayload) {
		t.Errorf("signed payload mismatch\n got % x\nwant % x", signer.payloads[0], wantPayload)
	}

	req := ft.lastSubscribe()
	if req.Method != "author_submitAndWatchExtrinsic" || req.Resumable {
		t.Errorf("unexpected submit request %+v", req)
	}
	ext := mustHex(t, req.Params[0].(string))
	if w.TxHash() != ExtrinsicHash(ext) {
		t.Errorf("tx hash %s does not match submitted extrinsic", w.TxHash())
	}

	stream := ft.lastStream()
	stream.send("ready")
	stream.send(map[string]any{"inBlock": "0xb1"})
	stream.send(map[string]any{"finalized": "0xb1"})

	ev := recvStatus(t, w.Updates())
	if ev.Status != domain.TxStatusSubmitted || ev.TxHash != w.TxHash() {
		t.Errorf("unexpected first status %+v", ev)
	}
	ev = recvStatus(t, w.Updates())
	if ev.Status != domain.TxStatusIncludedInBlock || ev.BlockHash != "0xb1" || ev.DispatchError != nil {
		t.Errorf("unexpected in-block status %+v", ev)
	}
	ev = recvStatus(t, w.Updates())
	if ev.Status != domain.TxStatusFinalized || ev.DispatchError != nil {
		t.Errorf("unexpected finalized status %+v", ev)
	}
	expectClosed(t, w.Updates())

	if !stream.isUnsubscribed() {
		t.Error("expected watch released after finalization")
	}
}

func TestClient_SignAndSubmitDispatchError(t *testing.T) {
	ft := submitFixture(t, eventsHex(extrinsicSuccess(0), extrinsicFailed(1, 3, 4, 2, 0, 0, 0)))
	w, err := newTestClient(ft).SignAndSubmit(context.Background(), transferCall(1), alice, &fakeSigner{})
	if err != nil {
		t.Fatalf("SignAndSubmit: %v", err)
	}
	defer w.Close()

	ft.lastStream().send(map[string]any{"inBlock": "0xb1"})

	ev := recvStatus(t, w.Updates())
	if ev.Status != domain.TxStatusIncludedInBlock {
		t.Fatalf("unexpected status %+v", ev)
	}
	if ev.DispatchError == nil || ev.DispatchError.Error() != "Module(Balances.InsufficientBalance)" {
		t.Errorf("expected InsufficientBalance, got %v", ev.DispatchError)
	}
}

func TestClient_SignAndSubmitUnresolvedDispatch(t *testing.T) {
	ft := submitFixture(t, successEvents())
	ft.handle("state_getStorage", func([]any) (any, error) { return nil, errors.New("state unavailable") })

	w, err := newTestClient(ft).SignAndSubmit(context.Background(), transferCall(1), alice, &fakeSigner{})
	if err != nil {
		t.Fatalf("SignAndSubmit: %v", err)
	}
	defer w.Close()

	stream := ft.lastStream()
	stream.send(map[string]any{"inBlock": "0xb1"})
	stream.send(map[string]any{"finalized": "0xb1"})

	ev := recvStatus(t, w.Updates())
	if ev.Status != domain.TxStatusIncludedInBlock || ev.DispatchError != nil || ev.Err != nil {
		t.Errorf("in-block status should stay pending while the outcome is unknown, got %+v", ev)
	}

	ev = recvStatus(t, w.Updates())
	if ev.Status != domain.TxStatusFailed {
		t.Fatalf("finality with an unknown outcome must not report success, got %+v", ev)
	}
	if !errors.Is(ev.Err, domain.ErrOutcomeUnknown) || ev.BlockHash != "0xb1" {
		t.Errorf("expected ErrOutcomeUnknown for 0xb1, got %+v", ev)
	}
	expectClosed(t, w.Updates())
	if !stream.isUnsubscribed() {
		t.Error("expected watch released after finality")
	}
}

func TestClient_SignAndSubmitFinalizedFailure(t *testing.T) {
	ft := submitFixture(t, eventsHex(extrinsicSuccess(0), extrinsicFailed(1, 7, 0)))
	w, err := newTestClient(ft).SignAndSubmit(context.Background(), transferCall(1), alice, &fakeSigner{})
	if err != nil {
		t.Fatalf("SignAndSubmit: %v", err)
	}
	defer w.Close()

	ft.lastStream().send(map[string]any{"finalized": "0xb2"})

	ev := recvStatus(t, w.Updates())
	if ev.Status != domain.TxStatusFinalized || ev.DispatchError == nil || ev.DispatchError.Error() != "Token(FundsUnavailable)" {
		t.Errorf("expected finalized with Token(FundsUnavailable), got %+v", ev)
	}
	expectClosed(t, w.Updates())
}

func TestClient_SignAndSubmitDropped(t *testing.T) {
	ft := submitFixture(t, successEvents())
	w, err := newTestClient(ft).SignAndSubmit(context.Background(), transferCall(1), alice, &fakeSigner{})
	if err != nil {
		t.Fatalf("SignAndSubmit: %v", err)
	}
	defer w.Close()

	ft.lastStream().send("dropped")
	ev := recvStatus(t, w.Updates())
	if ev.Status != domain.TxStatusFailed || !errors.Is(ev.Err, domain.ErrSubmission) {
		t.Errorf("expected failed submission, got %+v", ev)
	}
	expectClosed(t, w.Updates())
}

func TestClient_SignAndSubmitStreamLost(t *testing.T) {
	ft := submitFixture(t, successEvents())
	w, err := newTestClient(ft).SignAndSubmit(context.Background(), transferCall(1), alice, &fakeSigner{})
	if err != nil {
		t.Fatalf("SignAndSubmit: %v", err)
	}
	defer w.Close()

	stream := ft.lastStream()
	stream.send("ready")
	stream.end(provider.ErrConnectionLost)

	recvStatus(t, w.Updates())
	ev := recvStatus(t, w.Updates())
	if ev.Status != domain.TxStatusFailed || !errors.Is(ev.Err, domain.ErrConnection) {
		t.Errorf("expected connection failure, got %+v", ev)
	}
	expectClosed(t, w.Updates())
}

func TestClient_SignAndSubmitErrors(t *testing.T) {
	ft := submitFixture(t, successEvents())
	c := newTestClient(ft)

	rejected := errors.New("user rejected")
	if _, err := c.SignAndSubmit(context.Background(), transferCall(1), alice, &fakeSigner{err: rejected}); !errors.Is(err, rejected) {
		t.Errorf("expected signer error, got %v", err)
	}

	bad := transferCall(1)
	bad.Destination = "5Grw"
	if _, err := c.SignAndSubmit(context.Background(), bad, alice, &fakeSigner{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	if _, err := c.SignAndSubmit(context.Background(), transferCall(0), alice, &fakeSigner{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero amount, got %v", err)
	}

	ft.handle("system_accountNextIndex", func([]any) (any, error) { return nil, errors.New("node busy") })
	if _, err := c.SignAndSubmit(context.Background(), transferCall(1), alice, &fakeSigner{}); err == nil {
		t.Error("expected signing context error")
	}
}

func TestClient_GenesisCached(t *testing.T) {
	ft := submitFixture(t, successEvents())
	c := newTestClient(ft)

	for i := 0; i < 2; i++ {
		w, err := c.SignAndSubmit(context.Background(), transferCall(1), alice, &fakeSigner{})
		if err != nil {
			t.Fatalf("SignAndSubmit: %v", err)
		}
		w.Close()
	}

	count := 0
	ft.mu.Lock()
	for _, m := range ft.calls {
		if m == "chain_getBlockHash" {
			count++
		}
	}
	ft.mu.Unlock()
	if count != 1 {
		t.Errorf("expected genesis fetched once, got %d", count)
	}
}

func TestClient_Health(t *testing.T) {
	if _, ok := newTestClient(newFakeTransport()).Health(); ok {
		t.Error("a transport without health tracking must not report health")
	}

	var throttle atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if throttle.Load() {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": nil})
	}))
	defer srv.Close()

	c := NewClient(FromProvider(provider.NewHTTPProvider("westend", srv.URL, 5*time.Second)), Config{Network: westend})
	defer c.Close()

	if _, err := c.QueryAccount(context.Background(), alice); err != nil {
		t.Fatalf("QueryAccount: %v", err)
	}
	h, ok := c.Health()
	if !ok || !h.Available || h.ErrorRate != 0 {
		t.Fatalf("health after a successful call = %+v", h)
	}
	if h.MonitorStats == nil || h.MonitorStats.RequestsLast1Hour != 1 {
		t.Errorf("monitor stats = %+v", h.MonitorStats)
	}

	throttle.Store(true)
	if _, err := c.QueryAccount(context.Background(), alice); err == nil {
		t.Fatal("expected throttled call to fail")
	}
	h, _ = c.Health()
	if h.Available || h.MonitorStats.Status != provider.StatusThrottled {
		t.Errorf("throttled endpoint should be unavailable, got %+v", h)
	}
}
