package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vietddude/walletd/internal/infra/rpc/provider"
)

type fakeStream struct {
	ch chan json.RawMessage

	mu           sync.Mutex
	err          error
	unsubscribed bool
	closeOnce    sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan json.RawMessage, 16)}
}

func (s *fakeStream) Notifications() <-chan json.RawMessage { return s.ch }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Unsubscribe(context.Context) error {
	s.mu.Lock()
	s.unsubscribed = true
	s.mu.Unlock()
	s.end(nil)
	return nil
}

func (s *fakeStream) isUnsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

// end closes the stream with err as its reason.
func (s *fakeStream) end(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}

func (s *fakeStream) send(v any) {
	b, _ := json.Marshal(v)
	s.ch <- b
}

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]func(params []any) (any, error)
	calls    []string
	subs     []provider.SubscribeRequest
	streams  []*fakeStream
	subErr   error
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: map[string]func([]any) (any, error){}}
}

func (f *fakeTransport) handle(method string, fn func(params []any) (any, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = fn
}

func (f *fakeTransport) reply(method string, result any) {
	f.handle(method, func([]any) (any, error) { return result, nil })
}

func (f *fakeTransport) Call(_ context.Context, method string, params []any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	h := f.handlers[method]
	f.mu.Unlock()

	if h == nil {
		return nil, &provider.RPCError{Code: -32601, Message: fmt.Sprintf("Method not found: %s", method)}
	}
	res, err := h(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (f *fakeTransport) Subscribe(_ context.Context, req provider.SubscribeRequest) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.subs = append(f.subs, req)
	s := newFakeStream()
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) lastStream() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

func (f *fakeTransport) lastSubscribe() provider.SubscribeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}
