package provider

import (
	"context"
	"encoding/json"
	"sync"
)

// Subscription is a live server push stream. Notifications are delivered in
// arrival order on an unbounded queue so the read loop never blocks on a
// slow consumer.
type Subscription struct {
	p   *WSProvider
	req SubscribeRequest

	out  chan json.RawMessage
	wake chan struct{}
	stop chan struct{}

	stopOnce  sync.Once
	unsubOnce sync.Once

	mu       sync.Mutex
	id       string
	queue    []json.RawMessage
	finished bool
	err      error
}

func newSubscription(p *WSProvider, req SubscribeRequest) *Subscription {
	s := &Subscription{
		p:    p,
		req:  req,
		out:  make(chan json.RawMessage),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	go s.pump()
	return s
}

// Notifications returns the notification stream. It is closed when the
// subscription ends; Err then reports why.
func (s *Subscription) Notifications() <-chan json.RawMessage {
	return s.out
}

// Err returns the reason the subscription ended, or nil if it is live or
// was unsubscribed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ID returns the server-assigned id. It changes after a resubscribe.
func (s *Subscription) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Unsubscribe stops delivery and asks the node to drop the subscription.
// Queued notifications are discarded. It is idempotent.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.unsubOnce.Do(func() {
		id := s.p.forget(s)
		s.mu.Lock()
		s.finished = true
		s.queue = nil
		s.mu.Unlock()
		s.stopOnce.Do(func() { close(s.stop) })

		if s.req.Unsubscribe != "" && id != "" && !s.p.closing() {
			_, err = s.p.Call(ctx, s.req.Unsubscribe, []any{id})
		}
	})
	return err
}

func (s *Subscription) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func (s *Subscription) isFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Subscription) push(msg json.RawMessage) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	s.signal()
}

// finish ends the subscription after queued notifications are delivered.
func (s *Subscription) finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.err = err
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.wake:
			case <-s.stop:
				return
			}
			continue
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- msg:
		case <-s.stop:
			return
		}
	}
}
