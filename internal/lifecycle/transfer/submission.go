package transfer

import (
	"context"
	"math/big"
	"sync"

	"github.com/vietddude/walletd/internal/core/domain"
)

// Submission is one transfer moving through the status state machine.
type Submission struct {
	ID          string
	From        string
	Destination string

	mu       sync.Mutex
	amount   *big.Int
	history  []domain.TransferUpdate
	terminal bool
	changed  chan struct{} // closed and replaced on every update
	done     chan struct{}
	observe  func(domain.TransferUpdate)
}

func newSubmission(id, from, dest string, observe func(domain.TransferUpdate)) *Submission {
	return &Submission{
		ID:          id,
		From:        from,
		Destination: dest,
		changed:     make(chan struct{}),
		done:        make(chan struct{}),
		observe:     observe,
	}
}

// Updates replays every update of the submission from the first one. The
// channel is closed right after the terminal update, or when ctx is done so
// that a reader may stop early.
func (s *Submission) Updates(ctx context.Context) <-chan domain.TransferUpdate {
	out := make(chan domain.TransferUpdate)
	go s.pump(ctx, out)
	return out
}

// Done is closed once the submission reached a terminal status.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Last returns the most recent update.
func (s *Submission) Last() domain.TransferUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[len(s.history)-1]
}

// Wait blocks until the submission is terminal and returns its outcome. The
// error is the outcome's error; ctx only bounds the wait.
func (s *Submission) Wait(ctx context.Context) (domain.TransferUpdate, error) {
	select {
	case <-s.done:
		out := s.Last()
		return out, out.Err
	case <-ctx.Done():
		return domain.TransferUpdate{}, domain.ContextError(ctx.Err())
	}
}

func (s *Submission) setAmount(raw *big.Int) {
	s.mu.Lock()
	s.amount = raw
	s.mu.Unlock()
}

// publish records u and reports whether it was accepted. Nothing is
// accepted after a terminal update.
func (s *Submission) publish(u domain.TransferUpdate) bool {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return false
	}
	u.ID = s.ID
	u.From = s.From
	u.Destination = s.Destination
	if s.amount != nil {
		u.Amount = new(big.Int).Set(s.amount)
	}
	if n := len(s.history); n > 0 {
		prev := s.history[n-1]
		if u.TxHash == "" {
			u.TxHash = prev.TxHash
		}
		if u.BlockHash == "" && u.Status != domain.TxStatusSubmitted {
			u.BlockHash = prev.BlockHash
		}
	}
	s.history = append(s.history, u)
	s.terminal = u.Status.Terminal()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if s.observe != nil {
		s.observe(u)
	}
	if u.Status.Terminal() {
		close(s.done)
	}
	return true
}

func (s *Submission) pump(ctx context.Context, out chan<- domain.TransferUpdate) {
	defer close(out)
	sent := 0
	for {
		s.mu.Lock()
		pending := append([]domain.TransferUpdate(nil), s.history[sent:]...)
		terminal := s.terminal
		changed := s.changed
		s.mu.Unlock()

		for _, u := range pending {
			select {
			case out <- u:
				sent++
			case <-ctx.Done():
				return
			}
		}
		if len(pending) > 0 {
			continue
		}
		if terminal {
			return
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return
		}
	}
}
