package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vietddude/walletd/internal/core/domain"
)

// Emitter defines the interface for publishing session events
type Emitter interface {
	// Emit sends a single event
	Emit(ctx context.Context, event *domain.Event) error

	// Close closes the emitter connection
	Close() error
}

// LogEmitter writes events to a structured logger.
type LogEmitter struct {
	log *slog.Logger
}

func NewLogEmitter(log *slog.Logger) *LogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(_ context.Context, event *domain.Event) error {
	attrs := []any{"type", event.Type, "network", event.Network}
	if event.Account != "" {
		attrs = append(attrs, "account", event.Account)
	}
	switch event.Type {
	case domain.EventTypeBalanceUpdated:
		if event.Balance != nil {
			attrs = append(attrs, "balance", event.Balance.Display, "symbol", event.Balance.Symbol)
		}
	case domain.EventTypeTransferStatus:
		if t := event.Transfer; t != nil {
			attrs = append(attrs, "id", t.ID, "status", t.Status)
			if t.TxHash != "" {
				attrs = append(attrs, "tx", t.TxHash)
			}
			if t.Err != nil {
				attrs = append(attrs, "error", t.Err)
			}
		}
	case domain.EventTypeSessionState:
		attrs = append(attrs, "state", event.State)
	}
	e.log.Info("Event", attrs...)
	return nil
}

func (e *LogEmitter) Close() error { return nil }

// Multi fans an event out to several emitters. Every emitter is attempted;
// errors are joined.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, e := range m {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, *domain.Event) error { return nil }
func (Nop) Close() error                              { return nil }
