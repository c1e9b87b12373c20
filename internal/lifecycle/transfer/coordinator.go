// Package transfer validates, submits and follows transfers.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/walletd/internal/core/amount"
	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/core/ss58"
	"github.com/vietddude/walletd/internal/infra/chain"
	"github.com/vietddude/walletd/internal/metrics"
)

// Submitter is the write side of a network session.
type Submitter interface {
	SignAndSubmit(ctx context.Context, call domain.TransferCall, from string, signer chain.Signer) (chain.TxWatch, error)
}

// Config configures a Coordinator.
type Config struct {
	Network   domain.Network
	KeepAlive bool

	// Observe is called synchronously with every update of every
	// submission, including the ones of submissions that fail before
	// broadcast.
	Observe func(domain.TransferUpdate)
	Logger  *slog.Logger
}

// Coordinator drives submissions. Submissions are independent of each
// other.
type Coordinator struct {
	cfg Config
	log *slog.Logger
	now func() time.Time
}

func NewCoordinator(cfg Config) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg: cfg,
		log: log.With("network", cfg.Network.Name),
		now: time.Now,
	}
}

// Submit validates req, converts it to raw units and broadcasts it through
// s, signed by signer on behalf of from. Failures before broadcast are
// returned; after broadcast the outcome is reported by the submission. ctx
// bounds the whole submission: when it expires the submission fails with
// ErrTimeout or ErrCanceled.
func (c *Coordinator) Submit(
	ctx context.Context,
	s Submitter,
	signer chain.Signer,
	from string,
	req domain.TransferRequest,
) (*Submission, error) {
	sub := newSubmission(uuid.NewString(), from, req.Destination, c.cfg.Observe)
	start := c.now()
	sub.publish(c.update(domain.TxStatusValidating))

	if err := validate(req); err != nil {
		c.fail(sub, start, err)
		return nil, err
	}

	sub.publish(c.update(domain.TxStatusConverting))
	raw, err := amount.ToRaw(req.Amount, c.cfg.Network.Decimals)
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		c.fail(sub, start, err)
		return nil, err
	}
	if raw.Sign() <= 0 {
		err = fmt.Errorf("%w: amount is smaller than the network's smallest unit", domain.ErrInvalidInput)
		c.fail(sub, start, err)
		return nil, err
	}
	if raw.Cmp(amount.MaxRaw) > 0 {
		err = fmt.Errorf("%w: amount exceeds the largest balance", domain.ErrInvalidInput)
		c.fail(sub, start, err)
		return nil, err
	}
	if !amount.Exact(req.Amount, c.cfg.Network.Decimals) {
		c.log.Warn("Amount rounded to network precision", "id", sub.ID, "amount", req.Amount, "raw", raw)
	}
	sub.setAmount(raw)

	sub.publish(c.update(domain.TxStatusSubmitting))
	call := domain.TransferCall{Destination: req.Destination, Amount: raw, KeepAlive: c.cfg.KeepAlive}
	watch, err := s.SignAndSubmit(ctx, call, from, signer)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = domain.ContextError(ctx.Err())
		case domain.KindOf(err) == domain.KindUnknown:
			err = fmt.Errorf("%w: %w", domain.ErrSubmission, err)
		}
		c.fail(sub, start, err)
		return nil, err
	}

	u := c.update(domain.TxStatusSubmitted)
	u.TxHash = watch.TxHash()
	sub.publish(u)
	c.log.Info("Transfer submitted", "id", sub.ID, "account", from, "tx", u.TxHash, "amount", raw)

	go c.follow(ctx, sub, watch, start)
	return sub, nil
}

func validate(req domain.TransferRequest) error {
	if req.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", domain.ErrInvalidInput)
	}
	if !ss58.Valid(req.Destination) {
		return fmt.Errorf("%w: invalid destination address %q", domain.ErrInvalidInput, req.Destination)
	}
	return nil
}

// follow consumes the status watch until the submission is terminal.
func (c *Coordinator) follow(ctx context.Context, sub *Submission, watch chain.TxWatch, start time.Time) {
	defer watch.Close()

	for {
		select {
		case <-ctx.Done():
			c.fail(sub, start, domain.ContextError(ctx.Err()))
			return
		case ev, ok := <-watch.Updates():
			if !ok {
				c.fail(sub, start, fmt.Errorf("%w: status stream ended before a terminal status", domain.ErrConnection))
				return
			}
			if c.apply(sub, ev, start) {
				return
			}
		}
	}
}

// apply advances sub by ev and reports whether sub is terminal.
func (c *Coordinator) apply(sub *Submission, ev domain.TxStatusEvent, start time.Time) bool {
	switch ev.Status {
	case domain.TxStatusSubmitted:
		// repeated pool statuses
		return false

	case domain.TxStatusIncludedInBlock, domain.TxStatusFinalized:
		if ev.DispatchError != nil {
			u := c.update(domain.TxStatusFailed)
			u.BlockHash = ev.BlockHash
			u.DispatchError = ev.DispatchError
			u.Err = fmt.Errorf("%w: %w", domain.ErrDispatchFailed, ev.DispatchError)
			c.finish(sub, start, u)
			return true
		}
		u := c.update(ev.Status)
		u.BlockHash = ev.BlockHash
		if ev.Status == domain.TxStatusFinalized {
			c.finish(sub, start, u)
			return true
		}
		sub.publish(u)
		c.log.Info("Transfer included in block", "id", sub.ID, "tx", ev.TxHash, "block", ev.BlockHash)
		return false

	case domain.TxStatusFailed:
		err := ev.Err
		if err == nil {
			err = domain.ErrSubmission
		} else if domain.KindOf(err) == domain.KindUnknown {
			err = fmt.Errorf("%w: %w", domain.ErrSubmission, err)
		}
		c.fail(sub, start, err)
		return true
	}
	return false
}

func (c *Coordinator) update(status domain.TxStatus) domain.TransferUpdate {
	return domain.TransferUpdate{Status: status, At: c.now()}
}

func (c *Coordinator) fail(sub *Submission, start time.Time, err error) {
	u := c.update(domain.TxStatusFailed)
	u.Err = err
	var de *domain.DispatchError
	if errors.As(err, &de) {
		u.DispatchError = de
	}
	c.finish(sub, start, u)
}

func (c *Coordinator) finish(sub *Submission, start time.Time, u domain.TransferUpdate) {
	if !sub.publish(u) {
		return
	}
	kind := string(domain.KindOf(u.Err))
	if kind == "" {
		kind = "none"
	}
	network := string(c.cfg.Network.Name)
	metrics.TransfersTotal.WithLabelValues(network, string(u.Status), kind).Inc()
	metrics.TransferDuration.WithLabelValues(network, string(u.Status)).Observe(c.now().Sub(start).Seconds())

	last := sub.Last()
	if u.Err != nil {
		c.log.Warn("Transfer failed", "id", sub.ID, "account", sub.From, "tx", last.TxHash, "kind", kind, "error", u.Err)
		return
	}
	c.log.Info("Transfer finalized", "id", sub.ID, "account", sub.From, "tx", last.TxHash, "block", last.BlockHash)
}
