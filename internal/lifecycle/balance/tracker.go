// Package balance reads and follows the transferable balance of an account.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/vietddude/walletd/internal/core/amount"
	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/infra/chain"
	"github.com/vietddude/walletd/internal/metrics"
)

// Reader is the read side of a network session.
type Reader interface {
	QueryAccount(ctx context.Context, address string) (domain.AccountInfo, error)
	SubscribeAccount(ctx context.Context, address string) (chain.AccountWatch, error)
}

// Unsubscribe stops a balance subscription. It blocks until no update is
// being delivered and is safe to call more than once. It must not be called
// from inside the update callback.
type Unsubscribe func()

// Tracker renders ledger entries as balance snapshots for one network.
type Tracker struct {
	network domain.Network
	log     *slog.Logger
	now     func() time.Time
}

func NewTracker(network domain.Network) *Tracker {
	return &Tracker{
		network: network,
		log:     slog.Default().With("network", network.Name),
		now:     time.Now,
	}
}

// FetchOnce queries the current balance of account.
func (t *Tracker) FetchOnce(ctx context.Context, r Reader, account string) (domain.BalanceSnapshot, error) {
	info, err := r.QueryAccount(ctx, account)
	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			err = fmt.Errorf("%w: %w", domain.ErrConnection, err)
		}
		return domain.BalanceSnapshot{}, fmt.Errorf("failed to fetch balance: %w", err)
	}
	return t.snapshot(account, info.Free, ""), nil
}

// Subscribe calls onUpdate with a fresh snapshot on every ledger change of
// account. Updates are delivered one at a time from a single goroutine.
func (t *Tracker) Subscribe(
	ctx context.Context,
	r Reader,
	account string,
	onUpdate func(domain.BalanceSnapshot),
) (Unsubscribe, error) {
	watch, err := r.SubscribeAccount(ctx, account)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.ContextError(ctx.Err())
		}
		if domain.KindOf(err) != domain.KindSubscription {
			err = fmt.Errorf("%w: %w", domain.ErrSubscription, err)
		}
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case change, ok := <-watch.Changes():
				if !ok {
					t.log.Warn("Balance subscription ended", "account", account)
					return
				}
				select {
				case <-stop:
					return
				default:
				}
				metrics.BalanceUpdates.WithLabelValues(string(t.network.Name)).Inc()
				onUpdate(t.snapshot(account, change.Info.Free, change.Block))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := watch.Close(); err != nil {
				t.log.Warn("Failed to release balance subscription", "account", account, "error", err)
			}
		})
	}, nil
}

func (t *Tracker) snapshot(account string, free *big.Int, block string) domain.BalanceSnapshot {
	if free == nil {
		free = new(big.Int)
	}
	return domain.BalanceSnapshot{
		Address:    account,
		Free:       new(big.Int).Set(free),
		Decimals:   t.network.Decimals,
		Symbol:     t.network.Symbol,
		Display:    amount.Format(free, t.network.Decimals),
		Block:      block,
		ObservedAt: t.now(),
	}
}
