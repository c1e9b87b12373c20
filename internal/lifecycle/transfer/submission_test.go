package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/walletd/internal/core/domain"
)

func TestSubmission_UpdatesReleasedWhenReaderStops(t *testing.T) {
	sub := newSubmission("id-1", alice, bob, nil)
	sub.publish(domain.TransferUpdate{Status: domain.TxStatusValidating})
	sub.publish(domain.TransferUpdate{Status: domain.TxStatusConverting})

	ctx, cancel := context.WithCancel(context.Background())
	updates := sub.Updates(ctx)
	// The reader goes away without draining a submission that never ends.
	cancel()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("updates channel not closed after the reader's context ended")
		}
	}
}

func TestSubmission_UpdatesReplayForEachReader(t *testing.T) {
	sub := newSubmission("id-1", alice, bob, nil)
	sub.publish(domain.TransferUpdate{Status: domain.TxStatusValidating})

	first := sub.Updates(context.Background())
	second := sub.Updates(context.Background())

	sub.publish(domain.TransferUpdate{Status: domain.TxStatusSubmitted, TxHash: "0xabc"})
	sub.publish(domain.TransferUpdate{Status: domain.TxStatusFinalized, BlockHash: "0xb1"})

	want := []domain.TxStatus{domain.TxStatusValidating, domain.TxStatusSubmitted, domain.TxStatusFinalized}
	for i, ch := range []<-chan domain.TransferUpdate{first, second} {
		var got []domain.TxStatus
		timeout := time.After(2 * time.Second)
	read:
		for {
			select {
			case u, ok := <-ch:
				if !ok {
					break read
				}
				got = append(got, u.Status)
			case <-timeout:
				t.Fatalf("reader %d: channel not closed", i)
			}
		}
		if len(got) != len(want) {
			t.Fatalf("reader %d got %v, want %v", i, got, want)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("reader %d update %d = %s, want %s", i, j, got[j], want[j])
			}
		}
	}
}

func TestSubmission_NothingAfterTerminal(t *testing.T) {
	sub := newSubmission("id-1", alice, bob, nil)
	if !sub.publish(domain.TransferUpdate{Status: domain.TxStatusFailed}) {
		t.Fatal("terminal update rejected")
	}
	if sub.publish(domain.TransferUpdate{Status: domain.TxStatusFinalized}) {
		t.Error("update accepted after terminal")
	}
	if sub.Last().Status != domain.TxStatusFailed {
		t.Errorf("last = %s", sub.Last().Status)
	}
	select {
	case <-sub.Done():
	default:
		t.Error("expected done closed")
	}
}
