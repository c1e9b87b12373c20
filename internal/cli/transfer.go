package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/walletd/internal/control"
	"github.com/vietddude/walletd/internal/core/amount"
	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/lifecycle/transfer"
)

var transferTimeout time.Duration

var transferCmd = &cobra.Command{
	Use:   "transfer <destination> <amount>",
	Short: "Transfer funds from the wallet account and follow the transaction to finality",
	Args:  cobra.ExactArgs(2),
	RunE:  runTransfer,
}

func init() {
	transferCmd.Flags().DurationVar(&transferTimeout, "timeout", 0, "give up waiting after this long (0 waits for finality)")
	rootCmd.AddCommand(transferCmd)
}

func runTransfer(cmd *cobra.Command, args []string) error {
	cfg := loadedConf
	orch, net, err := newOrchestrator(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if transferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, transferTimeout)
		defer cancel()
	}

	td, res, err := orch.Setup(ctx, control.Hooks{})
	defer td.Close()
	if err != nil {
		return errors.New(domain.UserMessage(err))
	}
	if res.NoAccounts {
		return errors.New("no accounts available in the wallet")
	}

	value, err := amount.Parse(args[1])
	if err != nil {
		return errors.New(domain.UserMessage(fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)))
	}
	fmt.Printf("From %s (balance %s %s)\n", res.Account.Address, res.Balance.Display, net.Symbol)

	coordinator := transfer.NewCoordinator(transfer.Config{
		Network:   net,
		KeepAlive: *cfg.Network.KeepAlive,
		Logger:    slog.Default(),
	})
	sub, err := coordinator.Submit(ctx, res.Session, res.Connection.Signer, res.Account.Address, domain.TransferRequest{
		Destination: args[0],
		Amount:      value,
	})
	if err != nil {
		return errors.New(domain.UserMessage(err))
	}

	for u := range sub.Updates(ctx) {
		switch u.Status {
		case domain.TxStatusSubmitted:
			fmt.Printf("%-18s %s\n", u.Status, u.TxHash)
		case domain.TxStatusIncludedInBlock, domain.TxStatusFinalized:
			fmt.Printf("%-18s %s\n", u.Status, u.BlockHash)
		case domain.TxStatusFailed:
			fmt.Printf("%-18s %s\n", u.Status, domain.UserMessage(u.Err))
		default:
			fmt.Printf("%s\n", u.Status)
		}
	}

	// ctx bounds the submission, so it is terminal even if the loop above
	// stopped early.
	out, err := sub.Wait(context.Background())
	if err != nil {
		return errors.New(domain.UserMessage(err))
	}
	fmt.Printf("Sent %s to %s\n", amount.FormatWithSymbol(out.Amount, net.Decimals, net.Symbol), out.Destination)
	return nil
}
