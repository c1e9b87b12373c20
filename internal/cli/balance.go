package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/core/ss58"
	"github.com/vietddude/walletd/internal/infra/rpc/provider"
	"github.com/vietddude/walletd/internal/lifecycle/balance"
	"github.com/vietddude/walletd/internal/lifecycle/network"
)

var balanceTimeout time.Duration

var balanceCmd = &cobra.Command{
	Use:   "balance <address>",
	Short: "Print the transferable balance of an address",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

func init() {
	balanceCmd.Flags().DurationVar(&balanceTimeout, "timeout", 30*time.Second, "query timeout")
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
	cfg := loadedConf
	net, err := cfg.Network.ResolveNetwork()
	if err != nil {
		return err
	}
	address := args[0]
	if !ss58.Valid(address) {
		return fmt.Errorf("invalid address %q", address)
	}

	ctx, cancel := context.WithTimeout(context.Background(), balanceTimeout)
	defer cancel()

	// a one-shot query needs no websocket
	var lastErr error
	for _, endpoint := range net.Endpoints {
		session, err := network.Open(ctx, newDialer(cfg, net), provider.HTTPEndpoint(endpoint))
		if err != nil {
			lastErr = err
			continue
		}
		snap, err := balance.NewTracker(net).FetchOnce(ctx, session, address)
		session.Close()
		if err != nil {
			lastErr = err
			slog.Warn("Balance query failed", "endpoint", endpoint, "error", err)
			continue
		}
		fmt.Printf("%s %s\n", snap.Display, snap.Symbol)
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no endpoints configured", domain.ErrConnection)
	}
	slog.Error("Failed to fetch balance", "address", address, "error", lastErr)
	return errors.New(domain.UserMessage(lastErr))
}
