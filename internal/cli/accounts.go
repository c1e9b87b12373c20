package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/lifecycle/wallet"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List the accounts exposed by the configured wallet",
	RunE:  runAccounts,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
}

func runAccounts(cmd *cobra.Command, args []string) error {
	cfg := loadedConf
	net, err := cfg.Network.ResolveNetwork()
	if err != nil {
		return err
	}
	providers, err := walletProviders(cfg, net)
	if err != nil {
		return err
	}

	conn, err := wallet.NewConnector(cfg.Wallet.AppName, providers).Connect(context.Background(), cfg.Wallet.ID)
	if err != nil {
		slog.Error("Failed to connect wallet", "wallet", cfg.Wallet.ID, "error", err)
		return errors.New(domain.UserMessage(err))
	}
	defer conn.Disconnect()

	if len(conn.Accounts) == 0 {
		fmt.Println("No accounts available in the wallet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tADDRESS")
	for i, a := range conn.Accounts {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i, a.DisplayName(), a.Address)
	}
	return w.Flush()
}
