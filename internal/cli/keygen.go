package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vietddude/walletd/internal/infra/keyring"
)

var keygenAccounts int

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new mnemonic for the keyring wallet",
	RunE:  runKeygen,
}

func init() {
	keygenCmd.Flags().IntVar(&keygenAccounts, "accounts", 1, "number of derived accounts to print")
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	net, err := loadedConf.Network.ResolveNetwork()
	if err != nil {
		return err
	}
	mnemonic, err := keyring.NewMnemonic()
	if err != nil {
		return err
	}
	kr, err := keyring.FromMnemonic(mnemonic, keyring.Options{
		Accounts:   keygenAccounts,
		SS58Prefix: net.SS58Prefix,
		Authorize:  keyring.AllowAll,
	})
	if err != nil {
		return err
	}
	inj, err := kr.Enable(cmd.Context(), "walletd keygen")
	if err != nil {
		return err
	}
	accounts, err := inj.Accounts(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Mnemonic: %s\n", mnemonic)
	for _, a := range accounts {
		fmt.Printf("%-6s %s\n", a.Name, a.Address)
	}
	fmt.Println("\nStore the mnemonic in WALLETD_MNEMONIC and reference it from config.yaml.")
	return nil
}
