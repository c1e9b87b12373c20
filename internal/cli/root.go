package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"
	"github.com/vietddude/walletd/internal/core/config"
)

var (
	cfgPath    string
	envPath    string
	isDebug    bool
	assumeYes  bool
	loadedConf *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "walletd",
	Short: "Wallet session and transfer manager",
	Long: `walletd connects a signing wallet to a Substrate network, tracks the
balance of an account and submits transfers, following them to finality.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (defaults are used when it does not exist)")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "env file loaded before the config")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "authorize wallet access without prompting")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnv(envPath); err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load env file", "error", err)
		return err
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		return err
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	loadedConf = cfg
	return nil
}
