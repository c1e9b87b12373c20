package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/walletd/internal/api"
	"github.com/vietddude/walletd/internal/control"
	"github.com/vietddude/walletd/internal/core/worker"
	"golang.org/x/time/rate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect the wallet, track the balance and serve the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadedConf

	orch, net, err := newOrchestrator(cfg)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		return err
	}
	emitter := newEmitter(cfg)
	defer emitter.Close()

	app := control.NewApp(net, orch, emitter, *cfg.Network.KeepAlive)
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	server := api.NewServer(app, app, cfg.Server.Port, limiter)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// setup failures are reported through /state; the server keeps running
	go func() {
		if err := app.Start(ctx); err != nil {
			slog.Error("Failed to start session", "error", err)
		}
	}()

	go worker.NewPruner(app, cfg.Server.TransferRetention).Start(ctx)

	slog.Info("walletd started", "network", net.Name, "port", cfg.Server.Port, "config", cfgPath)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	app.Stop()
	if err := server.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		return err
	}
	slog.Info("walletd stopped gracefully")
	return nil
}
