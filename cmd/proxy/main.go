package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/vdb/pkg/log"
	"github.com/cuemby/vdb/pkg/proxy"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "proxy <config-file>",
	Short:   "vdb proxy: partition-aware routing in front of the storage node cluster",
	Version: Version,
	Args:    cobra.ExactArgs(1),
	RunE:    run,
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	proxyLog := log.WithComponent("proxy-main")

	router := proxy.NewRouter(proxy.Config{
		InstanceID:         cfg.InstanceID,
		CoordinatorBaseURL: fmt.Sprintf("http://%s:%d", cfg.MasterCoordinatorHost, cfg.MasterCoordinatorPort),
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := router.Start(startCtx); err != nil {
		return fmt.Errorf("fetch initial topology: %w", err)
	}
	defer router.Stop()

	server := proxy.NewServer(router)
	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		proxyLog.Info().Str("addr", addr).Msg("proxy listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("proxy server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		proxyLog.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		proxyLog.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return nil
}
