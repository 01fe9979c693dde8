// Command han-remote runs the remote synced-session service: it accepts
// encrypted session uploads from han daemons, stores them at rest behind
// per-owner envelope crypto, and serves them back out.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebushidocollective/han/internal/remote"
	"github.com/thebushidocollective/han/internal/storage"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "han-remote",
	Short:   "han-remote - the remote synced-session service",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("HAN_REMOTE_LOG_FORMAT") != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	dsn := os.Getenv("HAN_REMOTE_POSTGRES_DSN")
	if dsn == "" {
		return fmt.Errorf("HAN_REMOTE_POSTGRES_DSN is required")
	}
	rootSecret := os.Getenv("HAN_REMOTE_ROOT_SECRET")
	if rootSecret == "" {
		return fmt.Errorf("HAN_REMOTE_ROOT_SECRET is required")
	}
	listenAddr := os.Getenv("HAN_REMOTE_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = "0.0.0.0:41959"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.OpenPostgres(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres store: %w", err)
	}
	defer store.Close()

	remoteStore, ok := store.(storage.RemoteStore)
	if !ok {
		return fmt.Errorf("postgres backend does not implement RemoteStore")
	}

	svc := remote.NewService(remoteStore, rootSecret, nil)
	srv := remote.NewServer(svc)

	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", listenAddr).Msg("han-remote listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("han-remote server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down han-remote")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("han-remote shutdown error")
	}
	return nil
}
