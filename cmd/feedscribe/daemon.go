package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/feedscribe/feedscribe"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler and webhook listener until terminated",
		Long: `Runs the standing jobs (hourly feed processing, digest delivery, account
cleanup) and, when a webhook service is configured, listens for push
callbacks. SIGINT/SIGTERM shut down gracefully, letting in-flight feed
cycles finish; a second signal aborts them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := feedscribe.New(cfg)
			if err != nil {
				return err
			}
			if err := engine.Start(); err != nil {
				engine.Shutdown(false)
				return err
			}

			var server *http.Server
			if cfg.Webhook.ServiceURL != "" {
				mux := http.NewServeMux()
				mux.Handle("/api/webhook", engine.CallbackHandler())
				server = &http.Server{Addr: cfg.Webhook.ListenAddr, Handler: mux}
				go func() {
					log.Info().Str("addr", cfg.Webhook.ListenAddr).Msg("webhook listener started")
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Msg("webhook listener failed")
					}
				}()
			}

			sig := make(chan os.Signal, 2)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			log.Info().Msg("shutdown signal received, draining")

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				server.Shutdown(shutdownCtx)
				cancel()
			}

			done := make(chan struct{})
			go func() {
				engine.Shutdown(true)
				close(done)
			}()
			select {
			case <-done:
				log.Info().Msg("shutdown complete")
			case <-sig:
				log.Warn().Msg("second signal, aborting in-flight jobs")
				engine.Shutdown(false)
			}
			return nil
		},
	}
}
