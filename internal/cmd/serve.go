package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/homewarden/warden/internal/server"
)

var (
	servePort      int
	serveRateLimit float64
	serveRateBurst int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the warden HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8099, "HTTP server port")
	serveCmd.Flags().Float64Var(&serveRateLimit, "rate-limit", 5, "requests per second across all callers (0 disables)")
	serveCmd.Flags().IntVar(&serveRateBurst, "rate-burst", 10, "rate limit burst size")
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys splits WARDEN_API_KEYS (comma-separated).
func parseAPIKeys(env string) []string {
	var keys []string
	for _, part := range strings.Split(env, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, part)
		}
	}
	return keys
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	// Age-based rotation runs at startup and then hourly; requests also
	// trigger it, so the schedule only matters for idle periods.
	if err := a.store.MaybeRotate(ctx); err != nil {
		log.Warn().Err(err).Msg("history_rotation_failed")
	}
	scheduler := cron.New()
	_, err = scheduler.AddFunc("@hourly", func() {
		if err := a.store.MaybeRotate(context.Background()); err != nil {
			log.Warn().Err(err).Msg("history_rotation_failed")
		}
	})
	if err != nil {
		return fmt.Errorf("registering rotation schedule: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	apiKeys := parseAPIKeys(os.Getenv("WARDEN_API_KEYS"))
	if len(apiKeys) == 0 {
		log.Warn().Msg("WARDEN_API_KEYS not set — API endpoints are unauthenticated. Set for production.")
	}

	srv := server.NewServer(a.pipeline, a.catalog, a.store, a.audit,
		server.WithAPIKeys(apiKeys),
		server.WithRateLimit(serveRateLimit, serveRateBurst),
	)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("model", a.cfg.Model).
		Int("actions", len(a.catalog.ActionNames())).
		Bool("auth", len(apiKeys) > 0).
		Msg("warden_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
