package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/bioauth/internal/web"
	"github.com/kozaktomas/bioauth/internal/web/middleware"
)

const (
	shutdownTimeout   = 30 * time.Second
	readinessInterval = 2 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the bioauth HTTP API.

Face endpoints live at /register, /authenticate, /validate_registration,
/identify, /compare and /delete/{identity}; voice endpoints under /auth.
Biometric endpoints answer 503 until the store and the embedding model
server respond.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" && !cmd.Flags().Changed("port") {
		if p, err := strconv.Atoi(envPort); err == nil && p > 0 {
			port = p
		}
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" && !cmd.Flags().Changed("host") {
		host = envHost
	}
	return port, host
}

// awaitReadiness probes the store and the extractor until both answer, then
// opens the gate.
func awaitReadiness(ctx context.Context, a *app, readiness *middleware.Readiness) {
	ticker := time.NewTicker(readinessInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, readinessInterval)
		storeErr := a.store.Ping(probeCtx)
		extractorErr := a.extractor.Ping(probeCtx)
		cancel()

		if storeErr == nil && extractorErr == nil {
			readiness.Set(true)
			a.logger.Info("service ready", zap.Int("attempts", attempt))
			return
		}
		if attempt == 1 || attempt%15 == 0 {
			a.logger.Warn("waiting for dependencies",
				zap.Int("attempt", attempt),
				zap.NamedError("store", storeErr),
				zap.NamedError("extractor", extractorErr),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	port, host := resolveServeHostPort(cmd)
	readiness := middleware.NewReadiness()

	server := web.NewServer(web.Deps{
		Face:           a.face,
		Voice:          a.voice,
		Store:          a.store,
		Extractor:      a.extractor,
		STTProvider:    a.transcriber.Name(),
		Backend:        a.cfg.Store.Backend,
		MaxSampleBytes: a.cfg.MaxSampleBytes,
		AllowedOrigins: a.cfg.Web.AllowedOrigins,
		Readiness:      readiness,
		Gatherer:       a.registry,
		Logger:         a.logger,
	}, port, host)

	go awaitReadiness(ctx, a, readiness)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		a.logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	fmt.Printf("Starting bioauth on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
