package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spiffe/go-spiffe/v2/spiffeid"

	"github.com/sufield/credo/internal/adapters/metrics"
	serverapi "github.com/sufield/credo/internal/adapters/primary/workloadapi"
	"github.com/sufield/credo/internal/adapters/secondary/keystore"
	"github.com/sufield/credo/internal/config"
	"github.com/sufield/credo/internal/core/ports"
	"github.com/sufield/credo/internal/core/services"
)

var workloadAPICmd = &cobra.Command{
	Use:   "workload-api",
	Short: "Run the Workload API (mini-CA)",
	Long: `Run the Workload API: attest workloads against their registered
secrets and issue short-lived X.509 SVIDs signed by the process CA.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWorkloadAPI(cmd.Context())
	},
}

func runWorkloadAPI(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger().With("component", "workload-api")

	td, err := spiffeid.TrustDomainFromString(cfg.TrustDomain)
	if err != nil {
		return fmt.Errorf("invalid trust domain: %w", err)
	}

	var store ports.SecureKeyStore
	if cfg.CADir != "" {
		store, err = keystore.NewFilesystemStore(cfg.CADir)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("no ca_dir configured, CA key pair will not survive restarts")
		store = keystore.NewMemoryStore()
	}

	ca, err := services.NewCertificateAuthority(services.CertificateAuthorityConfig{
		Store:       store,
		TrustDomain: td,
		LeafTTL:     time.Duration(cfg.DefaultCertificateTTLSeconds) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := ca.LoadOrCreate(ctx); err != nil {
		return err
	}

	scheme, err := services.NewStaticSecretScheme(cfg.AttestationSecrets)
	if err != nil {
		return err
	}
	reporter := metrics.NewPrometheusMetrics()
	registry, err := services.NewAttestationRegistry(services.AttestationRegistryConfig{
		Schemes: []ports.AttestationScheme{scheme},
		Metrics: reporter,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	srv, err := serverapi.NewServer(serverapi.ServerConfig{
		Registry: registry,
		CA:       ca,
		Metrics:  reporter,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	return serve(ctx, logger, &http.Server{
		Addr:              cfg.WorkloadAPIListen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	})
}

// serve runs an HTTP server until the context is canceled or a termination
// signal arrives, then drains it.
func serve(ctx context.Context, logger *slog.Logger, srv *http.Server) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return err
	}
	return nil
}
