package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sufield/credo/internal/adapters/metrics"
	"github.com/sufield/credo/internal/adapters/primary/userapi"
	"github.com/sufield/credo/internal/config"
	"github.com/sufield/credo/internal/core/domain"
	"github.com/sufield/credo/internal/core/services"
)

var userServiceCmd = &cobra.Command{
	Use:   "user-service",
	Short: "Run the delegation token service",
	Long: `Run the delegation token service: user registration and login, plus
issuance and validation of audience-bound delegation tokens.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runUserService(cmd.Context())
	},
}

func runUserService(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger().With("component", "user-service")

	secret, err := cfg.SigningKey()
	if err != nil {
		return err
	}
	if secret == nil {
		return fmt.Errorf("delegation_signing_key is required to run the delegation token service")
	}

	identity, err := domain.NewServiceIdentity(cfg.UserServiceName, cfg.TrustDomain)
	if err != nil {
		return err
	}
	issuerID, err := identity.SPIFFEID()
	if err != nil {
		return err
	}

	issuer, err := services.NewDelegationIssuer(services.DelegationIssuerConfig{
		Secret:     secret,
		IssuerID:   issuerID,
		DefaultTTL: time.Duration(cfg.DefaultDelegationTTLSeconds) * time.Second,
		MaxTTL:     time.Duration(cfg.MaxDelegationTTLSeconds) * time.Second,
		Metrics:    metrics.NewPrometheusMetrics(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	userTokens, err := services.NewUserTokenService(secret, issuerID.String(), time.Duration(cfg.UserTokenTTLSeconds)*time.Second)
	if err != nil {
		return err
	}

	srv, err := userapi.NewServer(userapi.ServerConfig{
		Users:      services.NewUserStore(),
		UserTokens: userTokens,
		Issuer:     issuer,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	return serve(ctx, logger, &http.Server{
		Addr:              cfg.UserAPIListen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	})
}
