// Package workloadapi exposes the Workload API over HTTP: attestation plus
// certificate bundle issuance.
package workloadapi

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sufield/credo/internal/adapters/wire"
	"github.com/sufield/credo/internal/core/domain"
	"github.com/sufield/credo/internal/core/errors"
	"github.com/sufield/credo/internal/core/ports"
	"github.com/sufield/credo/internal/core/services"
)

const (
	leafKeyBits = 2048

	// maxRequestBody bounds attestation request bodies.
	maxRequestBody = 64 << 10
)

// Server is the Workload API HTTP facade. Certificate responses carry private
// keys, so neither request nor response bodies are ever logged.
type Server struct {
	registry *services.AttestationRegistry
	ca       *services.CertificateAuthority
	metrics  ports.MetricsReporter
	logger   *slog.Logger
	router   chi.Router
}

// ServerConfig configures a Workload API server.
type ServerConfig struct {
	Registry *services.AttestationRegistry
	CA       *services.CertificateAuthority
	Metrics  ports.MetricsReporter
	Logger   *slog.Logger
}

// NewServer wires the routes onto a chi router.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Registry == nil || cfg.CA == nil {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("registry and CA are required"))
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		registry: cfg.Registry,
		ca:       cfg.CA,
		metrics:  metrics,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Route("/workload/v1", func(r chi.Router) {
		r.Post("/attest", s.handleAttest)
		r.Get("/certificates", s.handleCertificates)
		r.Get("/health", s.handleHealth)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	s.router = r
	return s, nil
}

// Handler returns the HTTP handler for mounting into an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	var req wire.AttestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ServiceName == "" {
		writeError(w, http.StatusBadRequest, "service_name is required")
		return
	}
	scheme := req.Scheme
	if scheme == "" {
		scheme = "static-secret"
	}

	ticket, err := s.registry.Attest(req.ServiceName, scheme, ports.AttestationProof(req.AttestationProof))
	if err != nil {
		// Always the same generic denial so callers cannot probe schemes.
		writeError(w, http.StatusUnauthorized, "attestation denied")
		return
	}

	writeJSON(w, http.StatusOK, wire.AttestResponse{
		Token:     ticket.ID,
		ExpiresAt: ticket.ExpiresAt,
	})
}

func (s *Server) handleCertificates(w http.ResponseWriter, r *http.Request) {
	serviceName := r.URL.Query().Get("service_name")
	if serviceName == "" {
		writeError(w, http.StatusBadRequest, "service_name query parameter is required")
		return
	}
	ticket, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer ticket")
		return
	}

	if err := s.registry.Redeem(ticket, serviceName); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired ticket")
		return
	}

	key, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		s.logger.Error("key generation failed", "service_name", serviceName, "error", err)
		writeError(w, http.StatusInternalServerError, "certificate issuance failed")
		return
	}

	cert, err := s.ca.IssueCertificate(serviceName, key.Public())
	if err != nil {
		if stderrors.Is(err, errors.ErrConfig) {
			writeError(w, http.StatusBadRequest, "invalid service name")
			return
		}
		s.logger.Error("signing failed", "service_name", serviceName, "error", err)
		writeError(w, http.StatusInternalServerError, "certificate issuance failed")
		return
	}

	keyPEM, err := domain.EncodePrivateKeyPEM(key)
	if err != nil {
		s.logger.Error("key encoding failed", "service_name", serviceName, "error", err)
		writeError(w, http.StatusInternalServerError, "certificate issuance failed")
		return
	}

	spiffeID, err := domain.IDFromCertificate(cert)
	if err != nil {
		s.logger.Error("issued certificate carries no SPIFFE ID", "service_name", serviceName, "error", err)
		writeError(w, http.StatusInternalServerError, "certificate issuance failed")
		return
	}

	s.metrics.RecordCertificateIssued(serviceName, s.ca.LeafTTL())
	writeJSON(w, http.StatusOK, wire.CertificateBundleResponse{
		SVID: wire.SVIDPayload{
			Certificate: domain.EncodeCertificatePEM(cert),
			PrivateKey:  keyPEM,
			SPIFFEID:    spiffeID.String(),
		},
		CACerts:   []string{domain.EncodeCertificatePEM(s.ca.CACertificate())},
		ExpiresAt: cert.NotAfter,
		TTLSecs:   int64(s.ca.LeafTTL().Seconds()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// bearerToken extracts the ticket from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.ErrorResponse{Error: msg})
}
