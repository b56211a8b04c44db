// Package userapi exposes the delegation token service over HTTP: user
// registration, login, delegation token issuance, and remote validation.
package userapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sufield/credo/internal/adapters/wire"
	"github.com/sufield/credo/internal/core/domain"
	"github.com/sufield/credo/internal/core/errors"
	"github.com/sufield/credo/internal/core/services"
)

// maxRequestBody bounds request bodies on every endpoint.
const maxRequestBody = 64 << 10

// Server is the delegation token service HTTP facade. Issued tokens appear
// only in response bodies, never in logs or query strings.
type Server struct {
	users      *services.UserStore
	userTokens *services.UserTokenService
	issuer     *services.DelegationIssuer
	logger     *slog.Logger
	router     chi.Router
}

// ServerConfig configures the delegation token service.
type ServerConfig struct {
	Users      *services.UserStore
	UserTokens *services.UserTokenService
	Issuer     *services.DelegationIssuer
	Logger     *slog.Logger
}

// NewServer wires the routes onto a chi router.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Users == nil || cfg.UserTokens == nil || cfg.Issuer == nil {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("user store, user token service, and issuer are required"))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		users:      cfg.Users,
		userTokens: cfg.UserTokens,
		issuer:     cfg.Issuer,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/delegate", s.handleDelegate)
		// Validation is POST-only so tokens stay out of query strings and
		// access logs.
		r.Post("/validate", s.handleValidate)
	})
	r.Get("/health", s.handleHealth)
	s.router = r
	return s, nil
}

// Handler returns the HTTP handler for mounting into an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req wire.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.users.Register(req.Username, req.Password, req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, "registration failed")
		return
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, wire.RegisterResponse{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req wire.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, claims, err := s.userTokens.Issue(user.ID, user.Username)
	if err != nil {
		s.logger.Error("session issuance failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, wire.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		UserID:      user.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	})
}

// handleDelegate mints a delegation token for the authenticated user. The
// session token in the Authorization header must belong to the user named in
// the request body; issuing for someone else is forbidden.
func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req wire.DelegateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = session.UserID
	}
	if req.UserID != session.UserID {
		s.logger.Warn("delegation refused for mismatched user",
			"session_user", session.UserID,
			"requested_user", req.UserID)
		writeError(w, http.StatusForbidden, "cannot delegate on behalf of another user")
		return
	}
	if req.TargetService == "" {
		writeError(w, http.StatusBadRequest, "targetService is required")
		return
	}

	identity, err := domain.NewServiceIdentity(req.TargetService, s.issuer.TrustDomain().String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target service name")
		return
	}
	audience, err := identity.SPIFFEID()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target service name")
		return
	}

	token, claims, err := s.issuer.IssueToken(req.UserID, audience, req.Permissions, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		s.logger.Error("delegation issuance failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "delegation failed")
		return
	}

	writeJSON(w, http.StatusOK, wire.DelegateResponse{
		DelegationToken: token,
		ExpiresIn:       int64(time.Until(claims.ExpiresAt.Time).Round(time.Second).Seconds()),
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req wire.ValidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	result, err := s.issuer.Validate(req.Token)
	if err != nil {
		s.logger.Error("validation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "validation failed")
		return
	}

	resp := wire.ValidateResponse{Valid: result.Valid, Error: result.Error}
	if result.Valid {
		resp.Token = &wire.TokenInfo{
			UserID:      result.UserID,
			Permissions: result.Permissions,
			Audience:    []string{result.Audience},
			ExpiresAt:   result.ExpiresAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// authenticate verifies the user session bearer token, writing a 401 on
// failure.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*sessionInfo, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil, false
	}

	claims, err := s.userTokens.Verify(header[len(prefix):])
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return nil, false
	}
	return &sessionInfo{UserID: claims.UserID, Username: claims.Username}, true
}

type sessionInfo struct {
	UserID   string
	Username string
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.ErrorResponse{Error: msg})
}
