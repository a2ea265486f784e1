package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"

	"github.com/sso-tools/cascade/pkg/handshake"
	"github.com/sso-tools/cascade/pkg/slo"
	"github.com/sso-tools/cascade/pkg/ticketstore"
)

const (
	sessionCookie = "cascade_session"
	nonceCookie   = "cascade_nonce"

	nonceCookieMaxAge = 15 * 60 // seconds
)

// Server is the demo service provider hosting the CAS handshake. It owns
// all request, response and cookie access; the handshake engine only sees
// plain values.
type Server struct {
	config    *Config
	handshake *handshake.Handshake
	store     ticketstore.Store
	logger    logr.Logger
	router    chi.Router
}

// NewServer creates a new server instance
func NewServer(cfg *Config, hs *handshake.Handshake, store ticketstore.Store, logger logr.Logger) *Server {
	s := &Server{
		config:    cfg,
		handshake: hs,
		store:     store,
		logger:    logger,
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery(s.logger))
	r.Use(RequestLogger(s.logger))
	r.Use(SecurityHeaders)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Rate limiting
	rateLimiter := NewRateLimiter(100, time.Minute)
	r.Use(rateLimiter.Limit)

	// Single logout notifications can arrive on any path the CAS server
	// knows the service by, so the processor runs as a pipeline stage.
	r.Use(slo.Middleware(s.store, s.logger))

	// Health check
	r.Get("/health", s.handleHealth)

	// Authentication flow
	r.Get("/auth/login", s.handleLogin)
	r.Get(s.config.CallbackPath, s.handleCallback)
	r.Get("/auth/logout", s.handleLogout)

	// Profile of the signed-in user
	r.Get("/me", s.handleMe)

	s.router = r
}

// Health check response
type HealthResponse struct {
	Status  string `json:"status"`
	CasURL  string `json:"cas_url"`
	Version int    `json:"cas_version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		CasURL:  s.config.CasServerURL,
		Version: s.config.ProtocolVersion,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	returnURL := r.URL.Query().Get("return")
	// Only relative targets; anything else invites an open redirect.
	if returnURL == "" || !strings.HasPrefix(returnURL, "/") || strings.HasPrefix(returnURL, "//") {
		returnURL = "/"
	}

	c, err := s.handshake.NewChallenge(r.Context(), returnURL)
	if err != nil {
		s.logger.Error(err, "failed to issue challenge")
		writeError(w, http.StatusInternalServerError, "could not start sign-in")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     nonceCookie,
		Value:    c.Nonce,
		Path:     "/",
		MaxAge:   nonceCookieMaxAge,
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})

	if c.Suppressed {
		return
	}
	http.Redirect(w, r, c.RedirectURL, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	nonce, err := r.Cookie(nonceCookie)
	if err != nil {
		writeError(w, http.StatusForbidden, "sign-in attempt expired")
		return
	}
	s.clearCookie(w, nonceCookie)

	res, err := s.handshake.Callback(r.Context(), r.URL.Query(), nonce.Value)
	if err != nil {
		var fe *handshake.FailureError
		if errors.As(err, &fe) && !fe.Kind.Remote() {
			s.logger.Info("rejected callback", "kind", string(fe.Kind))
			writeError(w, http.StatusForbidden, "sign-in rejected")
			return
		}
		s.logger.Error(err, "remote login failed")
		writeError(w, http.StatusBadGateway, "remote login failed")
		return
	}

	// A remote-failure handler absorbed the error and supplied a
	// redirect of its own.
	if res.Principal == nil {
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
		return
	}

	rec := recordFromResult(res, s.config.SessionTTL)
	key, err := s.store.Store(r.Context(), rec)
	if err != nil {
		s.logger.Error(err, "failed to persist session")
		writeError(w, http.StatusInternalServerError, "could not persist sign-in")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    key,
		Path:     "/",
		MaxAge:   int(s.config.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})

	target := res.RedirectURL
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if err := s.store.Remove(r.Context(), c.Value); err != nil {
			s.logger.Error(err, "failed to remove session on logout")
		}
	}
	s.clearCookie(w, sessionCookie)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Profile response for the signed-in user
type ProfileResponse struct {
	Subject    string              `json:"subject"`
	AuthType   string              `json:"auth_type"`
	Attributes map[string][]string `json:"attributes,omitempty"`
	ExpiresAt  time.Time           `json:"expires_at"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		http.Redirect(w, r, "/auth/login?return=/me", http.StatusFound)
		return
	}

	rec, found, err := s.store.Retrieve(r.Context(), c.Value)
	if err != nil {
		s.logger.Error(err, "failed to load session")
		writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	if !found {
		s.clearCookie(w, sessionCookie)
		http.Redirect(w, r, "/auth/login?return=/me", http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, ProfileResponse{
		Subject:    rec.Subject,
		AuthType:   rec.AuthType,
		Attributes: rec.Attributes,
		ExpiresAt:  rec.ExpiresAt,
	})
}

func (s *Server) secureCookies() bool {
	return strings.HasPrefix(s.config.BaseURL, "https://")
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// recordFromResult turns a handshake result into the persisted session
// record. The ticket id inside the properties becomes the store key so
// single logout can find the session by its SessionIndex.
func recordFromResult(res *handshake.Result, ttl time.Duration) ticketstore.Record {
	attrs := res.Principal.Assertion().Attributes()
	claims := make(map[string][]string, attrs.Len())
	for _, k := range attrs.Keys() {
		claims[k] = attrs.Values(k)
	}

	now := time.Now()
	return ticketstore.Record{
		TicketID:   res.Properties.TicketID,
		Subject:    res.Principal.Name(),
		AuthType:   res.Principal.AuthScheme(),
		Attributes: claims,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
