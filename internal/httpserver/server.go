package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"satchat/internal/metrics"
	"satchat/internal/repo"
	"satchat/internal/twilio"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MessageHandler processes one inbound chat message and returns the reply body.
type MessageHandler interface {
	HandleMessage(ctx context.Context, phoneNumber, body string) string
}

// Maintainer runs the periodic cleanup tasks on demand.
type Maintainer interface {
	Cleanup(ctx context.Context) (unlocked, removedOTPs int64, err error)
}

// Handlers groups optional HTTP handlers to mount.
type Handlers struct {
	BitnobWebhook http.Handler
}

// Dependencies exposes core dependencies to the built-in handlers.
type Dependencies struct {
	Store      repo.Store
	Engine     MessageHandler
	Maintainer Maintainer
	Validator  *twilio.RequestValidator
}

// Config holds server settings.
type Config struct {
	Addr          string
	BasePath      string
	PublicBaseURL string
	AdminToken    string
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer    *http.Server
	logger        *slog.Logger
	metrics       *metrics.Metrics
	deps          Dependencies
	basePath      string
	publicBaseURL string
	adminToken    string
}

// New creates a new HTTP server with health, metrics, webhook, and admin routes.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics, handlers Handlers, deps Dependencies) *Server {
	server := &Server{
		logger:        logger.With("component", "http"),
		metrics:       metricRegistry,
		deps:          deps,
		basePath:      normaliseBasePath(cfg.BasePath),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		adminToken:    cfg.AdminToken,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", server.handleLanding)
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/webhook/twilio", server.handleTwilioWebhook)
	mux.HandleFunc("/admin/cleanup", server.handleCleanup)
	mux.HandleFunc("/api/stats", server.handleStats)

	if handlers.BitnobWebhook != nil {
		mux.Handle("/webhook/bitnob", handlers.BitnobWebhook)
	}

	handler := mountWithBasePath(server.basePath, mux)

	server.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Handler returns the mounted root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

const landingPage = `<!DOCTYPE html>
<html>
<head><title>SatChat</title></head>
<body>
<h1>SatChat</h1>
<p>Bitcoin in your pocket, on WhatsApp.</p>
<h2>Commands</h2>
<ul>
<li><b>Hi</b> &mdash; create a wallet or say hello</li>
<li><b>Send 0.001 BTC to &lt;address&gt;</b> &mdash; send Bitcoin</li>
<li><b>Balance</b> &mdash; check your balance</li>
<li><b>History</b> &mdash; recent transactions</li>
<li><b>Address</b> &mdash; your deposit address</li>
<li><b>Help</b> &mdash; list commands</li>
</ul>
</body>
</html>
`

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(landingPage))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			s.logger.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleTwilioWebhook receives inbound WhatsApp messages. The reply goes
// back synchronously as TwiML.
func (s *Server) handleTwilioWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	if s.deps.Validator != nil {
		fullURL := s.publicBaseURL + s.basePath + "/webhook/twilio"
		if !s.deps.Validator.Validate(fullURL, r.PostForm, r.Header.Get("X-Twilio-Signature")) {
			s.metrics.Errors.WithLabelValues("twilio_webhook_auth").Inc()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	from := strings.TrimPrefix(r.PostFormValue("From"), "whatsapp:")
	body := r.PostFormValue("Body")
	if from == "" {
		http.Error(w, "missing sender", http.StatusBadRequest)
		return
	}

	reply := s.deps.Engine.HandleMessage(r.Context(), from, body)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(twilio.TwiML(reply))
}

// handleCleanup unlocks expired account locks and prunes stale codes.
// Guarded by the admin token header.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.adminToken == "" || r.Header.Get("X-Admin-Token") != s.adminToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	unlocked, removed, err := s.deps.Maintainer.Cleanup(r.Context())
	if err != nil {
		s.logger.Error("cleanup failed", "error", err)
		http.Error(w, "cleanup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"status":         "ok",
		"unlocked_users": unlocked,
		"expired_otps":   removed,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.deps.Store.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
