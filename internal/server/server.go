// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/relaychat/internal/ollama"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the relay.
	DefaultPort = 8080

	// DefaultCORSOrigin is the development client allowed by default.
	DefaultCORSOrigin = "http://localhost:5173"

	// MaxRequestBodySize caps inbound request bodies (2MB).
	MaxRequestBodySize = 2 * 1024 * 1024

	// DefaultRateLimit is the per-client request allowance per minute.
	DefaultRateLimit = 120

	// healthProbeTimeout bounds the upstream check in /health.
	healthProbeTimeout = 2 * time.Second

	// Version is the relay version.
	Version = "0.3.0"
)

// ============================================================================
// UPSTREAM
// ============================================================================

// Upstream is the model service the relay forwards to. *ollama.Client
// implements it.
type Upstream interface {
	OpenChatStream(ctx context.Context, model string, messages []ollama.Message) (io.ReadCloser, error)
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
	CheckRunning(ctx context.Context) error
}

// Settings are the per-request upstream parameters. They may be replaced
// while the relay runs; each request reads them once when it starts.
type Settings struct {
	Model        string
	SystemPrompt string
}

// Options configure the listener and middleware.
type Options struct {
	Host               string
	Port               int
	CORSOrigin         string
	RateLimitPerMinute int
	MaxBodyBytes       int64
	ReadTimeout        time.Duration
	IdleTimeout        time.Duration
}

func (o *Options) setDefaults() {
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.CORSOrigin == "" {
		o.CORSOrigin = DefaultCORSOrigin
	}
	if o.RateLimitPerMinute == 0 {
		o.RateLimitPerMinute = DefaultRateLimit
	}
	if o.MaxBodyBytes == 0 {
		o.MaxBodyBytes = MaxRequestBodySize
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 30 * time.Second
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 120 * time.Second
	}
}

// ============================================================================
// RELAY STATS
// ============================================================================

// RelayStats counts relay activity. All fields are updated atomically.
type RelayStats struct {
	Requests           atomic.Int64
	Completed          atomic.Int64
	Failed             atomic.Int64
	ValidationFailures atomic.Int64
	Fragments          atomic.Int64
	Bytes              atomic.Int64
	StartTime          time.Time
}

// NewRelayStats creates a RelayStats starting now.
func NewRelayStats() *RelayStats {
	return &RelayStats{StartTime: time.Now()}
}

// Uptime returns the time since the stats were created.
func (s *RelayStats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Requests           int64 `json:"requests"`
	Completed          int64 `json:"completed"`
	Failed             int64 `json:"failed"`
	ValidationFailures int64 `json:"validation_failures"`
	Fragments          int64 `json:"fragments"`
	Bytes              int64 `json:"bytes"`
	UptimeSeconds      int64 `json:"uptime_seconds"`
}

// Snapshot returns the current counters.
func (s *RelayStats) Snapshot() StatsResponse {
	return StatsResponse{
		Requests:           s.Requests.Load(),
		Completed:          s.Completed.Load(),
		Failed:             s.Failed.Load(),
		ValidationFailures: s.ValidationFailures.Load(),
		Fragments:          s.Fragments.Load(),
		Bytes:              s.Bytes.Load(),
		UptimeSeconds:      int64(s.Uptime().Seconds()),
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the relay HTTP server.
type Server struct {
	opts     Options
	router   *http.ServeMux
	upstream Upstream
	settings atomic.Pointer[Settings]
	stats    *RelayStats
	limiter  *RateLimiter

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a relay forwarding to upstream.
func NewServer(upstream Upstream, opts Options, settings Settings) *Server {
	opts.setDefaults()
	s := &Server{
		opts:     opts,
		router:   http.NewServeMux(),
		upstream: upstream,
		stats:    NewRelayStats(),
		limiter:  NewRateLimiter(opts.RateLimitPerMinute, time.Minute),
	}
	s.settings.Store(&settings)
	s.setupRoutes()
	return s
}

// Settings returns the current upstream settings.
func (s *Server) Settings() Settings {
	return *s.settings.Load()
}

// UpdateSettings replaces the upstream settings. Requests already in flight
// keep the settings they started with.
func (s *Server) UpdateSettings(settings Settings) {
	s.settings.Store(&settings)
	log.Printf("SETTINGS_UPDATED | model=%s system_prompt_len=%d", settings.Model, len(settings.SystemPrompt))
}

// Stats returns the relay counters.
func (s *Server) Stats() *RelayStats {
	return s.stats
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, fmt.Sprintf("%d", s.opts.Port))
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	s.router.HandleFunc("GET /api/models", s.handleModels)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		CORSMiddleware(NewCORSConfig(s.opts.CORSOrigin)),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		RateLimitMiddleware(s.limiter),
	)(s.router)
}

// ============================================================================
// MODELS HANDLER
// ============================================================================

// ModelsResponse is the body of GET /api/models.
type ModelsResponse struct {
	Default string        `json:"default"`
	Models  []ModelStatus `json:"models"`
}

// ModelStatus describes one installed model.
type ModelStatus struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.upstream.ListModels(r.Context())
	if err != nil {
		log.Printf("MODELS_ERROR | error=%v", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := ModelsResponse{Default: s.Settings().Model, Models: make([]ModelStatus, 0, len(models))}
	for _, m := range models {
		resp.Models = append(resp.Models, ModelStatus{Name: m.Name, Size: m.FormatSize()})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Version  string `json:"version"`
	Upstream string `json:"upstream"`
	Model    string `json:"model"`
}

// handleHealth always answers 200 while the relay is up; upstream trouble is
// reported in the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		OK:       true,
		Message:  "relay running",
		Version:  Version,
		Upstream: "ok",
		Model:    s.Settings().Model,
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()
	if err := s.upstream.CheckRunning(ctx); err != nil {
		health.Upstream = "unavailable"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// STATS HANDLER
// ============================================================================

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: s.opts.ReadTimeout,
		IdleTimeout: s.opts.IdleTimeout,
		// No WriteTimeout: streamed replies can run for minutes.
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	settings := s.Settings()
	log.Printf("SERVER_START | addr=%s version=%s model=%s cors_origin=%s",
		ln.Addr(), Version, settings.Model, s.opts.CORSOrigin)
	return srv.Serve(ln)
}

// Shutdown gracefully stops the server, waiting for open streams until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.limiter.Stop()

	snap := s.stats.Snapshot()
	log.Printf("SERVER_SHUTDOWN | requests=%d completed=%d failed=%d", snap.Requests, snap.Completed, snap.Failed)
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"ok":    false,
		"error": message,
	})
}
