// Package web serves the scan pipeline as a JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/phishguard/phishguard/internal/artifact"
	"github.com/phishguard/phishguard/internal/history"
	"github.com/phishguard/phishguard/internal/inbox"
	"github.com/phishguard/phishguard/internal/message"
	"github.com/phishguard/phishguard/internal/pipeline"
)

const (
	defaultRateLimit  = 120
	defaultRateWindow = time.Minute
	maxBodyBytes      = 5 << 20
	defaultHistory    = 50
	maxHistory        = 500
)

type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	stop     chan struct{}
	once     sync.Once
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) filterRecent(times []time.Time, windowStart time.Time) []time.Time {
	n := 0
	for _, t := range times {
		if t.After(windowStart) {
			times[n] = t
			n++
		}
	}
	return times[:n]
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := rl.filterRecent(rl.requests[key], now.Add(-rl.window))

	if len(recent) >= rl.limit {
		rl.requests[key] = recent
		return false
	}
	rl.requests[key] = append(recent, now)
	return true
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		windowStart := time.Now().Add(-rl.window)
		for key, times := range rl.requests {
			recent := rl.filterRecent(times, windowStart)
			if len(recent) == 0 {
				delete(rl.requests, key)
			} else {
				rl.requests[key] = recent
			}
		}
		rl.mu.Unlock()
	}
}

type Scanner interface {
	Scan(ctx context.Context, c message.Content) (*pipeline.Result, error)
}

// History is the part of the history store the API uses.
type History interface {
	Add(ctx context.Context, r *history.Record) error
	Recent(ctx context.Context, limit int) ([]history.Record, error)
	Stats(ctx context.Context) (history.Stats, error)
}

type Server struct {
	scanner     Scanner
	gate        *artifact.Gate
	history     History
	httpServer  *http.Server
	addr        string
	rateLimiter *RateLimiter
	log         zerolog.Logger
}

type Option func(*Server)

// WithHistory records every API scan and enables the history endpoints.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithRateLimit sets the per-client request budget per minute.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		if perMinute > 0 {
			s.rateLimiter = NewRateLimiter(perMinute, defaultRateWindow)
		}
	}
}

func NewServer(addr string, scanner Scanner, gate *artifact.Gate, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		scanner: scanner,
		gate:    gate,
		addr:    addr,
		log:     log.With().Str("component", "web").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rateLimiter == nil {
		s.rateLimiter = NewRateLimiter(defaultRateLimit, defaultRateWindow)
	}
	return s
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", s.addr).Msg("serving scan API")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.With(middleware.AllowContentType("application/json")).Post("/scan", s.handleScan)
		r.With(middleware.AllowContentType("message/rfc822")).Post("/scan/eml", s.handleScanEML)
		r.Get("/history", s.handleHistory)
		r.Get("/stats", s.handleStats)
		r.With(requireJSON).Post("/artifacts/reload", s.handleReload)
	})

	return r
}

// requireJSON rejects bodiless POSTs that lack a JSON content type, which
// AllowContentType lets through. A cross-site form cannot set one without a
// CORS preflight.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds security headers to all responses
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		// JSON only; nothing is ever rendered
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		// Verdicts describe private mail
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}
		if !s.rateLimiter.Allow(key) {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please wait before scanning again.", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type scanResponse struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Raw        []float64 `json:"raw"`
	Dimensions int       `json:"dimensions"`
	DurationMs int64     `json:"duration_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var c message.Content
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message JSON: "+err.Error(), "")
		return
	}
	s.scan(w, r, c, "")
}

func (s *Server) handleScanEML(w http.ResponseWriter, r *http.Request) {
	email, err := inbox.ParseMessage(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil && email == nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("message body partially parsed")
	}
	s.scan(w, r, email.Content(), email.MessageID)
}

func (s *Server) scan(w http.ResponseWriter, r *http.Request, c message.Content, messageID string) {
	res, err := s.scanner.Scan(r.Context(), c)
	s.record(r.Context(), c, messageID, res, err)
	if err != nil {
		stage := pipeline.StageOf(err)
		writeError(w, scanStatus(err), err.Error(), string(stage))
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{
		ID:         res.ID,
		Label:      string(res.Label),
		Raw:        res.Raw,
		Dimensions: res.Dimensions,
		DurationMs: res.Duration.Milliseconds(),
	})
}

func (s *Server) record(ctx context.Context, c message.Content, messageID string, res *pipeline.Result, scanErr error) {
	if s.history == nil {
		return
	}
	rec := &history.Record{
		Source:    history.SourceAPI,
		MessageID: messageID,
		Sender:    c.Sender,
		Subject:   c.Subject,
	}
	if scanErr != nil {
		rec.Stage = string(pipeline.StageOf(scanErr))
		rec.Error = scanErr.Error()
	} else {
		rec.ScanID = res.ID
		rec.Label = string(res.Label)
		rec.DurationMs = res.Duration.Milliseconds()
	}
	// A client that hung up still gets its verdict logged.
	if err := s.history.Add(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Error().Err(err).Msg("failed to record scan")
	}
}

// scanStatus maps a scan error to an HTTP status.
func scanStatus(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrNoContent):
		return http.StatusUnprocessableEntity
	}
	switch pipeline.StageOf(err) {
	case pipeline.StageInit:
		return http.StatusServiceUnavailable
	case pipeline.StageInference:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pending, err := s.gate.Status()
	switch {
	case pending:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "failed", "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.Reload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), string(pipeline.StageInit))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

type historyEntry struct {
	ScanID      string    `json:"scan_id,omitempty"`
	Source      string    `json:"source"`
	MessageID   string    `json:"message_id,omitempty"`
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject"`
	Label       string    `json:"label,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	Quarantined bool      `json:"quarantined"`
	ScannedAt   time.Time `json:"scanned_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is not enabled", "")
		return
	}
	limit := defaultHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = min(n, maxHistory)
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	entries := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, historyEntry{
			ScanID:      rec.ScanID,
			Source:      string(rec.Source),
			MessageID:   rec.MessageID,
			Sender:      rec.Sender,
			Subject:     rec.Subject,
			Label:       rec.Label,
			Stage:       rec.Stage,
			Error:       rec.Error,
			Quarantined: rec.Quarantined,
			ScannedAt:   rec.ScannedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is not enabled", "")
		return
	}
	st, err := s.history.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, stage string) {
	writeJSON(w, status, errorResponse{Error: msg, Stage: stage})
}
