// Package server exposes practice sessions to browsers over a WebSocket and
// the stateless analyzer over plain HTTP.
//
// Routes registered by [Server.Register]:
//
//	GET  /v1/session   WebSocket practice session
//	GET  /v1/sessions  metadata of open sessions
//	POST /v1/analyze   heuristic analysis of a text
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrWong99/orato/internal/analysis"
	"github.com/MrWong99/orato/internal/session"
)

// Default limits.
const (
	DefaultHelloTimeout = 10 * time.Second
	DefaultReadLimit    = 1 << 20
	maxAnalyzeBody      = 64 << 10
)

// Server holds the handlers. Create with New.
type Server struct {
	mgr            *session.Manager
	analyzer       *analysis.Analyzer
	originPatterns []string
	helloTimeout   time.Duration
	readLimit      int64
}

// Option configures a Server.
type Option func(*Server)

// WithOriginPatterns allows cross-origin WebSocket connections from hosts
// matching patterns (see websocket.AcceptOptions).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// WithAnalyzer replaces analysis.Default() for /v1/analyze.
func WithAnalyzer(a *analysis.Analyzer) Option {
	return func(s *Server) { s.analyzer = a }
}

// WithHelloTimeout bounds the wait for the first client message.
func WithHelloTimeout(d time.Duration) Option {
	return func(s *Server) { s.helloTimeout = d }
}

// New returns a Server backed by mgr.
func New(mgr *session.Manager, opts ...Option) *Server {
	s := &Server{
		mgr:          mgr,
		analyzer:     analysis.Default(),
		helloTimeout: DefaultHelloTimeout,
		readLimit:    DefaultReadLimit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the server routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/session", s.handleSession)
	mux.HandleFunc("GET /v1/sessions", s.handleList)
	mux.HandleFunc("POST /v1/analyze", s.handleAnalyze)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalyzeBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ElapsedSeconds < 0 {
		writeError(w, http.StatusBadRequest, "elapsedSeconds must not be negative")
		return
	}
	elapsed := time.Duration(req.ElapsedSeconds * float64(time.Second))
	writeJSON(w, http.StatusOK, s.analyzer.Analyze(req.Text, elapsed))
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.mgr.List()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
