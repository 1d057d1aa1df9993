package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/insight/internal/observability"
	"github.com/harun/insight/internal/tracing"
	"github.com/harun/insight/pkg/agent"
	"github.com/harun/insight/pkg/commandqueue"
)

const (
	maxRequestBytes = 1 << 20
	secretHeader    = "X-Insight-Secret"
	traceHeader     = "X-Trace-Id"
	runIDHeader     = "X-Run-Id"
)

// RunService starts and aborts agent runs.
type RunService interface {
	Run(ctx context.Context, question string, history []agent.Message) (*agent.Stream, error)
	Abort(runID string) bool
	ActiveRuns() int
}

// Server exposes agent runs over HTTP (NDJSON event streams) and
// websocket (one conversation per connection).
type Server struct {
	host           string
	port           int
	server         *http.Server
	listener       net.Listener
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	authHandler    *AuthHandler
	limiter        *ClientRateLimiter
	validator      *requestValidator
	runner         RunService
	lanes          func() map[string]commandqueue.LaneStats
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	pruneCancel    context.CancelFunc
	pruneWG        sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	Runner       RunService
	// RateLimit is runs per second per client; zero disables it.
	RateLimit     float64
	RateBurst     int
	MaxConcurrent int
	// Lanes reports session lanes on /v1/status when set.
	Lanes  func() map[string]commandqueue.LaneStats
	Logger zerolog.Logger
}

// NewServer creates a new Gateway Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("agent runner is required")
	}

	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}

	return &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		clients:     NewClientRegistry(),
		authHandler: NewAuthHandler(cfg.SharedSecret),
		limiter:     NewClientRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrent),
		validator:   validator,
		runner:      cfg.Runner,
		lanes:       cfg.Lanes,
		logger:      cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler returns the HTTP routes of the gateway.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runs", s.requireSecret(s.handleCreateRun))
	mux.HandleFunc("DELETE /v1/runs/{id}", s.requireSecret(s.handleAbortRun))
	mux.HandleFunc("GET /v1/status", s.requireSecret(s.handleStatus))
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Start starts listening; it returns once the listener is bound.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprint(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting Gateway Server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startPruner()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the Gateway Server: websocket clients are
// disconnected (cancelling their runs) and in-flight HTTP runs are awaited
// until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")
	s.stopPruner()

	for _, client := range s.clients.GetAll() {
		_ = client.WriteFrame(Frame{Type: "error", Message: "server is shutting down"})
		client.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

func (s *Server) startPruner() {
	pruneCtx, cancel := context.WithCancel(context.Background())
	s.pruneCancel = cancel
	s.pruneWG.Add(1)

	go func() {
		defer s.pruneWG.Done()

		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-pruneCtx.Done():
				return
			case <-ticker.C:
				if n := s.limiter.Prune(10 * time.Minute); n > 0 {
					s.logger.Debug().Int("clients", n).Msg("Pruned idle rate limit buckets")
				}
			}
		}
	}()
}

func (s *Server) stopPruner() {
	if s.pruneCancel != nil {
		s.pruneCancel()
		s.pruneCancel = nil
	}
	s.pruneWG.Wait()
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authHandler.VerifySecret(r.Header.Get(secretHeader)) {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}

// handleCreateRun starts a run and streams its events as NDJSON, or
// returns the final result when the request sets "stream": false.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "server is shutting down"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "failed to read request body"})
		return
	}
	if err := s.validator.Validate(body); err != nil {
		var se *SchemaError
		errors.As(err, &se)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: se.Violations})
		return
	}
	var req RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	release, reason := s.limiter.Acquire(clientIP(r))
	if release == nil {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: reason})
		return
	}
	defer release()

	traceID := r.Header.Get(traceHeader)
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx := tracing.WithTraceID(r.Context(), traceID)
	if req.SessionID != "" {
		ctx = tracing.WithSessionKey(ctx, "http:"+req.SessionID)
	}
	logger := tracing.LoggerFromContext(ctx, s.logger)

	stream, err := s.runner.Run(ctx, req.Question, req.History)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrEmptyQuestion) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}
	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	logger.Info().
		Str("run_id", stream.RunID()).
		Str("client", clientIP(r)).
		Bool("stream", req.streaming()).
		Msg("Gateway accepted run")

	w.Header().Set(runIDHeader, stream.RunID())
	w.Header().Set(traceHeader, traceID)

	if !req.streaming() {
		writeJSON(w, http.StatusOK, newRunResponse(stream.Result()))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	enc := json.NewEncoder(w)
	for ev := range stream.Events() {
		if err := enc.Encode(ev); err != nil {
			logger.Debug().Err(err).Msg("Client went away, abandoning stream")
			stream.Close()
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	res := stream.Result()
	logger.Info().
		Str("run_id", res.RunID).
		Str("status", string(res.Status)).
		Int("iterations", res.Iterations).
		Msg("Gateway run finished")
}

func (s *Server) handleAbortRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if !s.runner.Abort(runID) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "run not found"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"active_runs": s.runner.ActiveRuns(),
		"clients":     s.GetConnectedClients(),
	}
	if s.lanes != nil {
		status["lanes"] = s.lanes()
	}
	writeJSON(w, http.StatusOK, status)
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
