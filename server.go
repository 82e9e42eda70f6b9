package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/config"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/observe"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/pipeline"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/recorder"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/server"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// maxUploadSize caps a multipart attempt submission.
const maxUploadSize = 25 << 20

// AttemptService grades and looks up attempts.
type AttemptService interface {
	Submit(ctx context.Context, sess pipeline.Session, sub pipeline.Submission) (*pipeline.Outcome, error)
	Get(ctx context.Context, id string) (*types.AttemptRecord, error)
}

// Server is the HTTP server exposing attempt submission, the microphone
// WebSocket and metrics.
type Server struct {
	config   *config.Config
	attempts AttemptService
	mic      *server.Microphone
	commands *server.CommandHandler
	version  *VersionChecker
	metrics  *observe.Metrics
	eventLog string
	mediaDir string
	capture  bool
}

// ServerDeps are the collaborators of a Server. Mic, Metrics and MediaDir
// are optional.
type ServerDeps struct {
	Config   *config.Config
	Attempts AttemptService
	Mic      *server.Microphone
	Version  *VersionChecker
	Metrics  *observe.Metrics
	EventLog string // JSON lines event log served by /api/events
	MediaDir string // local recordings served under /media/
	Capture  bool   // a capture backend is available
}

// NewServer returns a new Server.
func NewServer(d ServerDeps) *Server {
	s := &Server{
		config:   d.Config,
		attempts: d.Attempts,
		mic:      d.Mic,
		version:  d.Version,
		metrics:  d.Metrics,
		eventLog: d.EventLog,
		mediaDir: d.MediaDir,
		capture:  d.Capture,
	}
	if d.Mic != nil {
		s.commands = server.NewCommandHandler(d.Config, d.Mic)
	}
	return s
}

// handleWebSocket handles bidirectional WebSocket communication for the microphone.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.mic == nil {
		http.Error(w, "microphone not available", http.StatusServiceUnavailable)
		return
	}

	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	sess := server.SessionFromRequest(r)

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go s.runWebSocketWriter(conn, send)
	go s.runWebSocketReader(conn, send, done, statusUpdate, sess)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}, sess pipeline.Session) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, sess, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes levels, status and attempt results.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(100 * time.Millisecond)  // 10 fps for the level meter
	statusTicker := time.NewTicker(3000 * time.Millisecond) // Status updates every 3s
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	events, unsubscribe := s.mic.Subscribe()
	defer unsubscribe()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		close(send)
		return
	}

	for {
		var msg any
		select {
		case <-done:
			close(send)
			return
		case <-statusUpdate:
			msg = s.buildWSStatus()
		case ev := <-events:
			switch ev := ev.(type) {
			case recorder.Status:
				msg = s.buildWSStatus()
			case types.WSAttemptResult:
				msg = ev
			default:
				continue
			}
		case <-levelsTicker.C:
			msg = types.WSLevelsResponse{Type: "levels", Levels: s.mic.Levels()}
		case <-statusTicker.C:
			msg = s.buildWSStatus()
		}
		if !trySend(msg) {
			close(send)
			return
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	status := types.WSStatusResponse{
		Type:           "status",
		Recorder:       s.mic.Status(),
		CaptureEnabled: s.capture,
		Devices:        listDevices(),
	}
	if s.version != nil {
		status.Version = s.version.Info()
	}
	return status
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Attempt API routes (API key auth when configured)
	s.handle(mux, "POST /api/attempts", "/api/attempts", s.handleSubmitAttempt)
	s.handle(mux, "GET /api/attempts/{id}", "/api/attempts/{id}", s.handleGetAttempt)
	s.handle(mux, "GET /api/events", "/api/events", s.handleEvents)
	s.handle(mux, "GET /api/devices", "/api/devices", s.handleDevices)

	// The WebSocket handler needs the raw writer for the hijack.
	mux.HandleFunc("GET /ws", s.apiKeyAuth(s.handleWebSocket))

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.mediaDir != "" {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(s.mediaDir))))
	}

	return securityHeaders(mux)
}

// handle registers an authenticated API route, timed under route.
func (s *Server) handle(mux *http.ServeMux, pattern, route string, h http.HandlerFunc) {
	var handler http.Handler = s.apiKeyAuth(h)
	if s.metrics != nil {
		handler = observe.Middleware(s.metrics, route, handler)
	}
	mux.Handle(pattern, handler)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth returns middleware for API key authentication. Without a
// configured key all requests pass. Browser WebSocket clients may pass the
// key as the api_key query parameter.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.Snapshot().APIKey
		if apiKey == "" {
			next(w, r)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		next(w, r)
	}
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

// HTTPServer returns the *http.Server for the configured port. The caller
// runs ListenAndServe and Shutdown.
func (s *Server) HTTPServer() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)

	return &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
