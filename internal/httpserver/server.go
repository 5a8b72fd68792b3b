// Package httpserver hosts the relay's HTTP surface: health and version
// endpoints, the meeting status API, the ICE configuration endpoint, static
// client assets, and the mux the signaling WebSocket mounts on.
package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/openmeet/meet-relay/internal/config"
	"github.com/openmeet/meet-relay/internal/origin"
	"github.com/openmeet/meet-relay/internal/turnrest"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// MeetingStatus is the registry view the status API needs.
type MeetingStatus interface {
	Exists(code string) bool
	IsActive(code string) bool
}

type Server struct {
	log      *slog.Logger
	cfg      config.Config
	build    BuildInfo
	meetings MeetingStatus
	turn     *turnrest.Generator

	ready atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, meetings MeetingStatus, turn *turnrest.Generator) *Server {
	s := &Server{
		log:      logger,
		cfg:      cfg,
		build:    build,
		meetings: meetings,
		turn:     turn,
		mux:      http.NewServeMux(),
	}

	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// No global read/write timeouts: /ws connections are long-lived and
		// keep themselves alive with pings.
	}

	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.HandleFunc("GET /api/meeting/{id}", func(w http.ResponseWriter, r *http.Request) {
		code := r.PathValue("id")
		WriteJSON(w, http.StatusOK, map[string]any{
			"exists":   s.meetings.Exists(code),
			"isActive": s.meetings.IsActive(code),
		})
	})

	s.mux.HandleFunc("GET /api/ice", s.withOriginPolicy(s.handleICE))

	if s.cfg.StaticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
}

// handleICE hands browser clients the ICE server list. When TURN REST is
// configured, ephemeral credentials are minted per request and injected
// into the TURN entries; STUN entries are passed through untouched.
func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	servers := s.cfg.ICEServers
	if s.turn != nil {
		creds, err := s.turn.GenerateRandom()
		if err != nil {
			s.log.Error("mint turn credentials", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "credential generation failed"})
			return
		}
		servers = withTURNCredentials(servers, creds)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

// withTURNCredentials copies the server list, replacing the username and
// credential of every entry that carries a TURN URL.
func withTURNCredentials(servers []webrtc.ICEServer, creds turnrest.Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	copy(out, servers)
	for i := range out {
		hasTURN := false
		for _, u := range out[i].URLs {
			if isTURN(u) {
				hasTURN = true
				break
			}
		}
		if hasTURN {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out
}

func isTURN(u string) bool {
	return len(u) >= 5 && (u[:5] == "turn:" || (len(u) >= 6 && u[:6] == "turns:"))
}

// withOriginPolicy applies the browser origin allowlist to a plain HTTP
// endpoint. Requests without an Origin header (curl, server-side callers)
// pass through.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Origin")
		if header == "" {
			next(w, r)
			return
		}
		normalized, host, ok := origin.NormalizeHeader(header)
		if !ok || !origin.IsAllowed(normalized, host, r.Host, s.cfg.AllowedOrigins) {
			WriteJSON(w, http.StatusForbidden, map[string]any{"error": "origin not allowed"})
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", header)
		next(w, r)
	}
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			r.Header.Set("X-Request-ID", reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r)
		})
	}
}

// statusWriter records the status code for request logging. It keeps the
// underlying Hijacker reachable so the WebSocket upgrade works through the
// middleware chain.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", r.Header.Get("X-Request-ID"),
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

// StaticDirExists reports whether the configured static asset directory is
// present, for startup diagnostics.
func StaticDirExists(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
