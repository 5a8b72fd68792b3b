package signaling

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openmeet/meet-relay/internal/meeting"
	"github.com/openmeet/meet-relay/internal/metrics"
	"github.com/openmeet/meet-relay/internal/origin"
	"github.com/openmeet/meet-relay/internal/ratelimit"
)

type Config struct {
	Registry *meeting.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// AllowedOrigins gates the WebSocket upgrade. Empty means same-host
	// only; "*" allows any origin.
	AllowedOrigins []string

	// IdleTimeout closes connections with no inbound traffic (pongs
	// included). Must be greater than PingInterval.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

const (
	DefaultIdleTimeout          = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMaxMessagesPerSecond = 50
)

// Server upgrades /ws requests and runs the per-connection read loop.
type Server struct {
	cfg      Config
	log      *slog.Logger
	registry *meeting.Registry
	router   *Router
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = DefaultMaxMessagesPerSecond
	}

	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		registry: cfg.Registry,
		router:   NewRouter(cfg.Logger, cfg.Registry, cfg.Metrics),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /ws", s)
}

// checkOrigin permits non-browser clients (no Origin header) and applies
// the origin allowlist to everything else.
func (s *Server) checkOrigin(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return true
	}
	normalized, host, ok := origin.NormalizeHeader(header)
	if !ok {
		s.log.Warn("rejecting websocket upgrade, unparseable origin", "origin", header)
		return false
	}
	if !origin.IsAllowed(normalized, host, r.Host, s.cfg.AllowedOrigins) {
		s.log.Warn("rejecting websocket upgrade, origin not allowed", "origin", normalized, "host", r.Host)
		return false
	}
	return true
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	participantID, err := meeting.NewParticipantID()
	if err != nil {
		s.log.Error("generate participant id", "err", err)
		conn.Close()
		return
	}

	p := newPeer(conn, s.log.With("participant", participantID), participantID)
	s.log.Debug("signaling connection opened", "participant", participantID, "remote", r.RemoteAddr)

	p.startWritePump(s.cfg.PingInterval)
	s.readLoop(p)
}

func (s *Server) readLoop(p *peer) {
	defer func() {
		p.Close()
		s.router.handleDisconnect(p)
		s.log.Debug("signaling connection closed", "participant", p.participantID)
	}()

	p.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	p.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		return nil
	})

	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{},
		int64(s.cfg.MaxMessagesPerSecond), int64(s.cfg.MaxMessagesPerSecond))

	for {
		msgType, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Debug("websocket read error", "participant", p.participantID, "err", err)
			}
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		if msgType != websocket.TextMessage {
			s.writeClose(p, websocket.CloseUnsupportedData, "text frames only")
			return
		}
		if !limiter.Allow(1) {
			s.cfg.Metrics.Inc(metrics.DropRateLimited)
			s.log.Warn("closing connection, message rate exceeded", "participant", p.participantID)
			s.writeClose(p, websocket.ClosePolicyViolation, "message rate exceeded")
			return
		}

		s.router.dispatch(p, raw)
	}
}

func (s *Server) writeClose(p *peer, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// Close tears down every meeting and its connections. Used on shutdown.
func (s *Server) Close() {
	s.registry.TeardownAll()
}
