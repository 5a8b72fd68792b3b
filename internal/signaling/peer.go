package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sendQueueDepth bounds the per-connection outbound queue. A full queue
	// marks the peer unwritable for that message; it is not an error.
	sendQueueDepth = 32

	writeWait = 1 * time.Second
)

// peer is one WebSocket connection and its signaling identity. It
// implements meeting.Conn.
//
// participantID is fixed at upgrade time. meetingCode, name, and host are
// written only by the connection's reader goroutine and read by it, so
// they need no lock.
type peer struct {
	conn *websocket.Conn
	log  *slog.Logger

	participantID string
	meetingCode   string
	name          string
	host          bool

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	// pumping is set before the write pump goroutine starts. When true,
	// Close leaves the connection to the pump so queued messages drain
	// before the socket goes away.
	pumping bool
}

func newPeer(conn *websocket.Conn, logger *slog.Logger, participantID string) *peer {
	return &peer{
		conn:          conn,
		log:           logger,
		participantID: participantID,
		send:          make(chan []byte, sendQueueDepth),
		closed:        make(chan struct{}),
	}
}

func (p *peer) bound() bool {
	return p.meetingCode != ""
}

// TrySend queues a message for delivery without blocking. It reports false
// when the peer is closed or its queue is full.
func (p *peer) TrySend(payload []byte) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	select {
	case p.send <- payload:
		return true
	case <-p.closed:
		return false
	default:
		return false
	}
}

// Close shuts the peer down. Idempotent; safe from any goroutine. With a
// running write pump the pump drains queued messages and closes the
// connection; otherwise the connection is closed here.
func (p *peer) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		if !p.pumping && p.conn != nil {
			p.conn.Close()
		}
	})
}

// startWritePump spawns the write pump. Must be called at most once,
// before the peer is shared with other goroutines.
func (p *peer) startWritePump(pingInterval time.Duration) {
	p.pumping = true
	go p.writePump(pingInterval)
}

func (p *peer) sendJSON(v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Error("marshal outbound message", "err", err)
		return false
	}
	return p.TrySend(payload)
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings. On peer close it flushes whatever is still queued,
// then closes the connection; a write failure closes it immediately.
func (p *peer) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		p.Close()
		p.conn.Close()
	}()

	for {
		select {
		case payload := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.closed:
			for {
				select {
				case payload := <-p.send:
					p.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if p.conn.WriteMessage(websocket.TextMessage, payload) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
