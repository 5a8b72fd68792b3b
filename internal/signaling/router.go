package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/openmeet/meet-relay/internal/meeting"
	"github.com/openmeet/meet-relay/internal/metrics"
)

const (
	defaultHostName  = "Host"
	defaultGuestName = "Guest"
)

// Router maps inbound signaling messages onto registry operations and
// relays the results. One Router serves every connection.
type Router struct {
	log      *slog.Logger
	registry *meeting.Registry
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewRouter(logger *slog.Logger, registry *meeting.Registry, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		log:      logger,
		registry: registry,
		metrics:  m,
		now:      time.Now,
	}
}

// dispatch handles one inbound frame from p. Malformed frames and unknown
// types are dropped; the connection stays up.
func (rt *Router) dispatch(p *peer, raw []byte) {
	env, err := parseEnvelope(raw)
	if err != nil {
		rt.metrics.Inc(metrics.DropMalformed)
		rt.log.Warn("dropping malformed message", "participant", p.participantID, "err", err)
		return
	}

	switch env.Type {
	case typeCreateMeeting:
		rt.handleCreate(p, env)
	case typeJoinMeeting:
		rt.handleJoin(p, env)
	case typeWebRTCOffer:
		rt.forwardToTarget(p, env, forwardedSignal{Type: typeWebRTCOffer, Sender: p.participantID, Offer: env.Offer})
	case typeWebRTCAnswer:
		rt.forwardToTarget(p, env, forwardedSignal{Type: typeWebRTCAnswer, Sender: p.participantID, Answer: env.Answer})
	case typeICECandidate:
		rt.forwardToTarget(p, env, forwardedSignal{Type: typeICECandidate, Sender: p.participantID, Candidate: env.Candidate})
	case typeChatMessage:
		rt.handleChat(p, env)
	case typeParticipantUpdate:
		rt.handleParticipantUpdate(p, raw)
	default:
		rt.metrics.Inc(metrics.DropUnknownType)
		rt.log.Warn("dropping message of unknown type", "participant", p.participantID, "type", env.Type)
	}
}

func (rt *Router) handleCreate(p *peer, env envelope) {
	if p.bound() {
		rt.metrics.Inc(metrics.DropAlreadyBound)
		p.sendJSON(errorEnvelope{Type: typeError, Message: "Already in a meeting"})
		return
	}

	name := env.Name
	if name == "" {
		name = defaultHostName
	}

	code, err := rt.registry.Create(p.participantID, name, p)
	if err != nil {
		rt.log.Error("create meeting", "participant", p.participantID, "err", err)
		p.sendJSON(errorEnvelope{Type: typeError, Message: "Failed to create meeting"})
		return
	}

	p.meetingCode = code
	p.name = name
	p.host = true
	rt.metrics.Inc(metrics.EventMeetingCreated)

	p.sendJSON(meetingCreated{
		Type:          typeMeetingCreated,
		MeetingID:     code,
		ParticipantID: p.participantID,
	})
}

func (rt *Router) handleJoin(p *peer, env envelope) {
	if p.bound() {
		rt.metrics.Inc(metrics.DropAlreadyBound)
		p.sendJSON(errorEnvelope{Type: typeError, Message: "Already in a meeting"})
		return
	}

	name := env.Name
	if name == "" {
		name = defaultGuestName
	}

	others, err := rt.registry.Join(env.MeetingID, p.participantID, name, p)
	if err != nil {
		if errors.Is(err, meeting.ErrMeetingNotFound) {
			rt.metrics.Inc(metrics.DropMeetingNotFound)
			p.sendJSON(errorEnvelope{Type: typeError, Message: "Meeting not found"})
			return
		}
		rt.log.Error("join meeting", "participant", p.participantID, "meeting", env.MeetingID, "err", err)
		p.sendJSON(errorEnvelope{Type: typeError, Message: "Failed to join meeting"})
		return
	}

	p.meetingCode = env.MeetingID
	p.name = name
	rt.metrics.Inc(metrics.EventMeetingJoined)
	rt.log.Info("participant joined", "meeting", env.MeetingID, "participant", p.participantID)

	peers := make([]meeting.PeerInfo, 0, len(others))
	for _, other := range others {
		peers = append(peers, meeting.PeerInfo{ID: other.ID, Name: other.Name})
	}
	p.sendJSON(meetingJoined{
		Type:          typeMeetingJoined,
		MeetingID:     env.MeetingID,
		ParticipantID: p.participantID,
		Participants:  peers,
	})

	announcement, err := json.Marshal(participantEvent{
		Type:            typeParticipantJoined,
		ParticipantID:   p.participantID,
		ParticipantName: name,
	})
	if err != nil {
		rt.log.Error("marshal participant_joined", "err", err)
		return
	}
	for _, other := range others {
		if !other.Conn.TrySend(announcement) {
			rt.metrics.Inc(metrics.DropPeerUnwritable)
		}
	}
}

// forwardToTarget relays an offer, answer, or candidate to the named target
// within the sender's meeting. Every failure mode is a silent drop for the
// sender.
func (rt *Router) forwardToTarget(p *peer, env envelope, signal forwardedSignal) {
	if !p.bound() {
		rt.metrics.Inc(metrics.DropUnbound)
		rt.log.Warn("dropping signal from unbound connection", "participant", p.participantID, "type", signal.Type)
		return
	}

	target, ok := rt.registry.Target(p.meetingCode, env.Target)
	if !ok {
		rt.metrics.Inc(metrics.DropTargetMissing)
		rt.log.Debug("dropping signal, target not in meeting",
			"meeting", p.meetingCode, "participant", p.participantID, "target", env.Target, "type", signal.Type)
		return
	}

	payload, err := json.Marshal(signal)
	if err != nil {
		rt.log.Error("marshal forwarded signal", "err", err)
		return
	}
	if !target.TrySend(payload) {
		rt.metrics.Inc(metrics.DropPeerUnwritable)
		return
	}
	rt.metrics.Inc(metrics.EventSignalForwarded)
}

func (rt *Router) handleChat(p *peer, env envelope) {
	if !p.bound() {
		rt.metrics.Inc(metrics.DropUnbound)
		return
	}

	payload, err := json.Marshal(chatMessage{
		Type:       typeChatMessage,
		Sender:     p.participantID,
		SenderName: p.name,
		Message:    env.Message,
		Timestamp:  rt.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		rt.log.Error("marshal chat message", "err", err)
		return
	}

	rt.broadcast(p, payload)
	rt.metrics.Inc(metrics.EventChatRelayed)
}

func (rt *Router) handleParticipantUpdate(p *peer, raw []byte) {
	if !p.bound() {
		rt.metrics.Inc(metrics.DropUnbound)
		return
	}

	payload, err := participantUpdatePayload(raw, p.participantID)
	if err != nil {
		rt.metrics.Inc(metrics.DropMalformed)
		rt.log.Warn("dropping malformed participant_update", "participant", p.participantID, "err", err)
		return
	}

	rt.broadcast(p, payload)
	rt.metrics.Inc(metrics.EventUpdateRelayed)
}

// broadcast delivers payload to every other member of p's meeting.
func (rt *Router) broadcast(p *peer, payload []byte) {
	for _, other := range rt.registry.Peers(p.meetingCode, p.participantID) {
		if !other.Conn.TrySend(payload) {
			rt.metrics.Inc(metrics.DropPeerUnwritable)
		}
	}
}

// handleDisconnect runs exactly once when p's read loop ends. It removes
// the participant, notifies the rest of the meeting, and for host
// departures ends the meeting and closes the remaining connections.
func (rt *Router) handleDisconnect(p *peer) {
	if !p.bound() {
		return
	}

	dep, ok := rt.registry.Leave(p.meetingCode, p.participantID)
	if !ok {
		return
	}
	rt.metrics.Inc(metrics.EventParticipantLeft)
	rt.log.Info("participant left", "meeting", p.meetingCode, "participant", p.participantID, "host", p.host)

	announcement, err := json.Marshal(participantEvent{
		Type:            typeParticipantLeft,
		ParticipantID:   p.participantID,
		ParticipantName: p.name,
	})
	if err != nil {
		rt.log.Error("marshal participant_left", "err", err)
		return
	}
	for _, other := range dep.Notified {
		if !other.Conn.TrySend(announcement) {
			rt.metrics.Inc(metrics.DropPeerUnwritable)
		}
	}
	if dep.HostLeft {
		rt.metrics.Inc(metrics.EventMeetingEnded)
		for _, conn := range dep.Closed {
			conn.Close()
		}
	}
}
