package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openmeet/meet-relay/internal/meeting"
)

// Inbound message types.
const (
	typeCreateMeeting     = "create_meeting"
	typeJoinMeeting       = "join_meeting"
	typeWebRTCOffer       = "webrtc_offer"
	typeWebRTCAnswer      = "webrtc_answer"
	typeICECandidate      = "ice_candidate"
	typeChatMessage       = "chat_message"
	typeParticipantUpdate = "participant_update"
)

// Outbound message types.
const (
	typeMeetingCreated    = "meeting_created"
	typeMeetingJoined     = "meeting_joined"
	typeError             = "error"
	typeParticipantJoined = "participant_joined"
	typeParticipantLeft   = "participant_left"
)

var errMissingType = errors.New("missing message type")

// envelope is the superset of all inbound message fields. Unknown fields
// are ignored; handlers pick the fields their type uses.
type envelope struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	MeetingID string `json:"meetingId"`
	Target    string `json:"target"`

	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
	Message   json.RawMessage `json:"message"`
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("malformed message: %w", err)
	}
	if env.Type == "" {
		return envelope{}, errMissingType
	}
	return env, nil
}

type meetingCreated struct {
	Type          string `json:"type"`
	MeetingID     string `json:"meetingId"`
	ParticipantID string `json:"participantId"`
}

type meetingJoined struct {
	Type          string             `json:"type"`
	MeetingID     string             `json:"meetingId"`
	ParticipantID string             `json:"participantId"`
	Participants  []meeting.PeerInfo `json:"participants"`
}

type errorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// participantEvent announces a join or departure to the rest of a meeting.
type participantEvent struct {
	Type            string `json:"type"`
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName,omitempty"`
}

// forwardedSignal is a relayed offer, answer, or ICE candidate with the
// target field replaced by the sender's id.
type forwardedSignal struct {
	Type      string          `json:"type"`
	Sender    string          `json:"sender"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type chatMessage struct {
	Type       string          `json:"type"`
	Sender     string          `json:"sender"`
	SenderName string          `json:"senderName"`
	Message    json.RawMessage `json:"message"`
	Timestamp  string          `json:"timestamp"`
}

// participantUpdatePayload rebuilds a participant_update for broadcast: the
// sender's arbitrary fields are kept, and the server stamps the type and
// the sender's participantId over anything the client put there.
func participantUpdatePayload(raw []byte, senderID string) ([]byte, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["type"] = typeParticipantUpdate
	fields["participantId"] = senderID
	return json.Marshal(fields)
}
