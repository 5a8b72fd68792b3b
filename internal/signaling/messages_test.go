package signaling

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"type":"join_meeting","meetingId":"ABC-DEF-GH1","name":"Alice"}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if env.Type != typeJoinMeeting || env.MeetingID != "ABC-DEF-GH1" || env.Name != "Alice" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestParseEnvelope_MissingType(t *testing.T) {
	if _, err := parseEnvelope([]byte(`{"name":"Alice"}`)); !errors.Is(err, errMissingType) {
		t.Fatalf("err = %v, want errMissingType", err)
	}
}

func TestParseEnvelope_Malformed(t *testing.T) {
	if _, err := parseEnvelope([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected error for truncated JSON")
	}
}

func TestParseEnvelope_PayloadKeptVerbatim(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"type":"webrtc_offer","target":"t1","offer":{"sdp":"v=0","type":"offer"}}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if string(env.Offer) != `{"sdp":"v=0","type":"offer"}` {
		t.Fatalf("offer payload altered: %s", env.Offer)
	}
}

func TestParticipantUpdatePayload(t *testing.T) {
	raw := []byte(`{"type":"participant_update","participantId":"spoofed","muted":true,"handRaised":false}`)
	out, err := participantUpdatePayload(raw, "real-sender")
	if err != nil {
		t.Fatalf("participantUpdatePayload: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if fields["type"] != "participant_update" {
		t.Fatalf("type = %v", fields["type"])
	}
	if fields["participantId"] != "real-sender" {
		t.Fatalf("participantId = %v, want server-stamped sender", fields["participantId"])
	}
	if fields["muted"] != true || fields["handRaised"] != false {
		t.Fatalf("client fields not preserved: %v", fields)
	}
}

func TestParticipantUpdatePayload_Malformed(t *testing.T) {
	if _, err := participantUpdatePayload([]byte(`[]`), "x"); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
}
