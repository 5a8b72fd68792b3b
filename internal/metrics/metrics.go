// Package metrics is a minimal, concurrency-safe counter registry with a
// Prometheus text-format exposition handler.
package metrics

import "sync"

// Routing event counters incremented by the signaling layer.
const (
	EventMeetingCreated   = "meeting_created"
	EventMeetingJoined    = "meeting_joined"
	EventParticipantLeft  = "participant_left"
	EventMeetingEnded     = "meeting_ended"
	EventSignalForwarded  = "signal_forwarded"
	EventChatRelayed      = "chat_relayed"
	EventUpdateRelayed    = "participant_update_relayed"

	DropMalformed       = "drop_malformed"
	DropUnknownType     = "drop_unknown_type"
	DropMeetingNotFound = "drop_meeting_not_found"
	DropUnbound         = "drop_unbound"
	DropTargetMissing   = "drop_target_missing"
	DropPeerUnwritable  = "drop_peer_unwritable"
	DropRateLimited     = "drop_rate_limited"
	DropAlreadyBound    = "drop_already_bound"
)

// Metrics counts named events. The zero value is not usable; call New.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
