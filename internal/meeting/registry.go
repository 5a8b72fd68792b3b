package meeting

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrMeetingNotFound is returned by Join when the meeting code is not in
// the registry.
var ErrMeetingNotFound = errors.New("meeting not found")

// Conn is the write side of a participant's transport connection.
//
// TrySend is best-effort and must not block: it reports false when the
// connection is closed or its outbound queue is full, and the message is
// simply skipped. Close tears the transport down.
type Conn interface {
	TrySend(payload []byte) bool
	Close()
}

// Participant is one connected identity bound to a meeting.
type Participant struct {
	ID   string
	Name string
	Host bool
	Conn Conn
}

// PeerInfo is the (id, name) pair shared with other participants on join.
type PeerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type state struct {
	code         string
	participants map[string]*Participant
	active       bool
	createdAt    time.Time
}

// Departure describes the registry changes caused by a participant leaving.
type Departure struct {
	// Notified holds the other participants present at the moment of
	// departure, snapshotted before removal.
	Notified []Participant
	// HostLeft reports whether the departing participant was the host, in
	// which case the meeting was deleted.
	HostLeft bool
	// Closed holds the connections of the remaining participants of a
	// deleted meeting. The caller closes them outside the registry lock.
	Closed []Conn
}

// Registry is the process-wide map from meeting code to meeting state.
//
// A single mutex serializes every mutation and every membership read, so
// routing decisions always observe a consistent snapshot. Sends happen
// outside the lock and never block registry access.
type Registry struct {
	log *slog.Logger
	now func() time.Time

	// newCode is swappable in tests to force code collisions.
	newCode func() (string, error)

	mu       sync.Mutex
	meetings map[string]*state
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		log:      logger,
		now:      time.Now,
		newCode:  NewMeetingCode,
		meetings: make(map[string]*state),
	}
}

// Create inserts a new meeting with the creator as its sole, host
// participant and returns the generated meeting code.
//
// A generated code that collides with an existing meeting replaces it; the
// orphaned entry's participants keep their connections but are no longer
// routable.
func (r *Registry) Create(participantID, hostName string, conn Conn) (string, error) {
	code, err := r.newCode()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if _, ok := r.meetings[code]; ok {
		r.log.Warn("meeting code collision, replacing earlier meeting", "code", code)
	}
	r.meetings[code] = &state{
		code: code,
		participants: map[string]*Participant{
			participantID: {ID: participantID, Name: hostName, Host: true, Conn: conn},
		},
		active:    true,
		createdAt: r.now(),
	}
	r.mu.Unlock()

	r.log.Info("meeting created", "code", code, "host", participantID)
	return code, nil
}

// Join inserts a non-host participant into the meeting and returns a
// snapshot of the other participants present at that instant.
func (r *Registry) Join(code, participantID, name string, conn Conn) ([]Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meetings[code]
	if !ok {
		return nil, ErrMeetingNotFound
	}

	others := make([]Participant, 0, len(m.participants))
	for id, p := range m.participants {
		if id == participantID {
			continue
		}
		others = append(others, *p)
	}

	m.participants[participantID] = &Participant{ID: participantID, Name: name, Conn: conn}
	return others, nil
}

// Remove deletes the participant from the meeting. It is idempotent: a
// missing meeting or participant is a no-op.
func (r *Registry) Remove(code, participantID string) {
	r.mu.Lock()
	if m, ok := r.meetings[code]; ok {
		delete(m.participants, participantID)
	}
	r.mu.Unlock()
}

// Leave removes the participant and, when the participant was the host,
// deletes the whole meeting. It returns the departure snapshot and whether
// the participant was actually present.
//
// The removal (and teardown, for hosts) is atomic with respect to routing:
// once Leave returns, no message can be routed to the departed participant
// or, for a host departure, to the meeting at all.
func (r *Registry) Leave(code, participantID string) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meetings[code]
	if !ok {
		return Departure{}, false
	}
	leaving, ok := m.participants[participantID]
	if !ok {
		return Departure{}, false
	}

	var dep Departure
	for id, p := range m.participants {
		if id == participantID {
			continue
		}
		dep.Notified = append(dep.Notified, *p)
	}

	delete(m.participants, participantID)

	if leaving.Host {
		dep.HostLeft = true
		for _, p := range m.participants {
			dep.Closed = append(dep.Closed, p.Conn)
		}
		delete(r.meetings, code)
		r.log.Info("meeting ended, host left", "code", code, "host", participantID)
	}
	return dep, true
}

// Teardown closes every remaining participant's connection and deletes the
// meeting. Missing codes are a no-op.
func (r *Registry) Teardown(code string) {
	r.mu.Lock()
	m, ok := r.meetings[code]
	if ok {
		delete(r.meetings, code)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, p := range m.participants {
		p.Conn.Close()
	}
	r.log.Info("meeting torn down", "code", code)
}

// TeardownAll tears down every meeting. Used on server shutdown.
func (r *Registry) TeardownAll() {
	r.mu.Lock()
	meetings := r.meetings
	r.meetings = make(map[string]*state)
	r.mu.Unlock()

	for code, m := range meetings {
		for _, p := range m.participants {
			p.Conn.Close()
		}
		r.log.Info("meeting torn down", "code", code)
	}
}

// Exists reports whether the code names a live meeting.
func (r *Registry) Exists(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.meetings[code]
	return ok
}

// IsActive reports the meeting's activity flag. Registry presence is the
// source of truth, so this matches Exists for live meetings; the flag is
// retained for the status API shape.
func (r *Registry) IsActive(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[code]
	return ok && m.active
}

// Target resolves a participant's connection within a meeting. The second
// return is false when the meeting or the participant is absent.
func (r *Registry) Target(code, participantID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[code]
	if !ok {
		return nil, false
	}
	p, ok := m.participants[participantID]
	if !ok {
		return nil, false
	}
	return p.Conn, true
}

// Peers returns a snapshot of the meeting's participants excluding
// excludeID. A missing meeting yields an empty slice.
func (r *Registry) Peers(code, excludeID string) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[code]
	if !ok {
		return nil
	}
	peers := make([]Participant, 0, len(m.participants))
	for id, p := range m.participants {
		if id == excludeID {
			continue
		}
		peers = append(peers, *p)
	}
	return peers
}
