package meeting

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	full   bool
}

func (c *fakeConn) TrySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return false
	}
	c.sent = append(c.sent, payload)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestRegistry() *Registry {
	return NewRegistry(slog.Default())
}

func TestRegistry_CreateThenExists(t *testing.T) {
	r := newTestRegistry()
	code, err := r.Create("host1", "Alice", &fakeConn{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !meetingCodePattern.MatchString(code) {
		t.Fatalf("meeting code %q does not match XXX-XXX-XXX", code)
	}
	if !r.Exists(code) {
		t.Fatalf("expected Exists(%q) after create", code)
	}
	if !r.IsActive(code) {
		t.Fatalf("expected IsActive(%q) after create", code)
	}
}

func TestRegistry_JoinUnknownCode(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Join("NOP-NOP-NOP", "p1", "Bob", &fakeConn{})
	if !errors.Is(err, ErrMeetingNotFound) {
		t.Fatalf("expected ErrMeetingNotFound, got %v", err)
	}
	if r.Exists("NOP-NOP-NOP") {
		t.Fatalf("failed join must not mutate the registry")
	}
}

func TestRegistry_JoinReturnsExistingPeers(t *testing.T) {
	r := newTestRegistry()
	code, err := r.Create("host1", "Alice", &fakeConn{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	others, err := r.Join(code, "p2", "Bob", &fakeConn{})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(others) != 1 || others[0].ID != "host1" || others[0].Name != "Alice" {
		t.Fatalf("unexpected peer snapshot: %+v", others)
	}
	if !others[0].Host {
		t.Fatalf("expected host flag on the creator")
	}

	others, err = r.Join(code, "p3", "Carol", &fakeConn{})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(others) != 2 {
		t.Fatalf("expected 2 existing peers, got %d", len(others))
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.Create("host1", "Alice", &fakeConn{})

	r.Remove(code, "absent")
	r.Remove("NOP-NOP-NOP", "host1")
	if !r.Exists(code) {
		t.Fatalf("remove of absent participant must not delete the meeting")
	}
}

func TestRegistry_LeaveNonHostKeepsMeeting(t *testing.T) {
	r := newTestRegistry()
	hostConn := &fakeConn{}
	code, _ := r.Create("host1", "Alice", hostConn)
	if _, err := r.Join(code, "p2", "Bob", &fakeConn{}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	dep, ok := r.Leave(code, "p2")
	if !ok {
		t.Fatalf("expected Leave to find the participant")
	}
	if dep.HostLeft {
		t.Fatalf("non-host departure must not end the meeting")
	}
	if len(dep.Notified) != 1 || dep.Notified[0].ID != "host1" {
		t.Fatalf("unexpected notification snapshot: %+v", dep.Notified)
	}
	if !r.Exists(code) {
		t.Fatalf("meeting must survive a non-host departure")
	}
	if hostConn.isClosed() {
		t.Fatalf("remaining participants must keep their connections")
	}

	// A later join to the same code still succeeds.
	if _, err := r.Join(code, "p3", "Carol", &fakeConn{}); err != nil {
		t.Fatalf("rejoin after departure: %v", err)
	}
}

func TestRegistry_LeaveHostTearsDown(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.Create("host1", "Alice", &fakeConn{})
	guest1 := &fakeConn{}
	guest2 := &fakeConn{}
	if _, err := r.Join(code, "p2", "Bob", guest1); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := r.Join(code, "p3", "Carol", guest2); err != nil {
		t.Fatalf("Join: %v", err)
	}

	dep, ok := r.Leave(code, "host1")
	if !ok {
		t.Fatalf("expected Leave to find the host")
	}
	if !dep.HostLeft {
		t.Fatalf("expected HostLeft for the creator")
	}
	if len(dep.Notified) != 2 {
		t.Fatalf("expected both guests in the notification snapshot, got %d", len(dep.Notified))
	}
	if len(dep.Closed) != 2 {
		t.Fatalf("expected both guest connections scheduled for close, got %d", len(dep.Closed))
	}
	if r.Exists(code) {
		t.Fatalf("meeting must not outlive its host")
	}
	if r.IsActive(code) {
		t.Fatalf("torn-down meeting must not report active")
	}
}

func TestRegistry_LeaveIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.Create("host1", "Alice", &fakeConn{})
	if _, ok := r.Leave(code, "absent"); ok {
		t.Fatalf("Leave of an absent participant must report not found")
	}
	if _, ok := r.Leave("NOP-NOP-NOP", "host1"); ok {
		t.Fatalf("Leave on an absent meeting must report not found")
	}
}

func TestRegistry_TeardownClosesAllConnections(t *testing.T) {
	r := newTestRegistry()
	hostConn := &fakeConn{}
	guestConn := &fakeConn{}
	code, _ := r.Create("host1", "Alice", hostConn)
	if _, err := r.Join(code, "p2", "Bob", guestConn); err != nil {
		t.Fatalf("Join: %v", err)
	}

	r.Teardown(code)
	if r.Exists(code) {
		t.Fatalf("expected meeting removed after teardown")
	}
	if !hostConn.isClosed() || !guestConn.isClosed() {
		t.Fatalf("expected every participant connection closed")
	}

	// Idempotent.
	r.Teardown(code)
}

func TestRegistry_CreateCollisionReplacesEarlierMeeting(t *testing.T) {
	r := newTestRegistry()
	r.newCode = func() (string, error) { return "AAA-BBB-CCC", nil }

	firstHost := &fakeConn{}
	code1, err := r.Create("host1", "Alice", firstHost)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	code2, err := r.Create("host2", "Mallory", &fakeConn{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if code1 != code2 {
		t.Fatalf("stubbed generator must collide, got %q and %q", code1, code2)
	}

	// The later create silently owns the code; the earlier host is orphaned
	// but its connection stays open.
	if conn, ok := r.Target(code2, "host2"); !ok || conn == nil {
		t.Fatalf("expected the replacing meeting to be routable")
	}
	if _, ok := r.Target(code2, "host1"); ok {
		t.Fatalf("expected the replaced meeting to be unroutable")
	}
	if firstHost.isClosed() {
		t.Fatalf("replacement must not close the orphaned host connection")
	}
}

func TestRegistry_TargetResolution(t *testing.T) {
	r := newTestRegistry()
	guestConn := &fakeConn{}
	code, _ := r.Create("host1", "Alice", &fakeConn{})
	if _, err := r.Join(code, "p2", "Bob", guestConn); err != nil {
		t.Fatalf("Join: %v", err)
	}

	conn, ok := r.Target(code, "p2")
	if !ok {
		t.Fatalf("expected target resolution for a present participant")
	}
	if conn != Conn(guestConn) {
		t.Fatalf("resolved the wrong connection")
	}
	if _, ok := r.Target(code, "absent"); ok {
		t.Fatalf("absent participant must not resolve")
	}
	if _, ok := r.Target("NOP-NOP-NOP", "p2"); ok {
		t.Fatalf("absent meeting must not resolve")
	}
}

func TestRegistry_PeersExcludesCaller(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.Create("host1", "Alice", &fakeConn{})
	if _, err := r.Join(code, "p2", "Bob", &fakeConn{}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	peers := r.Peers(code, "p2")
	if len(peers) != 1 || peers[0].ID != "host1" {
		t.Fatalf("unexpected peers: %+v", peers)
	}
	if got := r.Peers("NOP-NOP-NOP", "p2"); len(got) != 0 {
		t.Fatalf("absent meeting must yield no peers, got %+v", got)
	}
}
