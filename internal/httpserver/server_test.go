package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/openmeet/meet-relay/internal/config"
	"github.com/openmeet/meet-relay/internal/turnrest"
)

type fakeMeetings struct {
	exists map[string]bool
	active map[string]bool
}

func (f *fakeMeetings) Exists(code string) bool   { return f.exists[code] }
func (f *fakeMeetings) IsActive(code string) bool { return f.active[code] }

func startTestServer(t *testing.T, cfg config.Config, meetings MeetingStatus, turn *turnrest.Generator) (baseURL string) {
	t.Helper()

	if meetings == nil {
		meetings = &fakeMeetings{}
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := BuildInfo{Version: "1.2.3", Commit: "abc", BuildTime: "time"}
	srv := New(cfg, log, build, meetings, turn)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String()
}

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
	}
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), nil, nil)

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/readyz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("version", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/version")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var got BuildInfo
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := BuildInfo{Version: "1.2.3", Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})
}

func TestMeetingStatusEndpoint(t *testing.T) {
	meetings := &fakeMeetings{
		exists: map[string]bool{"ABC-DEF-GH1": true},
		active: map[string]bool{"ABC-DEF-GH1": true},
	}
	baseURL := startTestServer(t, testConfig(), meetings, nil)

	get := func(t *testing.T, code string) map[string]any {
		t.Helper()
		resp, err := http.Get(baseURL + "/api/meeting/" + code)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body
	}

	if body := get(t, "ABC-DEF-GH1"); body["exists"] != true || body["isActive"] != true {
		t.Fatalf("known meeting: %v", body)
	}
	if body := get(t, "NOP-NOP-NOP"); body["exists"] != false || body["isActive"] != false {
		t.Fatalf("unknown meeting: %v", body)
	}
}

func TestICEEndpointSchema(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "user", Credential: "pass"},
	}

	baseURL := startTestServer(t, cfg, nil, nil)

	resp, err := http.Get(baseURL + "/api/ice")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if _, ok := payload.ICEServers[0]["urls"]; !ok {
		t.Fatalf("expected urls field on first server: %#v", payload.ICEServers[0])
	}
	// Static credentials pass through untouched when TURN REST is off.
	if payload.ICEServers[1]["username"] != "user" {
		t.Fatalf("static TURN username altered: %#v", payload.ICEServers[1])
	}
}

func TestICEEndpoint_MintsTURNCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turns:turn.example.com:5349"}},
	}

	turn, err := turnrest.NewGenerator(turnrest.GeneratorConfig{
		SharedSecret:   "secret",
		TTLSeconds:     600,
		UsernamePrefix: "meet",
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	baseURL := startTestServer(t, cfg, nil, turn)

	resp, err := http.Get(baseURL + "/api/ice")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if u, ok := payload.ICEServers[0]["username"].(string); ok && u != "" {
		t.Fatalf("STUN entry must not carry credentials: %#v", payload.ICEServers[0])
	}
	username, _ := payload.ICEServers[1]["username"].(string)
	credential, _ := payload.ICEServers[1]["credential"].(string)
	if username == "" || credential == "" {
		t.Fatalf("TURN entry missing minted credentials: %#v", payload.ICEServers[1])
	}
}

func TestICEEndpoint_RejectsCrossOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}

	baseURL := startTestServer(t, cfg, nil, nil)

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/ice", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), nil, nil)

	req, err := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-42")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID = %q, want req-42", got)
	}
}
