package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "ICE_SERVERS_JSON"
	envStunURLs       = "STUN_URLS"
	envTurnURLs       = "TURN_URLS"
	envTurnUsername   = "TURN_USERNAME"
	envTurnCredential = "TURN_CREDENTIAL"
)

// DefaultSTUNURL is used when no ICE servers are configured at all, matching
// what browser clients commonly fall back to.
const DefaultSTUNURL = "stun:stun.l.google.com:19302"

// iceServerJSON mirrors the RTCIceServer dictionary: "urls" may be a single
// string or an array of strings.
type iceServerJSON struct {
	URLs       json.RawMessage `json:"urls"`
	Username   string          `json:"username"`
	Credential string          `json:"credential"`
}

// parseICEServersFromValues builds the ICE server list handed to clients.
//
// ICE_SERVERS_JSON, when set, is authoritative and the flat STUN_URLS /
// TURN_URLS variables are rejected to avoid ambiguity. With nothing
// configured the list falls back to a single public STUN server.
func parseICEServersFromValues(iceJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if strings.TrimSpace(iceJSON) != "" {
		if strings.TrimSpace(stunURLs) != "" || strings.TrimSpace(turnURLs) != "" {
			return nil, fmt.Errorf("%s must not be combined with %s or %s", envICEServersJSON, envStunURLs, envTurnURLs)
		}
		return parseICEServersJSON(iceJSON)
	}

	var servers []webrtc.ICEServer
	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		for _, u := range urls {
			if err := validateICEURL(u, false); err != nil {
				return nil, fmt.Errorf("invalid %s entry: %w", envStunURLs, err)
			}
		}
		servers = append(servers, webrtc.ICEServer{URLs: urls})
	}
	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		for _, u := range urls {
			if err := validateICEURL(u, true); err != nil {
				return nil, fmt.Errorf("invalid %s entry: %w", envTurnURLs, err)
			}
		}
		server := webrtc.ICEServer{URLs: urls, Username: turnUsername}
		if turnCredential != "" {
			server.Credential = turnCredential
		}
		servers = append(servers, server)
	} else if turnUsername != "" || turnCredential != "" {
		return nil, fmt.Errorf("%s/%s set without %s", envTurnUsername, envTurnCredential, envTurnURLs)
	}

	if len(servers) == 0 {
		servers = append(servers, webrtc.ICEServer{URLs: []string{DefaultSTUNURL}})
	}
	return servers, nil
}

func parseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", envICEServersJSON, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("invalid %s: empty server list", envICEServersJSON)
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, entry := range entries {
		urls, err := parseURLsField(entry.URLs)
		if err != nil {
			return nil, fmt.Errorf("invalid %s server %d: %w", envICEServersJSON, i, err)
		}
		hasTURN := false
		for _, u := range urls {
			if err := validateICEURL(u, false); err != nil {
				return nil, fmt.Errorf("invalid %s server %d: %w", envICEServersJSON, i, err)
			}
			if isTURNURL(u) {
				hasTURN = true
			}
		}
		server := webrtc.ICEServer{URLs: urls, Username: entry.Username}
		if entry.Credential != "" {
			server.Credential = entry.Credential
		}
		if !hasTURN && (entry.Username != "" || entry.Credential != "") {
			return nil, fmt.Errorf("invalid %s server %d: credentials on a STUN-only server", envICEServersJSON, i)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func parseURLsField(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing urls")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			return nil, fmt.Errorf("empty urls")
		}
		return []string{strings.TrimSpace(single)}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("urls must be a string or array of strings")
	}
	out := make([]string, 0, len(many))
	for _, u := range many {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty urls")
	}
	return out, nil
}

func validateICEURL(u string, turnOnly bool) error {
	lower := strings.ToLower(strings.TrimSpace(u))
	switch {
	case strings.HasPrefix(lower, "turn:"), strings.HasPrefix(lower, "turns:"):
		return nil
	case strings.HasPrefix(lower, "stun:"), strings.HasPrefix(lower, "stuns:"):
		if turnOnly {
			return fmt.Errorf("%q is not a TURN URL", u)
		}
		return nil
	default:
		return fmt.Errorf("%q is not a stun:, stuns:, turn:, or turns: URL", u)
	}
}

func isTURNURL(u string) bool {
	lower := strings.ToLower(strings.TrimSpace(u))
	return strings.HasPrefix(lower, "turn:") || strings.HasPrefix(lower, "turns:")
}

// HasTURN reports whether any configured ICE server includes a TURN URL.
func HasTURN(servers []webrtc.ICEServer) bool {
	for _, s := range servers {
		for _, u := range s.URLs {
			if isTURNURL(u) {
				return true
			}
		}
	}
	return false
}
