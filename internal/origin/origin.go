// Package origin normalizes browser Origin headers and decides whether an
// origin may open the signaling WebSocket or read the ICE configuration.
package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port], default ports
// stripped) and the host[:port] portion for same-host comparisons. The
// special Origin value "null" is allowed and returned as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", "", false
	}

	var port uint64
	if rawPort := u.Port(); rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host = hostname
	if strings.Contains(hostname, ":") {
		// IPv6 literal.
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host = host + ":" + strconv.FormatUint(port, 10)
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether the normalized origin may access the given
// request host.
//
// A non-empty allowlist grants access when it contains "*" or the
// normalized origin. An empty allowlist falls back to same-host: the
// origin's host[:port] must equal the request's Host header (default
// ports treated as equivalent).
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowed []string) bool {
	if len(allowed) > 0 {
		for _, entry := range allowed {
			entry = strings.TrimSpace(entry)
			if entry == "*" || entry == normalizedOrigin {
				return true
			}
		}
		return false
	}
	if normalizedOrigin == "null" {
		return false
	}
	return equivalentHost(originHost) == equivalentHost(requestHost)
}

// equivalentHost lowercases and strips default HTTP(S) ports so
// "example.com", "example.com:80", and "example.com:443" compare equal.
func equivalentHost(hostport string) string {
	hostport = strings.ToLower(strings.TrimSpace(hostport))
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	if port == "80" || port == "443" {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return hostport
}
