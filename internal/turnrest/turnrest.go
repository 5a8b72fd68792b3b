// Package turnrest mints coturn-compatible TURN REST credentials
// (draft-uberti-behave-turn-rest) so browser clients can use a TURN relay
// without long-lived secrets in the page.
//
// Algorithm:
//
//	username   = <unix_expiry>:<prefix>:<participant_or_random_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Generator struct {
	sharedSecret   []byte
	ttlSeconds     int64
	usernamePrefix string
	now            func() time.Time
}

type GeneratorConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	// Now overrides the clock in tests.
	Now func() time.Time
}

type Credentials struct {
	Username   string `json:"username"`
	Credential string `json:"credential"`
	ExpiryUnix int64  `json:"expiry"`
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("TTLSeconds must be > 0")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("UsernamePrefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("UsernamePrefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttlSeconds:     cfg.TTLSeconds,
		usernamePrefix: cfg.UsernamePrefix,
		now:            cfg.Now,
	}, nil
}

// Generate mints credentials tied to the given id (typically a participant
// id, so coturn logs correlate with signaling logs).
func (g *Generator) Generate(id string) (Credentials, error) {
	if id == "" {
		return Credentials{}, errors.New("id is required")
	}
	if strings.Contains(id, ":") {
		return Credentials{}, errors.New("id must not contain ':'")
	}
	expiry := g.now().UTC().Unix() + g.ttlSeconds
	username := fmt.Sprintf("%d:%s:%s", expiry, g.usernamePrefix, id)
	return Credentials{
		Username:   username,
		Credential: sign(g.sharedSecret, username),
		ExpiryUnix: expiry,
	}, nil
}

// GenerateRandom mints credentials with a random id, for callers that are
// not yet bound to a participant.
func (g *Generator) GenerateRandom() (Credentials, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Credentials{}, err
	}
	return g.Generate(hex.EncodeToString(buf[:]))
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
