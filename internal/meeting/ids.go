package meeting

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/pion/randutil"
)

// codeAlphabet is the character set for meeting codes. Uppercase plus
// digits keeps codes readable over voice and avoids lookalike casing.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const codeGroups = 3

// NewParticipantID returns a process-unique participant identifier: 8 bytes
// of crypto-random entropy rendered as 16 lowercase hex characters.
//
// There is no collision check; 64 bits of entropy makes an accidental
// collision over a process lifetime astronomically unlikely.
func NewParticipantID() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// NewMeetingCode returns a human-shareable meeting code in the shape
// XXX-XXX-XXX, drawn uniformly from A-Z0-9.
//
// Codes are not checked for uniqueness against the registry; the code space
// (36^9) makes collisions an accepted risk, and a colliding create replaces
// the earlier meeting.
func NewMeetingCode() (string, error) {
	groups := make([]string, codeGroups)
	for i := range groups {
		g, err := randutil.GenerateCryptoRandomString(3, codeAlphabet)
		if err != nil {
			return "", err
		}
		groups[i] = g
	}
	return strings.Join(groups, "-"), nil
}
