// Package digest computes and validates the 40-hex content address used to
// identify cached program bodies (component A of the scripting subsystem).
package digest

import (
	"crypto/sha1" //nolint:gosec // content-addressing, not a security boundary
	"encoding/hex"
	"strings"

	"github.com/R3E-Network/scriptlayer/pkg/scripterr"
)

// Length is the fixed size of a normalized digest.
const Length = 40

// Of returns the lowercase hex SHA-1 digest of body.
func Of(body []byte) string {
	sum := sha1.Sum(body) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Normalize validates a client-supplied digest and returns its lowercase
// form. A length other than 40 or the presence of non-hex characters fails
// fast with a bad-digest error, before any cache lookup is attempted.
func Normalize(raw string) (string, error) {
	if len(raw) != Length {
		return "", scripterr.BadDigest(raw)
	}
	lower := strings.ToLower(raw)
	for _, r := range lower {
		if !isHex(r) {
			return "", scripterr.BadDigest(raw)
		}
	}
	return lower, nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}
