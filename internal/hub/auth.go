// Package hub validates world-server registration tokens against the shared
// secret supplied out-of-band through configuration.
package hub

import "crypto/subtle"

// tokenMatches reports whether a supplied registration token equals the
// configured shared secret. Lengths are compared first so the constant-time
// comparator only ever runs on equal-length buffers; a length mismatch is an
// immediate failure. An empty secret never matches anything, so a hub that
// was started without one refuses every registration.
func tokenMatches(supplied, secret string) bool {
	if secret == "" {
		return false
	}
	if len(supplied) != len(secret) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(secret)) == 1
}
