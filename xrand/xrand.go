// Package xrand provides the small amount of randomness the core needs:
// hex nonces for HTTP Digest proxy auth, and jittered backoff delays for
// the accept-failure state machine.
package xrand

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	mrand "math/rand"
	"sync"
	"time"
)

var (
	alpha []string // used for random value generation

	jitterMu  sync.Mutex
	jitterRnd = mrand.New(mrand.NewSource(time.Now().UnixNano()))
)

func init() {
	for _, s := range [][]rune{{'a', 'z'}, {'A', 'Z'}, {'0', '9'}} {
		for l := s[0]; l <= s[1]; l++ {
			alpha = append(alpha, string(l))
		}
	}
}

// Letter returns a single cryptographically random alphanumeric rune.
func Letter() (l string, err error) {
	var bi [1]byte
	if _, err = rand.Read(bi[:]); err != nil {
		return
	}
	return alpha[int(bi[0])%len(alpha)], nil
}

// String returns maxLen cryptographically random alphanumeric characters.
func String(maxLen int64) (s string, err error) {
	var l string
	for i := int64(0); i < maxLen; i++ {
		if l, err = Letter(); err != nil {
			return s, errors.New("failed to generate random letter: " + err.Error())
		}
		s += l
	}
	return
}

// Hex returns n random hex digits, used for the Digest proxy-auth cnonce
// (spec §4.7 wants 16 hex digits).
func Hex(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.New("failed to generate random hex: " + err.Error())
	}
	return hex.EncodeToString(buf)[:n], nil
}

// JitterMillis returns a uniformly random duration in (0, ceilingMs]
// milliseconds, used by the accept backoff state machine (spec §4.2).
// A non-cryptographic, seeded generator is intentional here — it's
// timing jitter, not a security boundary — matching the teacher's own
// package-level `rnd = rand.New(rand.NewSource(time.Now().UnixNano()))`
// pattern used to throttle ARP/DNS retries.
func JitterMillis(ceilingMs int) time.Duration {
	if ceilingMs <= 0 {
		return 0
	}
	jitterMu.Lock()
	n := jitterRnd.Intn(ceilingMs) + 1
	jitterMu.Unlock()
	return time.Duration(n) * time.Millisecond
}
