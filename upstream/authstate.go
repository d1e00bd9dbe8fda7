package upstream

import "sync"

// AuthState holds one HTTP backend's last-seen proxy-auth challenge and
// attempt counter, shared across every Client an Instance hands to it
// (spec §3, §4.7: "Per-instance payload: last_auth_query,
// last_auth_count"). It persists across Clients by design: a Client
// started after another already solved a challenge reuses that query
// optimistically, without a spare round trip against the upstream (see
// DESIGN.md).
type AuthState struct {
	mu    sync.Mutex
	query string
	count int
}

// Begin increments the attempt count and returns it together with the
// currently stored challenge, mirroring httpc_mkconnect/httpr_relay_write_cb's
// unconditional "++auth->last_auth_count" ahead of the request they build.
func (s *AuthState) Begin() (query string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return s.query, s.count
}

// Challenge records a freshly seen Proxy-Authenticate challenge and
// resets the attempt counter, as the original's 407 handler does right
// before reconnecting.
func (s *AuthState) Challenge(query string) {
	s.mu.Lock()
	s.query = query
	s.count = 0
	s.mu.Unlock()
}
