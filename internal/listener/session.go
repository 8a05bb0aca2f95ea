package listener

import "sync"

// Session is a releasable handle on the current signed-in user. Event
// handlers and asynchronous continuations hold the handle rather than the
// raw user id and must re-check liveness before touching shared state,
// because the session may be torn down while a callback or network call is
// in flight.
type Session struct {
	mu       sync.Mutex
	userID   string
	released bool
}

// NewSession creates a live session for the given user.
func NewSession(userID string) *Session {
	return &Session{userID: userID}
}

// Get returns the user id and whether the session is still live.
func (s *Session) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return "", false
	}
	return s.userID, true
}

// Release tears the session down. Idempotent.
func (s *Session) Release() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
}
