package gate

import "sync"

type session struct {
	validated bool
	active    bool
}

// Sessions is the host's per-connection handshake table.
type Sessions struct {
	mu   sync.Mutex
	byID map[string]*session
}

func NewSessions() *Sessions {
	return &Sessions{byID: map[string]*session{}}
}

// Add registers an unvalidated session. Re-adding an existing id is a no-op.
func (s *Sessions) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		s.byID[id] = &session{}
	}
}

// Validate marks id as validated, creating the session if needed.
func (s *Sessions) Validate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss := s.byID[id]
	if ss == nil {
		ss = &session{}
		s.byID[id] = ss
	}
	ss.validated = true
}

func (s *Sessions) IsValidated(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss := s.byID[id]
	return ss != nil && ss.validated
}

// Activate reports true the first time a validated session becomes active.
func (s *Sessions) Activate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss := s.byID[id]
	if ss == nil || !ss.validated || ss.active {
		return false
	}
	ss.active = true
	return true
}

// Remove drops id regardless of state. Removing an unknown id is a no-op.
func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *Sessions) ValidatedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ss := range s.byID {
		if ss.validated {
			n++
		}
	}
	return n
}
