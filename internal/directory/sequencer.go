package directory

import "sync"

type sequenceKey struct {
	session string
	catalog Catalog
}

// Sequencer implements latest-request-wins ordering for search
// responses. Each dispatched search takes a sequence number per
// (session, catalog); a response is applied only if no newer response
// for the same pair has been applied already.
type Sequencer struct {
	mu      sync.Mutex
	next    map[sequenceKey]uint64
	applied map[sequenceKey]uint64
}

// NewSequencer creates an empty sequencer
func NewSequencer() *Sequencer {
	return &Sequencer{
		next:    make(map[sequenceKey]uint64),
		applied: make(map[sequenceKey]uint64),
	}
}

// Next reserves the sequence number for a new search
func (s *Sequencer) Next(session string, catalog Catalog) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sequenceKey{session: session, catalog: catalog}
	s.next[key]++
	return s.next[key]
}

// Apply reports whether a response with the given sequence is still
// current, recording it if so. A stale response returns false and
// must be dropped.
func (s *Sequencer) Apply(session string, catalog Catalog, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sequenceKey{session: session, catalog: catalog}
	if seq < s.applied[key] {
		return false
	}
	s.applied[key] = seq
	return true
}

// Forget drops all state for a session
func (s *Sequencer) Forget(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.next {
		if key.session == session {
			delete(s.next, key)
		}
	}
	for key := range s.applied {
		if key.session == session {
			delete(s.applied, key)
		}
	}
}
