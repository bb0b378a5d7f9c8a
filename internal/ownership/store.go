// ABOUTME: Process-wide ownership records keyed by conversation id
// ABOUTME: The only shared mutable state; mutation and per-conversation work are serialized here

package ownership

import (
	"sync"
)

// State says who currently owns a conversation.
type State string

const (
	WithAutomation State = "with_automation"
	WithHuman      State = "with_human"
)

// Record is the ownership record for one conversation. SessionHandle is the
// opaque generative-backend context, present only while automation has
// produced at least one reply; it is cleared on every hand-off to a human
// and never reused across conversations.
type Record struct {
	ConversationID string
	State          State
	SessionHandle  string
}

// Store maps conversation ids to ownership records. All access goes through
// its methods; callers never hold a reference into the underlying map.
// Records are created lazily with State WithAutomation and no handle.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record

	// locks serializes reconcile-and-act sequences per conversation so two
	// concurrent webhook deliveries for the same conversation cannot both
	// decide "I own this, respond".
	locks map[string]*sync.Mutex
}

// NewStore creates an empty ownership store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Get returns a copy of the record for the conversation, creating the
// default record if none exists yet.
func (s *Store) Get(conversationID string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getLocked(conversationID)
}

// SetState updates the ownership state for the conversation.
func (s *Store) SetState(conversationID string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getLocked(conversationID).State = state
}

// SetSessionHandle updates the session handle; an empty handle clears it.
func (s *Store) SetSessionHandle(conversationID, handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getLocked(conversationID).SessionHandle = handle
}

// Contains reports whether a record exists without creating one.
func (s *Store) Contains(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[conversationID]
	return ok
}

// Remove deletes the record for the conversation, if any. The next Get
// recreates the default record (WithAutomation, no handle).
func (s *Store) Remove(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, conversationID)
}

// Snapshot returns copies of all current records, for the debug surface.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	return out
}

// Do runs fn while holding the conversation's work lock. Every sequence
// that reads ownership and then acts on it (reconcile, transition, respond)
// must run inside Do for its conversation id. Locks are per-conversation,
// so work on different conversations proceeds concurrently.
func (s *Store) Do(conversationID string, fn func()) {
	lock := s.workLock(conversationID)
	lock.Lock()
	defer lock.Unlock()
	fn()
}

// workLock returns the per-conversation mutex, creating it on first use.
// Lock entries are never removed; one mutex per live conversation is cheap
// relative to the records themselves.
func (s *Store) workLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}
	return lock
}

// getLocked returns the live record, creating the default one if absent.
// Must be called with mu held.
func (s *Store) getLocked(conversationID string) *Record {
	r, ok := s.records[conversationID]
	if !ok {
		r = &Record{
			ConversationID: conversationID,
			State:          WithAutomation,
		}
		s.records[conversationID] = r
	}
	return r
}
