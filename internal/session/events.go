package session

// EventKind classifies a store notification.
type EventKind int

const (
	// EventIdentityChanged fires when the state or identity changes.
	EventIdentityChanged EventKind = iota + 1
	// EventCredentialRefreshed fires when the API rotated the token.
	EventCredentialRefreshed
	// EventLoggedOut fires on explicit logout and on session invalidation;
	// invalidation carries the API error in Err.
	EventLoggedOut
)

func (k EventKind) String() string {
	switch k {
	case EventIdentityChanged:
		return "identity_changed"
	case EventCredentialRefreshed:
		return "credential_refreshed"
	case EventLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers outside the store lock.
type Event struct {
	Kind     EventKind
	State    State
	Identity *Identity
	Token    string
	Err      error
}

// Subscribe registers fn for every event. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || fn == nil {
		return func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// collectLocked snapshots subscribers so they run after the lock is released.
func (s *Store) collectLocked(emit bool, ev Event) func() {
	if !emit || len(s.subs) == 0 {
		return func() {}
	}
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
