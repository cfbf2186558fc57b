package session

// EventKind identifies what changed in a session.
type EventKind int

const (
	EventLoggedIn EventKind = iota + 1
	EventTokensUpdated
	EventProfileUpdated
	EventLoggedOut
)

func (k EventKind) String() string {
	switch k {
	case EventLoggedIn:
		return "logged_in"
	case EventTokensUpdated:
		return "tokens_updated"
	case EventProfileUpdated:
		return "profile_updated"
	case EventLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after a change has been applied and
// persisted. Snapshot is the state right after the change.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
}

// Subscribe registers fn for every future state change and returns a
// function that removes it. fn runs synchronously on the goroutine that made
// the change, in change order. It may read the session but must not change
// it.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Session) notify(ev Event) {
	s.subsMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
