package session

import (
	"sync"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
)

// EventType distinguishes auth change notifications.
type EventType int

const (
	// EventLogin is emitted when a session is established.
	EventLogin EventType = iota + 1
	// EventLogout is emitted when a session ends.
	EventLogout
	// EventRefreshed is emitted after the session token was renewed.
	EventRefreshed
)

func (t EventType) String() string {
	switch t {
	case EventLogin:
		return "auth-login"
	case EventLogout:
		return "auth-logout"
	case EventRefreshed:
		return "auth-refreshed"
	default:
		return "unknown"
	}
}

// Event is delivered to OnAuthChange listeners.
type Event struct {
	Type    EventType
	User    *auth.User
	Session *auth.Session
	// Remote is set when the change was observed from another tab.
	Remote bool
	// Err is the cause of a forced logout.
	Err error
	// RedirectURL is where the application should send the user after a
	// forced logout.
	RedirectURL string
}

type emitter struct {
	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

func (e *emitter) subscribe(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.subs == nil {
		e.subs = make(map[int]func(Event))
	}

	id := e.next
	e.next++
	e.subs[id] = fn

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *emitter) emit(evt Event) {
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.subs))

	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}
