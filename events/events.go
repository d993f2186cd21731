// Package events is the typed notification surface of a login session.
package events

import (
	"sync"
	"time"
)

type Kind int

const (
	KindLogin Kind = iota
	KindLogout
	KindError
	KindSessionExpired
	KindSessionExtended
)

func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "login"
	case KindLogout:
		return "logout"
	case KindError:
		return "error"
	case KindSessionExpired:
		return "sessionExpired"
	case KindSessionExtended:
		return "sessionExtended"
	default:
		return "unknown"
	}
}

// Event is one of Login, Logout, Error, SessionExpired or SessionExtended.
type Event interface {
	Kind() Kind
}

type Login struct{}

type Logout struct{}

// Error carries the operation that failed ("login", "refresh", ...) and the cause.
type Error struct {
	Tag string
	Err error
}

type SessionExpired struct{}

// SessionExtended is emitted when the access token was renewed and stays valid for ExpiresIn.
type SessionExtended struct {
	ExpiresIn time.Duration
}

func (Login) Kind() Kind           { return KindLogin }
func (Logout) Kind() Kind          { return KindLogout }
func (Error) Kind() Kind           { return KindError }
func (SessionExpired) Kind() Kind  { return KindSessionExpired }
func (SessionExtended) Kind() Kind { return KindSessionExtended }

type Listener func(Event)

// Bus dispatches events synchronously, in registration order, on the emitting goroutine.
// Listeners are never removed until the bus is closed.
type Bus struct {
	mu        sync.Mutex
	listeners map[Kind][]Listener
	closed    bool
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[Kind][]Listener)}
}

func (b *Bus) On(kind Kind, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.listeners[kind] = append(b.listeners[kind], l)
}

func (b *Bus) OnLogin(fn func()) {
	b.On(KindLogin, func(Event) { fn() })
}

func (b *Bus) OnLogout(fn func()) {
	b.On(KindLogout, func(Event) { fn() })
}

func (b *Bus) OnError(fn func(tag string, err error)) {
	b.On(KindError, func(e Event) {
		switch ev := e.(type) {
		case Error:
			fn(ev.Tag, ev.Err)
		case *Error:
			if ev != nil {
				fn(ev.Tag, ev.Err)
			}
		}
	})
}

func (b *Bus) OnSessionExpired(fn func()) {
	b.On(KindSessionExpired, func(Event) { fn() })
}

func (b *Bus) OnSessionExtended(fn func(expiresIn time.Duration)) {
	b.On(KindSessionExtended, func(e Event) {
		switch ev := e.(type) {
		case SessionExtended:
			fn(ev.ExpiresIn)
		case *SessionExtended:
			if ev != nil {
				fn(ev.ExpiresIn)
			}
		}
	})
}

// Emit returns once every listener has run. Listeners added while an emission is being
// dispatched only see later emissions.
func (b *Bus) Emit(e Event) {
	if b == nil || e == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	ls := make([]Listener, len(b.listeners[e.Kind()]))
	copy(ls, b.listeners[e.Kind()])
	b.mu.Unlock()

	for _, l := range ls {
		l(e)
	}
}

// Close drops every listener. Later registrations and emissions are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = nil
}
