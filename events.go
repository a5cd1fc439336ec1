package bifrost

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event identifies a token lifecycle transition.
type Event string

const (
	// EventRefreshSuccess fires after a renewal succeeds; the payload is
	// the new session.
	EventRefreshSuccess Event = "refresh_success"

	// EventRefreshFailed fires after a renewal gives up.
	EventRefreshFailed Event = "refresh_failed"

	// EventTokenExpired fires when a stored token is found past its
	// expiry, or when an authorization failure could not be recovered.
	EventTokenExpired Event = "token_expired"

	// EventLogout fires on explicit logout.
	EventLogout Event = "logout"
)

// Listener receives token lifecycle events. The session payload is non-nil
// only for EventRefreshSuccess.
type Listener func(event Event, session *Session)

// eventBus delivers events synchronously to registered listeners. A
// panicking listener is recovered and logged so it cannot block delivery
// to the rest or break the publisher.
type eventBus struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
	log       zerolog.Logger
}

func newEventBus(log zerolog.Logger) *eventBus {
	return &eventBus{
		listeners: make(map[int]Listener),
		log:       log,
	}
}

// add registers a listener and returns a function that removes it.
func (b *eventBus) add(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

func (b *eventBus) emit(event Event, session *Session) {
	b.mu.Lock()
	snapshot := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		snapshot = append(snapshot, fn)
	}
	b.mu.Unlock()

	for _, fn := range snapshot {
		b.deliver(fn, event, session)
	}
}

func (b *eventBus) deliver(fn Listener, event Event, session *Session) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event", string(event)).Msg("token event listener panicked")
		}
	}()
	fn(event, session)
}
