package token

import (
	"sort"
	"sync"
)

// EventTokenReceived is the name of the event emitted on every installed token.
const EventTokenReceived = "token received"

// TokenReceived is the payload of EventTokenReceived. User is nil when the
// token could not be decoded.
type TokenReceived struct {
	Token string
	User  *User
}

// Listener observes TokenReceived events.
type Listener func(TokenReceived)

// SubscriptionID identifies a registered listener.
type SubscriptionID uint64

// Emitter is an observer list for TokenReceived events.
type Emitter struct {
	mu        sync.RWMutex
	next      SubscriptionID
	listeners map[SubscriptionID]Listener
}

// NewEmitter creates an empty emitter
func NewEmitter() *Emitter {
	return &Emitter{
		listeners: make(map[SubscriptionID]Listener),
	}
}

// Subscribe registers a listener and returns its id
func (e *Emitter) Subscribe(l Listener) SubscriptionID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	e.listeners[e.next] = l
	return e.next
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (e *Emitter) Unsubscribe(id SubscriptionID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.listeners, id)
}

// Len returns the number of registered listeners
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.listeners)
}

// Emit calls every listener in subscription order. Listeners run on the
// caller's goroutine without the emitter lock held, so they may subscribe or
// unsubscribe.
func (e *Emitter) Emit(event TokenReceived) {
	e.mu.RLock()
	ids := make([]SubscriptionID, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.listeners[id])
	}
	e.mu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}
