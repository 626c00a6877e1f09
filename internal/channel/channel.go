// Package channel provides the pub/sub fabric for note collaboration. A
// channel is a named topic scoped to one note collection; peers join it,
// publish events to every other peer, and hold explicit subscription
// handles so a session can tear down exactly what it registered.
package channel

import (
	"sync"

	"github.com/opencase/notesync/internal/event"
)

// Any subscribes a handler to every event kind.
const Any event.Kind = "*"

type Handler func(ev event.Event)

// Subscription is the handle returned by Peer.Subscribe. Cancel is
// idempotent.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Peer is one connected actor on a channel. Publish delivers to all other
// peers of the same channel, never back to the publisher. Close cancels
// the peer's subscriptions and announces a disconnect on its behalf.
type Peer interface {
	ID() string
	Publish(ev event.Event)
	Subscribe(kind event.Kind, fn Handler) *Subscription
	Close()
}

type Channel interface {
	Name() string
	Join(userID string) Peer
}

// Registry names and routes channels. The notes channel for a collection
// scope is "<scope>-notes".
type Registry interface {
	Notes(scope string) Channel
}

func notesTopic(scope string) string {
	return scope + "-notes"
}

// handlerSet is the subscription table shared by peer implementations.
type handlerSet struct {
	mu   sync.Mutex
	subs []*handlerEntry
}

type handlerEntry struct {
	kind   event.Kind
	fn     Handler
	active bool
}

func (h *handlerSet) add(kind event.Kind, fn Handler) *Subscription {
	e := &handlerEntry{kind: kind, fn: fn, active: true}

	h.mu.Lock()
	h.subs = append(h.subs, e)
	h.mu.Unlock()

	return &Subscription{cancel: func() {
		h.mu.Lock()
		e.active = false
		h.mu.Unlock()
	}}
}

func (h *handlerSet) dispatch(ev event.Event) {
	h.mu.Lock()
	fns := make([]Handler, 0, len(h.subs))
	for _, e := range h.subs {
		if e.active && (e.kind == Any || e.kind == ev.Kind) {
			fns = append(fns, e.fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (h *handlerSet) clear() {
	h.mu.Lock()
	for _, e := range h.subs {
		e.active = false
	}
	h.subs = nil
	h.mu.Unlock()
}
