package channel

import (
	"sync"

	"github.com/google/uuid"

	"github.com/opencase/notesync/internal/event"
	"github.com/opencase/notesync/internal/metrics"
)

const inboxSize = 1024

// MemoryRegistry is the in-process broker. Every peer gets an inbox
// goroutine so delivery order matches publish order per publisher while
// handlers never run on the publisher's goroutine.
type MemoryRegistry struct {
	mu       sync.Mutex
	channels map[string]*MemoryChannel
}

func NewRegistry() *MemoryRegistry {
	return &MemoryRegistry{channels: make(map[string]*MemoryChannel)}
}

func (r *MemoryRegistry) Notes(scope string) Channel {
	name := notesTopic(scope)

	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[name]; ok {
		return ch
	}
	ch := &MemoryChannel{name: name, peers: make(map[*memoryPeer]struct{})}
	r.channels[name] = ch
	return ch
}

type MemoryChannel struct {
	name string

	mu      sync.Mutex // protects peers; held across fan-out sends
	peers   map[*memoryPeer]struct{}
	pending sync.WaitGroup
}

func (c *MemoryChannel) Name() string { return c.name }

func (c *MemoryChannel) Join(userID string) Peer {
	p := &memoryPeer{
		ch:    c,
		id:    uuid.NewString(),
		user:  userID,
		inbox: make(chan event.Event, inboxSize),
		done:  make(chan struct{}),
	}

	c.mu.Lock()
	c.peers[p] = struct{}{}
	c.mu.Unlock()

	go p.pump()
	return p
}

// Settle blocks until every event already published has been handled,
// including events published by those handlers. Test helper.
func (c *MemoryChannel) Settle() {
	c.pending.Wait()
}

type memoryPeer struct {
	ch    *MemoryChannel
	id    string
	user  string
	inbox chan event.Event
	done  chan struct{}

	handlerSet
}

func (p *memoryPeer) ID() string { return p.id }

func (p *memoryPeer) Publish(ev event.Event) {
	if ev.Channel == "" {
		ev.Channel = p.ch.name
	}
	if ev.UserID == "" {
		ev.UserID = p.user
	}
	ev.Origin = p.id
	metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()

	p.ch.mu.Lock()
	defer p.ch.mu.Unlock()

	for q := range p.ch.peers {
		if q == p {
			continue
		}
		p.ch.pending.Add(1)
		q.inbox <- ev
	}
}

func (p *memoryPeer) Subscribe(kind event.Kind, fn Handler) *Subscription {
	return p.add(kind, fn)
}

// Close removes the peer, announces a disconnect to the remaining peers
// and stops the inbox pump.
func (p *memoryPeer) Close() {
	p.ch.mu.Lock()
	if _, ok := p.ch.peers[p]; !ok {
		p.ch.mu.Unlock()
		return
	}
	delete(p.ch.peers, p)
	p.ch.mu.Unlock()

	p.clear()

	ev := event.Event{Kind: event.Disconnect, Channel: p.ch.name, UserID: p.user, Origin: p.id}
	metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()

	p.ch.mu.Lock()
	for q := range p.ch.peers {
		p.ch.pending.Add(1)
		q.inbox <- ev
	}
	p.ch.mu.Unlock()

	close(p.done)
}

func (p *memoryPeer) pump() {
	for {
		select {
		case <-p.done:
			// discard whatever is left so Settle cannot hang
			for {
				select {
				case <-p.inbox:
					p.ch.pending.Done()
				default:
					return
				}
			}
		case ev := <-p.inbox:
			p.dispatch(ev)
			p.ch.pending.Done()
		}
	}
}
