package session

// viewerLives is the fresh liveness value granted by a ping. A viewer
// survives that many pings from other users between refreshes.
const viewerLives = 3

// presence tracks who is currently viewing the open note. Decay is
// counter-based rather than clock-based: every ping refreshes the sender
// and costs every other tracked viewer one life, so a silent viewer is
// evicted after a bounded number of foreign pings. Not safe for
// concurrent use; the controller serializes access.
type presence struct {
	order []string
	lives map[string]int
}

func newPresence() *presence {
	return &presence{lives: make(map[string]int)}
}

// recordPing refreshes userID and decays everyone else. Returns true if
// the viewer list changed.
func (p *presence) recordPing(userID string) bool {
	changed := false

	if _, ok := p.lives[userID]; !ok {
		p.order = append(p.order, userID)
		changed = true
	}
	p.lives[userID] = viewerLives

	for _, u := range p.viewers() {
		if u == userID {
			continue
		}
		if p.lives[u] == 0 {
			p.evict(u)
			changed = true
		} else {
			p.lives[u]--
		}
	}
	return changed
}

// recordLeave evicts unconditionally. Covers explicit leaves and
// transport disconnects.
func (p *presence) recordLeave(userID string) bool {
	if _, ok := p.lives[userID]; !ok {
		return false
	}
	p.evict(userID)
	return true
}

func (p *presence) evict(userID string) {
	delete(p.lives, userID)
	for i, u := range p.order {
		if u == userID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// viewers returns the presence set in insertion order.
func (p *presence) viewers() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

func (p *presence) count() int { return len(p.order) }
