package session

import (
	"sync"
	"time"
)

// heartbeat emits liveness pings for the open note on a fixed cadence.
// Emission is throttled: several trigger sources (the periodic tick, a
// session open, a peer join) may want to ping at once, and only one ping
// per threshold window goes out.
type heartbeat struct {
	interval  time.Duration
	threshold time.Duration
	beat      func()

	mu   sync.Mutex
	last time.Time
	stop chan struct{}
}

func newHeartbeat(interval, threshold time.Duration, beat func()) *heartbeat {
	return &heartbeat{interval: interval, threshold: threshold, beat: beat}
}

func (h *heartbeat) start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stop != nil {
		return
	}
	h.stop = make(chan struct{})

	go func(stop chan struct{}) {
		t := time.NewTicker(h.interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				h.pingNow()
			}
		}
	}(h.stop)
}

func (h *heartbeat) halt() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stop != nil {
		close(h.stop)
		h.stop = nil
	}
}

// pingNow emits a ping unless one already went out within the threshold.
func (h *heartbeat) pingNow() {
	h.mu.Lock()
	if time.Since(h.last) < h.threshold {
		h.mu.Unlock()
		return
	}
	h.last = time.Now()
	h.mu.Unlock()

	h.beat()
}
