// ABOUTME: Time window of recently accepted webhook deliveries
// ABOUTME: Lets the webhook handler acknowledge a redelivered payload without storing it twice

package dedupe

import (
	"container/list"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// windowEntry stores when a key was claimed and its place in the eviction order.
type windowEntry struct {
	claimedAt time.Time
	element   *list.Element
}

// Window remembers delivery keys for a fixed duration and a bounded count.
// Keys are claimed before a delivery is processed and released again if
// processing fails, so a provider's retry of a failed delivery goes through.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*windowEntry
	order   *list.List // oldest claim at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a Window holding at most maxSize keys for ttl each.
// A background goroutine drops expired keys until Close is called.
func New(ttl time.Duration, maxSize int) *Window {
	if maxSize <= 0 {
		maxSize = 1
	}
	w := &Window{
		seen:    make(map[string]*windowEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go w.cleanup()
	return w
}

// Key derives a delivery key from the agent that received it and the raw body.
func Key(agentID string, body []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Claim records key and reports true if it was not already claimed within the
// window. A false return means the delivery is a duplicate.
func (w *Window) Claim(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if entry, ok := w.seen[key]; ok {
		if now.Sub(entry.claimedAt) < w.ttl {
			return false
		}
		w.order.Remove(entry.element)
		delete(w.seen, key)
	}

	if len(w.seen) >= w.maxSize {
		w.evictOldest()
	}
	w.seen[key] = &windowEntry{
		claimedAt: now,
		element:   w.order.PushBack(key),
	}
	return true
}

// Release forgets key so the next delivery with it is processed.
func (w *Window) Release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.seen[key]; ok {
		w.order.Remove(entry.element)
		delete(w.seen, key)
	}
}

// Len returns the number of keys currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// evictOldest must be called with mu held.
func (w *Window) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.seen, key)
}

func (w *Window) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.expire()
		case <-w.done:
			return
		}
	}
}

// expire drops keys older than the window. Claims are in time order, so it
// stops at the first live one.
func (w *Window) expire() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for e := w.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		entry := w.seen[key]
		if now.Sub(entry.claimedAt) < w.ttl {
			return
		}
		next := e.Next()
		w.order.Remove(e)
		delete(w.seen, key)
		e = next
	}
}

// Close stops the background cleanup. It is safe to call multiple times.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.done)
		w.closed = true
	}
}
