package app

import "sync"

// watch fans the latest snapshot of one registry table out to subscribers.
// A subscriber receives the current value at subscribe time (when one has
// been published) and then every subsequent change. Slow subscribers are
// coalesced to the newest value, never blocked on and never left with a
// stale intermediate state.
type watch[T any] struct {
	mu   sync.Mutex
	last T
	seen bool
	subs map[int]chan T
	next int
}

func newWatch[T any]() *watch[T] {
	return &watch[T]{subs: make(map[int]chan T)}
}

// Publish records snap as the latest value and offers it to every subscriber.
func (w *watch[T]) Publish(snap T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = snap
	w.seen = true
	for _, ch := range w.subs {
		offerLatest(ch, snap)
	}
}

// Subscribe returns a receive channel and a cancel func. The channel has a
// one-element buffer: it always holds the newest undelivered snapshot.
func (w *watch[T]) Subscribe() (<-chan T, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan T, 1)
	id := w.next
	w.next++
	w.subs[id] = ch
	if w.seen {
		ch <- w.last
	}
	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
	return ch, cancel
}

// offerLatest replaces whatever undelivered value sits in the buffer.
func offerLatest[T any](ch chan T, snap T) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
