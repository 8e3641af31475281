/******************************************************************************
 *
 *  Description :
 *
 *    Per-channel bounded broadcast bus. Every channel owns one bus; every
 *    session holds one subscription into exactly one bus at a time.
 *
 *****************************************************************************/

package main

import (
	"sync"
)

// Number of events retained per bus. A subscriber which falls further
// behind than this loses events and is told how many.
const busCapacity = 4

// EventBus is a bounded drop-oldest broadcast. Published events are written
// into a ring; each subscriber keeps its own cursor into the sequence. The
// bus is never closed: a subscription retains the bus pointer, so a bus
// stays usable after its channel is detached from the tree, until the last
// subscriber walks away.
type EventBus struct {
	mu   sync.Mutex
	ring [busCapacity]Event
	// Sequence number to be assigned to the next published event.
	seq  uint64
	subs map[*BusSub]bool
}

func newEventBus() *EventBus {
	return &EventBus{subs: make(map[*BusSub]bool)}
}

// Publish stores the event, overwriting the oldest retained one, and pings
// every subscriber's wake signal so idle delivery loops resume immediately.
func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	b.ring[b.seq%busCapacity] = ev
	b.seq++
	for sub := range b.subs {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// Subscribe installs a new receive cursor positioned after all already
// published events.
func (b *EventBus) Subscribe() *BusSub {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &BusSub{bus: b, next: b.seq, wake: make(chan struct{}, 1)}
	b.subs[sub] = true
	return sub
}

// BusSub is one subscriber's handle into a bus.
type BusSub struct {
	bus    *EventBus
	next   uint64
	wake   chan struct{}
	closed bool
}

// TryRecv returns the next pending event. When the subscriber has fallen
// out of the retention window it instead returns the number of lost events
// and advances the cursor to the oldest retained one; the next call yields
// an event again. ok is false when nothing is pending.
func (s *BusSub) TryRecv() (ev Event, lagged int, ok bool) {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.seq > busCapacity {
		if low := b.seq - busCapacity; s.next < low {
			lagged = int(low - s.next)
			s.next = low
			return
		}
	}
	if s.next == b.seq {
		return
	}

	ev = s.bus.ring[s.next%busCapacity]
	s.next++
	ok = true
	return
}

// Wake returns the channel signalled on publish. Closed when the
// subscription is dropped, so a parked delivery loop unblocks and re-reads
// its session's current subscription.
func (s *BusSub) Wake() <-chan struct{} {
	return s.wake
}

// Close detaches the subscriber from the bus. Safe to call more than once.
func (s *BusSub) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	delete(b.subs, s)
	// Publish holds the bus lock while pinging, so nobody can be sending
	// on wake here.
	close(s.wake)
}

// Subscription is a session's live binding to one channel's bus: the
// receive cursor, a retained bus handle which keeps an orphaned bus
// drainable, and a back-reference to the node for path-relative operations.
type Subscription struct {
	sub  *BusSub
	bus  *EventBus
	node *Channel
}

// Publish sends an event to everyone subscribed to this bus, including the
// publisher itself.
func (s *Subscription) Publish(ev Event) {
	s.bus.Publish(ev)
}

// Node returns the channel this subscription was taken from. The node may
// have been detached from the tree since.
func (s *Subscription) Node() *Channel {
	return s.node
}

// Close drops the receive cursor.
func (s *Subscription) Close() {
	s.sub.Close()
}
