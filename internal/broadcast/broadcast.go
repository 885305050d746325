// Package broadcast implements the single-producer, multi-subscriber
// fragment fan-out and the bounded replay cache that lets new viewers
// join a live stream mid-flight.
package broadcast

import "sync"

// QueueDepth is the target per-subscriber delivery queue depth. A
// subscriber that cannot keep up with the producer by this many
// fragments receives a lag notification instead of blocking the
// producer.
const QueueDepth = 8192

// CacheCapBytes bounds the total size of the replay cache kept for late
// joiners.
const CacheCapBytes = 8 * 1024 * 1024

// Fragment is an immutable, self-contained moof+mdat byte sequence.
type Fragment struct {
	Data []byte
}

// Event is delivered to a subscriber: either a Fragment or a lag
// notification (Lagged > 0) or a closed-stream notification (Closed).
type Event struct {
	Fragment Fragment
	Lagged   uint64
	Closed   bool
}

// Sub is a subscriber's receive-only view onto the broadcast.
type Sub struct {
	ch     chan Event
	parent *Broadcast
	id     uint64
}

// Events returns the channel on which this subscriber receives events.
func (s *Sub) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes. Safe to call more than once.
func (s *Sub) Close() {
	s.parent.unsubscribe(s.id)
}

// Broadcast fans fragments published via Publish out to every current
// subscriber without blocking on a slow one.
type Broadcast struct {
	mu        sync.Mutex
	subs      map[uint64]chan Event
	nextSubID uint64
	closed    bool
}

// New returns an empty Broadcast.
func New() *Broadcast {
	return &Broadcast{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a new subscriber and returns its handle. The
// subscriber sees only fragments published after Subscribe returns.
func (b *Broadcast) Subscribe() *Sub {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	ch := make(chan Event, QueueDepth)
	b.subs[id] = ch
	if b.closed {
		ch <- Event{Closed: true}
	}
	return &Sub{ch: ch, parent: b, id: id}
}

func (b *Broadcast) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers frag to every current subscriber. A subscriber whose
// queue is already full is sent a lag notification instead (its queue
// is drained down to make room for the lag marker if necessary) and the
// fragment is not queued for it; all other subscribers still receive
// the fragment normally. Publish never blocks on a slow subscriber.
func (b *Broadcast) Publish(frag Fragment) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- Event{Fragment: frag}:
		default:
			b.reportLagLocked(id, ch)
		}
	}
}

// reportLagLocked tries to enqueue a lag marker for a saturated
// subscriber. When it has to drop the oldest pending event to make
// room, a dropped lag marker's count is folded into the new one.
func (b *Broadcast) reportLagLocked(id uint64, ch chan Event) {
	select {
	case ch <- Event{Lagged: 1}:
		return
	default:
	}

	// The queue is saturated even for the lag marker: drop the oldest
	// pending event to make room, and count the loss.
	select {
	case ev := <-ch:
		lagged := uint64(1)
		if ev.Lagged > 0 {
			lagged += ev.Lagged
		} else if !ev.Closed {
			lagged++ // the dropped fragment is lost too
		}
		select {
		case ch <- Event{Lagged: lagged}:
		default:
			// Extremely unlikely race; subscriber will catch up on its
			// next receive and simply miss this particular notice.
		}
	default:
	}
	_ = id
}

// Close marks the broadcast closed and notifies every current
// subscriber. Further Subscribe calls return a subscription whose first
// event is a Closed notification.
func (b *Broadcast) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		select {
		case ch <- Event{Closed: true}:
		default:
		}
	}
}

// Cache is the bounded recent-fragment deque maintained for late
// joiners. It is safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	frags     []Fragment
	totalSize int
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Append adds frag to the cache, then evicts from the front until the
// total byte size is within CacheCapBytes.
func (c *Cache) Append(frag Fragment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frags = append(c.frags, frag)
	c.totalSize += len(frag.Data)

	for c.totalSize > CacheCapBytes && len(c.frags) > 0 {
		evicted := c.frags[0]
		c.frags = c.frags[1:]
		c.totalSize -= len(evicted.Data)
	}
}

// Snapshot returns the suffix of the current cache starting at the
// first fragment whose bytes 4..8 equal "moof". If no such fragment
// exists, it returns an empty (nil) snapshot. The returned slice is a
// fresh copy; mutating it does not affect the cache.
func (c *Cache) Snapshot() []Fragment {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, f := range c.frags {
		if isMoof(f.Data) {
			out := make([]Fragment, len(c.frags)-i)
			copy(out, c.frags[i:])
			return out
		}
	}
	return nil
}

func isMoof(data []byte) bool {
	return len(data) >= 8 && string(data[4:8]) == "moof"
}

// MaintainCache reads sub, an existing subscription to a Broadcast, and
// appends every fragment it observes into cache, until the subscription is closed or the
// stream itself closes. It is meant to be run in its own goroutine, one
// per stream, started when the stream is created. A lag signal is not
// treated specially: the maintainer simply continues with whatever
// fragments still arrive; the cache is best-effort, not authoritative.
func MaintainCache(sub *Sub, cache *Cache) {
	for ev := range sub.Events() {
		if ev.Closed {
			return
		}
		if ev.Lagged > 0 {
			continue
		}
		cache.Append(ev.Fragment)
	}
}
