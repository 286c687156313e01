// Package eventbus implements the gateway's bounded fan-out of typed
// events to external subscribers (spec.md §4.2). There is no library in
// the example pack for a generic in-process pub/sub bus with this exact
// backpressure shape; this is built directly on channels/sync following
// the bounded-queue idiom used throughout the pack's concurrency code
// (e.g. a lane of bounded work with drop/warn semantics), and is
// documented as stdlib-only in DESIGN.md.
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/batchismo/core/internal/model"
)

// DefaultBufferSize is the default per-subscriber channel capacity.
const DefaultBufferSize = 256

// Bus is a bounded broadcast channel. Publication never blocks: a
// subscriber whose buffer is full has events dropped for it, and an
// EventDropped audit event is sent to that subscriber alone, into one spare
// channel slot kept free for it; when that slot is already taken the audit
// event is dropped as well.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	logger  *slog.Logger
	nextID  int
}

type subscriber struct {
	ch      chan model.Event
	dropped map[model.EventType]int
	mu      sync.Mutex
}

// New builds an empty bus. logger defaults to slog.Default() if nil.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: map[string]*subscriber{}, logger: logger}
}

// Subscription is a handle returned by Subscribe; callers range over
// Events() and must call Close() when done.
type Subscription struct {
	id  string
	bus *Bus
	sub *subscriber
}

// Events returns the channel of delivered events.
func (s *Subscription) Events() <-chan model.Event {
	return s.sub.ch
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(s.sub.ch)
	}
}

// Subscribe registers a new subscriber whose buffer holds bufferSize events
// (0 uses DefaultBufferSize), plus one slot kept for the EventDropped audit.
func (b *Bus) Subscribe(bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := subscriberID(b.nextID)
	sub := &subscriber{ch: make(chan model.Event, bufferSize+1), dropped: map[model.EventType]int{}}
	b.subs[id] = sub
	return &Subscription{id: id, bus: b, sub: sub}
}

func subscriberID(n int) string {
	const digits = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 8)
	for n > 0 {
		buf = append([]byte{digits[n%16]}, buf...)
		n /= 16
	}
	return "sub-" + string(buf)
}

// Publish delivers ev to every current subscriber without blocking.
// Publishers never block on a slow subscriber (spec.md §4.2 "Subscribers
// never block publishers").
func (b *Bus) Publish(ev model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		b.deliver(id, sub, ev)
	}
}

func (b *Bus) deliver(id string, sub *subscriber, ev model.Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	// The last channel slot is reserved for the audit event below; only
	// deliver holds sub.mu while sending, so this send cannot block.
	if len(sub.ch) < cap(sub.ch)-1 {
		sub.ch <- ev
		return
	}
	// Buffer full: drop this event for this subscriber, whatever its type,
	// and record an audit entry, since the bus never blocks the publisher
	// to wait for room.
	sub.dropped[ev.Type]++
	count := sub.dropped[ev.Type]

	b.logger.Warn("eventbus: dropped event for slow subscriber",
		"subscriber", id, "type", ev.Type, "session_id", ev.SessionID, "dropped_count", count)

	audit := model.Event{
		Type:      model.EventDropped,
		SessionID: ev.SessionID,
		CreatedAt: ev.CreatedAt,
		Dropped: &model.DroppedDetail{
			SubscriberID: id,
			DroppedType:  ev.Type,
			DroppedCount: count,
		},
	}
	select {
	case sub.ch <- audit:
	default:
		// Even the audit event doesn't fit; the subscriber is far enough
		// behind that silently continuing is the only non-blocking option.
	}
}

// SubscriberCount reports the number of currently registered subscribers,
// mainly useful for tests and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
