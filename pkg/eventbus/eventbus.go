// Package eventbus implements the topic-keyed publish/subscribe bus of
// spec.md §4.9: publishers post a CoreEvent{topic, payload, timestamp_ms}
// and subscribers receive an asynchronous stream. The Bus delivers each
// topic's events in publish order and does not reorder them by timestamp;
// TTS-chunk events reach subscribers in segment order only because
// publishers release them in index order (SortByIndex, OrderedPublisher).
//
// Generalized from the teacher's single buffered `events chan
// OrchestratorEvent`, grounded in the fan-out-with-safe-shutdown idiom of
// s2s-engine.go's forwardTranscripts/forwardAudio (capture channel under
// lock, sync.WaitGroup-tracked goroutines, close done before closing the
// output channel to avoid send-on-closed-channel panics).
package eventbus

import (
	"sort"
	"sync"
)

// CoreEvent is one published message.
type CoreEvent struct {
	Topic       string
	Payload     any
	TimestampMs uint64
}

const defaultSubscriberBuffer = 64

// Bus is a topic-keyed pub/sub hub. Safe for concurrent use.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscription

	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

type subscription struct {
	ch     chan CoreEvent
	done   chan struct{}
	closed bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[string][]*subscription),
		done: make(chan struct{}),
	}
}

// Subscribe returns a read-only channel of events published to topic. The
// returned unsubscribe function must be called to release resources.
func (b *Bus) Subscribe(topic string) (<-chan CoreEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{ch: make(chan CoreEvent, defaultSubscriberBuffer), done: make(chan struct{})}
	b.subs[topic] = append(b.subs[topic], sub)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		close(sub.done)
		close(sub.ch)
		list := b.subs[topic]
		for i, s := range list {
			if s == sub {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	return sub.ch, unsubscribe
}

// Publish delivers event to every current subscriber of event.Topic. A slow
// or gone subscriber never blocks the publisher: if its buffer is full (or
// it already unsubscribed) the event is silently dropped, per spec.md §5
// cancellation semantics ("results silently discarded when no subscriber
// remains").
func (b *Bus) Publish(event CoreEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs[event.Topic] {
		select {
		case s.ch <- event:
		case <-s.done:
		default:
		}
	}
}

// Close unsubscribes and closes every subscriber channel. Safe to call once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, list := range b.subs {
		for _, s := range list {
			if !s.closed {
				s.closed = true
				close(s.done)
				close(s.ch)
			}
		}
	}
	b.subs = make(map[string][]*subscription)
}

// OrderedPublisher buffers out-of-order completions keyed by index and
// releases them to the bus strictly in index order: each Submit publishes
// the contiguous run starting at the next expected index, so an event goes
// out as soon as every lower index has been published. It is scoped to one
// utterance's worth of segments.
type OrderedPublisher struct {
	bus   *Bus
	topic string

	mu      sync.Mutex
	pending map[int]CoreEvent
	nextIdx int
	total   int
}

// NewOrderedPublisher creates a publisher expecting exactly `total`
// indexed events (segment indices 0..total-1) for one utterance.
func NewOrderedPublisher(bus *Bus, topic string, total int) *OrderedPublisher {
	return &OrderedPublisher{bus: bus, topic: topic, pending: make(map[int]CoreEvent), total: total}
}

// Submit registers the event for segment index idx. Once the
// contiguous run starting at the next expected index is available, those
// events are published to the bus in order.
func (p *OrderedPublisher) Submit(idx int, event CoreEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending[idx] = event
	for {
		ev, ok := p.pending[p.nextIdx]
		if !ok {
			break
		}
		p.bus.Publish(ev)
		delete(p.pending, p.nextIdx)
		p.nextIdx++
	}
}

// Done reports whether every expected index has been published.
func (p *OrderedPublisher) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextIdx >= p.total
}

// SortByIndex is a small helper for callers that prefer shape (a)
// literally: collect all results, sort, then publish in a loop.
func SortByIndex[T any](items []T, indexOf func(T) int) []T {
	sort.SliceStable(items, func(i, j int) bool {
		return indexOf(items[i]) < indexOf(items[j])
	})
	return items
}
