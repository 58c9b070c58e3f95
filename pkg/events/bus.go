package events

import (
	"log/slog"
	"sync"
	"time"
)

// ringCapacity bounds how many events per channel are retained for replay.
const ringCapacity = 200

// publishQueueSize buffers events between publishers and the dispatch loop.
// Publishing never blocks; when the queue is full the event is dropped from
// live delivery but still lands in the replay ring.
const publishQueueSize = 1024

// Handler receives events from the bus. Handlers run on the single dispatch
// goroutine, so a slow handler delays delivery for everyone behind it.
type Handler func(Event)

type subscriber struct {
	channel string // empty subscribes to every channel
	handler Handler
}

// Bus is the gateway-wide pub/sub fabric. Publishing is non-blocking so
// admission gates and hot paths never stall on event delivery.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	seq    int64
	subs   map[int]subscriber
	nextID int
	rings  map[string]*ring

	queue    chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBus creates a bus and starts its dispatch loop.
func NewBus(logger *slog.Logger) *Bus {
	b := &Bus{
		logger: logger.With("component", "event_bus"),
		subs:   make(map[int]subscriber),
		rings:  make(map[string]*ring),
		queue:  make(chan Event, publishQueueSize),
		stopCh: make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// Publish stamps, records, and asynchronously delivers an event. The
// assigned sequence number is returned for callers that track positions.
func (b *Bus) Publish(eventType, channel string, payload any) int64 {
	b.mu.Lock()
	b.seq++
	evt := Event{
		Seq:       b.seq,
		Type:      eventType,
		Channel:   channel,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	r, ok := b.rings[channel]
	if !ok {
		r = newRing(ringCapacity)
		b.rings[channel] = r
	}
	r.add(evt)
	b.mu.Unlock()

	select {
	case b.queue <- evt:
	default:
		b.logger.Warn("Event queue full, dropping live delivery",
			"type", eventType, "channel", channel, "seq", evt.Seq)
	}
	return evt.Seq
}

// Subscribe registers a handler for one channel and returns a cancel
// function. An empty channel subscribes to all events.
func (b *Bus) Subscribe(channel string, handler Handler) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{channel: channel, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// SubscribeAll registers a handler for every channel.
func (b *Bus) SubscribeAll(handler Handler) (cancel func()) {
	return b.Subscribe("", handler)
}

// Replay returns up to limit events on channel with Seq > sinceSeq, in
// order, plus a flag reporting whether the client missed more than the
// ring retains (either evicted or beyond limit).
func (b *Bus) Replay(channel string, sinceSeq int64, limit int) ([]Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rings[channel]
	if !ok {
		return nil, false
	}
	return r.since(sinceSeq, limit)
}

// Stop shuts down the dispatch loop. Events still queued are dropped from
// live delivery but remain available via Replay.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case evt := <-b.queue:
			b.dispatch(evt)
		}
	}
}

func (b *Bus) dispatch(evt Event) {
	// Snapshot handlers so subscriptions can change mid-delivery without
	// holding the lock across handler calls.
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.channel == "" || sub.channel == evt.Channel {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(evt)
	}
}

// ring is a fixed-capacity event buffer ordered oldest to newest.
// Callers synchronize access through the bus lock.
type ring struct {
	events []Event
	cap    int
	// lastEvicted is the Seq of the newest event dropped to make room,
	// zero while the ring has never overflowed.
	lastEvicted int64
}

func newRing(capacity int) *ring {
	return &ring{cap: capacity}
}

func (r *ring) add(evt Event) {
	if len(r.events) == r.cap {
		r.lastEvicted = r.events[0].Seq
		copy(r.events, r.events[1:])
		r.events[len(r.events)-1] = evt
		return
	}
	r.events = append(r.events, evt)
}

func (r *ring) since(sinceSeq int64, limit int) ([]Event, bool) {
	if len(r.events) == 0 {
		return nil, false
	}

	// The caller's position predates an evicted event: history was lost.
	overflow := sinceSeq < r.lastEvicted

	matched := make([]Event, 0, limit)
	for _, evt := range r.events {
		if evt.Seq <= sinceSeq {
			continue
		}
		if len(matched) == limit {
			overflow = true
			break
		}
		matched = append(matched, evt)
	}
	return matched, overflow
}
