package fanout

import (
	"log"
	"sort"
	"sync"

	"fleetwatch/internal/observability/metrics"
	telemetry "fleetwatch/internal/telemetry/domain"
)

// Predicate decides whether a subscriber sees events for an asset.
type Predicate func(assetID string) bool

// Sink receives one event. A sink error or panic is isolated to that
// subscriber; it never reaches the publisher or its siblings.
type Sink func(event *telemetry.TelemetryEvent) error

// Hub delivers each published event, in call order, to every registered
// subscriber whose predicate admits the event's asset.
type Hub struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*subscription
	logger *log.Logger
}

type subscription struct {
	id        int64
	predicate Predicate
	sink      Sink
}

// NewHub constructs a hub. A nil logger falls back to log.Default.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{subs: make(map[int64]*subscription), logger: logger}
}

// Subscribe registers a sink behind a predicate and returns a handle
// that removes the subscription. A nil predicate admits every asset.
// The handle is idempotent.
func (h *Hub) Subscribe(predicate Predicate, sink Sink) func() {
	if sink == nil {
		return func() {}
	}
	if predicate == nil {
		predicate = func(string) bool { return true }
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = &subscription{id: id, predicate: predicate, sink: sink}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Publish delivers the event to a snapshot of the subscriber set taken
// at call time, so concurrent subscribe/unsubscribe neither skips nor
// double-delivers. Zero subscribers is a valid no-op.
func (h *Hub) Publish(event *telemetry.TelemetryEvent) {
	if event == nil {
		return
	}

	h.mu.RLock()
	snapshot := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()
	// Deliver in subscription order.
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].id < snapshot[j].id })

	for _, sub := range snapshot {
		if !sub.predicate(event.AssetID) {
			continue
		}
		h.deliver(sub, event)
	}
}

// SubscriberCount reports the size of the current subscriber set.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) deliver(sub *subscription, event *telemetry.TelemetryEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.FanoutSinkError()
			h.logger.Printf("fanout: subscriber %d panic: %v", sub.id, r)
		}
	}()
	if err := sub.sink(event); err != nil {
		metrics.FanoutSinkError()
		h.logger.Printf("fanout: subscriber %d sink error: %v", sub.id, err)
		return
	}
	metrics.FanoutDelivered()
}
