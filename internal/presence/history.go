package presence

import telemetry "fleetwatch/internal/telemetry/domain"

// DefaultHistoryCap is the hard cap on retained events per asset.
const DefaultHistoryCap = 100

// HistoryRing keeps the most recent events for one asset, newest first.
// Push is O(1); the slot past the cap is evicted on insert.
type HistoryRing struct {
	events []*telemetry.TelemetryEvent
	head   int
	size   int
}

// NewHistoryRing constructs a ring with the given capacity.
func NewHistoryRing(capacity int) *HistoryRing {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &HistoryRing{events: make([]*telemetry.TelemetryEvent, capacity)}
}

// Push inserts an event at the newest position, discarding the oldest
// entry once the ring is full.
func (r *HistoryRing) Push(event *telemetry.TelemetryEvent) {
	if event == nil {
		return
	}
	r.head = (r.head - 1 + len(r.events)) % len(r.events)
	r.events[r.head] = event
	if r.size < len(r.events) {
		r.size++
	}
}

// Len reports the number of retained events.
func (r *HistoryRing) Len() int { return r.size }

// Events copies the retained events newest first. Index 0 is the most
// recently pushed event.
func (r *HistoryRing) Events() []*telemetry.TelemetryEvent {
	out := make([]*telemetry.TelemetryEvent, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.events[(r.head+i)%len(r.events)]
	}
	return out
}
