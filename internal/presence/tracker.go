package presence

import (
	"errors"
	"sync"
	"time"

	telemetry "fleetwatch/internal/telemetry/domain"
)

// Status is the derived presence state of one asset.
type Status string

const (
	StatusNeverSeen Status = "never_seen"
	StatusOnline    Status = "online"
	StatusOffline   Status = "offline"
)

const (
	// DefaultOfflineThreshold governs the online/offline boundary.
	DefaultOfflineThreshold = 15 * time.Minute
	// DefaultDelayThreshold governs the delayed-report flag. It is
	// independently tuned from the presence threshold; the two control
	// different observable behaviors and stay separate.
	DefaultDelayThreshold = 5 * time.Minute
)

// Location is a last-known position with the event time it came from.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	At        time.Time `json:"at"`
}

// Record is the mutable per-asset presence state. Status is deliberately
// absent: it is a pure function of lastSeen vs. the clock and is
// recomputed on every read, never cached.
type Record struct {
	AssetID           string
	FirstSeen         time.Time
	LastSeen          time.Time
	LastReceived      time.Time
	LastKnownLocation *Location
	EventCount        int64
	HasDelayedReports bool
}

// RecordView is an immutable copy of a record plus its derived status.
type RecordView struct {
	Record
	Status Status
}

// Tracker maintains presence records and history rings for every asset
// seen by the feed. One coarse mutex guards both maps; each update is
// atomic with respect to readers.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*Record
	history map[string]*HistoryRing

	offlineThreshold time.Duration
	delayThreshold   time.Duration
	historyCap       int
	now              func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithOfflineThreshold overrides the presence threshold.
func WithOfflineThreshold(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.offlineThreshold = d
		}
	}
}

// WithDelayThreshold overrides the delayed-report threshold.
func WithDelayThreshold(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.delayThreshold = d
		}
	}
}

// WithHistoryCap overrides the per-asset history capacity.
func WithHistoryCap(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.historyCap = n
		}
	}
}

// WithClock overrides the wall clock for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker constructs a tracker with the default thresholds.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		records:          make(map[string]*Record),
		history:          make(map[string]*HistoryRing),
		offlineThreshold: DefaultOfflineThreshold,
		delayThreshold:   DefaultDelayThreshold,
		historyCap:       DefaultHistoryCap,
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ErrMissingAssetID rejects updates without a primary key.
var ErrMissingAssetID = errors.New("presence: missing asset id")

// Update applies one normalized event. It is safe under out-of-order
// delivery: lastSeen only moves forward, but a delayed event still
// counts, still lands in history, and still bumps lastReceived.
func (t *Tracker) Update(event *telemetry.TelemetryEvent) error {
	if event == nil || event.AssetID == "" {
		return ErrMissingAssetID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[event.AssetID]
	if !ok {
		record = &Record{
			AssetID:   event.AssetID,
			FirstSeen: event.EventTime,
			LastSeen:  event.EventTime,
		}
		t.records[event.AssetID] = record
		t.history[event.AssetID] = NewHistoryRing(t.historyCap)
	}

	if event.EventTime.After(record.LastSeen) {
		record.LastSeen = event.EventTime
	}
	if event.EventTime.Before(record.FirstSeen) {
		record.FirstSeen = event.EventTime
	}
	record.LastReceived = event.ReceivedTime
	record.EventCount++

	if event.ReceivedTime.Sub(event.EventTime) > t.delayThreshold {
		record.HasDelayedReports = true
	}

	if event.GPS.HasGPS && event.GPS.Latitude != nil && event.GPS.Longitude != nil {
		if record.LastKnownLocation == nil || event.EventTime.After(record.LastKnownLocation.At) {
			record.LastKnownLocation = &Location{
				Latitude:  *event.GPS.Latitude,
				Longitude: *event.GPS.Longitude,
				At:        event.EventTime,
			}
		}
	}

	t.history[event.AssetID].Push(event)
	return nil
}

// Get returns a copy of the asset's record with status derived at read
// time. The second return is false when the asset was never seen.
func (t *Tracker) Get(assetID string) (RecordView, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, ok := t.records[assetID]
	if !ok {
		return RecordView{Status: StatusNeverSeen}, false
	}
	return t.viewLocked(record), true
}

// StatusOf derives the asset's presence status; never_seen when unknown.
func (t *Tracker) StatusOf(assetID string) Status {
	view, ok := t.Get(assetID)
	if !ok {
		return StatusNeverSeen
	}
	return view.Status
}

// History returns the asset's recent events, newest first.
func (t *Tracker) History(assetID string) []*telemetry.TelemetryEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ring, ok := t.history[assetID]
	if !ok {
		return nil
	}
	return ring.Events()
}

// OfflineDuration reports a humanized offline bucket for the asset, or
// an empty string when the asset is online or unknown.
func (t *Tracker) OfflineDuration(assetID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, ok := t.records[assetID]
	if !ok {
		return ""
	}
	elapsed := t.now().Sub(record.LastSeen)
	if elapsed <= t.offlineThreshold {
		return ""
	}
	return humanizeDuration(elapsed)
}

// Snapshot copies every record with status derived at read time.
func (t *Tracker) Snapshot() []RecordView {
	t.mu.RLock()
	defer t.mu.RUnlock()

	views := make([]RecordView, 0, len(t.records))
	for _, record := range t.records {
		views = append(views, t.viewLocked(record))
	}
	return views
}

// AssetCount reports how many assets have a presence record.
func (t *Tracker) AssetCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func (t *Tracker) viewLocked(record *Record) RecordView {
	view := RecordView{Record: *record, Status: StatusOffline}
	if record.LastKnownLocation != nil {
		location := *record.LastKnownLocation
		view.LastKnownLocation = &location
	}
	if t.now().Sub(record.LastSeen) <= t.offlineThreshold {
		view.Status = StatusOnline
	}
	return view
}
