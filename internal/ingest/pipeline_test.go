package ingest

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"fleetwatch/internal/carrierlink"
	"fleetwatch/internal/fanout"
	"fleetwatch/internal/presence"
	telemetry "fleetwatch/internal/telemetry/domain"
)

type recordingStore struct {
	mu     sync.Mutex
	events []*telemetry.TelemetryEvent
	err    error
}

func (s *recordingStore) Store(_ context.Context, event *telemetry.TelemetryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type recordingCursor struct {
	mu  sync.Mutex
	ids []string
}

func (c *recordingCursor) SetResumeCursor(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, eventID)
}

func (c *recordingCursor) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ids) == 0 {
		return ""
	}
	return c.ids[len(c.ids)-1]
}

func quietLogger() *log.Logger {
	return log.New(sink{}, "", 0)
}

type sink struct{}

func (sink) Write(p []byte) (int, error) { return len(p), nil }

func newTestPipeline(t *testing.T, store telemetry.EventStore, cursor CursorSink) (*Pipeline, *presence.Tracker, *fanout.Hub) {
	t.Helper()
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	tracker := presence.NewTracker(presence.WithClock(func() time.Time { return now }))
	hub := fanout.NewHub(quietLogger())
	normalizer := carrierlink.NewNormalizer(func() time.Time { return now })
	pipeline, err := NewPipeline(normalizer, tracker, hub, store, cursor, quietLogger())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return pipeline, tracker, hub
}

func TestBatchProcessedInArrayOrder(t *testing.T) {
	pipeline, tracker, hub := newTestPipeline(t, nil, nil)

	var order []string
	hub.Subscribe(nil, func(event *telemetry.TelemetryEvent) error {
		order = append(order, event.AssetID)
		return nil
	})

	pipeline.HandleMessage([]byte(`{"Events":[
		{"MessageId":"m-1","Reefer":{"AssetId":"AAAU0000001"}},
		{"MessageId":"m-2","Reefer":{"AssetId":"BBBU0000002"}},
		{"MessageId":"m-3","Reefer":{"AssetId":"AAAU0000001"}}
	]}`))

	if len(order) != 3 {
		t.Fatalf("deliveries = %d, want 3", len(order))
	}
	if order[0] != "AAAU0000001" || order[1] != "BBBU0000002" || order[2] != "AAAU0000001" {
		t.Fatalf("delivery order = %v", order)
	}
	if tracker.AssetCount() != 2 {
		t.Fatalf("assetCount = %d, want 2", tracker.AssetCount())
	}
	view, _ := tracker.Get("AAAU0000001")
	if view.EventCount != 2 {
		t.Fatalf("eventCount = %d, want 2", view.EventCount)
	}
}

func TestMalformedMessageIsSkipped(t *testing.T) {
	pipeline, tracker, _ := newTestPipeline(t, nil, nil)

	pipeline.HandleMessage([]byte(`{not json`))
	pipeline.HandleMessage(nil)

	if tracker.AssetCount() != 0 {
		t.Fatalf("assetCount = %d, want 0", tracker.AssetCount())
	}
}

func TestEnvelopeWithoutAssetIDIsDroppedSilently(t *testing.T) {
	pipeline, tracker, hub := newTestPipeline(t, nil, nil)

	var deliveries int
	hub.Subscribe(nil, func(*telemetry.TelemetryEvent) error {
		deliveries++
		return nil
	})

	pipeline.HandleMessage([]byte(`{"MessageId":"m-1","Device":{"DeviceSerialNumber":"dev-1"}}`))

	if deliveries != 0 {
		t.Fatalf("deliveries = %d, want 0", deliveries)
	}
	if tracker.AssetCount() != 0 {
		t.Fatalf("assetCount = %d, want 0", tracker.AssetCount())
	}
}

func TestCursorAdvancesPerEnvelope(t *testing.T) {
	cursor := &recordingCursor{}
	pipeline, _, _ := newTestPipeline(t, nil, cursor)

	pipeline.HandleMessage([]byte(`{"Events":[
		{"MessageId":"m-1","Reefer":{"AssetId":"AAAU0000001"}},
		{"MessageId":"m-2","Reefer":{"AssetId":"BBBU0000002"}}
	]}`))

	if got := cursor.last(); got != "m-2" {
		t.Fatalf("cursor = %q, want m-2", got)
	}
}

func TestStoreIsFireAndForget(t *testing.T) {
	store := &recordingStore{err: errors.New("db down")}
	pipeline, tracker, _ := newTestPipeline(t, store, nil)

	// A failing store must not affect ingestion.
	pipeline.HandleMessage([]byte(`{"MessageId":"m-1","Reefer":{"AssetId":"AAAU0000001"}}`))

	if tracker.AssetCount() != 1 {
		t.Fatalf("assetCount = %d, want 1", tracker.AssetCount())
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if store.count() != 1 {
		t.Fatalf("stored = %d, want 1", store.count())
	}
}
