package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"fleetwatch/internal/carrierlink"
	"fleetwatch/internal/fanout"
	"fleetwatch/internal/observability/metrics"
	"fleetwatch/internal/presence"
	telemetry "fleetwatch/internal/telemetry/domain"
)

// CursorSink receives the upstream message id of each processed
// envelope so the feed can resume after a reconnect.
type CursorSink interface {
	SetResumeCursor(eventID string)
}

// Pipeline is the ingestion path: decode frame, normalize each envelope
// in array order, update presence, fan out, then hand the event to the
// store without waiting on it. Per-envelope failures are logged and
// skipped; nothing on this path propagates to the feed.
type Pipeline struct {
	normalizer *carrierlink.Normalizer
	tracker    *presence.Tracker
	hub        *fanout.Hub
	store      telemetry.EventStore
	cursor     CursorSink
	logger     *log.Logger

	storeTimeout time.Duration
}

// NewPipeline constructs a pipeline. The store and cursor sink are
// optional collaborators; the tracker and hub are not.
func NewPipeline(normalizer *carrierlink.Normalizer, tracker *presence.Tracker, hub *fanout.Hub, store telemetry.EventStore, cursor CursorSink, logger *log.Logger) (*Pipeline, error) {
	if normalizer == nil {
		return nil, errors.New("ingest: nil normalizer")
	}
	if tracker == nil {
		return nil, errors.New("ingest: nil tracker")
	}
	if hub == nil {
		return nil, errors.New("ingest: nil hub")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		normalizer:   normalizer,
		tracker:      tracker,
		hub:          hub,
		store:        store,
		cursor:       cursor,
		logger:       logger,
		storeTimeout: 10 * time.Second,
	}, nil
}

// HandleMessage processes one raw websocket frame. Batched and single
// envelopes are handled uniformly, synchronously, in array order.
func (p *Pipeline) HandleMessage(data []byte) {
	envelopes, err := carrierlink.DecodeMessage(data)
	if err != nil {
		metrics.IngestError("decode")
		p.logger.Printf("ingest: malformed message skipped: %v", err)
		return
	}

	for _, env := range envelopes {
		p.handleEnvelope(env)
	}
}

func (p *Pipeline) handleEnvelope(env carrierlink.Envelope) {
	event, ok := p.normalizer.Normalize(env)
	if !ok {
		metrics.IngestDropped("no_asset_id")
		return
	}

	if err := p.tracker.Update(event); err != nil {
		metrics.IngestError("presence")
		p.logger.Printf("ingest: presence update error: %v", err)
		return
	}
	metrics.IngestAccepted(string(event.EventClass))

	p.hub.Publish(event)

	if p.cursor != nil {
		p.cursor.SetResumeCursor(env.MessageID)
	}

	if p.store != nil {
		// Best-effort persistence: never awaited, failures only logged.
		go func(event *telemetry.TelemetryEvent) {
			ctx, cancel := context.WithTimeout(context.Background(), p.storeTimeout)
			defer cancel()
			if err := p.store.Store(ctx, event); err != nil {
				metrics.IngestError("store")
				p.logger.Printf("ingest: store error for asset %s: %v", event.AssetID, err)
			}
		}(event)
	}
}
