package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "fleetwatch_"

var (
	registerOnce sync.Once

	ingestAccepted *prometheus.CounterVec
	ingestDropped  *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec

	feedReconnects prometheus.Counter
	fanoutDeliver  prometheus.Counter
	fanoutErrors   prometheus.Counter
)

// Gauges wires callback-backed gauges over live engine state.
type Gauges struct {
	AssetsTracked func() float64
	Subscribers   func() float64
	FeedConnected func() float64
}

// Init registers the engine's instruments. Safe to call more than once;
// only the first call registers.
func Init(gauges Gauges) {
	registerOnce.Do(func() {
		ingestAccepted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_accepted_total",
				Help: "Normalized events accepted by event class",
			},
			[]string{"class"},
		)
		ingestDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_dropped_total",
				Help: "Envelopes dropped during normalization by reason",
			},
			[]string{"reason"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Ingestion path errors by stage",
			},
			[]string{"stage"},
		)
		feedReconnects = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "feed_reconnects_total",
				Help: "Upstream reconnect attempts scheduled",
			},
		)
		fanoutDeliver = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "fanout_deliveries_total",
				Help: "Events delivered to live subscribers",
			},
		)
		fanoutErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "fanout_sink_errors_total",
				Help: "Subscriber sink failures isolated by the hub",
			},
		)

		prometheus.MustRegister(ingestAccepted, ingestDropped, ingestErrors, feedReconnects, fanoutDeliver, fanoutErrors)

		if gauges.AssetsTracked != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: metricPrefix + "assets_tracked",
				Help: "Assets with a presence record",
			}, gauges.AssetsTracked))
		}
		if gauges.Subscribers != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: metricPrefix + "live_subscribers",
				Help: "Currently registered live subscribers",
			}, gauges.Subscribers))
		}
		if gauges.FeedConnected != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: metricPrefix + "feed_connected",
				Help: "1 when the upstream feed is connected",
			}, gauges.FeedConnected))
		}
	})
}

// IngestAccepted counts one accepted event.
func IngestAccepted(class string) {
	if ingestAccepted != nil {
		ingestAccepted.WithLabelValues(class).Inc()
	}
}

// IngestDropped counts one dropped envelope.
func IngestDropped(reason string) {
	if ingestDropped != nil {
		ingestDropped.WithLabelValues(reason).Inc()
	}
}

// IngestError counts one ingestion path error.
func IngestError(stage string) {
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(stage).Inc()
	}
}

// FeedReconnect counts one scheduled reconnect attempt.
func FeedReconnect() {
	if feedReconnects != nil {
		feedReconnects.Inc()
	}
}

// FanoutDelivered counts one subscriber delivery.
func FanoutDelivered() {
	if fanoutDeliver != nil {
		fanoutDeliver.Inc()
	}
}

// FanoutSinkError counts one isolated sink failure.
func FanoutSinkError() {
	if fanoutErrors != nil {
		fanoutErrors.Inc()
	}
}
