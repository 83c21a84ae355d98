package main

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"fleetwatch/internal/carrierlink"
	"fleetwatch/internal/fanout"
	"fleetwatch/internal/feed"
	"fleetwatch/internal/ingest"
	"fleetwatch/internal/observability/metrics"
	"fleetwatch/internal/presence"
	"fleetwatch/internal/report"
	"fleetwatch/internal/stream"
	telemetry "fleetwatch/internal/telemetry/domain"
	telemetrypostgres "fleetwatch/internal/telemetry/infrastructure/postgres"
	"fleetwatch/internal/visibility"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	var store telemetry.EventStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		store = telemetrypostgres.NewEventRepository(db)
	} else {
		logger.Printf("no DATABASE_URL, events will not be persisted")
	}

	filter := visibility.NewFilter(nil)
	if cfg.VisibilityConfig != "" {
		loaded, err := visibility.LoadFile(cfg.VisibilityConfig)
		if err != nil {
			logger.Fatalf("visibility config error: %v", err)
		}
		filter = loaded
	}

	tracker := presence.NewTracker(
		presence.WithOfflineThreshold(cfg.OfflineThreshold),
		presence.WithDelayThreshold(cfg.DelayThreshold),
	)
	hub := fanout.NewHub(logger)
	normalizer := carrierlink.NewNormalizer(nil)

	var manager *feed.Manager
	pipeline, err := ingest.NewPipeline(normalizer, tracker, hub, store, cursorFunc(func(eventID string) {
		if manager != nil {
			manager.SetResumeCursor(eventID)
		}
	}), logger)
	if err != nil {
		logger.Fatalf("pipeline error: %v", err)
	}

	manager, err = feed.NewManager(feed.Config{
		URL:                  cfg.FeedURL,
		Token:                cfg.FeedToken,
		Subprotocol:          cfg.FeedSubprotocol,
		EventTypes:           cfg.FeedEventTypes,
		PartitionID:          cfg.FeedPartition,
		MaxBatchSize:         cfg.FeedBatchSize,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		BackoffBase:          cfg.BackoffBase,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, pipeline.HandleMessage, logger)
	if err != nil {
		logger.Fatalf("feed manager error: %v", err)
	}

	metrics.Init(metrics.Gauges{
		AssetsTracked: func() float64 { return float64(tracker.AssetCount()) },
		Subscribers:   func() float64 { return float64(hub.SubscriberCount()) },
		FeedConnected: func() float64 {
			if manager.Status().Connected {
				return 1
			}
			return 0
		},
	})

	streamHandler, err := stream.NewHandler(hub, tracker, filter, manager, []byte(cfg.JWTSecret), logger)
	if err != nil {
		logger.Fatalf("stream handler error: %v", err)
	}
	reportHandler, err := report.NewHandler(tracker, logger)
	if err != nil {
		logger.Fatalf("report handler error: %v", err)
	}

	manager.Connect()
	defer manager.Disconnect()

	mux := http.NewServeMux()
	mux.Handle("/ws/stream", streamHandler)
	mux.Handle("/api/v1/fleet/report", reportHandler)
	mux.HandleFunc("/api/v1/feed/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := manager.Status()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"state":             status.State,
			"connected":         status.Connected,
			"reconnectAttempts": status.ReconnectAttempts,
			"lastHeartbeat":     status.LastHeartbeat,
			"eventsTracked":     status.EventsTracked,
			"assetsTracked":     tracker.AssetCount(),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

// cursorFunc adapts a closure to ingest.CursorSink.
type cursorFunc func(eventID string)

func (f cursorFunc) SetResumeCursor(eventID string) { f(eventID) }

type config struct {
	DatabaseURL      string
	HTTPAddr         string
	VisibilityConfig string
	JWTSecret        string

	FeedURL         string
	FeedToken       string
	FeedSubprotocol string
	FeedEventTypes  []string
	FeedPartition   int
	FeedBatchSize   int

	HeartbeatInterval    time.Duration
	BackoffBase          time.Duration
	MaxReconnectAttempts int

	OfflineThreshold time.Duration
	DelayThreshold   time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:          getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:             getenvDefault("HTTP_ADDR", ":8080"),
		VisibilityConfig:     getenvDefault("VISIBILITY_CONFIG", ""),
		JWTSecret:            getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		FeedURL:              getenvDefault("FEED_URL", ""),
		FeedToken:            getenvDefault("FEED_TOKEN", ""),
		FeedSubprotocol:      getenvDefault("FEED_SUBPROTOCOL", "carrierlink.v2"),
		FeedEventTypes:       splitList(getenvDefault("FEED_EVENT_TYPES", "asset_status,position,reefer,geofence")),
		FeedPartition:        getenvIntDefault("FEED_PARTITION", 0),
		FeedBatchSize:        getenvIntDefault("FEED_BATCH_SIZE", 100),
		HeartbeatInterval:    getenvDuration("FEED_HEARTBEAT_INTERVAL", 30*time.Second),
		BackoffBase:          getenvDuration("FEED_BACKOFF_BASE", time.Second),
		MaxReconnectAttempts: getenvIntDefault("FEED_MAX_RECONNECTS", 10),
		OfflineThreshold:     getenvDuration("PRESENCE_OFFLINE_THRESHOLD", presence.DefaultOfflineThreshold),
		DelayThreshold:       getenvDuration("PRESENCE_DELAY_THRESHOLD", presence.DefaultDelayThreshold),
	}
	if cfg.FeedURL == "" {
		log.Fatal("FEED_URL is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack keeps the websocket upgrade working behind the logging wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
