package stream

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fleetwatch/internal/auth"
	"fleetwatch/internal/fanout"
	"fleetwatch/internal/feed"
	"fleetwatch/internal/presence"
	telemetry "fleetwatch/internal/telemetry/domain"
	"fleetwatch/internal/visibility"
)

// FeedStatus exposes the upstream health surface to heartbeat frames.
type FeedStatus interface {
	Status() feed.Status
}

// Handler serves the downstream live-subscriber websocket. Each
// connection authenticates with a client JWT, subscribes to the hub
// behind the client's visibility predicate, and receives canonical
// events augmented with derived presence fields plus periodic
// heartbeats.
type Handler struct {
	hub     *fanout.Hub
	tracker *presence.Tracker
	filter  *visibility.Filter
	feed    FeedStatus
	secret  []byte
	logger  *log.Logger

	heartbeatInterval time.Duration
	upgrader          websocket.Upgrader
}

// NewHandler constructs a stream handler.
func NewHandler(hub *fanout.Hub, tracker *presence.Tracker, filter *visibility.Filter, feedStatus FeedStatus, secret []byte, logger *log.Logger) (*Handler, error) {
	if hub == nil {
		return nil, errors.New("stream: nil hub")
	}
	if tracker == nil {
		return nil, errors.New("stream: nil tracker")
	}
	if filter == nil {
		return nil, errors.New("stream: nil filter")
	}
	if len(secret) == 0 {
		return nil, errors.New("stream: empty jwt secret")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		hub:               hub,
		tracker:           tracker,
		filter:            filter,
		feed:              feedStatus,
		secret:            secret,
		logger:            logger,
		heartbeatInterval: 30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}, nil
}

// eventFrame is one delivered event with derived presence fields.
type eventFrame struct {
	Type            string                    `json:"type"`
	Event           *telemetry.TelemetryEvent `json:"event"`
	Status          presence.Status           `json:"status"`
	LastUpdate      time.Time                 `json:"lastUpdate"`
	OfflineDuration string                    `json:"offlineDuration,omitempty"`
}

// heartbeatFrame is the periodic connection health message.
type heartbeatFrame struct {
	Type              string `json:"type"`
	Connected         bool   `json:"connected"`
	AssetsTracked     int    `json:"assetsTracked"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
}

// ServeHTTP upgrades the connection and streams until the client leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("stream: upgrade error: %v", err)
		return
	}

	// Slow clients fall behind instead of blocking ingestion: the sink
	// drops when the outbound buffer is full.
	frames := make(chan []byte, 64)
	unsubscribe := h.hub.Subscribe(h.filter.PredicateFor(claims.ClientID), func(event *telemetry.TelemetryEvent) error {
		payload, err := json.Marshal(h.buildEventFrame(event))
		if err != nil {
			return err
		}
		select {
		case frames <- payload:
			return nil
		default:
			return errors.New("stream: client buffer full, frame dropped")
		}
	})

	done := make(chan struct{})
	go h.readLoop(conn, done)
	h.writeLoop(conn, frames, done)
	unsubscribe()
	_ = conn.Close()
}

func (h *Handler) authenticate(r *http.Request) (*auth.Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		token = strings.TrimPrefix(header, "Bearer ")
		if token == header {
			token = ""
		}
	}
	return auth.ParseClientToken(token, h.secret)
}

func (h *Handler) buildEventFrame(event *telemetry.TelemetryEvent) eventFrame {
	frame := eventFrame{
		Type:   "event",
		Event:  event,
		Status: presence.StatusNeverSeen,
	}
	if view, ok := h.tracker.Get(event.AssetID); ok {
		frame.Status = view.Status
		frame.LastUpdate = view.LastSeen
		frame.OfflineDuration = h.tracker.OfflineDuration(event.AssetID)
	}
	return frame
}

func (h *Handler) buildHeartbeat() heartbeatFrame {
	frame := heartbeatFrame{
		Type:          "heartbeat",
		AssetsTracked: h.tracker.AssetCount(),
	}
	if h.feed != nil {
		status := h.feed.Status()
		frame.Connected = status.Connected
		frame.ReconnectAttempts = status.ReconnectAttempts
	}
	return frame
}

// readLoop drains client frames so pings and close messages are
// processed; inbound payloads are ignored. Closing done wakes the
// write loop so the subscription is torn down promptly.
func (h *Handler) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, frames <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	heartbeat, _ := json.Marshal(h.buildHeartbeat())
	if err := conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case payload := <-frames:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			payload, err := json.Marshal(h.buildHeartbeat())
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
