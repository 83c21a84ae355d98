package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"fleetwatch/internal/auth"
	"fleetwatch/internal/fanout"
	"fleetwatch/internal/feed"
	"fleetwatch/internal/presence"
	telemetry "fleetwatch/internal/telemetry/domain"
	"fleetwatch/internal/visibility"
)

type stubFeed struct {
	status feed.Status
}

func (s stubFeed) Status() feed.Status { return s.status }

func quietLogger() *log.Logger {
	return log.New(sink{}, "", 0)
}

type sink struct{}

func (sink) Write(p []byte) (int, error) { return len(p), nil }

func signToken(t *testing.T, secret []byte, clientID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestHandler(t *testing.T, secret []byte) (*Handler, *fanout.Hub, *presence.Tracker) {
	t.Helper()
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	tracker := presence.NewTracker(presence.WithClock(func() time.Time { return now }))
	hub := fanout.NewHub(quietLogger())
	filter := visibility.NewFilter(map[string]visibility.ClientRule{
		"acme-logistics": {Patterns: []string{"KAGU*"}},
	})
	feedStatus := stubFeed{status: feed.Status{Connected: true, ReconnectAttempts: 2}}

	handler, err := NewHandler(hub, tracker, filter, feedStatus, secret, quietLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, hub, tracker
}

func TestRejectsMissingOrInvalidToken(t *testing.T) {
	handler, _, _ := newTestHandler(t, []byte("stream-secret"))
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "?token=bogus")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestStreamsHeartbeatThenVisibleEvents(t *testing.T) {
	secret := []byte("stream-secret")
	handler, hub, tracker := newTestHandler(t, secret)
	server := httptest.NewServer(handler)
	defer server.Close()

	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	visible := &telemetry.TelemetryEvent{AssetID: "KAGU3331339", EventClass: telemetry.ClassStatus, EventTime: now, ReceivedTime: now}
	hidden := &telemetry.TelemetryEvent{AssetID: "ZZZZ1", EventClass: telemetry.ClassStatus, EventTime: now, ReceivedTime: now}
	if err := tracker.Update(visible); err != nil {
		t.Fatalf("tracker update: %v", err)
	}
	if err := tracker.Update(hidden); err != nil {
		t.Fatalf("tracker update: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + signToken(t, secret, "acme-logistics")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// First frame is the initial heartbeat.
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read heartbeat: %v", err)
	}
	var heartbeat heartbeatFrame
	if err := json.Unmarshal(payload, &heartbeat); err != nil {
		t.Fatalf("decode heartbeat: %v", err)
	}
	if heartbeat.Type != "heartbeat" {
		t.Fatalf("frame type = %s, want heartbeat", heartbeat.Type)
	}
	if !heartbeat.Connected || heartbeat.ReconnectAttempts != 2 {
		t.Fatalf("heartbeat = %+v", heartbeat)
	}
	if heartbeat.AssetsTracked != 2 {
		t.Fatalf("assetsTracked = %d, want 2", heartbeat.AssetsTracked)
	}

	// Events outside the client's visibility never reach the wire.
	hub.Publish(hidden)
	hub.Publish(visible)

	_, payload, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var frame eventFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if frame.Type != "event" {
		t.Fatalf("frame type = %s, want event", frame.Type)
	}
	if frame.Event == nil || frame.Event.AssetID != "KAGU3331339" {
		t.Fatalf("event = %+v, want the visible asset", frame.Event)
	}
	if frame.Status != presence.StatusOnline {
		t.Fatalf("derived status = %s, want online", frame.Status)
	}
	if !frame.LastUpdate.Equal(now) {
		t.Fatalf("lastUpdate = %v, want %v", frame.LastUpdate, now)
	}
}

func TestUnsubscribesOnClientClose(t *testing.T) {
	secret := []byte("stream-secret")
	handler, hub, _ := newTestHandler(t, secret)
	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + signToken(t, secret, "acme-logistics")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if hub.SubscriberCount() != 1 {
		t.Fatal("subscriber never registered")
	}

	_ = conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if hub.SubscriberCount() != 0 {
		t.Fatal("subscriber not removed after close")
	}
}

func TestNewHandlerValidation(t *testing.T) {
	tracker := presence.NewTracker()
	hub := fanout.NewHub(quietLogger())
	filter := visibility.NewFilter(nil)

	if _, err := NewHandler(nil, tracker, filter, nil, []byte("s"), nil); err == nil {
		t.Fatal("expected error for nil hub")
	}
	if _, err := NewHandler(hub, nil, filter, nil, []byte("s"), nil); err == nil {
		t.Fatal("expected error for nil tracker")
	}
	if _, err := NewHandler(hub, tracker, nil, nil, []byte("s"), nil); err == nil {
		t.Fatal("expected error for nil filter")
	}
	if _, err := NewHandler(hub, tracker, filter, nil, nil, nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
