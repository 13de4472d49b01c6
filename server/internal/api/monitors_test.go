package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/monitor"
	"github.com/fleetd-io/fleetd/server/internal/websocket"
)

func TestMonitorCreateReturnsSubscriptionID(t *testing.T) {
	hub := websocket.NewHub()
	monitors := monitor.New(zap.NewNop())
	h := NewMonitorHandler(monitors, hub, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/monitors", strings.NewReader(`{"node_pattern":"host-a","unit_pattern":"app.service"}`))
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}

	var decoded struct {
		Data monitorResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.Data.SubscriptionID == "" {
		t.Error("expected a non-empty subscription_id")
	}
}

func TestMonitorCreateDefaultsEmptyPatternsToWildcard(t *testing.T) {
	hub := websocket.NewHub()
	monitors := monitor.New(zap.NewNop())
	h := NewMonitorHandler(monitors, hub, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/monitors", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}
}

func TestMonitorDeleteThenDeleteAgainNotFound(t *testing.T) {
	hub := websocket.NewHub()
	monitors := monitor.New(zap.NewNop())
	h := NewMonitorHandler(monitors, hub, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/monitors", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.Create(w, req)

	var decoded struct {
		Data monitorResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	delReq := routeWithParams(http.MethodDelete, "/monitors/"+decoded.Data.SubscriptionID, []string{"id"}, []string{decoded.Data.SubscriptionID})
	delW := httptest.NewRecorder()
	h.Delete(delW, delReq)
	if delW.Code != http.StatusNoContent {
		t.Fatalf("first delete status = %d, want %d", delW.Code, http.StatusNoContent)
	}

	delReq2 := routeWithParams(http.MethodDelete, "/monitors/"+decoded.Data.SubscriptionID, []string{"id"}, []string{decoded.Data.SubscriptionID})
	delW2 := httptest.NewRecorder()
	h.Delete(delW2, delReq2)
	if delW2.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want %d", delW2.Code, http.StatusNotFound)
	}
}

func TestMonitorPublishReachesBothTopics(t *testing.T) {
	hub := websocket.NewHub()
	monitors := monitor.New(zap.NewNop())
	h := NewMonitorHandler(monitors, hub, zap.NewNop())

	// publish is exercised directly since Client's internals are unexported
	// and only constructible through a real WebSocket upgrade; this only
	// verifies the handler does not panic when no client is subscribed, for
	// an event with a unit and one without.
	h.publish(monitor.Event{NodeName: "host-a", Unit: "app.service", Type: "state-changed"})
	h.publish(monitor.Event{NodeName: "host-a", Type: "node-level-event-with-no-unit"})
}
