package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/monitor"
	"github.com/fleetd-io/fleetd/server/internal/websocket"
)

// MonitorHandler exposes monitor.Engine's subscription surface as
// POST/DELETE /api/v1/monitors, bridging matched Events onto the
// websocket.Hub under the same unit:<node>/<unit> and node:<name> topics
// GET /api/v1/ws clients already subscribe to via the topics query
// parameter — no subscription id needs to travel back to the browser.
type MonitorHandler struct {
	monitors *monitor.Engine
	hub      *websocket.Hub
	logger   *zap.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(monitors *monitor.Engine, hub *websocket.Hub, logger *zap.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitors: monitors,
		hub:      hub,
		logger:   logger.Named("monitor_handler"),
	}
}

// createMonitorRequest declares the (node, unit) glob pair to watch. An
// empty pattern defaults to "*" (match everything on that axis).
type createMonitorRequest struct {
	NodePattern string `json:"node_pattern,omitempty"`
	UnitPattern string `json:"unit_pattern,omitempty"`
}

type monitorResponse struct {
	SubscriptionID string `json:"subscription_id"`
}

// Create handles POST /api/v1/monitors. Each call opens its own Monitor with
// a single Subscription; its deliver callback republishes every matching
// Event onto the hub topics the event's own node/unit names resolve to.
func (h *MonitorHandler) Create(w http.ResponseWriter, r *http.Request) {
	req := createMonitorRequest{NodePattern: "*", UnitPattern: "*"}
	if r.ContentLength > 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.NodePattern == "" {
			req.NodePattern = "*"
		}
		if req.UnitPattern == "" {
			req.UnitPattern = "*"
		}
	}

	monitorID := h.monitors.NewMonitor()
	subID, err := h.monitors.Subscribe(monitorID, req.NodePattern, req.UnitPattern, h.publish)
	if err != nil {
		h.logger.Error("failed to create subscription", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, monitorResponse{SubscriptionID: subID})
}

// Delete handles DELETE /api/v1/monitors/{id}, tearing down a single
// subscription created by Create.
func (h *MonitorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.monitors.Unsubscribe(id); err != nil {
		ErrNotFound(w)
		return
	}
	NoContent(w)
}

// publish republishes a matched monitor.Event onto both of its hub topics.
func (h *MonitorHandler) publish(ev monitor.Event) {
	payload := map[string]any{
		"node":         ev.NodeName,
		"type":         ev.Type,
		"unit":         ev.Unit,
		"active_state": ev.ActiveState,
		"sub_state":    ev.SubState,
		"reason":       ev.Reason,
		"properties":   ev.Properties,
	}

	nodeTopic := "node:" + ev.NodeName
	h.hub.Publish(nodeTopic, websocket.Message{Type: websocket.MsgUnitEvent, Topic: nodeTopic, Payload: payload})
	if ev.Unit != "" {
		unitTopic := "unit:" + ev.NodeName + "/" + ev.Unit
		h.hub.Publish(unitTopic, websocket.Message{Type: websocket.MsgUnitEvent, Topic: unitTopic, Payload: payload})
	}
}
