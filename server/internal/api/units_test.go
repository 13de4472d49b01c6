package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/job"
	"github.com/fleetd-io/fleetd/server/internal/node"
	"github.com/fleetd-io/fleetd/shared/proto"
)

type noopSink struct{}

func (noopSink) SendCommand(*proto.Command) error { return nil }

func newTestUnitOpsHandler(t *testing.T) (*UnitOpsHandler, *node.Registry) {
	t.Helper()
	registry := node.New(node.Config{Logger: zap.NewNop()})
	if _, err := registry.Register("peer-1", "host-a"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Attach("peer-1", "host-a", "10.0.0.1", noopSink{}, 1); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	jobs := job.New(job.Config{Registry: registry, Logger: zap.NewNop()})
	return NewUnitOpsHandler(jobs, zap.NewNop()), registry
}

func routeWithParams(method, target string, names, values []string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(""))
	rctx := chi.NewRouteContext()
	for i, name := range names {
		rctx.URLParams.Add(name, values[i])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestUnitOpsStartReturnsObjectPathForOnlineNode(t *testing.T) {
	h, _ := newTestUnitOpsHandler(t)

	req := routeWithParams(http.MethodPost, "/nodes/host-a/units/app.service/start",
		[]string{"name", "unit"}, []string{"host-a", "app.service"})
	w := httptest.NewRecorder()
	h.Start(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "object_path") {
		t.Errorf("response missing object_path: %s", w.Body.String())
	}
}

func TestUnitOpsStartRejectsOfflineNode(t *testing.T) {
	h, _ := newTestUnitOpsHandler(t)

	req := routeWithParams(http.MethodPost, "/nodes/host-b/units/app.service/start",
		[]string{"name", "unit"}, []string{"host-b", "app.service"})
	w := httptest.NewRecorder()
	h.Start(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusConflict, w.Body.String())
	}
}

func TestUnitOpsIsolateIgnoresNodeOnlineCheck(t *testing.T) {
	h, _ := newTestUnitOpsHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/isolate", strings.NewReader(""))
	w := httptest.NewRecorder()
	h.Isolate(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}
}
