package proxy

import (
	"testing"

	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/node"
	"github.com/fleetd-io/fleetd/shared/proto"
)

type captureSink struct {
	sent []*proto.Command
}

func (s *captureSink) SendCommand(cmd *proto.Command) error {
	s.sent = append(s.sent, cmd)
	return nil
}

func newTarget(t *testing.T, r *node.Registry, name string) *captureSink {
	t.Helper()
	if _, err := r.Register("peer-"+name, name); err != nil {
		t.Fatalf("register: %v", err)
	}
	sink := &captureSink{}
	if err := r.Attach("peer-"+name, name, "10.0.0.1", sink, 1); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return sink
}

func TestCreateProxyDispatchesOnceAndRefcounts(t *testing.T) {
	r := node.New(node.Config{Logger: zap.NewNop()})
	sink := newTarget(t, r, "target-1")
	e := New(Config{Registry: r, Logger: zap.NewNop()})

	path1, err := e.CreateProxy("requester-a", "target-1", "svc.service")
	if err != nil {
		t.Fatalf("CreateProxy: %v", err)
	}
	path2, err := e.CreateProxy("requester-a", "target-1", "svc.service")
	if err != nil {
		t.Fatalf("CreateProxy (second): %v", err)
	}
	if path1 != path2 {
		t.Fatalf("expected the same object path on duplicate CreateProxy, got %q vs %q", path1, path2)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected exactly one start-unit dispatch for refcounted creates, got %d", len(sink.sent))
	}

	snap := e.List()
	if len(snap) != 1 || snap[0].RefCount != 2 {
		t.Fatalf("expected refcount 2, got %+v", snap)
	}
}

func TestRemoveProxyStopsOnlyAtZeroRefcount(t *testing.T) {
	r := node.New(node.Config{Logger: zap.NewNop()})
	sink := newTarget(t, r, "target-1")
	e := New(Config{Registry: r, Logger: zap.NewNop()})

	if _, err := e.CreateProxy("requester-a", "target-1", "svc.service"); err != nil {
		t.Fatalf("CreateProxy: %v", err)
	}
	if _, err := e.CreateProxy("requester-b", "target-1", "svc.service"); err != nil {
		t.Fatalf("CreateProxy: %v", err)
	}

	if err := e.RemoveProxy("requester-a", "target-1", "svc.service"); err != nil {
		t.Fatalf("RemoveProxy: %v", err)
	}
	if len(e.List()) != 1 {
		t.Fatalf("expected proxy to survive first RemoveProxy while refcount > 0")
	}
	// No stop-unit dispatched yet.
	for _, cmd := range sink.sent {
		if cmd.Type == "stop-unit" {
			t.Fatalf("stop-unit dispatched before refcount reached zero")
		}
	}

	if err := e.RemoveProxy("requester-b", "target-1", "svc.service"); err != nil {
		t.Fatalf("RemoveProxy: %v", err)
	}
	if len(e.List()) != 0 {
		t.Fatalf("expected proxy removed once refcount reaches zero")
	}

	foundStop := false
	for _, cmd := range sink.sent {
		if cmd.Type == "stop-unit" {
			foundStop = true
		}
	}
	if !foundStop {
		t.Fatalf("expected stop-unit dispatched once refcount reached zero")
	}
}

func TestReportCommandResultMarksProxyReady(t *testing.T) {
	r := node.New(node.Config{Logger: zap.NewNop()})
	sink := newTarget(t, r, "target-1")
	e := New(Config{Registry: r, Logger: zap.NewNop()})

	if _, err := e.CreateProxy("requester-a", "target-1", "svc.service"); err != nil {
		t.Fatalf("CreateProxy: %v", err)
	}
	e.ReportCommandResult(&proto.CommandResult{CommandID: sink.sent[0].ID, Result: "done"})

	snap := e.List()
	if len(snap) != 1 || snap[0].State != StateReady {
		t.Fatalf("expected proxy ready after successful start-unit reply, got %+v", snap)
	}
}
