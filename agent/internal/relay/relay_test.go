package relay

import (
	"testing"

	"github.com/coreos/go-systemd/v22/dbus"
	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/shared/proto"
)

type recordingSink struct {
	events []*proto.UnitEvent
}

func (s *recordingSink) SendUnitEvent(ev *proto.UnitEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func TestForwardEmitsNewOnFirstSighting(t *testing.T) {
	r := New(nil, zap.NewNop())
	sink := &recordingSink{}

	r.forward(map[string]*dbus.UnitStatus{
		"nginx.service": {Name: "nginx.service", ActiveState: "active", SubState: "running"},
	}, sink)

	if len(sink.events) != 1 {
		t.Fatalf("got %d events, want 1", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Type != "new" || ev.Unit != "nginx.service" || ev.ActiveState != "active" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestForwardEmitsStateChangedOnSubsequentSighting(t *testing.T) {
	r := New(nil, zap.NewNop())
	r.known["nginx.service"] = "active"
	sink := &recordingSink{}

	r.forward(map[string]*dbus.UnitStatus{
		"nginx.service": {Name: "nginx.service", ActiveState: "failed", SubState: "failed"},
	}, sink)

	if len(sink.events) != 1 {
		t.Fatalf("got %d events, want 1", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Type != "state-changed" || ev.ActiveState != "failed" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if r.known["nginx.service"] != "failed" {
		t.Fatalf("known map not updated: %+v", r.known)
	}
}

func TestForwardEmitsRemovedWhenUnitDisappears(t *testing.T) {
	r := New(nil, zap.NewNop())
	r.known["nginx.service"] = "active"
	sink := &recordingSink{}

	r.forward(map[string]*dbus.UnitStatus{
		"nginx.service": nil,
	}, sink)

	if len(sink.events) != 1 {
		t.Fatalf("got %d events, want 1", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Type != "removed" || ev.ActiveState != "active" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if _, known := r.known["nginx.service"]; known {
		t.Fatal("removed unit should be dropped from known map")
	}
}

func TestForwardSkipsRemovedForUnknownUnit(t *testing.T) {
	r := New(nil, zap.NewNop())
	sink := &recordingSink{}

	r.forward(map[string]*dbus.UnitStatus{
		"nginx.service": nil,
	}, sink)

	if len(sink.events) != 0 {
		t.Fatalf("got %d events, want 0 for a unit never observed as present", len(sink.events))
	}
}
