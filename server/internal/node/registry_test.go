package node

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/apperr"
	"github.com/fleetd-io/fleetd/shared/proto"
	"github.com/fleetd-io/fleetd/shared/types"
)

type fakeSink struct{}

func (fakeSink) SendCommand(*proto.Command) error { return nil }

func newTestRegistry(allowed ...string) *Registry {
	return New(Config{AllowedNodeNames: allowed, Logger: zap.NewNop()})
}

func TestRegisterAndAttach(t *testing.T) {
	r := newTestRegistry()

	path, err := r.Register("peer-1", "laptop")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if path != "/org/fleetd/controller/node/laptop" {
		t.Fatalf("unexpected object path: %s", path)
	}

	if err := r.Attach("peer-1", "laptop", "10.0.0.1", fakeSink{}, 1000); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	snap, ok := r.Get("laptop")
	if !ok || snap.Status != types.NodeStatusOnline {
		t.Fatalf("expected laptop online, got %+v ok=%v", snap, ok)
	}
}

func TestRegisterCollisionSameName(t *testing.T) {
	r := newTestRegistry()

	if _, err := r.Register("peer-1", "laptop"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Attach("peer-1", "laptop", "10.0.0.1", fakeSink{}, 1); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	_, err := r.Register("peer-2", "laptop")
	e, ok := apperr.As(err)
	if !ok || e.Code != apperr.CodeAddressInUse {
		t.Fatalf("expected ADDRESS_IN_USE, got %v", err)
	}
}

func TestRegisterTwiceOnSameConnection(t *testing.T) {
	r := newTestRegistry()

	if _, err := r.Register("peer-1", "laptop"); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	_, err := r.Register("peer-1", "anything-else")
	e, ok := apperr.As(err)
	if !ok || e.Code != apperr.CodeAddressInUse {
		t.Fatalf("expected ADDRESS_IN_USE on second Register, got %v", err)
	}
}

func TestRegisterRejectsUnknownName(t *testing.T) {
	r := newTestRegistry("laptop")

	_, err := r.Register("peer-1", "desktop")
	e, ok := apperr.As(err)
	if !ok || e.Code != apperr.CodeServiceUnknown {
		t.Fatalf("expected SERVICE_UNKNOWN, got %v", err)
	}
}

func TestRegisterEmptyAllowListAcceptsAny(t *testing.T) {
	r := newTestRegistry()

	if _, err := r.Register("peer-1", "anything"); err != nil {
		t.Fatalf("expected empty allow-list to accept any name, got %v", err)
	}
}

func TestDisconnectTransitionsOffline(t *testing.T) {
	r := newTestRegistry()
	var gotStatus types.NodeStatus
	r.OnStatusChange(func(name string, status types.NodeStatus) { gotStatus = status })

	r.Register("peer-1", "laptop")
	r.Attach("peer-1", "laptop", "10.0.0.1", fakeSink{}, 1)

	r.Disconnect("peer-1")

	snap, _ := r.Get("laptop")
	if snap.Status != types.NodeStatusOffline {
		t.Fatalf("expected offline after disconnect, got %v", snap.Status)
	}
	if gotStatus != types.NodeStatusOffline {
		t.Fatalf("expected status-change hook to fire with offline")
	}

	// Node must be reusable after reconnect.
	if _, err := r.Register("peer-2", "laptop"); err != nil {
		t.Fatalf("re-register after disconnect: %v", err)
	}
}

func TestMarkOfflineIfStale(t *testing.T) {
	r := newTestRegistry()
	r.Register("peer-1", "laptop")
	now := time.UnixMicro(1_000_000)
	r.Attach("peer-1", "laptop", "10.0.0.1", fakeSink{}, now.UnixMicro())

	// Within timeout: stays online.
	if r.MarkOfflineIfStale("laptop", now.Add(1*time.Second), 2*time.Second) {
		t.Fatalf("should not go offline before timeout")
	}

	// Past timeout: goes offline.
	if !r.MarkOfflineIfStale("laptop", now.Add(3*time.Second), 2*time.Second) {
		t.Fatalf("should go offline after timeout")
	}
	snap, _ := r.Get("laptop")
	if snap.Status != types.NodeStatusOffline {
		t.Fatalf("expected offline, got %v", snap.Status)
	}
}
