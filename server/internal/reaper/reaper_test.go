package reaper

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/shared/proto"
	"github.com/fleetd-io/fleetd/server/internal/node"
	"github.com/fleetd-io/fleetd/shared/types"
)

type noopSink struct{}

func (noopSink) SendCommand(*proto.Command) error { return nil }

func TestSweepOfflinesOnlyStaleNodes(t *testing.T) {
	r := node.New(node.Config{Logger: zap.NewNop()})

	base := time.UnixMicro(1_000_000)
	r.Register("peer-fresh", "fresh")
	r.Attach("peer-fresh", "fresh", "10.0.0.1", noopSink{}, base.UnixMicro())

	r.Register("peer-stale", "stale")
	r.Attach("peer-stale", "stale", "10.0.0.2", noopSink{}, base.Add(-1*time.Hour).UnixMicro())

	rp, err := New(Config{Registry: r, Timeout: 30 * time.Second, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	offlined := rp.Sweep(base)
	if len(offlined) != 1 || offlined[0] != "stale" {
		t.Fatalf("expected only 'stale' offlined, got %v", offlined)
	}

	freshSnap, _ := r.Get("fresh")
	if freshSnap.Status != types.NodeStatusOnline {
		t.Fatalf("expected 'fresh' to remain online, got %v", freshSnap.Status)
	}
	staleSnap, _ := r.Get("stale")
	if staleSnap.Status != types.NodeStatusOffline {
		t.Fatalf("expected 'stale' to be offline, got %v", staleSnap.Status)
	}
}
