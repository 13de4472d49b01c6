package job

import (
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/node"
	"github.com/fleetd-io/fleetd/shared/proto"
	"github.com/fleetd-io/fleetd/shared/types"
)

// recordingSink captures every Command sent to it and lets the test decide
// the outcome via reply.
type recordingSink struct {
	mu   sync.Mutex
	sent []*proto.Command
}

func (s *recordingSink) SendCommand(cmd *proto.Command) error {
	s.mu.Lock()
	s.sent = append(s.sent, cmd)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) last() *proto.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

func onlineNode(t *testing.T, r *node.Registry, name string) *recordingSink {
	t.Helper()
	if _, err := r.Register("peer-"+name, name); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	sink := &recordingSink{}
	if err := r.Attach("peer-"+name, name, "10.0.0.1", sink, 1); err != nil {
		t.Fatalf("attach %s: %v", name, err)
	}
	return sink
}

func TestJobNewPrecedesJobRemoved(t *testing.T) {
	r := node.New(node.Config{Logger: zap.NewNop()})
	sink := onlineNode(t, r, "host-a")
	e := New(Config{Registry: r, Logger: zap.NewNop()})

	var events []string
	e.OnNew(func(id uint32, path string) { events = append(events, "new") })
	e.OnRemoved(func(snap Snapshot, result types.JobResult) { events = append(events, "removed") })

	if _, err := e.Submit(types.JobTypeStartUnit, "host-a", "app.service", "replace", nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	cmd := sink.last()
	if cmd == nil {
		t.Fatalf("expected a command to have been sent")
	}
	e.ReportCommandResult(&proto.CommandResult{CommandID: cmd.ID, Result: "done"})

	if len(events) != 2 || events[0] != "new" || events[1] != "removed" {
		t.Fatalf("expected [new removed], got %v", events)
	}
}

func TestJobsRunOneAtATimeInFIFOOrder(t *testing.T) {
	r := node.New(node.Config{Logger: zap.NewNop()})
	sink := onlineNode(t, r, "host-a")
	e := New(Config{Registry: r, Logger: zap.NewNop()})

	var removedOrder []uint32
	e.OnRemoved(func(snap Snapshot, result types.JobResult) { removedOrder = append(removedOrder, snap.ID) })

	if _, err := e.Submit(types.JobTypeStartUnit, "host-a", "a.service", "replace", nil); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	if _, err := e.Submit(types.JobTypeStartUnit, "host-a", "b.service", "replace", nil); err != nil {
		t.Fatalf("submit 2: %v", err)
	}

	// Only the first job's command should have been dispatched so far.
	if got := len(sink.sent); got != 1 {
		t.Fatalf("expected exactly 1 in-flight command before first completes, got %d", got)
	}

	first := sink.last()
	e.ReportCommandResult(&proto.CommandResult{CommandID: first.ID, Result: "done"})

	if got := len(sink.sent); got != 2 {
		t.Fatalf("expected second job dispatched after first completed, got %d commands", got)
	}
	second := sink.last()
	e.ReportCommandResult(&proto.CommandResult{CommandID: second.ID, Result: "done"})

	if len(removedOrder) != 2 || removedOrder[0] != 1 || removedOrder[1] != 2 {
		t.Fatalf("expected jobs removed in submission order [1 2], got %v", removedOrder)
	}
}

func TestIsolateAllFansOutAndCompletesOnSuccess(t *testing.T) {
	r := node.New(node.Config{Logger: zap.NewNop()})
	sinkA := onlineNode(t, r, "host-a")
	sinkB := onlineNode(t, r, "host-b")
	e := New(Config{Registry: r, Logger: zap.NewNop()})

	var result types.JobResult
	done := make(chan struct{})
	e.OnRemoved(func(snap Snapshot, r types.JobResult) { result = r; close(done) })

	if _, err := e.Submit(types.JobTypeIsolateAll, "", "", "", nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if len(sinkA.sent) != 1 || len(sinkB.sent) != 1 {
		t.Fatalf("expected fan-out to both online nodes, got a=%d b=%d", len(sinkA.sent), len(sinkB.sent))
	}

	e.ReportCommandResult(&proto.CommandResult{CommandID: sinkA.last().ID, Result: "done"})
	select {
	case <-done:
		t.Fatalf("job completed before all nodes replied")
	default:
	}

	e.ReportCommandResult(&proto.CommandResult{CommandID: sinkB.last().ID, Result: "done"})
	<-done

	if result != types.JobResultDone {
		t.Fatalf("expected Done, got %v", result)
	}
}

func TestIsolateAllFailsIfAnyNodeFails(t *testing.T) {
	r := node.New(node.Config{Logger: zap.NewNop()})
	sinkA := onlineNode(t, r, "host-a")
	sinkB := onlineNode(t, r, "host-b")
	e := New(Config{Registry: r, Logger: zap.NewNop()})

	var result types.JobResult
	done := make(chan struct{})
	e.OnRemoved(func(snap Snapshot, r types.JobResult) { result = r; close(done) })

	if _, err := e.Submit(types.JobTypeIsolateAll, "", "", "", nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	e.ReportCommandResult(&proto.CommandResult{CommandID: sinkA.last().ID, Result: "done"})
	e.ReportCommandResult(&proto.CommandResult{CommandID: sinkB.last().ID, Result: "failed"})
	<-done

	if result != types.JobResultFailed {
		t.Fatalf("expected Failed when one node fails, got %v", result)
	}
}
