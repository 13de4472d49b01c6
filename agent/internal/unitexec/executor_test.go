package unitexec

import (
	"testing"

	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/shared/proto"
)

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	e := &Executor{queue: make(chan *proto.Command, 2), logger: zap.NewNop()}

	if err := e.Enqueue(&proto.Command{ID: "1"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := e.Enqueue(&proto.Command{ID: "2"}); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := e.Enqueue(&proto.Command{ID: "3"}); err == nil {
		t.Fatal("expected enqueue to fail once the queue is full")
	}
}

func TestModeDefaultsToReplace(t *testing.T) {
	if got := mode(""); got != "replace" {
		t.Fatalf("mode(\"\") = %q, want %q", got, "replace")
	}
	if got := mode("fail"); got != "fail" {
		t.Fatalf("mode(\"fail\") = %q, want %q", got, "fail")
	}
}
