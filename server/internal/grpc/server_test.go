package grpc

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/fleetd-io/fleetd/server/internal/job"
	"github.com/fleetd-io/fleetd/server/internal/monitor"
	"github.com/fleetd-io/fleetd/server/internal/node"
	"github.com/fleetd-io/fleetd/server/internal/proxy"
	"github.com/fleetd-io/fleetd/shared/proto"
)

func newTestServer(sharedSecret string) (*Server, *node.Registry) {
	registry := node.New(node.Config{Logger: zap.NewNop()})
	jobs := job.New(job.Config{Registry: registry, Logger: zap.NewNop()})
	proxies := proxy.New(proxy.Config{Registry: registry, Logger: zap.NewNop()})
	monitors := monitor.New(zap.NewNop())

	srv := New(Config{SharedSecret: sharedSecret}, registry, jobs, proxies, monitors, zap.NewNop())
	return srv, registry
}

func TestValidateSecretDisabledWhenUnconfigured(t *testing.T) {
	srv, _ := newTestServer("")
	if err := srv.validateSecret(context.Background()); err != nil {
		t.Fatalf("expected no error with no configured secret, got %v", err)
	}
}

func TestValidateSecretRejectsMissingMetadata(t *testing.T) {
	srv, _ := newTestServer("s3cret")
	err := srv.validateSecret(context.Background())
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestValidateSecretRejectsWrongSecret(t *testing.T) {
	srv, _ := newTestServer("s3cret")
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("node-secret", "wrong"))
	err := srv.validateSecret(ctx)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestValidateSecretAcceptsMatchingSecret(t *testing.T) {
	srv, _ := newTestServer("s3cret")
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("node-secret", "s3cret"))
	if err := srv.validateSecret(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestRegisterDelegatesToRegistry(t *testing.T) {
	srv, registry := newTestServer("")

	resp, err := srv.Register(context.Background(), &proto.RegisterRequest{NodeName: "laptop"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.ObjectPath != "/org/fleetd/controller/node/laptop" {
		t.Fatalf("unexpected object path: %s", resp.ObjectPath)
	}
	if _, ok := registry.Get("laptop"); !ok {
		t.Fatalf("expected node laptop to exist in registry after Register")
	}
}

func TestRegisterRejectsDuplicateOnSameConnection(t *testing.T) {
	srv, _ := newTestServer("")

	if _, err := srv.Register(context.Background(), &proto.RegisterRequest{NodeName: "laptop"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := srv.Register(context.Background(), &proto.RegisterRequest{NodeName: "laptop"}); err == nil {
		t.Fatalf("expected second Register on the same connection to be rejected")
	}
}

func TestHeartbeatRejectsUnknownNode(t *testing.T) {
	srv, _ := newTestServer("")

	_, err := srv.Heartbeat(context.Background(), &proto.HeartbeatRequest{NodeName: "ghost"})
	if err == nil {
		t.Fatalf("expected error heartbeating an unregistered node")
	}
}

func TestReportCommandResultFansOutToBothEngines(t *testing.T) {
	srv, _ := newTestServer("")

	// Neither engine has an outstanding command matching this id; both
	// ReportCommandResult calls must be no-ops rather than panics.
	resp, err := srv.ReportCommandResult(context.Background(), &proto.CommandResult{CommandID: "does-not-exist"})
	if err != nil {
		t.Fatalf("ReportCommandResult: %v", err)
	}
	if resp == nil {
		t.Fatalf("expected non-nil Empty response")
	}
}
