// Package grpc implements the gRPC server that Agents connect to: the
// PeerService defined in shared/proto (spec §2 "transport", §4.2-§4.8).
//
// The server listens on a dedicated port (default: 9090) separate from the
// REST API port. It is the thinnest possible adapter between the wire
// protocol and the Controller's engines (node.Registry, job.Engine,
// monitor.Engine, proxy.Engine) — all state and business logic live in
// those packages, not here.
//
// Security note: agents authenticate via a shared secret passed in gRPC
// metadata (see authInterceptor), the same mechanism the teacher used for
// agent-to-server auth; mutual TLS is left to the deployment's network
// layer, consistent with the teacher's documented posture.
package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	grpcpeer "google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/fleetd-io/fleetd/server/internal/apperr"
	"github.com/fleetd-io/fleetd/server/internal/job"
	"github.com/fleetd-io/fleetd/server/internal/monitor"
	"github.com/fleetd-io/fleetd/server/internal/node"
	"github.com/fleetd-io/fleetd/server/internal/proxy"
	"github.com/fleetd-io/fleetd/shared/proto"
)

// Server implements proto.PeerServiceServer atop the Controller's engines.
type Server struct {
	proto.UnimplementedPeerServiceServer

	registry *node.Registry
	jobs     *job.Engine
	proxies  *proxy.Engine
	monitors *monitor.Engine

	logger       *zap.Logger
	sharedSecret string
}

// Config holds the configuration for the gRPC server.
type Config struct {
	ListenAddr   string
	SharedSecret string
}

// New creates a new Server instance with the given dependencies.
func New(
	cfg Config,
	registry *node.Registry,
	jobs *job.Engine,
	proxies *proxy.Engine,
	monitors *monitor.Engine,
	logger *zap.Logger,
) *Server {
	return &Server{
		registry:     registry,
		jobs:         jobs,
		proxies:      proxies,
		monitors:     monitors,
		logger:       logger.Named("grpc"),
		sharedSecret: cfg.SharedSecret,
	}
}

// ListenAndServe starts the gRPC server and blocks until ctx is cancelled
// or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context, listenAddr string) error {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("grpc: failed to listen on %s: %w", listenAddr, err)
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(s.authUnaryInterceptor),
		grpc.StreamInterceptor(s.authStreamInterceptor),
		grpc.ForceServerCodec(proto.Codec()),
	)

	proto.RegisterPeerServiceServer(grpcServer, s)

	go func() {
		<-ctx.Done()
		s.logger.Info("grpc server shutting down gracefully")
		grpcServer.GracefulStop()
	}()

	s.logger.Info("grpc server listening", zap.String("addr", listenAddr))
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("grpc: server error: %w", err)
	}
	return nil
}

// ─── Auth interceptors ────────────────────────────────────────────────────────

func (s *Server) authUnaryInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if err := s.validateSecret(ctx); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *Server) authStreamInterceptor(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := s.validateSecret(ss.Context()); err != nil {
		return err
	}
	return handler(srv, ss)
}

// validateSecret extracts the "node-secret" key from gRPC metadata and
// compares it to the configured shared secret.
func (s *Server) validateSecret(ctx context.Context) error {
	if s.sharedSecret == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get("node-secret")
	if len(values) == 0 || values[0] != s.sharedSecret {
		return status.Error(codes.Unauthenticated, "invalid node secret")
	}
	return nil
}

// ─── PeerService implementation ───────────────────────────────────────────────

// Register implements spec §4.2 steps 1-3: validate the requested node name
// and reserve it for this connection. peerAddr is used as the connection
// identity key so a second Register on the same connection is rejected.
func (s *Server) Register(ctx context.Context, req *proto.RegisterRequest) (*proto.RegisterResponse, error) {
	peerID := peerIdentity(ctx)
	path, err := s.registry.Register(peerID, req.NodeName)
	if err != nil {
		return nil, apperr.ToGRPC(err)
	}
	s.logger.Info("node registered", zap.String("node", req.NodeName))
	return &proto.RegisterResponse{ObjectPath: path}, nil
}

// Heartbeat implements spec §4.5: records the arrival time of a liveness
// signal for an already-attached node.
func (s *Server) Heartbeat(ctx context.Context, req *proto.HeartbeatRequest) (*proto.HeartbeatResponse, error) {
	if err := s.registry.Heartbeat(req.NodeName, nowMicros()); err != nil {
		return nil, apperr.ToGRPC(err)
	}
	return &proto.HeartbeatResponse{}, nil
}

// StreamCommands opens the Agent's long-lived command stream. It completes
// spec §4.2 step 4-5 (Attach) and blocks for the life of the connection,
// pushing Commands as the job/proxy engines dispatch them.
func (s *Server) StreamCommands(req *proto.StreamCommandsRequest, stream proto.PeerService_StreamCommandsServer) error {
	ctx := stream.Context()
	peerID := peerIdentity(ctx)

	sink := &commandSink{stream: stream}
	if err := s.registry.Attach(peerID, req.NodeName, peerAddrString(ctx), sink, nowMicros()); err != nil {
		return apperr.ToGRPC(err)
	}

	s.logger.Info("command stream open", zap.String("node", req.NodeName))
	<-ctx.Done()
	s.registry.Disconnect(peerID)
	s.logger.Info("command stream closed", zap.String("node", req.NodeName))
	return nil
}

// ReportCommandResult correlates an Agent's reply back to whichever engine
// dispatched the original Command — the job engine and the proxy engine
// each maintain their own outstanding-command table, so both are given the
// chance to claim it.
func (s *Server) ReportCommandResult(ctx context.Context, result *proto.CommandResult) (*proto.Empty, error) {
	s.jobs.ReportCommandResult(result)
	s.proxies.ReportCommandResult(result)
	return &proto.Empty{}, nil
}

// StreamUnitEvents receives the Agent's relayed unit events and forwards
// each into the Monitor engine for subscriber fan-out (spec §4.8).
func (s *Server) StreamUnitEvents(stream proto.PeerService_StreamUnitEventsServer) error {
	var count uint64
	nodeName := peerNodeName(stream.Context(), s.registry)

	for {
		ev, err := stream.Recv()
		if err != nil {
			break
		}
		count++
		s.monitors.Dispatch(monitor.Event{
			NodeName:    nodeName,
			Type:        ev.Type,
			Unit:        ev.Unit,
			ActiveState: ev.ActiveState,
			SubState:    ev.SubState,
			Reason:      ev.Reason,
			Properties:  ev.Properties,
		})
	}
	return stream.SendAndClose(&proto.StreamUnitEventsResponse{EventsReceived: count})
}

// CreateProxy implements spec §4.6.
func (s *Server) CreateProxy(ctx context.Context, req *proto.CreateProxyRequest) (*proto.CreateProxyResponse, error) {
	path, err := s.proxies.CreateProxy(req.RequestingNode, req.TargetNode, req.TargetUnit)
	if err != nil {
		return nil, apperr.ToGRPC(err)
	}
	return &proto.CreateProxyResponse{ObjectPath: path}, nil
}

// RemoveProxy implements spec §4.6.
func (s *Server) RemoveProxy(ctx context.Context, req *proto.RemoveProxyRequest) (*proto.RemoveProxyResponse, error) {
	if err := s.proxies.RemoveProxy(req.RequestingNode, req.TargetNode, req.TargetUnit); err != nil {
		return nil, apperr.ToGRPC(err)
	}
	return &proto.RemoveProxyResponse{}, nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// commandSink adapts a PeerService_StreamCommandsServer to node.CommandSink.
type commandSink struct {
	stream proto.PeerService_StreamCommandsServer
}

func (c *commandSink) SendCommand(cmd *proto.Command) error {
	return c.stream.Send(cmd)
}

// peerIdentity derives a stable identifier for the underlying transport
// connection from its remote address, used by node.Registry to detect a
// second Register on the same connection.
func peerIdentity(ctx context.Context) string {
	return peerAddrString(ctx)
}

func peerAddrString(ctx context.Context) string {
	if p, ok := grpcpeer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

// peerNodeName is a best-effort lookup used only for attributing relayed
// unit events to their source node; StreamUnitEvents carries no NodeName of
// its own by design (the Agent's identity was already fixed at Register
// time on this same connection).
func peerNodeName(ctx context.Context, registry *node.Registry) string {
	addr := peerAddrString(ctx)
	for _, name := range registry.Names() {
		if snap, ok := registry.Get(name); ok && snap.IP == addr {
			return name
		}
	}
	return ""
}

func nowMicros() int64 {
	return time.Now().UnixMicro()
}
