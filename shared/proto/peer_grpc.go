package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// serviceName is the fully-qualified gRPC service name, mirroring the
// "<package>.<Service>" convention protoc-gen-go-grpc would derive from a
// peer.proto declaring `package fleetd.peer; service PeerService { ... }`.
const serviceName = "fleetd.peer.PeerService"

// PeerServiceServer is implemented by the Controller only: every method,
// including ReportCommandResult and StreamUnitEvents, is called by the
// Agent as a client. Both processes link this package; the Agent uses only
// PeerServiceClient.
type PeerServiceServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	StreamCommands(*StreamCommandsRequest, PeerService_StreamCommandsServer) error
	ReportCommandResult(context.Context, *CommandResult) (*Empty, error)
	StreamUnitEvents(PeerService_StreamUnitEventsServer) error
	CreateProxy(context.Context, *CreateProxyRequest) (*CreateProxyResponse, error)
	RemoveProxy(context.Context, *RemoveProxyRequest) (*RemoveProxyResponse, error)
}

// UnimplementedPeerServiceServer embeds into a concrete server so new methods
// added to PeerServiceServer do not break existing implementations, matching
// protoc-gen-go-grpc's forward-compatibility convention.
type UnimplementedPeerServiceServer struct{}

func (UnimplementedPeerServiceServer) Register(context.Context, *RegisterRequest) (*RegisterResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Register not implemented")
}
func (UnimplementedPeerServiceServer) Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Heartbeat not implemented")
}
func (UnimplementedPeerServiceServer) StreamCommands(*StreamCommandsRequest, PeerService_StreamCommandsServer) error {
	return status.Error(codes.Unimplemented, "method StreamCommands not implemented")
}
func (UnimplementedPeerServiceServer) ReportCommandResult(context.Context, *CommandResult) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method ReportCommandResult not implemented")
}
func (UnimplementedPeerServiceServer) StreamUnitEvents(PeerService_StreamUnitEventsServer) error {
	return status.Error(codes.Unimplemented, "method StreamUnitEvents not implemented")
}
func (UnimplementedPeerServiceServer) CreateProxy(context.Context, *CreateProxyRequest) (*CreateProxyResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateProxy not implemented")
}
func (UnimplementedPeerServiceServer) RemoveProxy(context.Context, *RemoveProxyRequest) (*RemoveProxyResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RemoveProxy not implemented")
}

// RegisterPeerServiceServer registers srv with a grpc.Server. Callers must
// also apply grpc.ForceServerCodec(proto.Codec()) when constructing the
// *grpc.Server — see codec.go.
func RegisterPeerServiceServer(s grpc.ServiceRegistrar, srv PeerServiceServer) {
	s.RegisterService(&PeerService_ServiceDesc, srv)
}

// ─── StreamCommands (server-streaming, Controller → Agent) ──────────────────

type PeerService_StreamCommandsServer interface {
	Send(*Command) error
	grpc.ServerStream
}

type peerServiceStreamCommandsServer struct {
	grpc.ServerStream
}

func (x *peerServiceStreamCommandsServer) Send(m *Command) error {
	return x.ServerStream.SendMsg(m)
}

func _PeerService_StreamCommands_Handler(srv any, stream grpc.ServerStream) error {
	m := new(StreamCommandsRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(PeerServiceServer).StreamCommands(m, &peerServiceStreamCommandsServer{stream})
}

type PeerService_StreamCommandsClient interface {
	Recv() (*Command, error)
	grpc.ClientStream
}

type peerServiceStreamCommandsClient struct {
	grpc.ClientStream
}

func (x *peerServiceStreamCommandsClient) Recv() (*Command, error) {
	m := new(Command)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ─── StreamUnitEvents (client-streaming, Agent → Controller) ────────────────

type PeerService_StreamUnitEventsServer interface {
	SendAndClose(*StreamUnitEventsResponse) error
	Recv() (*UnitEvent, error)
	grpc.ServerStream
}

type peerServiceStreamUnitEventsServer struct {
	grpc.ServerStream
}

func (x *peerServiceStreamUnitEventsServer) SendAndClose(m *StreamUnitEventsResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *peerServiceStreamUnitEventsServer) Recv() (*UnitEvent, error) {
	m := new(UnitEvent)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _PeerService_StreamUnitEvents_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(PeerServiceServer).StreamUnitEvents(&peerServiceStreamUnitEventsServer{stream})
}

type PeerService_StreamUnitEventsClient interface {
	Send(*UnitEvent) error
	CloseAndRecv() (*StreamUnitEventsResponse, error)
	grpc.ClientStream
}

type peerServiceStreamUnitEventsClient struct {
	grpc.ClientStream
}

func (x *peerServiceStreamUnitEventsClient) Send(m *UnitEvent) error {
	return x.ClientStream.SendMsg(m)
}

func (x *peerServiceStreamUnitEventsClient) CloseAndRecv() (*StreamUnitEventsResponse, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(StreamUnitEventsResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ─── Unary handlers ──────────────────────────────────────────────────────────

func _PeerService_Register_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerServiceServer).Register(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Register"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PeerServiceServer).Register(ctx, req.(*RegisterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _PeerService_Heartbeat_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerServiceServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Heartbeat"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PeerServiceServer).Heartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _PeerService_ReportCommandResult_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CommandResult)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerServiceServer).ReportCommandResult(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ReportCommandResult"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PeerServiceServer).ReportCommandResult(ctx, req.(*CommandResult))
	}
	return interceptor(ctx, in, info, handler)
}

func _PeerService_CreateProxy_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateProxyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerServiceServer).CreateProxy(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/CreateProxy"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PeerServiceServer).CreateProxy(ctx, req.(*CreateProxyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _PeerService_RemoveProxy_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RemoveProxyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerServiceServer).RemoveProxy(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/RemoveProxy"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PeerServiceServer).RemoveProxy(ctx, req.(*RemoveProxyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// PeerService_ServiceDesc is the grpc.ServiceDesc protoc-gen-go-grpc would
// have generated from peer.proto.
var PeerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PeerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: _PeerService_Register_Handler},
		{MethodName: "Heartbeat", Handler: _PeerService_Heartbeat_Handler},
		{MethodName: "ReportCommandResult", Handler: _PeerService_ReportCommandResult_Handler},
		{MethodName: "CreateProxy", Handler: _PeerService_CreateProxy_Handler},
		{MethodName: "RemoveProxy", Handler: _PeerService_RemoveProxy_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamCommands",
			Handler:       _PeerService_StreamCommands_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "StreamUnitEvents",
			Handler:       _PeerService_StreamUnitEvents_Handler,
			ClientStreams: true,
		},
	},
	Metadata: "peer.proto",
}

// ─── Client ──────────────────────────────────────────────────────────────────

// PeerServiceClient is the Agent's view of the Controller (Register,
// Heartbeat, StreamCommands, CreateProxy, RemoveProxy) and, symmetrically,
// could be used by any test harness acting as an Agent against the
// Controller's ReportCommandResult/StreamUnitEvents methods.
type PeerServiceClient interface {
	Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error)
	Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error)
	StreamCommands(ctx context.Context, in *StreamCommandsRequest, opts ...grpc.CallOption) (PeerService_StreamCommandsClient, error)
	ReportCommandResult(ctx context.Context, in *CommandResult, opts ...grpc.CallOption) (*Empty, error)
	StreamUnitEvents(ctx context.Context, opts ...grpc.CallOption) (PeerService_StreamUnitEventsClient, error)
	CreateProxy(ctx context.Context, in *CreateProxyRequest, opts ...grpc.CallOption) (*CreateProxyResponse, error)
	RemoveProxy(ctx context.Context, in *RemoveProxyRequest, opts ...grpc.CallOption) (*RemoveProxyResponse, error)
}

type peerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPeerServiceClient wraps cc. Callers must dial with
// grpc.WithDefaultCallOptions(grpc.ForceCodec(proto.Codec())) — see codec.go.
func NewPeerServiceClient(cc grpc.ClientConnInterface) PeerServiceClient {
	return &peerServiceClient{cc}
}

func (c *peerServiceClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	out := new(RegisterResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Register", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	out := new(HeartbeatResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Heartbeat", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) ReportCommandResult(ctx context.Context, in *CommandResult, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ReportCommandResult", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) CreateProxy(ctx context.Context, in *CreateProxyRequest, opts ...grpc.CallOption) (*CreateProxyResponse, error) {
	out := new(CreateProxyResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/CreateProxy", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) RemoveProxy(ctx context.Context, in *RemoveProxyRequest, opts ...grpc.CallOption) (*RemoveProxyResponse, error) {
	out := new(RemoveProxyResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/RemoveProxy", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) StreamCommands(ctx context.Context, in *StreamCommandsRequest, opts ...grpc.CallOption) (PeerService_StreamCommandsClient, error) {
	stream, err := c.cc.NewStream(ctx, &PeerService_ServiceDesc.Streams[0], "/"+serviceName+"/StreamCommands", opts...)
	if err != nil {
		return nil, err
	}
	x := &peerServiceStreamCommandsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *peerServiceClient) StreamUnitEvents(ctx context.Context, opts ...grpc.CallOption) (PeerService_StreamUnitEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &PeerService_ServiceDesc.Streams[1], "/"+serviceName+"/StreamUnitEvents", opts...)
	if err != nil {
		return nil, err
	}
	return &peerServiceStreamUnitEventsClient{stream}, nil
}
