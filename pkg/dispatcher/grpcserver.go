package dispatcher

import (
	"context"
	"fmt"
	"net"

	"github.com/codeofaxel/kiln/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// invokeRequest mirrors the JSON-RPC tool-call envelope over
// the wire: a tool name, an auth token, and a loosely-typed argument bag.
// structpb.Struct already implements proto.Message, so the service is
// registered by hand below without a generated .pb.go — there is exactly
// one RPC and its shape is a map in, a map out.
type invokeRequest struct {
	ToolName  string
	AuthToken string
	Args      *structpb.Struct
}

// GRPCServer exposes the tool catalogue as a single-method gRPC service,
// the secondary transport alongside whatever process embeds Dispatcher
// directly in-process.
type GRPCServer struct {
	dispatcher *Dispatcher
	server     *grpc.Server
}

// NewGRPCServer wraps d for gRPC transport. It does not start listening;
// call Serve with a net.Listener (or ListenAndServe with an address).
func NewGRPCServer(d *Dispatcher) *GRPCServer {
	s := grpc.NewServer()
	g := &GRPCServer{dispatcher: d, server: s}
	s.RegisterService(&toolServiceDesc, g)
	return g
}

// ListenAndServe binds addr and blocks serving RPCs until the listener
// errors or the server is stopped.
func (g *GRPCServer) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dispatcher: grpc listen: %w", err)
	}
	log.WithComponent("dispatcher").Info().Str("addr", addr).Msg("tool dispatcher grpc server listening")
	return g.server.Serve(lis)
}

// Stop gracefully drains in-flight calls before returning.
func (g *GRPCServer) Stop() {
	g.server.GracefulStop()
}

// Invoke is the single RPC method: run one tool call through the
// dispatcher and return its result map as a structpb.Struct.
func (g *GRPCServer) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	toolName := fields["tool_name"].GetStringValue()
	authToken := fields["auth_token"].GetStringValue()

	var args map[string]any
	if argsField, ok := fields["args"]; ok {
		args = argsField.GetStructValue().AsMap()
	}

	result := g.dispatcher.Invoke(ctx, authToken, toolName, args)
	out, err := structpb.NewStruct(result)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: marshal result: %w", err)
	}
	return out, nil
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*GRPCServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kiln.dispatcher.ToolService/Invoke"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*GRPCServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// toolServiceDesc hand-registers the ToolService/Invoke RPC without a
// protoc-generated service descriptor.
var toolServiceDesc = grpc.ServiceDesc{
	ServiceName: "kiln.dispatcher.ToolService",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    invokeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/dispatcher/grpcserver.go",
}
