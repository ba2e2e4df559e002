package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// jsonCodec lets the dispatcher's gRPC service exchange plain JSON-tagged Go
// structs over the wire instead of protoc-generated types: there is no
// .proto source or protoc invocation in this build, and the service surface
// is one method wide, so paying for full protobuf codegen buys nothing.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// StartActionRequest is the wire request for the StartAction RPC.
type StartActionRequest struct {
	ActionID string `json:"action_id"`
}

// StartActionResponse is the wire response for the StartAction RPC.
type StartActionResponse struct {
	Accepted bool `json:"accepted"`
}

const serviceName = "kubilitics.dispatcher.v1.Dispatcher"

func startActionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StartActionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		d := srv.(Dispatcher)
		r := req.(*StartActionRequest)
		if r.ActionID == "" {
			return nil, status.Error(codes.InvalidArgument, "action_id is required")
		}
		if err := d.StartAction(ctx, r.ActionID); err != nil {
			if err == ErrQueueFull {
				return nil, status.Error(codes.ResourceExhausted, err.Error())
			}
			return nil, status.Error(codes.Internal, err.Error())
		}
		return &StartActionResponse{Accepted: true}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/StartAction"}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Dispatcher)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartAction", Handler: startActionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dispatcher.proto",
}

// Server exposes a Dispatcher's StartAction over gRPC so an external fleet
// of executors can drive actions without sharing process memory with the
// engine, grounded in the teacher's grpc.Server wiring for the AI backend
// integration (health service, reflection, graceful stop with timeout).
type Server struct {
	server       *grpc.Server
	healthServer *health.Server
	port         int
	log          *slog.Logger
}

// NewServer builds a gRPC server exposing d on port.
func NewServer(d Dispatcher, port int, log *slog.Logger) *Server {
	s := grpc.NewServer(
		grpc.MaxRecvMsgSize(1*1024*1024),
		grpc.MaxSendMsgSize(1*1024*1024),
		grpc.ConnectionTimeout(30*time.Second),
	)
	s.RegisterService(&serviceDesc, d)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(s)

	return &Server{server: s, healthServer: healthServer, port: port, log: log}
}

// Start listens on 0.0.0.0:port and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.log.Info("dispatcher gRPC server starting", "address", addr)
	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.log.Error("dispatcher gRPC server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the server, forcing a hard stop if it does not
// quiesce within 5 seconds.
func (s *Server) Stop() {
	s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		s.log.Info("dispatcher gRPC server stopped gracefully")
	case <-time.After(5 * time.Second):
		s.log.Warn("dispatcher gRPC server forced to stop after timeout")
		s.server.Stop()
	}
}
