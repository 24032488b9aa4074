package server

import (
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GracefulGRPCServer serves the standard gRPC health and reflection
// services. Health reports NOT_SERVING as soon as shutdown begins, so load
// balancers stop routing while in-flight requests drain; the server itself
// stops when the shutdown manager closes it.
type GracefulGRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	shutdown *ShutdownManager
}

// NewGracefulGRPCServer creates a gRPC server whose health service reports
// SERVING for the overall server and for each named service.
func NewGracefulGRPCServer(shutdown *ShutdownManager, services ...string) *GracefulGRPCServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, name := range services {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}

	shutdown.OnShutdownStart(hs.Shutdown)
	shutdown.RegisterCloser(&grpcServerCloser{server: srv, timeout: shutdown.shutdownTimeout})
	return &GracefulGRPCServer{
		server:   srv,
		health:   hs,
		shutdown: shutdown,
	}
}

// Server returns the underlying gRPC server for registering more services.
func (gs *GracefulGRPCServer) Server() *grpc.Server {
	return gs.server
}

// Serve accepts connections on ln until shutdown. It returns nil after a
// graceful stop.
func (gs *GracefulGRPCServer) Serve(ln net.Listener) error {
	return gs.server.Serve(ln)
}

// grpcServerCloser stops the server gracefully, forcing it down when
// pending RPCs outlast the timeout.
type grpcServerCloser struct {
	server  *grpc.Server
	timeout time.Duration
}

func (c *grpcServerCloser) Close() error {
	done := make(chan struct{})
	go func() {
		c.server.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		c.server.Stop()
		<-done
	}
	return nil
}
