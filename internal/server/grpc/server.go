package grpcserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rzbill/evstore/internal/runtime"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

// ServiceName is the health-check service name reported alongside the
// overall ("") status.
const ServiceName = "evstore.EventStore"

// DefaultProbeInterval is how often backend health is re-checked.
const DefaultProbeInterval = 5 * time.Second

// Server owns the gRPC server instance and runtime.
type Server struct {
	rt       *runtime.Runtime
	grpc     *grpc.Server
	health   *health.Server
	addr     string
	interval time.Duration
	logger   logpkg.Logger
}

// New constructs a gRPC server with the standard health and reflection
// services registered.
func New(rt *runtime.Runtime, logger logpkg.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	s := &Server{
		rt:       rt,
		grpc:     grpc.NewServer(opts...),
		health:   health.NewServer(),
		addr:     rt.Config().Server.GRPCAddr,
		interval: DefaultProbeInterval,
		logger:   logger.With(logpkg.Component("grpc")),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	return s
}

// Serve listens on the configured address until ctx is done. It satisfies
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	return s.ListenAndServe(ctx, s.addr)
}

func (s *Server) String() string { return "grpc-server" }

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	return s.serve(ctx, l)
}

func (s *Server) serve(ctx context.Context, l net.Listener) error {
	s.logger.Info("grpc server listening", logpkg.Str("addr", l.Addr().String()))
	probeCtx, stopProbe := context.WithCancel(ctx)
	defer stopProbe()
	go s.probe(probeCtx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// probe mirrors backend health into the health service until ctx is done.
func (s *Server) probe(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := s.check(ctx)
		if status != last {
			s.logger.Info("serving status changed", logpkg.Str("status", status.String()))
			last = status
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// check runs one backend health probe and publishes the result.
func (s *Server) check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	cctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.rt.CheckHealth(cctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Close stops the server.
func (s *Server) Close() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
