// Package health publishes the compositor's readiness over the standard
// gRPC health-checking protocol.
package health

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/banshee-data/surroundview/internal/monitoring"
	"github.com/banshee-data/surroundview/internal/svm/l5composite"
)

// ServiceName is the health service key for the compositor. The empty
// service name tracks the same status.
const ServiceName = "svm.Compositor"

var logf = monitoring.Prefixed("health")

// Config configures the health server.
type Config struct {
	ListenAddr string
}

// Server reports NOT_SERVING until the compositor is calibrated.
type Server struct {
	config   Config
	health   *grpchealth.Server
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewServer returns a stopped server reporting NOT_SERVING.
func NewServer(cfg Config) *Server {
	s := &Server{config: cfg, health: grpchealth.NewServer()}
	s.SetState(l5composite.StateUninitialized)
	return s
}

// SetState maps the compositor state onto the health status. It is safe to
// call from the render loop's OnStateChange hook.
func (s *Server) SetState(st l5composite.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st == l5composite.StateCalibrated {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	logf("compositor %s: %s", st, status)
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)

	s.running.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logf("gRPC health listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops the server.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	logf("gRPC health stopped")
}
