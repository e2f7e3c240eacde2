package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	DefaultGRPCAddress = ":50051"
	// CaptureService is the health service name that follows capture
	// liveness. The empty service name tracks the process.
	CaptureService = "csi.report.Capture"
)

// HealthServer exposes the standard gRPC health protocol.
type HealthServer struct {
	address  string
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
}

// NewHealthServer creates a health server for address. Capture starts
// out NOT_SERVING until SetCaptureUp(true).
func NewHealthServer(address string) *HealthServer {
	if address == "" {
		address = DefaultGRPCAddress
	}
	h := &HealthServer{
		address: address,
		server:  grpc.NewServer(),
		health:  health.NewServer(),
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	reflection.Register(h.server)
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(CaptureService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// SetCaptureUp updates the capture service status.
func (h *HealthServer) SetCaptureUp(up bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if up {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(CaptureService, status)
}

// Listen binds the gRPC address.
func (h *HealthServer) Listen() error {
	lis, err := net.Listen("tcp", h.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	h.listener = lis
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (h *HealthServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Start serves until ctx is cancelled.
func (h *HealthServer) Start(ctx context.Context) error {
	if h.listener == nil {
		if err := h.Listen(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		logf("gRPC health server listening on %s", h.listener.Addr())
		errCh <- h.server.Serve(h.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	h.health.Shutdown()
	h.server.GracefulStop()
	logf("gRPC health server stopped")
	return nil
}
