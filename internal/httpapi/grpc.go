package httpapi

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/service"
)

// PollerServiceName is the health service name that tracks the poll loop.
// The empty name reports the same state.
const PollerServiceName = "gradebridge.Poller"

const healthRefreshInterval = 5 * time.Second

type GRPCDependencies struct {
	Logger zerolog.Logger
	Addr   string
	Status *service.Status
}

// HealthServer exposes the standard gRPC health service, SERVING while
// the poller is running.  The state is refreshed in the background from
// construction until Stop.
type HealthServer struct {
	addr   string
	logger zerolog.Logger
	status *service.Status
	grpc   *grpc.Server
	health *health.Server
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHealthServer(d GRPCDependencies) *HealthServer {
	h := &HealthServer{
		addr:   d.Addr,
		logger: d.Logger.With().Str("component", "grpc_health").Logger(),
		status: d.Status,
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		done:   make(chan struct{}),
	}
	if h.status == nil {
		h.status = service.NewStatus()
	}
	healthpb.RegisterHealthServer(h.grpc, h.health)
	h.Refresh()

	var ctx context.Context
	ctx, h.cancel = context.WithCancel(context.Background())
	go h.loop(ctx)

	return h
}

// Refresh copies the poller state into the health service.
func (h *HealthServer) Refresh() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if h.status.Snapshot().Running {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(PollerServiceName, st)
}

// Serve blocks serving on lis until Stop is called.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc health listening")
	return h.grpc.Serve(lis)
}

// Start listens on the configured address and serves.
func (h *HealthServer) Start() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	return h.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains open RPCs.
func (h *HealthServer) Stop() {
	h.cancel()
	<-h.done
	h.health.Shutdown()
	h.grpc.GracefulStop()
}

func (h *HealthServer) loop(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(healthRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh()
		}
	}
}
