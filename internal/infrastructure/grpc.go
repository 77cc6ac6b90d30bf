package infrastructure

import (
	"fmt"
	"net"

	"github.com/krobus00/market-collector/internal/config"
	"github.com/krobus00/market-collector/internal/constant"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	lis    net.Listener
}

// NewGRPCServer listens on addr and registers the standard health service.
// Reflection is only enabled in development.
func NewGRPCServer(addr string) (*GRPCServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen grpc %s: %w", addr, err)
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)

	if config.Env != nil && config.Env.Env == constant.DevelopmentEnvironment {
		reflection.Register(server)
	}

	return &GRPCServer{server: server, health: healthServer, lis: lis}, nil
}

func (g *GRPCServer) Health() *health.Server {
	return g.health
}

func (g *GRPCServer) Addr() string {
	return g.lis.Addr().String()
}

func (g *GRPCServer) Start() error {
	logrus.WithField("addr", g.Addr()).Info("grpc server starting")
	return g.server.Serve(g.lis)
}

func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
