// Package xds is the xDS Adapter (component I): a subscriber to the Config
// Snapshot Store that translates each published (Routes, Clusters) pair into
// an Envoy go-control-plane snapshot and serves it over the Aggregated
// Discovery Service (ADS) gRPC API.
//
// This is the concrete stand-in for "a library that consumes (routes,
// clusters) snapshots and a change signal" — it sits downstream of the
// Go-native ConfigSnapshot the Reconciler produces and is not itself part
// of the tested core invariants.
//
// Wires cachev3.SnapshotCache, serverv3.NewServer, and grpc.NewServer
// together, and subscribes to snapshot.Store's ChangeToken rather than
// a registry-level change callback.
package xds

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	cachev3 "github.com/envoyproxy/go-control-plane/pkg/cache/v3"
	serverv3 "github.com/envoyproxy/go-control-plane/pkg/server/v3"

	clusterservice "github.com/envoyproxy/go-control-plane/envoy/service/cluster/v3"
	discoverygrpc "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	endpointservice "github.com/envoyproxy/go-control-plane/envoy/service/endpoint/v3"
	listenerservice "github.com/envoyproxy/go-control-plane/envoy/service/listener/v3"
	routeservice "github.com/envoyproxy/go-control-plane/envoy/service/route/v3"
	secretservice "github.com/envoyproxy/go-control-plane/envoy/service/secret/v3"

	"google.golang.org/grpc"

	"github.com/gatewayd/gatewayd/internal/snapshot"
)

// Server is the xDS control plane server.
type Server struct {
	cache   cachev3.SnapshotCache
	builder *SnapshotBuilder
	store   *snapshot.Store
	nodeIDs []string
	log     *slog.Logger

	version uint64
}

// NewServer constructs a Server that will push snapshots for each of
// nodeIDs whenever store's current ConfigSnapshot changes.
func NewServer(store *snapshot.Store, nodeIDs []string, listenerPort uint32, log *slog.Logger) *Server {
	return &Server{
		cache:   cachev3.NewSnapshotCache(true, cachev3.IDHash{}, nil),
		builder: NewSnapshotBuilder(listenerPort),
		store:   store,
		nodeIDs: nodeIDs,
		log:     log,
	}
}

// Seed pushes the store's current snapshot before the server starts
// accepting connections, so the first Envoy ADS stream has something to
// receive immediately.
func (s *Server) Seed() error {
	return s.rebuild()
}

// Watch loops on the current ConfigSnapshot's ChangeToken, rebuilding and
// pushing an Envoy snapshot to the cache every time the token fires, until
// ctx is canceled. This is the adapter's subscriber loop.
func (s *Server) Watch(ctx context.Context) {
	for {
		token := s.store.GetConfig().Token()
		select {
		case <-ctx.Done():
			return
		case <-token.Stale():
			if err := s.rebuild(); err != nil {
				s.log.Error("failed to rebuild xDS snapshot", "error", err)
			}
		}
	}
}

func (s *Server) rebuild() error {
	cfg := s.store.GetConfig()
	s.version++

	snap, err := s.builder.Build(cfg.Routes, cfg.Clusters, s.version)
	if err != nil {
		return fmt.Errorf("building snapshot v%d: %w", s.version, err)
	}

	for _, nodeID := range s.nodeIDs {
		if err := s.cache.SetSnapshot(context.Background(), nodeID, snap); err != nil {
			return fmt.Errorf("setting snapshot v%d for node %q: %w", s.version, nodeID, err)
		}
	}

	s.log.Info("pushed xDS snapshot",
		"version", s.version,
		"routes", len(cfg.Routes),
		"clusters", len(cfg.Clusters),
		"nodes", len(s.nodeIDs),
	)
	return nil
}

// Serve starts the gRPC ADS server on addr and blocks until ctx is
// canceled, at which point it stops gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	xdsServer := serverv3.NewServer(ctx, s.cache, nil)
	grpcServer := grpc.NewServer()
	registerXDSServices(grpcServer, xdsServer)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.log.Info("xDS server listening", "addr", addr)

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down xDS server")
		grpcServer.GracefulStop()
	}()

	return grpcServer.Serve(lis)
}

func registerXDSServices(grpcServer *grpc.Server, xdsServer serverv3.Server) {
	discoverygrpc.RegisterAggregatedDiscoveryServiceServer(grpcServer, xdsServer)
	clusterservice.RegisterClusterDiscoveryServiceServer(grpcServer, xdsServer)
	endpointservice.RegisterEndpointDiscoveryServiceServer(grpcServer, xdsServer)
	listenerservice.RegisterListenerDiscoveryServiceServer(grpcServer, xdsServer)
	routeservice.RegisterRouteDiscoveryServiceServer(grpcServer, xdsServer)
	secretservice.RegisterSecretDiscoveryServiceServer(grpcServer, xdsServer)
}
