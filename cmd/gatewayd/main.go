// Command gatewayd boots the control plane: it loads configuration, wires
// the registry client, address resolver, registration agent, discovery
// builder, reconciler, config snapshot store, management API, and xDS
// adapter together, and runs until a shutdown signal arrives.
//
// Uses a signal-driven context.CancelFunc to coordinate shutdown: stop
// accepting new requests -> deregister -> cancel reconciler -> drain
// in-flight requests -> exit.
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatewayd/gatewayd/internal/agent"
	"github.com/gatewayd/gatewayd/internal/api"
	"github.com/gatewayd/gatewayd/internal/config"
	"github.com/gatewayd/gatewayd/internal/discovery"
	"github.com/gatewayd/gatewayd/internal/forwarding"
	"github.com/gatewayd/gatewayd/internal/reconcile"
	"github.com/gatewayd/gatewayd/internal/registry/consul"
	"github.com/gatewayd/gatewayd/internal/resolve"
	"github.com/gatewayd/gatewayd/internal/snapshot"
	"github.com/gatewayd/gatewayd/internal/xds"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log.Info("config loaded",
		"consul_address", cfg.Consul.Address,
		"service_name", cfg.Consul.ServiceName,
		"xds_addr", cfg.XDSAddr,
		"api_addr", cfg.APIAddr,
	)

	registryClient, err := consul.New(cfg.Consul.Address, 5*time.Second)
	if err != nil {
		log.Error("failed to build registry client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("received shutdown signal")
		cancel()
	}()

	store := snapshot.NewStore()

	builder := discovery.NewBuilder(registryClient, cfg.Consul.ServiceNames)
	overrides := forwarding.RouteOverrides(cfg.Consul.ServiceRouteMappings)
	reconciler := reconcile.New(builder, store, cfg.Consul.RefreshInterval(), overrides, log)

	mgmtAPI := api.New(store, log)
	apiServer := &http.Server{Addr: cfg.APIAddr, Handler: mgmtAPI.Handler()}

	apiListener, err := net.Listen("tcp", cfg.APIAddr)
	if err != nil {
		log.Error("failed to bind management API", "addr", cfg.APIAddr, "error", err)
		os.Exit(1)
	}

	regAgent := agent.New(registryClient, agentSpec(cfg), log)

	xdsServer := xds.NewServer(store, cfg.NodeIDs, uint32(cfg.DataPlanePort), log)
	if err := xdsServer.Seed(); err != nil {
		log.Error("failed to seed xDS snapshot", "error", err)
		os.Exit(1)
	}

	go func() {
		log.Info("management API listening", "addr", cfg.APIAddr)
		if err := apiServer.Serve(apiListener); err != nil && err != http.ErrServerClosed {
			log.Error("management API failed", "error", err)
		}
	}()

	// The registration agent must not publish until the management API's
	// listener is already accepting connections, so the registry's first
	// health probe can succeed.
	addr, err := resolve.Resolve(consulOverride(cfg), "0.0.0.0", apiListener.Addr().(*net.TCPAddr).Port, cfg.Consul.HttpScheme, cfg.Consul.PreferredNetworks, log)
	if err != nil {
		log.Error("failed to resolve externally reachable address", "error", err)
	} else {
		regAgent.Start(ctx, addr)
	}

	// The reconciler runs under its own context so that, on shutdown, it is
	// canceled only after deregistration has finished.
	reconcileCtx, reconcileCancel := context.WithCancel(context.Background())
	defer reconcileCancel()

	go reconciler.Run(reconcileCtx)
	go func() {
		reconciler.WaitFirstTick(reconcileCtx)
		mgmtAPI.MarkReady()
	}()

	go xdsServer.Watch(ctx)

	if err := xdsServer.Serve(ctx, cfg.XDSAddr); err != nil {
		log.Error("xDS server failed", "error", err)
	}

	<-ctx.Done()

	// Shutdown order per SPEC_FULL.md §5: stop accepting new requests ->
	// deregister -> cancel reconciler -> drain in-flight requests -> exit.
	// ctx cancellation above already signals "stop accepting" to the xDS
	// server and adapter watch loop; deregistration happens next, then the
	// reconciler is canceled, then apiServer.Shutdown drains whatever was
	// already in flight.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	regAgent.Stop(shutdownCtx)
	reconcileCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("management API shutdown error", "error", err)
	}

	log.Info("gatewayd stopped")
}

func agentSpec(cfg *config.Config) agent.Spec {
	environment := cfg.Consul.Meta["environment"]
	if environment == "" {
		environment = "production"
	}
	return agent.Spec{
		ServiceName:     cfg.Consul.ServiceName,
		PathPrefix:      cfg.Consul.PathPrefix,
		Weight:          cfg.Consul.Weight,
		Scheme:          cfg.Consul.HttpScheme,
		Protocol:        cfg.Consul.Protocol,
		Environment:     environment,
		Tags:            cfg.Consul.Tags,
		Meta:            cfg.Consul.Meta,
		HealthCheckPath: cfg.Consul.HealthCheckPath,
		CheckInterval:   cfg.Consul.HealthCheckInterval(),
		CheckTimeout:    cfg.Consul.HealthCheckTimeout(),
		DeregisterAfter: cfg.Consul.DeregisterCriticalServiceAfter(),
		TLSSkipVerify:   cfg.Consul.TLSSkipVerify,
	}
}

func consulOverride(cfg *config.Config) *resolve.Override {
	if cfg.Consul.ServiceAddress == "" {
		return nil
	}
	return &resolve.Override{
		Address: cfg.Consul.ServiceAddress,
		Port:    cfg.Consul.ServicePort,
		Scheme:  cfg.Consul.HttpScheme,
	}
}
