package xds

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	cluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	core "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	endpoint "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	listener "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	route "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	routerv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/router/v3"
	hcm "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	"github.com/envoyproxy/go-control-plane/pkg/cache/types"
	cachev3 "github.com/envoyproxy/go-control-plane/pkg/cache/v3"
	"github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/envoyproxy/go-control-plane/pkg/wellknown"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/gatewayd/gatewayd/internal/forwarding"
)

// SnapshotBuilder translates a (Routes, Clusters) pair from the Config
// Snapshot Store into Envoy xDS resources.
//
// Envoy's configuration model has layers:
//
//	Listener (LDS)  — what address Envoy listens on
//	    |
//	    v
//	Route (RDS)     — which cluster a request's path maps to
//	    |
//	    v
//	Cluster (CDS)   — the target's protocol, timeouts, LB policy, endpoints
//
// Endpoint/cluster construction uses a STRICT_DNS cluster with HTTP/2
// opt-in and one LbEndpoint per instance.
type SnapshotBuilder struct {
	listenerPort uint32
}

// NewSnapshotBuilder constructs a builder whose generated listener binds
// listenerPort.
func NewSnapshotBuilder(listenerPort uint32) *SnapshotBuilder {
	return &SnapshotBuilder{listenerPort: listenerPort}
}

// Build creates a complete xDS snapshot for one node from the given routes
// and clusters. version must change whenever content changes — Envoy uses
// it to detect updates.
func (b *SnapshotBuilder) Build(routes []forwarding.Route, clusters []forwarding.Cluster, version uint64) (*cachev3.Snapshot, error) {
	clusterByID := make(map[string]forwarding.Cluster, len(clusters))
	for _, c := range clusters {
		clusterByID[c.ClusterID] = c
	}

	var cdsResources []types.Resource
	for _, c := range clusters {
		cl, err := makeCluster(c)
		if err != nil {
			return nil, fmt.Errorf("building cluster %q: %w", c.ClusterID, err)
		}
		cdsResources = append(cdsResources, cl)
	}

	var envoyRoutes []*route.Route
	for _, r := range routes {
		if _, ok := clusterByID[r.ClusterID]; !ok {
			continue
		}
		envoyRoutes = append(envoyRoutes, makeRoute(r))
	}

	routeConfig := &route.RouteConfiguration{
		Name: "gatewayd_routes",
		VirtualHosts: []*route.VirtualHost{{
			Name:    "gatewayd_default",
			Domains: []string{"*"},
			Routes:  envoyRoutes,
		}},
	}

	httpListener, err := makeHTTPListener("gatewayd_listener", b.listenerPort, routeConfig.Name)
	if err != nil {
		return nil, fmt.Errorf("building listener: %w", err)
	}

	versionStr := fmt.Sprintf("v%d", version)
	snap, err := cachev3.NewSnapshot(
		versionStr,
		map[resource.Type][]types.Resource{
			resource.ClusterType:  cdsResources,
			resource.RouteType:    {routeConfig},
			resource.ListenerType: {httpListener},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot: %w", err)
	}

	if err := snap.Consistent(); err != nil {
		return nil, fmt.Errorf("snapshot consistency check failed: %w", err)
	}
	return snap, nil
}

// makeCluster builds a STRICT_DNS cluster with one LbEndpoint per
// destination. Destinations already carry a resolved host, so DNS
// resolution is a formality here, but STRICT_DNS tolerates both resolved
// IPs and hostnames uniformly, matching the flexds precedent.
func makeCluster(c forwarding.Cluster) (*cluster.Cluster, error) {
	lbs := make([]*endpoint.LbEndpoint, 0, len(c.Destinations))
	http2 := false
	for _, dest := range c.Destinations {
		host, port, scheme, err := splitDestination(dest.Address)
		if err != nil {
			return nil, err
		}
		if scheme == "https" || dest.Protocol == "grpc" {
			http2 = true
		}
		lbs = append(lbs, &endpoint.LbEndpoint{
			HostIdentifier: &endpoint.LbEndpoint_Endpoint{
				Endpoint: &endpoint.Endpoint{
					Address: makeAddress(host, port),
				},
			},
			LoadBalancingWeight: clusterWeight(dest.Weight),
		})
	}

	cl := &cluster.Cluster{
		Name:           c.ClusterID,
		ConnectTimeout: durationpb.New(5 * time.Second),
		ClusterDiscoveryType: &cluster.Cluster_Type{
			Type: cluster.Cluster_STRICT_DNS,
		},
		LbPolicy: lbPolicy(c.LoadBalancingPolicy),
		LoadAssignment: &endpoint.ClusterLoadAssignment{
			ClusterName: c.ClusterID,
			Endpoints:   []*endpoint.LocalityLbEndpoints{{LbEndpoints: lbs}},
		},
		DnsLookupFamily: cluster.Cluster_V4_ONLY,
	}
	if http2 {
		cl.Http2ProtocolOptions = &core.Http2ProtocolOptions{}
	}
	return cl, nil
}

// lbPolicy maps our forwarding.LoadBalancingPolicy onto an Envoy LbPolicy.
// RoundRobin is the only policy the core produces today (see SPEC_FULL.md
// §9); unknown values fall back to round robin rather than erroring, since
// the Envoy adapter must never fail a published, already-valid snapshot.
func lbPolicy(p forwarding.LoadBalancingPolicy) cluster.Cluster_LbPolicy {
	switch p {
	case forwarding.RoundRobin:
		return cluster.Cluster_ROUND_ROBIN
	default:
		return cluster.Cluster_ROUND_ROBIN
	}
}

// clusterWeight returns nil for a non-positive weight, letting Envoy treat
// the endpoint as unweighted rather than rejecting the cluster outright.
func clusterWeight(w int) *wrapperspb.UInt32Value {
	if w <= 0 {
		return nil
	}
	return wrapperspb.UInt32(uint32(w))
}

func makeRoute(r forwarding.Route) *route.Route {
	return &route.Route{
		Match: &route.RouteMatch{
			PathSpecifier: &route.RouteMatch_Prefix{Prefix: routePrefix(r.PathMatch)},
		},
		Action: &route.Route_Route{
			Route: &route.RouteAction{
				ClusterSpecifier: &route.RouteAction_Cluster{Cluster: r.ClusterID},
			},
		},
	}
}

// routePrefix strips the "{**catch-all}" suffix our PathMatch values carry,
// leaving a plain Envoy path-prefix match.
func routePrefix(pathMatch string) string {
	const suffix = "{**catch-all}"
	if len(pathMatch) >= len(suffix) && pathMatch[len(pathMatch)-len(suffix):] == suffix {
		return pathMatch[:len(pathMatch)-len(suffix)]
	}
	return pathMatch
}

func makeHTTPListener(name string, port uint32, routeConfigName string) (*listener.Listener, error) {
	routerAny, err := anypb.New(&routerv3.Router{})
	if err != nil {
		return nil, fmt.Errorf("marshaling router config: %w", err)
	}

	httpConnMgr := &hcm.HttpConnectionManager{
		StatPrefix: "gatewayd_ingress",
		RouteSpecifier: &hcm.HttpConnectionManager_Rds{
			Rds: &hcm.Rds{
				ConfigSource: &core.ConfigSource{
					ConfigSourceSpecifier: &core.ConfigSource_Ads{
						Ads: &core.AggregatedConfigSource{},
					},
					ResourceApiVersion: core.ApiVersion_V3,
				},
				RouteConfigName: routeConfigName,
			},
		},
		HttpFilters: []*hcm.HttpFilter{{
			Name: wellknown.Router,
			ConfigType: &hcm.HttpFilter_TypedConfig{
				TypedConfig: routerAny,
			},
		}},
	}

	hcmAny, err := anypb.New(httpConnMgr)
	if err != nil {
		return nil, fmt.Errorf("marshaling HCM: %w", err)
	}

	return &listener.Listener{
		Name: name,
		Address: &core.Address{
			Address: &core.Address_SocketAddress{
				SocketAddress: &core.SocketAddress{
					Protocol: core.SocketAddress_TCP,
					Address:  "0.0.0.0",
					PortSpecifier: &core.SocketAddress_PortValue{
						PortValue: port,
					},
				},
			},
		},
		FilterChains: []*listener.FilterChain{{
			Filters: []*listener.Filter{{
				Name: wellknown.HTTPConnectionManager,
				ConfigType: &listener.Filter_TypedConfig{
					TypedConfig: hcmAny,
				},
			}},
		}},
	}, nil
}

func makeAddress(host string, port uint32) *core.Address {
	return &core.Address{
		Address: &core.Address_SocketAddress{
			SocketAddress: &core.SocketAddress{
				Protocol: core.SocketAddress_TCP,
				Address:  host,
				PortSpecifier: &core.SocketAddress_PortValue{
					PortValue: port,
				},
			},
		},
	}
}

// splitDestination parses a forwarding.Destination address of the form
// "scheme://host:port" back into its parts.
func splitDestination(address string) (host string, port uint32, scheme string, err error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", 0, "", fmt.Errorf("parsing destination address %q: %w", address, err)
	}
	p, err := strconv.ParseUint(u.Port(), 10, 32)
	if err != nil {
		return "", 0, "", fmt.Errorf("parsing destination port in %q: %w", address, err)
	}
	return u.Hostname(), uint32(p), u.Scheme, nil
}
