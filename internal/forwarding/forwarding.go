// Package forwarding turns a discovery.ServiceMap into the Route and
// Cluster data the Config Snapshot Store publishes. These builders are
// pure: same ServiceMap in, same (Routes, Clusters) out.
package forwarding

import (
	"fmt"
	"sort"

	"github.com/gatewayd/gatewayd/internal/discovery"
	"github.com/gatewayd/gatewayd/internal/registry"
)

// LoadBalancingPolicy names the destination-selection strategy for a
// cluster. RoundRobin is the only policy the core produces; Weighted is
// reserved for a future, not-yet-mandated variant (see SPEC_FULL.md §9).
type LoadBalancingPolicy string

const (
	RoundRobin LoadBalancingPolicy = "RoundRobin"
)

// Route is one routing rule: match.path selects a cluster by ClusterID.
type Route struct {
	RouteID   string
	ClusterID string
	PathMatch string
	Protocol  string
}

// Destination is one backing URL inside a Cluster.
type Destination struct {
	DestinationID string
	Address       string
	Weight        int
	Protocol      string
}

// Cluster is a named set of Destinations plus a selection policy.
type Cluster struct {
	ClusterID           string
	ServiceName         string
	Destinations        map[string]Destination
	LoadBalancingPolicy LoadBalancingPolicy
}

// RouteOverrides maps serviceName -> explicit route path, taking priority
// over every other path-resolution rule (Consul.ServiceRouteMappings).
type RouteOverrides map[string]string

// BuildRoutes derives one Route per service in m, in ascending service-name
// order so the result is deterministic.
func BuildRoutes(m discovery.ServiceMap, overrides RouteOverrides) []Route {
	names := sortedNames(m)
	routes := make([]Route, 0, len(names))
	for _, name := range names {
		instances := m[name]
		routes = append(routes, Route{
			RouteID:   "route-" + name,
			ClusterID: "cluster-" + name,
			PathMatch: resolvePath(name, instances, overrides),
			Protocol:  instances[0].Protocol,
		})
	}
	return routes
}

// resolvePath implements the three-rule precedence from the data model:
// explicit override, then the first instance's pathPrefix, then the
// default /api/{name}/{**catch-all} form.
func resolvePath(name string, instances []registry.ServiceInstance, overrides RouteOverrides) string {
	if overrides != nil {
		if p, ok := overrides[name]; ok {
			return p
		}
	}
	if len(instances) > 0 && instances[0].PathPrefix != "" {
		return instances[0].PathPrefix + "/{**catch-all}"
	}
	return fmt.Sprintf("/api/%s/{**catch-all}", name)
}

// BuildClusters derives one Cluster per service in m.
func BuildClusters(m discovery.ServiceMap) []Cluster {
	names := sortedNames(m)
	clusters := make([]Cluster, 0, len(names))
	for _, name := range names {
		instances := m[name]
		destinations := make(map[string]Destination, len(instances))
		for _, inst := range instances {
			id := fmt.Sprintf("%s-%s-%d-%s", name, inst.Address, inst.Port, inst.ServiceID)
			destinations[id] = Destination{
				DestinationID: id,
				Address:       fmt.Sprintf("%s://%s:%d", inst.Scheme, inst.Address, inst.Port),
				Weight:        inst.Weight,
				Protocol:      inst.Protocol,
			}
		}
		clusters = append(clusters, Cluster{
			ClusterID:           "cluster-" + name,
			ServiceName:         name,
			Destinations:        destinations,
			LoadBalancingPolicy: RoundRobin,
		})
	}
	return clusters
}

func sortedNames(m discovery.ServiceMap) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
