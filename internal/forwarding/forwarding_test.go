package forwarding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewayd/gatewayd/internal/discovery"
)

func oneInstanceMap(pathPrefix string) discovery.ServiceMap {
	return discovery.ServiceMap{
		"weather": {
			{ServiceID: "w1", ServiceName: "weather", Address: "10.0.0.5", Port: 8080, Scheme: "https", Protocol: "http", Weight: 1, PathPrefix: pathPrefix},
		},
	}
}

func TestBuildRoutesDefaultPath(t *testing.T) {
	routes := BuildRoutes(oneInstanceMap(""), nil)
	require.Len(t, routes, 1)
	assert.Equal(t, "route-weather", routes[0].RouteID)
	assert.Equal(t, "cluster-weather", routes[0].ClusterID)
	assert.Equal(t, "/api/weather/{**catch-all}", routes[0].PathMatch)
}

func TestBuildRoutesPathPrefixFromMeta(t *testing.T) {
	routes := BuildRoutes(oneInstanceMap("/v2/weather"), nil)
	require.Len(t, routes, 1)
	assert.Equal(t, "/v2/weather/{**catch-all}", routes[0].PathMatch)
}

func TestBuildRoutesOverrideWins(t *testing.T) {
	overrides := RouteOverrides{"weather": "/custom/{**catch-all}"}
	routes := BuildRoutes(oneInstanceMap("/v2/weather"), overrides)
	require.Len(t, routes, 1)
	assert.Equal(t, "/custom/{**catch-all}", routes[0].PathMatch)
}

func TestBuildClustersDestinationIDsAndAddress(t *testing.T) {
	clusters := BuildClusters(oneInstanceMap(""))
	require.Len(t, clusters, 1)
	c := clusters[0]
	assert.Equal(t, "cluster-weather", c.ClusterID)
	assert.Equal(t, RoundRobin, c.LoadBalancingPolicy)
	require.Len(t, c.Destinations, 1)

	dest, ok := c.Destinations["weather-10.0.0.5-8080-w1"]
	require.True(t, ok)
	assert.Equal(t, "https://10.0.0.5:8080", dest.Address)
}

func TestBuildClustersDestinationIDsUniqueWithinCluster(t *testing.T) {
	m := discovery.ServiceMap{
		"weather": {
			{ServiceID: "w1", ServiceName: "weather", Address: "10.0.0.5", Port: 8080, Scheme: "https", Protocol: "http", Weight: 1},
			{ServiceID: "w2", ServiceName: "weather", Address: "10.0.0.6", Port: 8080, Scheme: "https", Protocol: "http", Weight: 1},
		},
	}
	clusters := BuildClusters(m)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Destinations, 2)
}

func TestRouteAndClusterIDsUniqueAcrossServices(t *testing.T) {
	m := discovery.ServiceMap{
		"weather": {{ServiceID: "w1", ServiceName: "weather", Address: "10.0.0.5", Port: 8080, Scheme: "https"}},
		"billing": {{ServiceID: "b1", ServiceName: "billing", Address: "10.0.0.6", Port: 8081, Scheme: "https"}},
	}
	routes := BuildRoutes(m, nil)
	clusters := BuildClusters(m)

	routeIDs := map[string]struct{}{}
	for _, r := range routes {
		_, dup := routeIDs[r.RouteID]
		assert.False(t, dup)
		routeIDs[r.RouteID] = struct{}{}
	}
	clusterIDs := map[string]struct{}{}
	for _, c := range clusters {
		_, dup := clusterIDs[c.ClusterID]
		assert.False(t, dup)
		clusterIDs[c.ClusterID] = struct{}{}
	}
}

func TestEveryRouteHasAMatchingCluster(t *testing.T) {
	m := discovery.ServiceMap{
		"weather": {{ServiceID: "w1", ServiceName: "weather", Address: "10.0.0.5", Port: 8080, Scheme: "https"}},
	}
	routes := BuildRoutes(m, nil)
	clusters := BuildClusters(m)

	clusterIDs := map[string]struct{}{}
	for _, c := range clusters {
		clusterIDs[c.ClusterID] = struct{}{}
	}
	for _, r := range routes {
		_, ok := clusterIDs[r.ClusterID]
		assert.True(t, ok)
	}
}

func TestBuildClustersMultipleInstancesEqualWeight(t *testing.T) {
	m := discovery.ServiceMap{
		"weather": {
			{ServiceID: "w1", ServiceName: "weather", Address: "10.0.0.5", Port: 8080, Scheme: "https", Weight: 1},
			{ServiceID: "w2", ServiceName: "weather", Address: "10.0.0.6", Port: 8080, Scheme: "https", Weight: 1},
		},
	}
	clusters := BuildClusters(m)
	require.Len(t, clusters, 1)
	assert.Equal(t, RoundRobin, clusters[0].LoadBalancingPolicy)
	assert.Len(t, clusters[0].Destinations, 2)
}

func TestResolvePathNoInstances(t *testing.T) {
	path := resolvePath("weather", nil, nil)
	assert.Equal(t, "/api/weather/{**catch-all}", path)
}

func TestSortedNamesDeterministic(t *testing.T) {
	m := discovery.ServiceMap{"b": nil, "a": nil, "c": nil}
	assert.Equal(t, []string{"a", "b", "c"}, sortedNames(m))
}
