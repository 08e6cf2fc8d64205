// Package discovery builds a normalized ServiceMap from registry responses.
// The Builder is pure relative to those responses: no caching, no side
// effects, same input always yields the same (sorted) output.
//
// Grounded on umputun/reproxy's consulcatalog.ConsulCatalog.List, generalized
// to the full per-instance derivation rules of the data model.
package discovery

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/gatewayd/gatewayd/internal/gatewayerr"
	"github.com/gatewayd/gatewayd/internal/registry"
)

// registryServiceName is excluded from every ServiceMap: case-insensitive
// match on "consul", per the data model.
const registryServiceName = "consul"

// Meta keys the gateway reads when deriving a ServiceInstance's routing
// attributes. These are schema constants the gateway itself writes (see the
// registration agent) and are matched case-sensitively.
const (
	metaPathPrefix = "pathPrefix"
	metaWeight     = "weight"
	metaScheme     = "scheme"
	metaProtocol   = "protocol"
)

// Defaults applied when a meta key is absent or unparsable.
const (
	defaultWeight          = 1
	defaultSchemeDiscovery = registry.SchemeHTTPS
	defaultProtocol        = registry.ProtocolHTTP
)

// Builder turns registry responses into a ServiceMap.
type Builder struct {
	client Client

	// Allow, if non-empty, restricts the map to these service names.
	// Comparison is case-insensitive, matching the "consul" exclusion rule.
	Allow map[string]struct{}
}

// Client is the subset of registry.Client the Builder needs.
type Client interface {
	ListServiceNames(ctx context.Context) (map[string][]string, error)
	ListHealthyInstances(ctx context.Context, name string) ([]registry.ServiceInstance, error)
}

// NewBuilder constructs a Builder over client, optionally restricted to the
// service names in allow (nil or empty means no restriction).
func NewBuilder(client Client, allow []string) *Builder {
	b := &Builder{client: client}
	if len(allow) > 0 {
		b.Allow = make(map[string]struct{}, len(allow))
		for _, name := range allow {
			b.Allow[strings.ToLower(name)] = struct{}{}
		}
	}
	return b
}

// ServiceMap is an immutable, normalized snapshot of the registry at one
// instant: serviceName -> instances ordered by ServiceID ascending.
type ServiceMap map[string][]registry.ServiceInstance

// Build fetches service names, filters, then fetches and derives instances
// for each remaining name. Per-instance data errors are returned in the
// dataErrs slice and are never fatal to the tick: a structurally unusable
// instance is dropped, while an instance whose pathPrefix differs from the
// first (post-sort) instance's is kept and only reported. A transport error fetching the name list or an
// instance list aborts the whole build (the caller — the Reconciler — then
// keeps its prior ServiceMap for this tick).
func (b *Builder) Build(ctx context.Context) (ServiceMap, []*gatewayerr.DataError, error) {
	names, err := b.client.ListServiceNames(ctx)
	if err != nil {
		return nil, nil, &gatewayerr.TransportError{Op: "list service names", Err: err}
	}

	out := make(ServiceMap)
	var dataErrs []*gatewayerr.DataError

	for name := range names {
		if strings.EqualFold(name, registryServiceName) {
			continue
		}
		if b.Allow != nil {
			if _, ok := b.Allow[strings.ToLower(name)]; !ok {
				continue
			}
		}

		raw, err := b.client.ListHealthyInstances(ctx, name)
		if err != nil {
			return nil, nil, &gatewayerr.TransportError{Op: "list healthy instances: " + name, Err: err}
		}
		if len(raw) == 0 {
			continue
		}

		instances := make([]registry.ServiceInstance, 0, len(raw))
		for _, inst := range raw {
			derived, dataErr := deriveInstance(inst)
			if dataErr != nil {
				dataErrs = append(dataErrs, dataErr)
				continue
			}
			instances = append(instances, derived)
		}
		if len(instances) == 0 {
			continue
		}

		sort.Slice(instances, func(i, j int) bool {
			return instances[i].ServiceID < instances[j].ServiceID
		})

		// resolvePath uses instances[0]'s pathPrefix as the route's path, so
		// the mismatch check must run against that same, post-sort instance.
		firstPathPrefix := instances[0].PathPrefix
		for _, inst := range instances[1:] {
			if inst.PathPrefix != firstPathPrefix {
				dataErrs = append(dataErrs, &gatewayerr.DataError{
					ServiceName: name,
					InstanceID:  inst.ServiceID,
					Reason:      "pathPrefix differs from first instance after sort; first instance's value wins",
				})
			}
		}
		out[name] = instances
	}

	return out, dataErrs, nil
}

// deriveInstance fills PathPrefix, Weight, Scheme, Protocol from Meta with
// their documented defaults. The instance is never rejected for its meta —
// a malformed meta value just falls back to its default, which is why this
// never returns a DataError for weight/scheme/protocol. A DataError is
// returned only if the instance is structurally unusable (missing address
// or an out-of-range port).
func deriveInstance(inst registry.ServiceInstance) (registry.ServiceInstance, *gatewayerr.DataError) {
	if inst.Address == "" {
		return registry.ServiceInstance{}, &gatewayerr.DataError{
			ServiceName: inst.ServiceName, InstanceID: inst.ServiceID, Reason: "empty address",
		}
	}
	if inst.Port < 1 || inst.Port > 65535 {
		return registry.ServiceInstance{}, &gatewayerr.DataError{
			ServiceName: inst.ServiceName, InstanceID: inst.ServiceID, Reason: "port out of range",
		}
	}

	out := inst
	if out.Meta == nil {
		out.Meta = map[string]string{}
	}

	out.PathPrefix = out.Meta[metaPathPrefix]

	out.Weight = defaultWeight
	if v, ok := out.Meta[metaWeight]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			out.Weight = n
		}
	}

	out.Scheme = defaultSchemeDiscovery
	if v, ok := out.Meta[metaScheme]; ok && (v == registry.SchemeHTTP || v == registry.SchemeHTTPS) {
		out.Scheme = v
	}

	out.Protocol = defaultProtocol
	switch out.Meta[metaProtocol] {
	case registry.ProtocolGRPC:
		out.Protocol = registry.ProtocolGRPC
	case registry.ProtocolWebsocket:
		out.Protocol = registry.ProtocolWebsocket
	case registry.ProtocolTCP:
		out.Protocol = registry.ProtocolTCP
	case registry.ProtocolUDP:
		out.Protocol = registry.ProtocolUDP
	default:
		out.Protocol = defaultProtocol
	}

	return out, nil
}

// Equal reports whether two ServiceMaps are equal per the Reconciler's diff
// rule: same set of service names, same instance count per name, and same
// sorted ServiceID list per name. Meta/weight/scheme changes to an existing
// ServiceID do NOT make the maps unequal — see SPEC_FULL.md §9 decision 1.
func (m ServiceMap) Equal(other ServiceMap) bool {
	if len(m) != len(other) {
		return false
	}
	for name, instances := range m {
		otherInstances, ok := other[name]
		if !ok || len(instances) != len(otherInstances) {
			return false
		}
		for i := range instances {
			if instances[i].ServiceID != otherInstances[i].ServiceID {
				return false
			}
		}
	}
	return true
}
