// Package registry defines the gateway's view of the service registry: the
// ServiceInstance data model and the Client capability set that the
// discovery builder and registration agent depend on.
//
// Client is a capability set, not a concrete Consul binding — a fake
// satisfying it is sufficient for every test in this module. The real
// binding lives in the sibling consul package.
package registry

import "context"

// ServiceInstance is one healthy backend, as derived from a registry entry.
// Scheme and Port together uniquely determine the URL {scheme}://{address}:{port}.
type ServiceInstance struct {
	ServiceID   string
	ServiceName string
	Address     string
	Port        int
	Tags        []string
	Meta        map[string]string

	// Derived from Meta with explicit defaults — see discovery.deriveInstance.
	PathPrefix string
	Weight     int
	Scheme     string
	Protocol   string
}

// Supported Protocol values.
const (
	ProtocolHTTP      = "http"
	ProtocolGRPC      = "grpc"
	ProtocolWebsocket = "websocket"
	ProtocolTCP       = "tcp"
	ProtocolUDP       = "udp"
)

// Supported Scheme values.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// HealthCheck describes the check Register publishes alongside a service
// instance.
type HealthCheck struct {
	HTTP                           string
	Interval                       string
	Timeout                        string
	DeregisterCriticalServiceAfter string
	TLSSkipVerify                  bool
}

// Registration is the record the Registration Agent publishes into the
// registry on startup.
type Registration struct {
	ID      string
	Name    string
	Address string
	Port    int
	Tags    []string
	Meta    map[string]string
	Check   HealthCheck
}

// Client is the typed interface the rest of the gateway depends on. It
// performs no retries — every call reports a transport error and leaves
// retry policy to the caller.
type Client interface {
	// Register is idempotent, keyed by record.ID.
	Register(ctx context.Context, record Registration) error

	// Deregister succeeds if id is unknown to the registry.
	Deregister(ctx context.Context, id string) error

	// ListServiceNames returns every service name currently known to the
	// registry, tags included for callers that want them (the gateway's
	// own discovery builder ignores the tag values).
	ListServiceNames(ctx context.Context) (map[string][]string, error)

	// ListHealthyInstances returns only instances currently passing their
	// health check.
	ListHealthyInstances(ctx context.Context, name string) ([]ServiceInstance, error)
}
