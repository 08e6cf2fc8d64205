// Package consul implements registry.Client against a real Consul agent via
// github.com/hashicorp/consul/api. No retries: every call returns a
// *gatewayerr.TransportError on failure and leaves retry policy to the
// caller, per the registry client's failure policy.
//
// Grounded on the Consul client wiring in dante-gpu/siger-api-gateway's
// internal/discovery package and wudi-gateway's internal/registry/consul
// package from the retrieved corpus.
package consul

import (
	"context"
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/gatewayd/gatewayd/internal/gatewayerr"
	"github.com/gatewayd/gatewayd/internal/registry"
)

// Client wraps a Consul API client behind the registry.Client interface.
type Client struct {
	api *consulapi.Client
}

// New builds a Client talking to the Consul agent at address (e.g.
// "http://localhost:8500"), with calls bounded by timeout.
func New(address string, timeout time.Duration) (*Client, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = address
	cfg.HttpClient.Timeout = timeout

	api, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("building consul client: %w", err)
	}
	return &Client{api: api}, nil
}

var _ registry.Client = (*Client)(nil)

// Register is idempotent: Consul's agent/service/register endpoint upserts
// by ID.
func (c *Client) Register(ctx context.Context, record registry.Registration) error {
	reg := &consulapi.AgentServiceRegistration{
		ID:      record.ID,
		Name:    record.Name,
		Address: record.Address,
		Port:    record.Port,
		Tags:    record.Tags,
		Meta:    record.Meta,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           record.Check.HTTP,
			Interval:                       record.Check.Interval,
			Timeout:                        record.Check.Timeout,
			DeregisterCriticalServiceAfter: record.Check.DeregisterCriticalServiceAfter,
			TLSSkipVerify:                  record.Check.TLSSkipVerify,
		},
	}

	if err := c.api.Agent().ServiceRegister(reg); err != nil {
		return &gatewayerr.TransportError{Op: "register " + record.ID, Err: err}
	}
	return nil
}

// Deregister succeeds even if id is unknown — Consul's deregister endpoint
// is itself idempotent in that sense.
func (c *Client) Deregister(ctx context.Context, id string) error {
	if err := c.api.Agent().ServiceDeregister(id); err != nil {
		return &gatewayerr.TransportError{Op: "deregister " + id, Err: err}
	}
	return nil
}

// ListServiceNames calls the catalog services endpoint, which returns a
// name -> tag-set mapping. The per-call timeout configured in New bounds
// every request made through the underlying HTTP client, including this
// one; ctx is accepted to satisfy registry.Client and to let callers race
// it against their own cancellation.
func (c *Client) ListServiceNames(ctx context.Context) (map[string][]string, error) {
	select {
	case <-ctx.Done():
		return nil, &gatewayerr.TransportError{Op: "list service names", Err: ctx.Err()}
	default:
	}
	services, _, err := c.api.Catalog().Services(&consulapi.QueryOptions{})
	if err != nil {
		return nil, &gatewayerr.TransportError{Op: "list service names", Err: err}
	}
	return services, nil
}

// ListHealthyInstances calls the health API with passing=true, returning
// only instances currently passing their health check. Fields not present
// in the response are left zero-valued; the discovery Builder applies
// defaults.
func (c *Client) ListHealthyInstances(ctx context.Context, name string) ([]registry.ServiceInstance, error) {
	select {
	case <-ctx.Done():
		return nil, &gatewayerr.TransportError{Op: "list healthy instances: " + name, Err: ctx.Err()}
	default:
	}
	entries, _, err := c.api.Health().Service(name, "", true, &consulapi.QueryOptions{})
	if err != nil {
		return nil, &gatewayerr.TransportError{Op: "list healthy instances: " + name, Err: err}
	}

	out := make([]registry.ServiceInstance, 0, len(entries))
	for _, entry := range entries {
		addr := entry.Service.Address
		if addr == "" {
			// No service-level address published: fall back to the node's
			// address, same as the registry watchers in the retrieved
			// corpus (wudi-gateway, moonkev/flexds).
			addr = entry.Node.Address
		}
		out = append(out, registry.ServiceInstance{
			ServiceID:   entry.Service.ID,
			ServiceName: entry.Service.Service,
			Address:     addr,
			Port:        entry.Service.Port,
			Tags:        entry.Service.Tags,
			Meta:        entry.Service.Meta,
		})
	}
	return out, nil
}
