// Package agent implements the Registration Agent: publishes this
// process's identity into the registry on startup, and retracts it on
// graceful shutdown. States: Idle -> Registered -> Deregistering ->
// Terminal.
//
// Register/Deregister follow the call shape of a typical Consul
// service-registration client: synchronous, idempotent, no retries.
package agent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gatewayd/gatewayd/internal/registry"
	"github.com/gatewayd/gatewayd/internal/resolve"
)

// State is the Agent's lifecycle state.
type State int

const (
	Idle State = iota
	Registered
	Deregistering
	Terminal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Registered:
		return "registered"
	case Deregistering:
		return "deregistering"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Spec describes what to register: the logical service identity plus the
// meta the gateway writes and later reads back during discovery (see
// discovery.deriveInstance).
type Spec struct {
	ServiceName     string
	PathPrefix      string
	Weight          int
	Scheme          string // http|https; default http on the registration side
	Protocol        string
	Environment     string
	Tags            []string
	Meta            map[string]string
	HealthCheckPath string
	CheckInterval   string
	CheckTimeout    string
	DeregisterAfter string
	TLSSkipVerify   bool
}

// Agent is the Registration Agent.
type Agent struct {
	client registry.Client
	spec   Spec
	log    *slog.Logger

	state State
	id    string
}

// New constructs an Agent in the Idle state.
func New(client registry.Client, spec Spec, log *slog.Logger) *Agent {
	return &Agent{client: client, spec: spec, log: log, state: Idle}
}

// State reports the Agent's current lifecycle state.
func (a *Agent) State() State {
	return a.state
}

// Start builds a registration record for addr, this process's already
// resolved externally reachable address, and registers it. Must be called after the HTTP
// listener is already accepting requests, so the registry's health check
// can succeed on its first probe. On error, the Agent logs and stays Idle —
// no automatic retry in the core.
func (a *Agent) Start(ctx context.Context, addr resolve.Address) {
	if a.state != Idle {
		return
	}

	id, err := newInstanceID(a.spec.ServiceName, addr.Host, addr.Port)
	if err != nil {
		a.log.Error("registration agent: failed to build instance id", "error", err)
		return
	}

	meta := map[string]string{
		"pathPrefix":  a.spec.PathPrefix,
		"weight":      strconv.Itoa(a.spec.Weight),
		"scheme":      a.spec.Scheme,
		"protocol":    a.spec.Protocol,
		"environment": a.spec.Environment,
	}
	for k, v := range a.spec.Meta {
		meta[k] = v
	}

	record := registry.Registration{
		ID:      id,
		Name:    a.spec.ServiceName,
		Address: addr.Host,
		Port:    addr.Port,
		Tags:    a.spec.Tags,
		Meta:    meta,
		Check: registry.HealthCheck{
			HTTP:                           fmt.Sprintf("%s://%s:%d%s", addr.Scheme, addr.Host, addr.Port, a.spec.HealthCheckPath),
			Interval:                       a.spec.CheckInterval,
			Timeout:                        a.spec.CheckTimeout,
			DeregisterCriticalServiceAfter: a.spec.DeregisterAfter,
			TLSSkipVerify:                  a.spec.TLSSkipVerify,
		},
	}

	if err := a.client.Register(ctx, record); err != nil {
		a.log.Error("registration agent: register failed, staying idle", "error", err)
		return
	}

	a.id = id
	a.state = Registered
	a.log.Info("registration agent: registered", "id", id, "name", a.spec.ServiceName, "address", addr.Host, "port", addr.Port)
}

// Stop deregisters this process's instance. Errors are logged but never
// block shutdown. Safe to call even if Start never succeeded (Idle ->
// Terminal directly).
func (a *Agent) Stop(ctx context.Context) {
	if a.state != Registered {
		a.state = Terminal
		return
	}

	a.state = Deregistering
	if err := a.client.Deregister(ctx, a.id); err != nil {
		a.log.Warn("registration agent: deregister failed", "id", a.id, "error", err)
	} else {
		a.log.Info("registration agent: deregistered", "id", a.id)
	}
	a.state = Terminal
}

// newInstanceID builds "{name}-{address}-{port}-{random}" with a fresh
// 128-bit random suffix, guaranteeing uniqueness by construction.
func newInstanceID(name, address string, port int) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating instance id suffix: %w", err)
	}
	return fmt.Sprintf("%s-%s-%d-%s", name, address, port, hex.EncodeToString(buf)), nil
}
