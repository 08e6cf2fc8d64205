package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewayd/gatewayd/internal/registry"
	"github.com/gatewayd/gatewayd/internal/resolve"
)

type fakeClient struct {
	registerErr   error
	deregisterErr error

	registered   []registry.Registration
	deregistered []string
}

func (f *fakeClient) Register(ctx context.Context, record registry.Registration) error {
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered = append(f.registered, record)
	return nil
}

func (f *fakeClient) Deregister(ctx context.Context, id string) error {
	if f.deregisterErr != nil {
		return f.deregisterErr
	}
	f.deregistered = append(f.deregistered, id)
	return nil
}

func (f *fakeClient) ListServiceNames(ctx context.Context) (map[string][]string, error) {
	return nil, nil
}

func (f *fakeClient) ListHealthyInstances(ctx context.Context, name string) ([]registry.ServiceInstance, error) {
	return nil, nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartTransitionsIdleToRegistered(t *testing.T) {
	client := &fakeClient{}
	a := New(client, Spec{ServiceName: "weather", HealthCheckPath: "/health"}, silentLogger())
	assert.Equal(t, Idle, a.State())

	a.Start(context.Background(), resolve.Address{Host: "10.0.0.5", Port: 8080, Scheme: "https"})

	assert.Equal(t, Registered, a.State())
	require.Len(t, client.registered, 1)
	assert.Equal(t, "weather", client.registered[0].Name)
	assert.Equal(t, "10.0.0.5", client.registered[0].Address)
	assert.Equal(t, 8080, client.registered[0].Port)
	assert.Equal(t, "https://10.0.0.5:8080/health", client.registered[0].Check.HTTP)
}

func TestStartWritesMetaSchema(t *testing.T) {
	client := &fakeClient{}
	spec := Spec{
		ServiceName: "weather",
		PathPrefix:  "/v2/weather",
		Weight:      5,
		Scheme:      "https",
		Protocol:    "grpc",
		Environment: "staging",
	}
	a := New(client, spec, silentLogger())
	a.Start(context.Background(), resolve.Address{Host: "10.0.0.5", Port: 8080, Scheme: "https"})

	require.Len(t, client.registered, 1)
	meta := client.registered[0].Meta
	assert.Equal(t, "/v2/weather", meta["pathPrefix"])
	assert.Equal(t, "5", meta["weight"])
	assert.Equal(t, "https", meta["scheme"])
	assert.Equal(t, "grpc", meta["protocol"])
	assert.Equal(t, "staging", meta["environment"])
}

func TestStartStaysIdleOnRegisterError(t *testing.T) {
	client := &fakeClient{registerErr: errors.New("unreachable")}
	a := New(client, Spec{ServiceName: "weather"}, silentLogger())

	a.Start(context.Background(), resolve.Address{Host: "10.0.0.5", Port: 8080, Scheme: "https"})

	assert.Equal(t, Idle, a.State())
}

func TestStartIsANoOpWhenNotIdle(t *testing.T) {
	client := &fakeClient{}
	a := New(client, Spec{ServiceName: "weather"}, silentLogger())
	a.Start(context.Background(), resolve.Address{Host: "10.0.0.5", Port: 8080, Scheme: "https"})

	a.Start(context.Background(), resolve.Address{Host: "10.0.0.6", Port: 9090, Scheme: "https"})

	assert.Len(t, client.registered, 1)
}

func TestStopDeregistersWhenRegistered(t *testing.T) {
	client := &fakeClient{}
	a := New(client, Spec{ServiceName: "weather"}, silentLogger())
	a.Start(context.Background(), resolve.Address{Host: "10.0.0.5", Port: 8080, Scheme: "https"})

	a.Stop(context.Background())

	assert.Equal(t, Terminal, a.State())
	require.Len(t, client.deregistered, 1)
}

func TestStopFromIdleGoesDirectlyToTerminal(t *testing.T) {
	client := &fakeClient{}
	a := New(client, Spec{ServiceName: "weather"}, silentLogger())

	a.Stop(context.Background())

	assert.Equal(t, Terminal, a.State())
	assert.Empty(t, client.deregistered)
}

func TestStopLogsButDoesNotBlockOnDeregisterError(t *testing.T) {
	client := &fakeClient{deregisterErr: errors.New("unreachable")}
	a := New(client, Spec{ServiceName: "weather"}, silentLogger())
	a.Start(context.Background(), resolve.Address{Host: "10.0.0.5", Port: 8080, Scheme: "https"})

	a.Stop(context.Background())

	assert.Equal(t, Terminal, a.State())
}

func TestDeregisterTwiceBothSucceed(t *testing.T) {
	client := &fakeClient{}
	a := New(client, Spec{ServiceName: "weather"}, silentLogger())
	a.Start(context.Background(), resolve.Address{Host: "10.0.0.5", Port: 8080, Scheme: "https"})
	id := client.registered[0].ID

	assert.NoError(t, client.Deregister(context.Background(), id))
	assert.NoError(t, client.Deregister(context.Background(), id))
}
