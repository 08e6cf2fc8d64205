package reconcile

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewayd/gatewayd/internal/discovery"
	"github.com/gatewayd/gatewayd/internal/gatewayerr"
	"github.com/gatewayd/gatewayd/internal/snapshot"
)

// scriptedBuilder returns one ServiceMap per call to Build, in order,
// repeating the last entry once exhausted.
type scriptedBuilder struct {
	maps []discovery.ServiceMap
	errs []error
	call int
}

func (b *scriptedBuilder) Build(ctx context.Context) (discovery.ServiceMap, []*gatewayerr.DataError, error) {
	i := b.call
	if i >= len(b.maps) {
		i = len(b.maps) - 1
	}
	b.call++
	var err error
	if i < len(b.errs) {
		err = b.errs[i]
	}
	if err != nil {
		return nil, nil, err
	}
	return b.maps[i], nil, nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTickEmptyRegistryPublishesEmptySnapshot(t *testing.T) {
	b := &scriptedBuilder{maps: []discovery.ServiceMap{{}}}
	store := snapshot.NewStore()
	initial := store.GetConfig()

	r := New(b, store, time.Hour, nil, silentLogger())
	r.tick(context.Background())

	assert.True(t, initial.Token().IsStale())
	cfg := store.GetConfig()
	assert.Empty(t, cfg.Routes)
	assert.Empty(t, cfg.Clusters)
}

func TestTickNoPublicationWhenServiceMapUnchanged(t *testing.T) {
	m := discovery.ServiceMap{"weather": {{ServiceID: "w1", ServiceName: "weather", Address: "10.0.0.5", Port: 8080, Scheme: "https"}}}
	b := &scriptedBuilder{maps: []discovery.ServiceMap{m, m}}
	store := snapshot.NewStore()

	r := New(b, store, time.Hour, nil, silentLogger())
	r.tick(context.Background())
	afterFirst := store.GetConfig()

	r.tick(context.Background())
	afterSecond := store.GetConfig()

	assert.Same(t, afterFirst, afterSecond)
	assert.False(t, afterFirst.Token().IsStale())
}

func TestTickTransportErrorLeavesStoreUntouched(t *testing.T) {
	m := discovery.ServiceMap{"weather": {{ServiceID: "w1", ServiceName: "weather", Address: "10.0.0.5", Port: 8080, Scheme: "https"}}}
	b := &scriptedBuilder{
		maps: []discovery.ServiceMap{m, nil, m},
		errs: []error{nil, &gatewayerr.TransportError{Op: "list service names"}, nil},
	}
	store := snapshot.NewStore()

	r := New(b, store, time.Hour, nil, silentLogger())
	r.tick(context.Background()) // publishes m
	published := store.GetConfig()

	r.tick(context.Background()) // transport error, no change
	assert.Same(t, published, store.GetConfig())
	assert.False(t, published.Token().IsStale())

	r.tick(context.Background()) // recovers to the same set: no publication
	assert.Same(t, published, store.GetConfig())
}

func TestTickServiceRemovedStalesPreviousToken(t *testing.T) {
	m := discovery.ServiceMap{"weather": {{ServiceID: "w1", ServiceName: "weather", Address: "10.0.0.5", Port: 8080, Scheme: "https"}}}
	b := &scriptedBuilder{maps: []discovery.ServiceMap{m, {}}}
	store := snapshot.NewStore()

	r := New(b, store, time.Hour, nil, silentLogger())
	r.tick(context.Background())
	withService := store.GetConfig()

	r.tick(context.Background())
	assert.True(t, withService.Token().IsStale())
	cfg := store.GetConfig()
	assert.Empty(t, cfg.Routes)
	assert.Empty(t, cfg.Clusters)
}

func TestWaitFirstTickUnblocksAfterOneTick(t *testing.T) {
	b := &scriptedBuilder{maps: []discovery.ServiceMap{{}}}
	store := snapshot.NewStore()
	r := New(b, store, time.Hour, nil, silentLogger())

	done := make(chan struct{})
	go func() {
		r.WaitFirstTick(context.Background())
		close(done)
	}()

	r.tick(context.Background())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitFirstTick did not unblock after tick")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	b := &scriptedBuilder{maps: []discovery.ServiceMap{{}}}
	store := snapshot.NewStore()
	r := New(b, store, time.Millisecond, nil, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
