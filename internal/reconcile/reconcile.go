// Package reconcile implements the control loop that rebuilds the
// ServiceMap on a timer, diffs it against the last observed snapshot, and
// publishes a new forwarding configuration only when something changed.
//
// Follows a sync-then-tick-until-canceled loop shape, gating its
// publish decision on a "did the service list actually change" check
// rather than publishing on every tick.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatewayd/gatewayd/internal/discovery"
	"github.com/gatewayd/gatewayd/internal/forwarding"
	"github.com/gatewayd/gatewayd/internal/gatewayerr"
	"github.com/gatewayd/gatewayd/internal/snapshot"
)

// Builder is the subset of discovery.Builder the Reconciler depends on.
type Builder interface {
	Build(ctx context.Context) (discovery.ServiceMap, []*gatewayerr.DataError, error)
}

// Reconciler runs the control loop described in SPEC_FULL.md §4.E.
type Reconciler struct {
	builder         Builder
	store           *snapshot.Store
	refreshInterval time.Duration
	overrides       forwarding.RouteOverrides
	log             *slog.Logger

	lastMap   discovery.ServiceMap
	published bool

	firstTick     chan struct{}
	firstTickOnce bool
}

// New constructs a Reconciler over builder, publishing into store on every
// tick that observes a change.
func New(builder Builder, store *snapshot.Store, refreshInterval time.Duration, overrides forwarding.RouteOverrides, log *slog.Logger) *Reconciler {
	return &Reconciler{
		builder:         builder,
		store:           store,
		refreshInterval: refreshInterval,
		overrides:       overrides,
		log:             log,
		lastMap:         discovery.ServiceMap{},
		firstTick:       make(chan struct{}),
	}
}

// WaitFirstTick blocks until the Reconciler has completed one full tick
// (success or logged failure), or ctx is canceled. The Management API uses
// this to gate /readyz without ever blocking on the registry itself.
func (r *Reconciler) WaitFirstTick(ctx context.Context) {
	select {
	case <-r.firstTick:
	case <-ctx.Done():
	}
}

// Run performs one reconciliation attempt immediately, then loops on
// refreshInterval until ctx is canceled. Overlapping ticks are impossible —
// each tick runs to completion before the next timer fire is awaited.
func (r *Reconciler) Run(ctx context.Context) {
	r.tick(ctx)

	ticker := time.NewTicker(r.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick performs exactly one build-diff-publish cycle. A registry error
// aborts the tick without mutating the store; the next tick retries.
func (r *Reconciler) tick(ctx context.Context) {
	defer r.markFirstTickDone()

	newMap, dataErrs, err := r.builder.Build(ctx)
	if err != nil {
		r.log.Error("reconcile tick failed", "error", err)
		return
	}
	for _, de := range dataErrs {
		r.log.Warn("registry data error", "error", de)
	}

	if r.published && r.lastMap.Equal(newMap) {
		return
	}

	routes := forwarding.BuildRoutes(newMap, r.overrides)
	clusters := forwarding.BuildClusters(newMap)
	r.store.Publish(snapshot.New(routes, clusters))
	r.lastMap = newMap
	r.published = true

	r.log.Info("published new config snapshot", "services", len(newMap), "routes", len(routes), "clusters", len(clusters))
}

// markFirstTickDone closes firstTick exactly once, after the first tick
// completes (whether or not it published).
func (r *Reconciler) markFirstTickDone() {
	if r.firstTickOnce {
		return
	}
	r.firstTickOnce = true
	close(r.firstTick)
}
