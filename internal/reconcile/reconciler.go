// Package reconcile polls the control plane's node collection and drives
// minimal, keyed view patches from the diff against the last known
// snapshot. The snapshot is single-writer: only this package mutates it.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orion-deck/orion-deck/internal/gateway"
	"github.com/orion-deck/orion-deck/internal/logging"
	"github.com/orion-deck/orion-deck/internal/metrics"
	"github.com/orion-deck/orion-deck/internal/view"
	"github.com/orion-deck/orion-deck/pkg/models"
)

// DefaultPollInterval is the fixed node poll cadence.
const DefaultPollInterval = 30 * time.Second

// SessionChecker gates polling on session presence.
type SessionChecker interface {
	Active() bool
}

// Reconciler owns the node snapshot and the poll loop.
type Reconciler struct {
	caller   gateway.Caller
	sessions SessionChecker
	view     view.View
	logger   *slog.Logger
	interval time.Duration

	// inFlight bounds outstanding list requests to one: an overlapping
	// poll is skipped, not queued.
	inFlight atomic.Bool

	mu       sync.Mutex
	snapshot []models.Node
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures the reconciler
type Option func(*Reconciler)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithInterval sets the poll cadence (for testing)
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		r.interval = d
	}
}

// New creates a reconciler that renders through v.
func New(caller gateway.Caller, sessions SessionChecker, v view.View, opts ...Option) *Reconciler {
	r := &Reconciler{
		caller:   caller,
		sessions: sessions,
		view:     v,
		logger:   slog.Default(),
		interval: DefaultPollInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start begins the poll loop: one immediate poll, then the fixed cadence.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("reconciler starting", slog.Duration("interval", r.interval))
	go r.run(ctx)
}

// Stop halts the poll loop and waits for it to exit. An in-flight call is
// not cancelled; its result is simply never applied to a live loop.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh
	r.logger.Info("reconciler stopped")
}

func (r *Reconciler) run(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(r.doneCh)
	}()

	r.Poll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Poll(ctx)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Refresh runs an immediate reconciliation, bypassing the cadence. Called
// by the workflow controller after every successful mutation.
func (r *Reconciler) Refresh(ctx context.Context) {
	metrics.ForcedReconciliations.Inc()
	r.Poll(ctx)
}

// Poll executes a single reconciliation pass: request, compare, patch.
// A no-op when no session exists or when a pass is already in flight.
func (r *Reconciler) Poll(ctx context.Context) {
	if !r.sessions.Active() {
		logging.Debug(ctx, "poll skipped: no session")
		return
	}
	if !r.inFlight.CompareAndSwap(false, true) {
		logging.Debug(ctx, "poll skipped: previous poll still in flight")
		metrics.RecordPoll("skipped")
		return
	}
	defer r.inFlight.Store(false)

	raw, err := r.caller.Call(ctx, http.MethodGet, "/api/nodes", nil)
	if err != nil {
		// A 401 already tore the session down; the logout hook resets
		// the view, so there is nothing left to annotate.
		if errors.Is(err, gateway.ErrSessionExpired) {
			metrics.RecordPoll("error")
			return
		}
		logging.Warn(ctx, "node poll failed", slog.String("error", err.Error()))
		metrics.RecordPoll("error")
		// Transient failure: keep the previous snapshot rendered.
		r.view.ShowError(gateway.UserMessage(err))
		return
	}

	nodes, ok := decodeNodes(ctx, raw)
	if !ok {
		metrics.RecordPoll("error")
		r.view.ShowError("unexpected response from control plane")
		return
	}

	if len(nodes) == 0 {
		r.mu.Lock()
		r.snapshot = nil
		r.mu.Unlock()
		metrics.RecordPoll("empty")
		metrics.SnapshotNodes.Set(0)
		r.view.ClearError()
		r.view.ShowEmpty()
		return
	}

	r.apply(ctx, nodes)
}

// decodeNodes parses the list response. The control plane answers with a
// bare {"message": ...} object instead of an array when the caller has no
// rentals; that counts as the empty collection.
func decodeNodes(ctx context.Context, raw json.RawMessage) ([]models.Node, bool) {
	var nodes []models.Node
	if err := json.Unmarshal(raw, &nodes); err == nil {
		return nodes, true
	}

	var alt struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &alt); err == nil && alt.Message != "" {
		return nil, true
	}

	logging.Warn(ctx, "undecodable node list response")
	return nil, false
}

// apply diffs the fetched collection against the snapshot and patches the
// view per node, keyed by node id. Unchanged nodes are left untouched so
// open sub-widgets (a revealed password) survive the pass.
func (r *Reconciler) apply(ctx context.Context, nodes []models.Node) {
	r.mu.Lock()
	previous := r.snapshot

	if snapshotsEqual(previous, nodes) {
		r.mu.Unlock()
		metrics.RecordPoll("unchanged")
		r.view.ClearError()
		return
	}

	known := make(map[int64]models.Node, len(previous))
	for _, n := range previous {
		known[n.NodeID] = n
	}

	r.snapshot = make([]models.Node, len(nodes))
	copy(r.snapshot, nodes)
	r.mu.Unlock()

	patched, removed := 0, 0
	seen := make(map[int64]bool, len(nodes))
	for _, n := range nodes {
		seen[n.NodeID] = true
		if old, exists := known[n.NodeID]; exists && old.Equal(n) {
			continue
		}
		r.view.UpsertNode(n)
		patched++
	}
	for _, n := range previous {
		if !seen[n.NodeID] {
			r.view.RemoveNode(n.NodeID)
			removed++
		}
	}

	r.view.ClearError()
	metrics.RecordPoll("changed")
	metrics.SnapshotNodes.Set(float64(len(nodes)))
	metrics.NodesPatched.Add(float64(patched))
	metrics.NodesRemoved.Add(float64(removed))
	logging.Debug(ctx, "snapshot reconciled",
		slog.Int("nodes", len(nodes)),
		slog.Int("patched", patched),
		slog.Int("removed", removed))
}

// ClearLease optimistically drops a released lease from the snapshot and
// the view ahead of the confirming poll. Keeping both in step means the
// confirmation diff is a no-op instead of a flicker.
func (r *Reconciler) ClearLease(rentalID int64) {
	r.mu.Lock()
	for i := range r.snapshot {
		lease := r.snapshot[i].Lease
		if lease != nil && lease.RentalID == rentalID {
			r.snapshot[i].Lease = nil
			r.snapshot[i].Allocated = false
			break
		}
	}
	r.mu.Unlock()

	r.view.ClearLease(rentalID)
}

// Snapshot returns a copy of the current node snapshot.
func (r *Reconciler) Snapshot() []models.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Node, len(r.snapshot))
	copy(out, r.snapshot)
	return out
}

// FindByRental returns the snapshot node holding the given rental.
func (r *Reconciler) FindByRental(rentalID int64) (models.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.snapshot {
		if n.Lease != nil && n.Lease.RentalID == rentalID {
			return n, true
		}
	}
	return models.Node{}, false
}

func snapshotsEqual(a, b []models.Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
