package reconcile

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orion-deck/orion-deck/internal/gateway"
	"github.com/orion-deck/orion-deck/internal/view"
	"github.com/orion-deck/orion-deck/pkg/models"
)

type fakeSession struct {
	active bool
}

func (f *fakeSession) Active() bool {
	return f.active
}

// scriptedCaller returns queued responses in order and counts calls.
type scriptedCaller struct {
	mu        sync.Mutex
	responses []callResult
	calls     int
	block     chan struct{} // when set, Call waits on it first
}

type callResult struct {
	raw json.RawMessage
	err error
}

func (s *scriptedCaller) Call(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls++
	block := s.block
	var next callResult
	if len(s.responses) > 0 {
		next = s.responses[0]
		s.responses = s.responses[1:]
	}
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	return next.raw, next.err
}

func (s *scriptedCaller) queue(raw json.RawMessage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, callResult{raw: raw, err: err})
}

func (s *scriptedCaller) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func nodesJSON(t *testing.T, nodes []models.Node) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(nodes)
	require.NoError(t, err)
	return raw
}

func testNodes() []models.Node {
	until := models.NewUTCTime(time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC))
	return []models.Node{
		{NodeID: 1, Hostname: "worker-1", SSHPort: 2201, Status: models.StatusAlive},
		{
			NodeID: 2, Hostname: "worker-2", SSHPort: 2202, Status: models.StatusAlive,
			Allocated: true,
			Lease:     &models.Lease{RentalID: 10, UserID: 1, LeasedUntil: until, Active: true},
		},
	}
}

func newTestReconciler(caller gateway.Caller, active bool) (*Reconciler, *view.Recorder) {
	rec := view.NewRecorder()
	r := New(caller, &fakeSession{active: active}, rec)
	return r, rec
}

func TestPollFirstPassUpsertsAll(t *testing.T) {
	caller := &scriptedCaller{}
	caller.queue(nodesJSON(t, testNodes()), nil)

	r, rec := newTestReconciler(caller, true)
	r.Poll(context.Background())

	assert.Equal(t, []int64{1, 2}, rec.UpsertedIDs())
	assert.Equal(t, 1, rec.ErrorCleared)
	assert.Len(t, r.Snapshot(), 2)
}

func TestPollIdenticalResultPatchesNothing(t *testing.T) {
	caller := &scriptedCaller{}
	caller.queue(nodesJSON(t, testNodes()), nil)
	caller.queue(nodesJSON(t, testNodes()), nil)

	r, rec := newTestReconciler(caller, true)
	r.Poll(context.Background())
	r.Poll(context.Background())

	// Second pass is a no-op: same elements, zero additional patches.
	assert.Equal(t, 2, rec.UpsertCount())
	assert.Empty(t, rec.Removed)
	assert.Equal(t, 2, rec.ErrorCleared)
}

func TestPollPatchesOnlyChangedNodes(t *testing.T) {
	first := testNodes()
	second := testNodes()
	second[1].Lease.LeasedUntil = models.NewUTCTime(second[1].Lease.LeasedUntil.Time.Add(time.Hour))

	caller := &scriptedCaller{}
	caller.queue(nodesJSON(t, first), nil)
	caller.queue(nodesJSON(t, second), nil)

	r, rec := newTestReconciler(caller, true)
	r.Poll(context.Background())
	r.Poll(context.Background())

	// The untouched node is not re-rendered; only the extended lease is.
	assert.Equal(t, []int64{1, 2, 2}, rec.UpsertedIDs())
}

func TestPollRemovesVanishedNodes(t *testing.T) {
	caller := &scriptedCaller{}
	caller.queue(nodesJSON(t, testNodes()), nil)
	caller.queue(nodesJSON(t, testNodes()[:1]), nil)

	r, rec := newTestReconciler(caller, true)
	r.Poll(context.Background())
	r.Poll(context.Background())

	assert.Equal(t, []int64{2}, rec.Removed)
	assert.Len(t, r.Snapshot(), 1)
}

func TestPollEmptyMessageObject(t *testing.T) {
	caller := &scriptedCaller{}
	caller.queue(nodesJSON(t, testNodes()), nil)
	caller.queue(json.RawMessage(`{"message":"no active node rentals"}`), nil)

	r, rec := newTestReconciler(caller, true)
	r.Poll(context.Background())
	r.Poll(context.Background())

	assert.Equal(t, 1, rec.EmptyShown)
	assert.Empty(t, r.Snapshot())
}

func TestPollErrorKeepsSnapshot(t *testing.T) {
	caller := &scriptedCaller{}
	caller.queue(nodesJSON(t, testNodes()), nil)
	caller.queue(nil, gateway.ErrNetwork)

	r, rec := newTestReconciler(caller, true)
	r.Poll(context.Background())
	r.Poll(context.Background())

	// The stale-but-useful snapshot stays; the error is an annotation.
	assert.Len(t, r.Snapshot(), 2)
	require.Len(t, rec.Errors, 1)
	assert.Equal(t, "network unavailable, retry later", rec.Errors[0])
	assert.Equal(t, 2, rec.UpsertCount())
	assert.Empty(t, rec.Removed)
}

func TestPollSessionExpiredStaysQuiet(t *testing.T) {
	caller := &scriptedCaller{}
	caller.queue(nil, gateway.ErrSessionExpired)

	r, rec := newTestReconciler(caller, true)
	r.Poll(context.Background())

	// The 401 teardown already reset the view through the logout hook;
	// annotating it again would race that reset.
	assert.Empty(t, rec.Errors)
	assert.Empty(t, r.Snapshot())
}

func TestPollSkippedWithoutSession(t *testing.T) {
	caller := &scriptedCaller{}
	r, _ := newTestReconciler(caller, false)

	r.Poll(context.Background())
	assert.Zero(t, caller.callCount())
}

func TestPollOverlapSkippedNotQueued(t *testing.T) {
	caller := &scriptedCaller{block: make(chan struct{})}
	caller.queue(nodesJSON(t, testNodes()), nil)

	r, _ := newTestReconciler(caller, true)

	done := make(chan struct{})
	go func() {
		r.Poll(context.Background())
		close(done)
	}()

	// Wait for the first poll to go in flight.
	require.Eventually(t, func() bool { return caller.callCount() == 1 },
		time.Second, 5*time.Millisecond)

	// Overlapping poll returns immediately without a second request.
	r.Poll(context.Background())
	assert.Equal(t, 1, caller.callCount())

	close(caller.block)
	<-done
}

func TestPollUndecodableResponse(t *testing.T) {
	caller := &scriptedCaller{}
	caller.queue(json.RawMessage(`"what"`), nil)

	r, rec := newTestReconciler(caller, true)
	r.Poll(context.Background())

	require.Len(t, rec.Errors, 1)
	assert.Empty(t, r.Snapshot())
}

func TestClearLeaseMakesConfirmingPollANoOp(t *testing.T) {
	released := testNodes()
	released[1].Lease = nil
	released[1].Allocated = false

	caller := &scriptedCaller{}
	caller.queue(nodesJSON(t, testNodes()), nil)
	caller.queue(nodesJSON(t, released), nil)

	r, rec := newTestReconciler(caller, true)
	r.Poll(context.Background())

	r.ClearLease(10)
	assert.Equal(t, []int64{10}, rec.LeasesCleared)

	node, ok := r.FindByRental(10)
	assert.False(t, ok)
	assert.Zero(t, node.NodeID)

	// The confirming poll sees exactly what was applied optimistically.
	upserts := rec.UpsertCount()
	r.Poll(context.Background())
	assert.Equal(t, upserts, rec.UpsertCount())
	assert.Empty(t, rec.Removed)
}

func TestFindByRental(t *testing.T) {
	caller := &scriptedCaller{}
	caller.queue(nodesJSON(t, testNodes()), nil)

	r, _ := newTestReconciler(caller, true)
	r.Poll(context.Background())

	node, ok := r.FindByRental(10)
	require.True(t, ok)
	assert.Equal(t, int64(2), node.NodeID)

	_, ok = r.FindByRental(99)
	assert.False(t, ok)
}

func TestStartStopLoop(t *testing.T) {
	caller := &scriptedCaller{}
	caller.queue(nodesJSON(t, testNodes()), nil)

	r, rec := newTestReconciler(caller, true)
	r.interval = 10 * time.Millisecond

	r.Start(context.Background())
	require.Eventually(t, func() bool { return rec.UpsertCount() == 2 },
		time.Second, 5*time.Millisecond)
	r.Stop()

	// Stop is idempotent and the loop stays down.
	r.Stop()
	calls := caller.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, caller.callCount())
}

func TestRefreshPollsImmediately(t *testing.T) {
	caller := &scriptedCaller{}
	caller.queue(nodesJSON(t, testNodes()), nil)

	r, rec := newTestReconciler(caller, true)
	r.Refresh(context.Background())

	assert.Equal(t, 1, caller.callCount())
	assert.Equal(t, 2, rec.UpsertCount())
}
