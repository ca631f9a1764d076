package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orion-deck/orion-deck/internal/gateway"
	"github.com/orion-deck/orion-deck/internal/view"
	"github.com/orion-deck/orion-deck/pkg/models"
)

type recordedCall struct {
	method string
	path   string
	body   any
}

type fakeCaller struct {
	mu    sync.Mutex
	calls []recordedCall
	raw   json.RawMessage
	err   error
}

func (f *fakeCaller) Call(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{method: method, path: path, body: body})
	return f.raw, f.err
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRefresher struct {
	refreshes int
}

func (f *fakeRefresher) Refresh(ctx context.Context) {
	f.refreshes++
}

type fakeSnapshot struct {
	cleared []int64
	nodes   map[int64]models.Node
}

func (f *fakeSnapshot) ClearLease(rentalID int64) {
	f.cleared = append(f.cleared, rentalID)
}

func (f *fakeSnapshot) FindByRental(rentalID int64) (models.Node, bool) {
	n, ok := f.nodes[rentalID]
	return n, ok
}

func newTestController(caller *fakeCaller) (*Controller, *view.Recorder, *fakeRefresher, *fakeSnapshot) {
	rec := view.NewRecorder()
	refresher := &fakeRefresher{}
	snapshot := &fakeSnapshot{nodes: map[int64]models.Node{}}
	ctrl := New(caller, rec, refresher, snapshot)
	return ctrl, rec, refresher, snapshot
}

func TestRentSuccess(t *testing.T) {
	caller := &fakeCaller{raw: json.RawMessage(`{
		"allocated": [{
			"rental_id": 5,
			"host_ip": "203.0.113.10",
			"ssh_port": 2201,
			"client_user": "alice",
			"client_pass": "s3cret",
			"leased_until": "2026-03-01T14:00:00"
		}]
	}`)}

	ctrl, rec, refresher, _ := newTestController(caller)
	allocated, err := ctrl.Rent(context.Background(), RentRequest{DurationHours: 4, Count: 1})
	require.NoError(t, err)

	require.Len(t, allocated, 1)
	assert.Equal(t, int64(5), allocated[0].RentalID)
	assert.Equal(t, "s3cret", allocated[0].ClientPass)

	// Success is announced and immediately reconciled.
	require.Len(t, rec.Notices, 1)
	assert.Contains(t, rec.Notices[0], "Rented 1 node(s)")
	assert.Equal(t, 1, refresher.refreshes)

	require.Equal(t, 1, caller.callCount())
	assert.Equal(t, "/api/rent", caller.calls[0].path)
}

func TestRentValidationRejectsWithoutCall(t *testing.T) {
	caller := &fakeCaller{}
	ctrl, _, refresher, _ := newTestController(caller)

	cases := []RentRequest{
		{DurationHours: 0, Count: 1},
		{DurationHours: -2, Count: 1},
		{DurationHours: 3, Count: 0},
		{DurationHours: 3, Count: -1},
	}
	for _, req := range cases {
		_, err := ctrl.Rent(context.Background(), req)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, "request %+v", req)
	}

	assert.Zero(t, caller.callCount())
	assert.Zero(t, refresher.refreshes)
}

func TestRentServerErrorPropagates(t *testing.T) {
	caller := &fakeCaller{err: &gateway.RemoteError{Status: 503, Message: "not enough free workers (found 0)"}}
	ctrl, rec, refresher, _ := newTestController(caller)

	_, err := ctrl.Rent(context.Background(), RentRequest{DurationHours: 2, Count: 3})
	require.Error(t, err)
	assert.Equal(t, "not enough free workers (found 0)", gateway.UserMessage(err))

	// No notice, no forced reconciliation on failure.
	assert.Empty(t, rec.Notices)
	assert.Zero(t, refresher.refreshes)
}

func TestSpecialLease(t *testing.T) {
	caller := &fakeCaller{raw: json.RawMessage(`{"allocated":[]}`)}
	ctrl, _, _, _ := newTestController(caller)

	_, err := ctrl.SpecialLease(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, caller.callCount())
	req, ok := caller.calls[0].body.(RentRequest)
	require.True(t, ok)
	assert.Equal(t, SpecialLeaseHours, req.DurationHours)
	assert.Equal(t, 1, req.Count)
}

func TestReleaseOptimisticallyClearsLease(t *testing.T) {
	caller := &fakeCaller{raw: json.RawMessage(`{"message":"rental 7 released"}`)}
	ctrl, rec, refresher, snapshot := newTestController(caller)

	require.NoError(t, ctrl.Release(context.Background(), 7))

	assert.Equal(t, "/api/release/7", caller.calls[0].path)
	assert.Equal(t, []int64{7}, snapshot.cleared)
	require.Len(t, rec.Notices, 1)
	assert.Contains(t, rec.Notices[0], "released")
	assert.Equal(t, 1, refresher.refreshes)
}

func TestReleaseFailureLeavesViewAlone(t *testing.T) {
	caller := &fakeCaller{err: &gateway.RemoteError{Status: 403, Message: "not your rental"}}
	ctrl, rec, refresher, snapshot := newTestController(caller)

	err := ctrl.Release(context.Background(), 7)
	require.Error(t, err)

	assert.Empty(t, snapshot.cleared)
	assert.Empty(t, rec.Notices)
	assert.Zero(t, refresher.refreshes)
}

func TestExtendRejectsNonPositiveHours(t *testing.T) {
	caller := &fakeCaller{}
	ctrl, _, _, _ := newTestController(caller)

	for _, hours := range []int{0, -3} {
		err := ctrl.Extend(context.Background(), 7, hours)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, "hours %d", hours)
	}
	assert.Zero(t, caller.callCount())
}

func TestExtendSuccess(t *testing.T) {
	caller := &fakeCaller{raw: json.RawMessage(`{"leased_until":"2026-03-01T18:00:00Z"}`)}
	ctrl, rec, refresher, _ := newTestController(caller)

	require.NoError(t, ctrl.Extend(context.Background(), 7, 3))

	assert.Equal(t, "/api/extend/7", caller.calls[0].path)
	assert.Equal(t, map[string]int{"additional_hours": 3}, caller.calls[0].body)
	require.Len(t, rec.Notices, 1)
	assert.Equal(t, 1, refresher.refreshes)
}

func TestRevealPasswordSuccess(t *testing.T) {
	caller := &fakeCaller{raw: json.RawMessage(`{"ssh_password":"hunter2"}`)}
	ctrl, rec, _, _ := newTestController(caller)

	password, err := ctrl.RevealPassword(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", password)
	assert.Equal(t, "/api/lease/7/password", caller.calls[0].path)
	assert.Equal(t, "hunter2", rec.Passwords[7])
}

func TestRevealPasswordFailureKeepsAffordance(t *testing.T) {
	caller := &fakeCaller{err: gateway.ErrNetwork}
	ctrl, rec, _, _ := newTestController(caller)

	_, err := ctrl.RevealPassword(context.Background(), 7)
	require.Error(t, err)

	// The reveal affordance stays in place: no password was rendered.
	assert.Empty(t, rec.Passwords)
}
