package view

import (
	"sync"

	"github.com/orion-deck/orion-deck/pkg/models"
)

// Recorder is a View that records every call for assertions in tests.
// Safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	BusyTransitions []bool
	Errors          []string
	ErrorCleared    int
	EmptyShown      int
	Upserts         []models.Node
	Removed         []int64
	LeasesCleared   []int64
	Passwords       map[int64]string
	Notices         []string
	Resets          int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{Passwords: make(map[int64]string)}
}

func (r *Recorder) Busy(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BusyTransitions = append(r.BusyTransitions, on)
}

func (r *Recorder) ShowError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, msg)
}

func (r *Recorder) ClearError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ErrorCleared++
}

func (r *Recorder) ShowEmpty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EmptyShown++
}

func (r *Recorder) UpsertNode(n models.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Upserts = append(r.Upserts, n)
}

func (r *Recorder) RemoveNode(nodeID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Removed = append(r.Removed, nodeID)
}

func (r *Recorder) ClearLease(rentalID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LeasesCleared = append(r.LeasesCleared, rentalID)
}

func (r *Recorder) SetPassword(rentalID int64, password string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Passwords[rentalID] = password
}

func (r *Recorder) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notices = append(r.Notices, msg)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Resets++
}

// UpsertedIDs returns the node ids patched so far, in call order.
func (r *Recorder) UpsertedIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.Upserts))
	for _, n := range r.Upserts {
		ids = append(ids, n.NodeID)
	}
	return ids
}

// UpsertCount returns how many node patches have been applied.
func (r *Recorder) UpsertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Upserts)
}
