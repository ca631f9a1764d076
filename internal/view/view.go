// Package view defines the rendering contract between the state
// synchronization core and whatever draws the dashboard. The reconciler
// and workflow controller speak only this interface, so the terminal UI
// can be swapped for a recording fake in tests.
package view

import "github.com/orion-deck/orion-deck/pkg/models"

// View receives keyed, minimal patches from the reconciler and outcome
// notices from the workflow controller. Implementations must treat
// UpsertNode as patch-in-place for an already rendered node id and as
// creation for a new one.
type View interface {
	// Busy drives the global busy indicator.
	Busy(on bool)

	// ShowError displays a non-destructive error notice. Previously
	// rendered nodes stay visible.
	ShowError(msg string)

	// ClearError removes the error notice.
	ClearError()

	// ShowEmpty renders the explicit "no nodes" state.
	ShowEmpty()

	// UpsertNode creates or patches the element for n, keyed by NodeID.
	UpsertNode(n models.Node)

	// RemoveNode removes the element for a node id no longer present.
	RemoveNode(nodeID int64)

	// ClearLease removes the rendered leased state for a rental,
	// applied optimistically after a successful release.
	ClearLease(rentalID int64)

	// SetPassword replaces the reveal affordance for a rental with the
	// plaintext password.
	SetPassword(rentalID int64, password string)

	// Notify shows a transient user-facing message.
	Notify(msg string)

	// Reset returns the view to the unauthenticated state.
	Reset()
}

// Nop is a View that does nothing.
type Nop struct{}

func (Nop) Busy(bool)                {}
func (Nop) ShowError(string)         {}
func (Nop) ClearError()              {}
func (Nop) ShowEmpty()               {}
func (Nop) UpsertNode(models.Node)   {}
func (Nop) RemoveNode(int64)         {}
func (Nop) ClearLease(int64)         {}
func (Nop) SetPassword(int64, string) {}
func (Nop) Notify(string)            {}
func (Nop) Reset()                   {}
