package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/orion-deck/orion-deck/pkg/models"
)

// UI adapts the rendering contract onto a running bubbletea program. Calls
// arriving before Bind, or after the program exits, are dropped: there is
// nothing on screen for them to patch.
type UI struct {
	mu      sync.Mutex
	program *tea.Program
}

// NewUI creates an unbound adapter.
func NewUI() *UI {
	return &UI{}
}

// Bind attaches the running program. Called once the program is started.
func (u *UI) Bind(p *tea.Program) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.program = p
}

func (u *UI) send(msg tea.Msg) {
	u.mu.Lock()
	p := u.program
	u.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (u *UI) Busy(on bool)            { u.send(busyMsg{on: on}) }
func (u *UI) ShowError(msg string)    { u.send(errorMsg{text: msg}) }
func (u *UI) ClearError()             { u.send(clearErrorMsg{}) }
func (u *UI) ShowEmpty()              { u.send(emptyMsg{}) }
func (u *UI) UpsertNode(n models.Node) { u.send(upsertMsg{node: n}) }
func (u *UI) RemoveNode(nodeID int64) { u.send(removeMsg{nodeID: nodeID}) }
func (u *UI) ClearLease(rentalID int64) {
	u.send(clearLeaseMsg{rentalID: rentalID})
}
func (u *UI) SetPassword(rentalID int64, password string) {
	u.send(passwordMsg{rentalID: rentalID, password: password})
}
func (u *UI) Notify(msg string) { u.send(noticeMsg{text: msg}) }
func (u *UI) Reset()            { u.send(resetMsg{}) }
