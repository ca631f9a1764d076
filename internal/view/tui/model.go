// Package tui renders the node dashboard in the terminal. The model is fed
// exclusively through the bubbletea message loop: reconciler patches and
// controller notices arrive as messages from the UI adapter, keypresses
// trigger asynchronous mutation commands. The model never reads shared
// state directly.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/orion-deck/orion-deck/internal/workflow"
	"github.com/orion-deck/orion-deck/pkg/models"
)

const actionTimeout = 45 * time.Second

// Actions is the mutation surface the dashboard drives.
type Actions interface {
	Rent(ctx context.Context, req workflow.RentRequest) ([]models.AllocatedLease, error)
	SpecialLease(ctx context.Context) ([]models.AllocatedLease, error)
	Release(ctx context.Context, rentalID int64) error
	Extend(ctx context.Context, rentalID int64, additionalHours int) error
	RevealPassword(ctx context.Context, rentalID int64) (string, error)
}

// SessionInfo is what the dashboard needs to know about the session.
type SessionInfo interface {
	// Touch registers a qualifying user interaction.
	Touch()
	// IsAdmin gates rendering of admin-only affordances.
	IsAdmin() bool
	// Username is the display name for the title bar.
	Username() string
}

// Refresher triggers an immediate reconciliation.
type Refresher interface {
	Refresh(ctx context.Context)
}

type inputMode int

const (
	modeList inputMode = iota
	modeRent
	modeExtend
)

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Rent    key.Binding
	Special key.Binding
	Release key.Binding
	Extend  key.Binding
	Reveal  key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Rent:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "rent")),
	Special: key.NewBinding(key.WithKeys("S"), key.WithHelp("S", "special lease")),
	Release: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "release")),
	Extend:  key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "extend")),
	Reveal:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "password")),
	Refresh: key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "refresh")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Model is the dashboard's bubbletea model.
type Model struct {
	actions   Actions
	session   SessionInfo
	refresher Refresher

	nodes     []models.Node
	passwords map[int64]string
	cursor    int

	mode   inputMode
	input  textinput.Model
	target int64 // rental id the extend prompt applies to

	spin      spinner.Model
	busyCount int

	errText    string
	notice     string
	empty      bool
	sessionEnd bool
	width      int
}

// NewModel creates the dashboard model.
func NewModel(actions Actions, session SessionInfo, refresher Refresher) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	ti := textinput.New()
	ti.CharLimit = 32
	ti.Width = 24

	return Model{
		actions:   actions,
		session:   session,
		refresher: refresher,
		passwords: make(map[int64]string),
		spin:      sp,
		input:     ti,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		// Any keypress counts as activity and defers the inactivity logout.
		m.session.Touch()
		if m.mode != modeList {
			return m.updatePrompt(msg)
		}
		return m.updateList(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case busyMsg:
		if msg.on {
			m.busyCount++
		} else if m.busyCount > 0 {
			m.busyCount--
		}
		return m, nil

	case errorMsg:
		m.errText = msg.text
		return m, nil

	case clearErrorMsg:
		m.errText = ""
		return m, nil

	case emptyMsg:
		m.nodes = nil
		m.passwords = make(map[int64]string)
		m.empty = true
		m.cursor = 0
		return m, nil

	case upsertMsg:
		m.empty = false
		m.upsert(msg.node)
		return m, nil

	case removeMsg:
		m.remove(msg.nodeID)
		return m, nil

	case clearLeaseMsg:
		m.clearLease(msg.rentalID)
		return m, nil

	case passwordMsg:
		m.passwords[msg.rentalID] = msg.password
		return m, nil

	case noticeMsg:
		m.notice = msg.text
		return m, nil

	case resetMsg:
		// Session is gone; nothing left to render.
		m.sessionEnd = true
		return m, tea.Quit

	case actionResultMsg:
		if msg.err != nil {
			m.errText = userError(msg.err)
		}
		return m, nil
	}

	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.nodes)-1 {
			m.cursor++
		}

	case key.Matches(msg, keys.Refresh):
		return m, m.action(func(ctx context.Context) error {
			m.refresher.Refresh(ctx)
			return nil
		})

	case key.Matches(msg, keys.Rent):
		m.mode = modeRent
		m.input.Placeholder = "hours [count]"
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink

	case key.Matches(msg, keys.Special):
		// Rendering gate only; the control plane authorizes the call.
		if !m.session.IsAdmin() {
			return m, nil
		}
		return m, m.action(func(ctx context.Context) error {
			_, err := m.actions.SpecialLease(ctx)
			return err
		})

	case key.Matches(msg, keys.Release):
		node, ok := m.selected()
		if !ok || node.Lease == nil {
			return m, nil
		}
		rentalID := node.Lease.RentalID
		return m, m.action(func(ctx context.Context) error {
			return m.actions.Release(ctx, rentalID)
		})

	case key.Matches(msg, keys.Extend):
		node, ok := m.selected()
		if !ok || node.Lease == nil {
			return m, nil
		}
		m.mode = modeExtend
		m.target = node.Lease.RentalID
		m.input.Placeholder = "additional hours"
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink

	case key.Matches(msg, keys.Reveal):
		node, ok := m.selected()
		if !ok || node.Lease == nil {
			return m, nil
		}
		rentalID := node.Lease.RentalID
		if _, shown := m.passwords[rentalID]; shown {
			delete(m.passwords, rentalID)
			return m, nil
		}
		return m, m.action(func(ctx context.Context) error {
			_, err := m.actions.RevealPassword(ctx, rentalID)
			return err
		})
	}

	return m, nil
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeList
		m.input.Blur()
		return m, nil

	case tea.KeyEnter:
		value := strings.TrimSpace(m.input.Value())
		mode := m.mode
		target := m.target
		m.mode = modeList
		m.input.Blur()
		return m, m.submitPrompt(mode, target, value)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submitPrompt(mode inputMode, target int64, value string) tea.Cmd {
	switch mode {
	case modeRent:
		hours, count, err := parseRentInput(value)
		if err != nil {
			return func() tea.Msg { return actionResultMsg{err: err} }
		}
		return m.action(func(ctx context.Context) error {
			_, err := m.actions.Rent(ctx, workflow.RentRequest{
				DurationHours: hours,
				Count:         count,
			})
			return err
		})

	case modeExtend:
		hours, err := strconv.Atoi(value)
		if err != nil {
			return func() tea.Msg {
				return actionResultMsg{err: fmt.Errorf("additional hours must be a number")}
			}
		}
		return m.action(func(ctx context.Context) error {
			return m.actions.Extend(ctx, target, hours)
		})
	}
	return nil
}

// action runs a mutation off the UI goroutine and reports its outcome back
// into the loop.
func (m Model) action(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionResultMsg{err: fn(ctx)}
	}
}

func parseRentInput(value string) (hours, count int, err error) {
	fields := strings.Fields(value)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, 0, fmt.Errorf("expected: hours [count]")
	}
	hours, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("duration must be a number of hours")
	}
	count = 1
	if len(fields) == 2 {
		count, err = strconv.Atoi(fields[1])
		if err != nil {
			return 0, 0, fmt.Errorf("count must be a number")
		}
	}
	return hours, count, nil
}

// userError maps a mutation failure to the status bar text. Validation
// failures carry their own wording; everything else already passed through
// the gateway's error taxonomy.
func userError(err error) string {
	var ve *workflow.ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return err.Error()
}

// upsert keeps the node slice sorted by id so rows have a stable order
// across patches.
func (m *Model) upsert(n models.Node) {
	for i := range m.nodes {
		if m.nodes[i].NodeID == n.NodeID {
			m.nodes[i] = n
			return
		}
	}
	m.nodes = append(m.nodes, n)
	sort.Slice(m.nodes, func(i, j int) bool {
		return m.nodes[i].NodeID < m.nodes[j].NodeID
	})
}

func (m *Model) remove(nodeID int64) {
	for i := range m.nodes {
		if m.nodes[i].NodeID == nodeID {
			if lease := m.nodes[i].Lease; lease != nil {
				delete(m.passwords, lease.RentalID)
			}
			m.nodes = append(m.nodes[:i], m.nodes[i+1:]...)
			break
		}
	}
	if m.cursor >= len(m.nodes) && m.cursor > 0 {
		m.cursor = len(m.nodes) - 1
	}
}

func (m *Model) clearLease(rentalID int64) {
	delete(m.passwords, rentalID)
	for i := range m.nodes {
		lease := m.nodes[i].Lease
		if lease != nil && lease.RentalID == rentalID {
			m.nodes[i].Lease = nil
			m.nodes[i].Allocated = false
			return
		}
	}
}

func (m Model) selected() (models.Node, bool) {
	if m.cursor < 0 || m.cursor >= len(m.nodes) {
		return models.Node{}, false
	}
	return m.nodes[m.cursor], true
}

func (m Model) View() string {
	if m.sessionEnd {
		return ""
	}

	var b strings.Builder

	title := fmt.Sprintf(" orion-deck · %s ", m.session.Username())
	if m.session.IsAdmin() {
		title += "[admin] "
	}
	b.WriteString(titleStyle.Render(title))
	if m.busyCount > 0 {
		b.WriteString(" " + m.spin.View() + "working")
	}
	b.WriteString("\n\n")

	switch {
	case m.empty:
		b.WriteString(helpStyle.Render("No nodes to show. Press r to rent one.") + "\n")
	case len(m.nodes) == 0:
		b.WriteString(helpStyle.Render("Waiting for first poll...") + "\n")
	default:
		b.WriteString(headerStyle.Render(fmt.Sprintf("  %-6s %-20s %-6s %-8s %-10s %s",
			"ID", "HOSTNAME", "PORT", "STATUS", "LEASE", "UNTIL")) + "\n")
		for i, n := range m.nodes {
			b.WriteString(m.renderRow(n, i == m.cursor) + "\n")
		}
	}

	b.WriteString("\n")
	if m.mode != modeList {
		label := "Rent"
		if m.mode == modeExtend {
			label = fmt.Sprintf("Extend lease %d", m.target)
		}
		b.WriteString(promptStyle.Render(label+": "+m.input.View()) + "\n")
	}
	if m.errText != "" {
		b.WriteString(errorStyle.Render("✗ "+m.errText) + "\n")
	}
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice) + "\n")
	}

	help := "↑/↓ move · r rent · x release · e extend · p password · g refresh · q quit"
	if m.session.IsAdmin() {
		help += " · S special lease"
	}
	b.WriteString(helpStyle.Render(help) + "\n")

	return b.String()
}

func (m Model) renderRow(n models.Node, selected bool) string {
	leaseCol := "free"
	untilCol := ""
	style := freeStyle

	switch {
	case n.Lease != nil:
		style = leasedStyle
		leaseCol = fmt.Sprintf("#%d", n.Lease.RentalID)
		untilCol = n.Lease.LeasedUntil.LocalString()
		if pass, ok := m.passwords[n.Lease.RentalID]; ok {
			untilCol += "  pw:" + pass
		}
	case n.Allocated:
		// Allocated with no lease detail: rented, but not ours to inspect.
		style = leasedStyle
		leaseCol = "leased"
	case n.Status != models.StatusAlive:
		style = deadStyle
	}

	row := fmt.Sprintf("  %-6d %-20s %-6d %-8s %-10s %s",
		n.NodeID, n.Hostname, n.SSHPort, n.Status, leaseCol, untilCol)
	if selected {
		return selectedStyle.Render("▸" + row[1:])
	}
	return style.Render(row)
}
