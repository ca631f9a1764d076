package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/orion-deck/orion-deck/internal/reconcile"
	"github.com/orion-deck/orion-deck/internal/session"
	"github.com/orion-deck/orion-deck/internal/view/tui"
	"github.com/orion-deck/orion-deck/internal/workflow"
)

var metricsAddr string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Run the interactive node dashboard",
	Long: `Run the interactive dashboard: a live view of your leased nodes,
kept in sync with the control plane by a background poll loop.

Requires an active session; run 'orion-deck login' first. The session
ends after 15 minutes without keyboard input.`,
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
	dashboardCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
}

// sessionInfo adapts the manager to the dashboard's read surface.
type sessionInfo struct {
	mgr *session.Manager
}

func (s sessionInfo) Touch()        { s.mgr.Touch() }
func (s sessionInfo) IsAdmin() bool { return s.mgr.IsAdmin() }
func (s sessionInfo) Username() string {
	current, ok := s.mgr.Current()
	if !ok {
		return "-"
	}
	return current.Username
}

func runDashboard(cmd *cobra.Command, args []string) error {
	// Logs cannot share the terminal with the TUI; they go next to the
	// state database instead.
	logOutput, logCleanup := dashboardLogOutput()
	defer logCleanup()

	app, err := newApp(logOutput)
	if err != nil {
		return err
	}
	defer app.Close()

	ui := tui.NewUI()
	app.gateway.SetBusyReporter(ui)
	app.sessions.SetNotifier(ui.Notify)
	app.sessions.SetLogoutHandler(func(reason string) {
		ui.Reset()
	})

	if err := app.requireSession(cmd.Context()); err != nil {
		return err
	}

	r := reconcile.New(app.gateway, app.sessions, ui,
		reconcile.WithInterval(app.cfg.Poll.Interval))
	ctrl := workflow.New(app.gateway, ui, r, r)

	if metricsAddr == "" {
		metricsAddr = app.cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			// Listener failure only loses metrics, never the dashboard.
			_ = http.ListenAndServe(metricsAddr, mux)
		}()
	}

	model := tui.NewModel(ctrl, sessionInfo{mgr: app.sessions}, r)
	program := tea.NewProgram(model, tea.WithAltScreen())
	ui.Bind(program)

	r.Start(cmd.Context())
	defer r.Stop()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}

	if !app.sessions.Active() {
		fmt.Println("Session ended, please log in again.")
	}
	return nil
}

// dashboardLogOutput opens the log file next to the state database. Falls
// back to discarding logs when the file cannot be opened.
func dashboardLogOutput() (io.Writer, func()) {
	home, err := os.UserHomeDir()
	if err != nil {
		return io.Discard, func() {}
	}
	path := filepath.Join(home, ".orion-deck", "dashboard.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return io.Discard, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return io.Discard, func() {}
	}
	return f, func() { _ = f.Close() }
}
