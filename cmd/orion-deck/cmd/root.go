package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/orion-deck/orion-deck/internal/config"
	"github.com/orion-deck/orion-deck/internal/gateway"
	"github.com/orion-deck/orion-deck/internal/logging"
	"github.com/orion-deck/orion-deck/internal/session"
	"github.com/orion-deck/orion-deck/internal/state"
)

var (
	serverURL    string
	configPath   string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "orion-deck",
	Short: "Orion Deck - operator console for rented compute nodes",
	Long: `Orion Deck is the operator console for a node-rental control plane.

It keeps a local session, mirrors the control plane's node collection,
and drives the rental lifecycle:
- Log in and keep the session across invocations
- List your leased nodes (admins see the whole fleet)
- Rent, extend, and release node leases
- Reveal lease SSH passwords and push files to leased nodes
- Run the interactive dashboard with live state synchronization`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Control plane URL (overrides config and ORION_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
}

// app bundles the wired client components shared by every command.
type app struct {
	cfg      *config.Config
	store    *state.Store
	sessions *session.Manager
	gateway  *gateway.Client
}

// newApp loads configuration and wires store, session manager, and gateway.
// The caller owns the returned app and must Close it.
func newApp(logOutput io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOutput,
	})

	store, err := state.Open(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	mgr := session.NewManager(store)
	gw := gateway.New(cfg.Server.URL,
		gateway.WithTimeout(cfg.Server.Timeout),
		gateway.WithTokenSource(mgr),
		gateway.WithAuthExpiredHandler(mgr.HandleAuthExpired),
	)
	mgr.BindCaller(gw)

	return &app{cfg: cfg, store: store, sessions: mgr, gateway: gw}, nil
}

func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

// requireSession restores the persisted session or fails with a hint.
func (a *app) requireSession(ctx context.Context) error {
	ok, err := a.sessions.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	if !ok {
		return fmt.Errorf("not logged in; run 'orion-deck login' first")
	}
	return nil
}

// userErr rewrites gateway failures to their user-facing message.
func userErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s", gateway.UserMessage(err))
}
