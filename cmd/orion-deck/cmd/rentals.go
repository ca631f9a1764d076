package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/orion-deck/orion-deck/internal/reconcile"
	"github.com/orion-deck/orion-deck/internal/sshprobe"
	"github.com/orion-deck/orion-deck/internal/view"
	"github.com/orion-deck/orion-deck/internal/workflow"
	"github.com/orion-deck/orion-deck/pkg/models"
)

var (
	rentHours    int
	rentCount    int
	rentPassword string
	rentVerify   bool
	extendHours  int
)

var rentCmd = &cobra.Command{
	Use:   "rent",
	Short: "Rent nodes",
	Long: `Rent one or more nodes for a fixed number of hours.

The returned SSH password is shown exactly once here. Afterwards it is
only available through 'orion-deck reveal'.`,
	RunE: runRent,
}

var releaseCmd = &cobra.Command{
	Use:   "release [rental-id]",
	Short: "Release a lease",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelease,
}

var extendCmd = &cobra.Command{
	Use:   "extend [rental-id]",
	Short: "Extend a lease",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtend,
}

var revealCmd = &cobra.Command{
	Use:   "reveal [rental-id]",
	Short: "Reveal a lease's SSH password",
	Args:  cobra.ExactArgs(1),
	RunE:  runReveal,
}

func init() {
	rootCmd.AddCommand(rentCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(extendCmd)
	rootCmd.AddCommand(revealCmd)

	rentCmd.Flags().IntVarP(&rentHours, "hours", "t", 1, "Lease duration in hours")
	rentCmd.Flags().IntVarP(&rentCount, "count", "n", 1, "Number of nodes to rent")
	rentCmd.Flags().StringVar(&rentPassword, "password", "", "Custom SSH password (server-generated if empty)")
	rentCmd.Flags().BoolVar(&rentVerify, "verify-ssh", false, "Verify SSH access to each allocated node before returning")

	extendCmd.Flags().IntVarP(&extendHours, "hours", "t", 1, "Additional hours")
}

// consoleView prints controller notices; everything else is discarded
// because one-shot commands render their own output.
type consoleView struct {
	view.Nop
}

func (consoleView) Notify(msg string) {
	fmt.Println(msg)
}

// newController wires a workflow controller for a one-shot command.
func newController(app *app) (*workflow.Controller, *reconcile.Reconciler) {
	r := reconcile.New(app.gateway, app.sessions, view.Nop{})
	ctrl := workflow.New(app.gateway, consoleView{}, r, r)
	return ctrl, r
}

func runRent(cmd *cobra.Command, args []string) error {
	app, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.requireSession(cmd.Context()); err != nil {
		return err
	}

	ctrl, _ := newController(app)
	allocated, err := ctrl.Rent(cmd.Context(), workflow.RentRequest{
		DurationHours: rentHours,
		Count:         rentCount,
		SSHPassword:   rentPassword,
	})
	if err != nil {
		return userErr(err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(allocated); err != nil {
			return err
		}
	} else {
		printAllocated(allocated)
	}

	if rentVerify {
		return verifyAllocated(cmd, app, allocated)
	}
	return nil
}

func printAllocated(allocated []models.AllocatedLease) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RENTAL\tHOST\tPORT\tUSER\tPASSWORD\tUNTIL")
	fmt.Fprintln(w, "------\t----\t----\t----\t--------\t-----")
	for _, a := range allocated {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
			a.RentalID, a.HostIP, a.SSHPort, a.ClientUser, a.ClientPass,
			a.LeasedUntil.LocalString())
	}
	w.Flush()

	fmt.Println("\nPasswords are shown once; use 'orion-deck reveal' later.")
	for _, a := range allocated {
		fmt.Printf("  %s\n", a.SSHCommand())
	}
}

func verifyAllocated(cmd *cobra.Command, app *app, allocated []models.AllocatedLease) error {
	prober := sshprobe.New(
		sshprobe.WithVerifyTimeout(app.cfg.SSH.VerifyTimeout),
		sshprobe.WithCheckInterval(app.cfg.SSH.CheckInterval),
		sshprobe.WithConnectTimeout(app.cfg.SSH.ConnectTimeout),
	)

	for _, a := range allocated {
		fmt.Printf("Verifying SSH access to %s:%d ... ", a.HostIP, a.SSHPort)
		result, err := prober.Probe(cmd.Context(), a.HostIP, a.SSHPort, a.ClientUser, a.ClientPass)
		if err != nil {
			fmt.Println("failed")
			return fmt.Errorf("ssh verification failed for rental %d: %w", a.RentalID, err)
		}
		fmt.Printf("ok (%d attempt(s), %s)\n", result.Attempts, result.Duration.Round(100*time.Millisecond))
	}
	return nil
}

func runRelease(cmd *cobra.Command, args []string) error {
	rentalID, err := parseRentalID(args[0])
	if err != nil {
		return err
	}

	app, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.requireSession(cmd.Context()); err != nil {
		return err
	}

	ctrl, _ := newController(app)
	if err := ctrl.Release(cmd.Context(), rentalID); err != nil {
		return userErr(err)
	}
	return nil
}

func runExtend(cmd *cobra.Command, args []string) error {
	rentalID, err := parseRentalID(args[0])
	if err != nil {
		return err
	}

	app, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.requireSession(cmd.Context()); err != nil {
		return err
	}

	ctrl, _ := newController(app)
	if err := ctrl.Extend(cmd.Context(), rentalID, extendHours); err != nil {
		return userErr(err)
	}
	return nil
}

func runReveal(cmd *cobra.Command, args []string) error {
	rentalID, err := parseRentalID(args[0])
	if err != nil {
		return err
	}

	app, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.requireSession(cmd.Context()); err != nil {
		return err
	}

	ctrl, _ := newController(app)
	password, err := ctrl.RevealPassword(cmd.Context(), rentalID)
	if err != nil {
		return userErr(err)
	}

	fmt.Println(password)
	return nil
}

func parseRentalID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rental id %q", arg)
	}
	return id, nil
}
