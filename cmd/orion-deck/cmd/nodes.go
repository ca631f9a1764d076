package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orion-deck/orion-deck/internal/reconcile"
	"github.com/orion-deck/orion-deck/internal/view"
	"github.com/orion-deck/orion-deck/pkg/models"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List visible nodes",
	Long: `List the nodes visible to the current session.

Plain users see the nodes they hold active leases on; admins see the
whole fleet including free nodes.`,
	RunE: runNodes,
}

func init() {
	rootCmd.AddCommand(nodesCmd)
}

func runNodes(cmd *cobra.Command, args []string) error {
	app, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.requireSession(cmd.Context()); err != nil {
		return err
	}

	// One reconciliation pass against a recording view: the poll outcome
	// (error, empty, or snapshot) is read back out of the recorder.
	rec := view.NewRecorder()
	r := reconcile.New(app.gateway, app.sessions, rec)
	r.Poll(cmd.Context())

	if len(rec.Errors) > 0 {
		return fmt.Errorf("%s", rec.Errors[len(rec.Errors)-1])
	}

	nodes := r.Snapshot()

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(nodes)
	}

	if len(nodes) == 0 {
		fmt.Println("No active node rentals.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHOSTNAME\tPORT\tSTATUS\tLEASE\tUNTIL")
	fmt.Fprintln(w, "--\t--------\t----\t------\t-----\t-----")

	for _, n := range nodes {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
			n.NodeID,
			n.Hostname,
			n.SSHPort,
			n.Status,
			leaseColumn(n),
			untilColumn(n),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d nodes\n", len(nodes))
	return nil
}

func leaseColumn(n models.Node) string {
	switch {
	case n.Lease != nil:
		return fmt.Sprintf("#%d", n.Lease.RentalID)
	case n.Allocated:
		return "leased"
	default:
		return "free"
	}
}

func untilColumn(n models.Node) string {
	if n.Lease == nil {
		return "-"
	}
	return n.Lease.LeasedUntil.LocalString()
}
