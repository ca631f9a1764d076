package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orion-deck/orion-deck/internal/transfer"
)

var pushCmd = &cobra.Command{
	Use:   "push [rental-id] [local-path] [remote-path]",
	Short: "Copy a file onto a leased node over SFTP",
	Long: `Copy a local file onto a leased node over SFTP.

The node's address comes from the current node listing and the SSH
password from the reveal endpoint; nothing is cached locally.`,
	Args: cobra.ExactArgs(3),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) error {
	rentalID, err := parseRentalID(args[0])
	if err != nil {
		return err
	}
	localPath, remotePath := args[1], args[2]

	app, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.requireSession(cmd.Context()); err != nil {
		return err
	}

	// Seed the snapshot so the rental can be resolved to a node address.
	ctrl, r := newController(app)
	r.Poll(cmd.Context())

	node, ok := r.FindByRental(rentalID)
	if !ok {
		return fmt.Errorf("no visible node holds rental %d", rentalID)
	}

	current, _ := app.sessions.Current()
	password, err := ctrl.RevealPassword(cmd.Context(), rentalID)
	if err != nil {
		return userErr(err)
	}

	t := transfer.New(transfer.Credentials{
		Host:     node.Hostname,
		Port:     node.SSHPort,
		User:     current.Username,
		Password: password,
	}, transfer.WithConnectTimeout(app.cfg.SSH.ConnectTimeout))

	if err := t.Upload(cmd.Context(), localPath, remotePath); err != nil {
		return err
	}

	fmt.Printf("Uploaded %s to %s:%s\n", localPath, node.Hostname, remotePath)
	return nil
}
