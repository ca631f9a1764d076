package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/orion-deck/orion-deck/internal/session"
)

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Authenticate against the control plane",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and remove the persisted token",
	RunE:  runLogout,
}

var signupCmd = &cobra.Command{
	Use:   "signup [username]",
	Short: "Register a new account",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSignup,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	app, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	username, password, err := promptCredentials(args)
	if err != nil {
		return err
	}

	if err := app.sessions.Login(cmd.Context(), username, password); err != nil {
		return userErr(err)
	}

	current, _ := app.sessions.Current()
	fmt.Printf("Logged in as %s (role: %s), session valid until %s\n",
		current.Username, current.Role, current.ExpiresAt.Local().Format("2006-01-02 15:04 MST"))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	app, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	// Logout is idempotent: restore failure just means there is nothing
	// to end, and the persisted token is removed either way.
	_, _ = app.sessions.Restore(cmd.Context())
	app.sessions.Logout(cmd.Context(), session.ReasonLogout)
	fmt.Println("Logged out.")
	return nil
}

func runSignup(cmd *cobra.Command, args []string) error {
	app, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	username, password, err := promptCredentials(args)
	if err != nil {
		return err
	}

	if err := app.sessions.Signup(cmd.Context(), username, password); err != nil {
		return userErr(err)
	}

	fmt.Printf("Account %s created. Run 'orion-deck login' to start a session.\n", username)
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	app, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.requireSession(cmd.Context()); err != nil {
		return err
	}

	current, _ := app.sessions.Current()
	fmt.Printf("Username:  %s\n", current.Username)
	fmt.Printf("Role:      %s\n", current.Role)
	fmt.Printf("Expires:   %s\n", current.ExpiresAt.Local().Format("2006-01-02 15:04 MST"))
	return nil
}

// promptCredentials takes the username from args or stdin and reads the
// password without echo.
func promptCredentials(args []string) (string, string, error) {
	var username string
	if len(args) == 1 {
		username = args[0]
	} else {
		fmt.Print("Username: ")
		if _, err := fmt.Scanln(&username); err != nil {
			return "", "", fmt.Errorf("failed to read username: %w", err)
		}
	}

	fmt.Print("Password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", "", fmt.Errorf("failed to read password: %w", err)
	}

	return username, string(raw), nil
}
