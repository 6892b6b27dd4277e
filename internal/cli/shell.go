package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tmckenzie51/sshkit/internal/security"
	"github.com/tmckenzie51/sshkit/internal/terminal"
)

var (
	shellTermFlag     string
	shellPasswordFlag bool
)

var shellCmd = &cobra.Command{
	Use:   "shell <host>",
	Short: "Open an interactive shell on a remote host",
	Long: `Open an interactive shell over a pooled SSH connection, bridged to
your terminal. The local terminal goes into raw mode for the duration;
exiting the remote shell restores it.

Examples:
  sshkit shell web-01
  sshkit shell deploy@web-01:2222
  sshkit shell web-01 --term xterm`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return shellSession(args[0])
	},
}

func init() {
	shellCmd.Flags().StringVar(&shellTermFlag, "term", "", "terminal type to request (default xterm-256color)")
	shellCmd.Flags().BoolVar(&shellPasswordFlag, "password", false, "authenticate with a password (prompted)")
	rootCmd.AddCommand(shellCmd)
}

func shellSession(host string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	target := resolveTarget(cfg, host)
	if shellPasswordFlag {
		password, err := promptPassword(target.User, target.Host)
		if err != nil {
			return err
		}
		target.Auth = security.AuthPassword
		target.Password = password
	}

	validator := newValidator(cfg)
	manager := newPool(cfg, validator)
	defer manager.Close()

	client, err := manager.Get(context.Background(), target)
	if err != nil {
		return err
	}
	defer manager.Release(client)

	session := terminal.NewSession(client)
	widget := terminal.NewStdioWidget()
	if err := session.Attach(widget); err != nil {
		return err
	}
	defer session.Detach()

	done := make(chan error, 1)
	session.OnTerminate(func(terr error) { done <- terr })

	if err := session.Connect(terminal.Config{Term: shellTermFlag}); err != nil {
		return err
	}

	// Block until the remote shell exits or the transport dies. Raw
	// mode is restored by Detach either way.
	if terr := <-done; terr != nil {
		fmt.Println()
	}
	return nil
}
