package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tmckenzie51/sshkit/internal/errors"
	"github.com/tmckenzie51/sshkit/internal/security"
	"github.com/tmckenzie51/sshkit/internal/ui"
	"github.com/tmckenzie51/sshkit/pkg/sshutil"
)

// exec command flags
var (
	execTimeoutFlag  string
	execEnvFlag      []string
	execPTYFlag      bool
	execPasswordFlag bool
)

var execCmd = &cobra.Command{
	Use:   "exec <host> -- <command...>",
	Short: "Run a command on a remote host",
	Long: `Execute a command over a pooled SSH connection.

The host can be an SSH config alias, a hostname, user@host, or
user@host:port. The command is validated against the security policy
before anything touches the network.

Examples:
  sshkit exec web-01 -- uptime
  sshkit exec deploy@web-01 -- df -h /var
  sshkit exec web-01 --timeout 5m -- ./deploy.sh
  sshkit exec web-01 --env DEPLOY_ENV=staging -- env`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return execCommand(args[0], args[1:])
	},
}

func init() {
	execCmd.Flags().StringVar(&execTimeoutFlag, "timeout", "", "command timeout (e.g., 30s, 5m)")
	execCmd.Flags().StringArrayVar(&execEnvFlag, "env", nil, "environment variable KEY=VALUE (repeatable)")
	execCmd.Flags().BoolVar(&execPTYFlag, "pty", false, "allocate a pseudo-terminal")
	execCmd.Flags().BoolVar(&execPasswordFlag, "password", false, "authenticate with a password (prompted)")
	rootCmd.AddCommand(execCmd)
}

func execCommand(host string, command []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	timeout, err := parseTimeout(execTimeoutFlag)
	if err != nil {
		return err
	}

	env, err := parseEnv(execEnvFlag)
	if err != nil {
		return err
	}

	target := resolveTarget(cfg, host)
	if execPasswordFlag {
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

	result, err := client.ExecuteCommand(context.Background(), joinCommand(command), sshutil.ExecOptions{
		Timeout: timeout,
		Env:     env,
		PTY:     execPTYFlag,
	})
	if err != nil {
		return err
	}

	fmt.Print(result.Stdout)
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}

	if !result.Success {
		if result.Signal != "" {
			fmt.Fprintln(os.Stderr, ui.Failure(fmt.Sprintf(
				"Command terminated by signal %s after %s", result.Signal, result.Duration.Round(time.Millisecond))))
		}
		os.Exit(failureExitCode(result))
	}
	return nil
}

// failureExitCode picks the process exit status for a failed command.
// Signal terminations can leave ExitCode at zero or negative; those must
// not read as success.
func failureExitCode(result *sshutil.Result) int {
	if result.ExitCode > 0 {
		return result.ExitCode
	}
	return 1
}

// joinCommand reassembles the argv tail into the remote command line.
func joinCommand(args []string) string {
	cmd := ""
	for i, a := range args {
		if i > 0 {
			cmd += " "
		}
		cmd += a
	}
	return cmd
}

// parseTimeout parses the --timeout flag. Empty means the default.
func parseTimeout(flag string) (time.Duration, error) {
	if flag == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(flag)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid timeout", flag),
			"Try something like 30s, 5m, or 500ms")
	}
	return d, nil
}

// parseEnv parses repeated --env KEY=VALUE flags.
func parseEnv(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(flags))
	for _, kv := range flags {
		eq := -1
		for i, r := range kv {
			if r == '=' {
				eq = i
				break
			}
		}
		if eq <= 0 {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("'%s' is not in KEY=VALUE form", kv),
				"Pass environment variables like --env DEPLOY_ENV=staging")
		}
		env[kv[:eq]] = kv[eq+1:]
	}
	return env, nil
}
