package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/tmckenzie51/sshkit/internal/errors"
)

// ExecOptions controls a single command execution.
type ExecOptions struct {
	// Timeout bounds the local wait for completion. Zero uses the
	// client's CommandTimeout (default 30s).
	Timeout time.Duration

	// Env is set on the session before the command starts.
	Env map[string]string

	// PTY allocates a pseudo-terminal for the command.
	PTY bool
}

// Result is the outcome of a completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Signal   string
	Duration time.Duration
	Success  bool
}

// exitStatuser is satisfied by ssh.ExitError and by test doubles that
// want to report a remote exit status.
type exitStatuser interface {
	error
	ExitStatus() int
}

type exitSignaler interface {
	error
	Signal() string
}

// ExecuteCommand opens an exec channel, runs the command, and accumulates
// stdout/stderr. The security validator gates the command text before
// anything touches the network.
//
// If no completion arrives within the timeout, the local wait is
// abandoned and a Timeout error returned; the remote process is not
// guaranteed to have stopped.
func (c *Client) ExecuteCommand(ctx context.Context, command string, opts ExecOptions) (*Result, error) {
	if err := c.validator.ValidateCommand(command); err != nil {
		return nil, err
	}

	conn, err := c.activeConn()
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.CommandTimeout
	}

	session, err := conn.NewSession()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConnection,
			"Failed to open an exec channel",
			"Connection may have been closed. Try reconnecting.")
	}

	for name, value := range opts.Env {
		if err := session.Setenv(name, value); err != nil {
			// Servers commonly reject env vars outside AcceptEnv; keep going.
			c.log.Debug("setenv %s rejected by remote: %v", name, err)
		}
	}

	if opts.PTY {
		modes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := session.RequestPty("xterm", 40, 80, modes); err != nil {
			_ = session.Close()
			return nil, errors.WrapWithCode(err, errors.ErrProtocol,
				"Failed to allocate a PTY",
				"The remote host may not support pseudo-terminals.")
		}
	}

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrProtocol, "Failed to attach stdout", "")
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		_ = session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrProtocol, "Failed to attach stderr", "")
	}

	started := time.Now()
	if err := session.Start(command); err != nil {
		_ = session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrCommand,
			fmt.Sprintf("Failed to start command: %s", command),
			"Check if the command exists on the remote host.")
	}

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = io.Copy(&stdout, stdoutPipe) }()
	go func() { defer wg.Done(); _, _ = io.Copy(&stderr, stderrPipe) }()

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- session.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case waitErr := <-done:
		c.touch()
		return buildResult(stdout.String(), stderr.String(), waitErr, time.Since(started))

	case <-timer.C:
		// Abandon the local wait. Closing the session frees the channel
		// but does not guarantee remote process termination.
		_ = session.Close()
		return nil, errors.New(errors.ErrTimeout,
			fmt.Sprintf("Command did not complete within %s: %s", timeout, command),
			"Raise the timeout, or check whether the command hangs on the remote")

	case <-ctx.Done():
		_ = session.Close()
		return nil, errors.WrapWithCode(ctx.Err(), errors.ErrTimeout,
			fmt.Sprintf("Command canceled: %s", command), "")
	}
}

// buildResult maps a session wait error onto an exit code and signal.
func buildResult(stdout, stderr string, waitErr error, elapsed time.Duration) (*Result, error) {
	result := &Result{
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: elapsed,
	}

	if waitErr == nil {
		result.ExitCode = 0
		result.Success = true
		return result, nil
	}

	var missing *ssh.ExitMissingError
	if stderrors.As(waitErr, &missing) {
		result.ExitCode = -1
		return result, nil
	}

	var status exitStatuser
	if stderrors.As(waitErr, &status) {
		result.ExitCode = status.ExitStatus()
		var sig exitSignaler
		if stderrors.As(waitErr, &sig) {
			result.Signal = sig.Signal()
		}
		result.Success = false
		return result, nil
	}

	// The command never ran to completion: channel-level failure.
	return nil, errors.WrapWithCode(waitErr, errors.ErrCommand,
		"Command execution failed",
		"Check if the command exists on the remote host.")
}
