package sshutil

import (
	"fmt"
	"io"
	"slices"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/tmckenzie51/sshkit/internal/errors"
)

// TermConfig sizes and configures an interactive shell channel.
type TermConfig struct {
	Term string // terminal type, defaults to "xterm-256color"
	Rows int
	Cols int
	Env  map[string]string
}

// ShellChannel is a long-lived interactive channel on a ready client.
// A client may host several independent shell channels concurrently.
type ShellChannel struct {
	session Session
	stdin   io.WriteCloser

	mu       sync.Mutex
	dataFns  []func([]byte)
	closeFns []func(error)
	closed   bool
}

// CreateShell opens an interactive channel sized to the given dimensions.
func (c *Client) CreateShell(cfg TermConfig) (*ShellChannel, error) {
	conn, err := c.activeConn()
	if err != nil {
		return nil, err
	}

	term := cfg.Term
	if term == "" {
		term = "xterm-256color"
	}
	rows, cols := cfg.Rows, cfg.Cols
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}

	session, err := conn.NewSession()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConnection,
			"Failed to open a shell channel",
			"Connection may have been closed. Try reconnecting.")
	}

	for name, value := range cfg.Env {
		if err := session.Setenv(name, value); err != nil {
			c.log.Debug("setenv %s rejected by remote: %v", name, err)
		}
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(term, rows, cols, modes); err != nil {
		_ = session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrProtocol,
			"Failed to allocate a PTY for the shell",
			"The remote host may not support pseudo-terminals.")
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrProtocol, "Failed to attach stdin", "")
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrProtocol, "Failed to attach stdout", "")
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		_ = session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrProtocol, "Failed to attach stderr", "")
	}

	if err := session.Shell(); err != nil {
		_ = session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrProtocol,
			"Failed to start the shell",
			"Check if your user has shell access on the remote host.")
	}

	sc := &ShellChannel{session: session, stdin: stdin}

	go sc.pump(stdout)
	go sc.pump(stderr)
	go func() {
		err := session.Wait()
		sc.finish(err)
	}()

	c.touch()
	return sc, nil
}

// Write sends input to the remote shell.
func (s *ShellChannel) Write(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, errors.New(errors.ErrConnection,
			"Shell channel is closed", "Open a new shell")
	}
	return s.stdin.Write(p)
}

// OnData registers a callback for output from the remote shell.
// Data on one channel is delivered in issuance order.
func (s *ShellChannel) OnData(fn func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataFns = append(s.dataFns, fn)
}

// OnClose registers a callback fired once when the channel ends,
// with the session error (nil for a clean exit).
func (s *ShellChannel) OnClose(fn func(error)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn(nil)
		return
	}
	s.closeFns = append(s.closeFns, fn)
	s.mu.Unlock()
}

// Resize sends a window-change signal for the new dimensions.
func (s *ShellChannel) Resize(cols, rows int) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New(errors.ErrConnection,
			"Shell channel is closed", "Open a new shell")
	}
	if err := s.session.WindowChange(rows, cols); err != nil {
		return errors.WrapWithCode(err, errors.ErrProtocol,
			fmt.Sprintf("Failed to resize the shell to %dx%d", cols, rows), "")
	}
	return nil
}

// Close tears down the channel. Idempotent.
func (s *ShellChannel) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_ = s.stdin.Close()
	err := s.session.Close()
	s.finish(nil)
	return err
}

// pump delivers channel output to data callbacks in read order.
func (s *ShellChannel) pump(r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.mu.Lock()
			fns := slices.Clone(s.dataFns)
			s.mu.Unlock()
			for _, fn := range fns {
				fn(data)
			}
		}
		if err != nil {
			return
		}
	}
}

// finish marks the channel closed and fires close callbacks exactly once.
func (s *ShellChannel) finish(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	fns := s.closeFns
	s.closeFns = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}
