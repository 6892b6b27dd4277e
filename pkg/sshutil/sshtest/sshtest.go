// Package sshtest provides an in-memory protocol engine for testing
// connection lifecycle code without a real server. The mock engine
// counts dials and handshakes, fails on demand, and serves canned
// command responses.
package sshtest

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/tmckenzie51/sshkit/pkg/sshutil"
)

// CommandResponse is the canned outcome the mock returns for one command.
type CommandResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Signal   string

	// Delay holds the command open before completing, for timeout tests.
	Delay time.Duration

	// Err fails the session wait with a channel-level error.
	Err error
}

// Engine is a mock sshutil.Engine. Zero value is not usable; call NewEngine.
type Engine struct {
	mu            sync.Mutex
	dialErrs      []error
	handshakeErrs []error
	dials         int
	handshakes    int
	dialDelay     time.Duration
	responses     map[string]CommandResponse
	conns         []*Conn
}

// NewEngine returns a mock engine that succeeds until told otherwise.
func NewEngine() *Engine {
	return &Engine{responses: make(map[string]CommandResponse)}
}

// FailDial queues errors returned by the next Dial calls, in order.
func (e *Engine) FailDial(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dialErrs = append(e.dialErrs, errs...)
}

// FailHandshake queues errors returned by the next Handshake calls.
func (e *Engine) FailHandshake(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handshakeErrs = append(e.handshakeErrs, errs...)
}

// SetDialDelay makes every Dial take the given duration, widening the
// window in which concurrent connect attempts overlap.
func (e *Engine) SetDialDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dialDelay = d
}

// Respond registers the canned response for a command.
func (e *Engine) Respond(command string, resp CommandResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses[command] = resp
}

// Dials returns how many transport dials were attempted.
func (e *Engine) Dials() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dials
}

// Handshakes returns how many handshakes completed or were attempted.
func (e *Engine) Handshakes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handshakes
}

// Conn returns the most recently handed-out connection, or nil.
func (e *Engine) Conn() *Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.conns) == 0 {
		return nil
	}
	return e.conns[len(e.conns)-1]
}

func (e *Engine) Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	e.mu.Lock()
	e.dials++
	delay := e.dialDelay
	var err error
	if len(e.dialErrs) > 0 {
		err = e.dialErrs[0]
		e.dialErrs = e.dialErrs[1:]
	}
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return nopNetConn{}, nil
}

func (e *Engine) Handshake(conn net.Conn, addr string, config *ssh.ClientConfig) (sshutil.Conn, error) {
	e.mu.Lock()
	e.handshakes++
	var err error
	if len(e.handshakeErrs) > 0 {
		err = e.handshakeErrs[0]
		e.handshakeErrs = e.handshakeErrs[1:]
	}
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	c := &Conn{responses: e.responses}
	e.conns = append(e.conns, c)
	e.mu.Unlock()
	return c, nil
}

// Conn is a mock authenticated connection.
type Conn struct {
	mu        sync.Mutex
	responses map[string]CommandResponse
	broken    bool
	closed    bool
	requests  []string
	sessions  []*Session
}

// Break makes subsequent requests and session opens fail, simulating a
// dead transport underneath a connection the client still holds.
func (c *Conn) Break() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = true
}

// Closed reports whether the connection was closed.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Requests returns the names of global requests seen, keep-alives included.
func (c *Conn) Requests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.requests...)
}

// Sessions returns every session opened on this connection.
func (c *Conn) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Session(nil), c.sessions...)
}

func (c *Conn) NewSession() (sshutil.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.broken {
		return nil, fmt.Errorf("ssh: connection closed")
	}
	s := newSession(c)
	c.sessions = append(c.sessions, s)
	return s, nil
}

func (c *Conn) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, name)
	if c.closed || c.broken {
		return false, nil, fmt.Errorf("ssh: connection closed")
	}
	return true, nil, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Session is a mock channel. Exec channels replay the engine's canned
// response for the started command; shell channels echo stdin to stdout.
type Session struct {
	conn *Conn

	mu      sync.Mutex
	env     map[string]string
	term    string
	rows    int
	cols    int
	resizes [][2]int
	command string
	shell   bool
	closed  bool

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	waitCh chan error
}

func newSession(c *Conn) *Session {
	return &Session{
		conn:   c,
		env:    make(map[string]string),
		waitCh: make(chan error, 1),
	}
}

// Env returns the environment set on the session.
func (s *Session) Env() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	env := make(map[string]string, len(s.env))
	for k, v := range s.env {
		env[k] = v
	}
	return env
}

// PTY returns the requested terminal type and size ("" if none).
func (s *Session) PTY() (term string, rows, cols int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, s.rows, s.cols
}

// Resizes returns every window change as [rows, cols] pairs.
func (s *Session) Resizes() [][2]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]int(nil), s.resizes...)
}

// Command returns the command started on this session, if any.
func (s *Session) Command() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.command
}

func (s *Session) Setenv(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env[name] = value
	return nil
}

func (s *Session) RequestPty(term string, rows, cols int, modes ssh.TerminalModes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = term
	s.rows = rows
	s.cols = cols
	return nil
}

func (s *Session) WindowChange(rows, cols int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("ssh: session closed")
	}
	s.resizes = append(s.resizes, [2]int{rows, cols})
	return nil
}

func (s *Session) StdinPipe() (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdinW == nil {
		s.stdinR, s.stdinW = io.Pipe()
	}
	return s.stdinW, nil
}

func (s *Session) StdoutPipe() (io.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdoutR == nil {
		s.stdoutR, s.stdoutW = io.Pipe()
	}
	return s.stdoutR, nil
}

func (s *Session) StderrPipe() (io.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stderrR == nil {
		s.stderrR, s.stderrW = io.Pipe()
	}
	return s.stderrR, nil
}

// Start replays the canned response for the command in the background.
// Commands with no registered response succeed with empty output.
func (s *Session) Start(cmd string) error {
	s.mu.Lock()
	if s.command != "" || s.shell {
		s.mu.Unlock()
		return fmt.Errorf("ssh: session already started")
	}
	s.command = cmd
	stdoutW, stderrW := s.stdoutW, s.stderrW
	s.mu.Unlock()

	s.conn.mu.Lock()
	resp := s.conn.responses[cmd]
	s.conn.mu.Unlock()

	go func() {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		if stdoutW != nil {
			_, _ = stdoutW.Write([]byte(resp.Stdout))
			_ = stdoutW.Close()
		}
		if stderrW != nil {
			_, _ = stderrW.Write([]byte(resp.Stderr))
			_ = stderrW.Close()
		}
		switch {
		case resp.Err != nil:
			s.waitCh <- resp.Err
		case resp.ExitCode != 0 || resp.Signal != "":
			s.waitCh <- &ExitError{Code: resp.ExitCode, Sig: resp.Signal}
		default:
			s.waitCh <- nil
		}
	}()
	return nil
}

// Shell starts echo mode: everything written to stdin comes back on stdout.
func (s *Session) Shell() error {
	s.mu.Lock()
	if s.command != "" || s.shell {
		s.mu.Unlock()
		return fmt.Errorf("ssh: session already started")
	}
	s.shell = true
	stdinR, stdoutW := s.stdinR, s.stdoutW
	s.mu.Unlock()

	go func() {
		if stdinR != nil && stdoutW != nil {
			_, _ = io.Copy(stdoutW, stdinR)
		}
	}()
	return nil
}

func (s *Session) Wait() error {
	return <-s.waitCh
}

func (s *Session) Signal(sig ssh.Signal) error {
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("ssh: session closed")
	}
	s.closed = true
	shell := s.shell
	s.mu.Unlock()

	if s.stdinW != nil {
		_ = s.stdinW.Close()
	}
	if s.stdoutW != nil {
		_ = s.stdoutW.CloseWithError(io.EOF)
	}
	if s.stderrW != nil {
		_ = s.stderrW.CloseWithError(io.EOF)
	}
	if shell {
		s.waitCh <- nil
	}
	return nil
}

// ExitError reports a non-zero remote exit status, mirroring the shape
// of the production engine's exit errors.
type ExitError struct {
	Code int
	Sig  string
}

func (e *ExitError) Error() string {
	if e.Sig != "" {
		return fmt.Sprintf("Process exited with signal %s", e.Sig)
	}
	return fmt.Sprintf("Process exited with status %d", e.Code)
}

// ExitStatus returns the remote exit code.
func (e *ExitError) ExitStatus() int { return e.Code }

// Signal returns the terminating signal name, if any.
func (e *ExitError) Signal() string { return e.Sig }

// nopNetConn is a transport stand-in for the mock engine.
type nopNetConn struct{}

func (nopNetConn) Read(b []byte) (int, error)         { return 0, io.EOF }
func (nopNetConn) Write(b []byte) (int, error)        { return len(b), nil }
func (nopNetConn) Close() error                       { return nil }
func (nopNetConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (nopNetConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (nopNetConn) SetDeadline(t time.Time) error      { return nil }
func (nopNetConn) SetReadDeadline(t time.Time) error  { return nil }
func (nopNetConn) SetWriteDeadline(t time.Time) error { return nil }
