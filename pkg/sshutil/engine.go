package sshutil

import (
	"context"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// Engine is the external secure-shell protocol engine. The production
// implementation delegates to golang.org/x/crypto/ssh; tests substitute
// a mock. The wire protocol itself (key exchange, ciphers, channel
// framing) lives entirely behind this interface.
type Engine interface {
	// Dial establishes the raw transport to addr ("host:port").
	Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error)

	// Handshake runs the protocol handshake and authentication over an
	// established transport, producing a usable connection.
	Handshake(conn net.Conn, addr string, config *ssh.ClientConfig) (Conn, error)
}

// Conn is an authenticated protocol connection that can open sessions.
type Conn interface {
	// NewSession opens a new channel for command execution or a shell.
	NewSession() (Session, error)

	// SendRequest sends a global request; used for keep-alive probes.
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)

	// Close tears down the transport and all channels on it.
	Close() error
}

// Session is one channel on a Conn: either a one-shot exec channel or a
// long-lived interactive shell channel. *ssh.Session satisfies this.
type Session interface {
	Setenv(name, value string) error
	RequestPty(term string, rows, cols int, modes ssh.TerminalModes) error
	WindowChange(rows, cols int) error
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	Start(cmd string) error
	Shell() error
	Wait() error
	Signal(sig ssh.Signal) error
	Close() error
}

// sshEngine is the production Engine backed by golang.org/x/crypto/ssh.
type sshEngine struct{}

// NewEngine returns the production protocol engine.
func NewEngine() Engine {
	return sshEngine{}
}

func (sshEngine) Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

func (sshEngine) Handshake(conn net.Conn, addr string, config *ssh.ClientConfig) (Conn, error) {
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, err
	}
	return &engineConn{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// engineConn adapts *ssh.Client to the Conn interface.
type engineConn struct {
	client *ssh.Client
}

func (c *engineConn) NewSession() (Session, error) {
	return c.client.NewSession()
}

func (c *engineConn) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	return c.client.SendRequest(name, wantReply, payload)
}

func (c *engineConn) Close() error {
	return c.client.Close()
}
