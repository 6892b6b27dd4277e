package sshutil

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tmckenzie51/sshkit/internal/security"
)

// Default connection timing values, applied by normalize().
const (
	DefaultDialTimeout       = 10 * time.Second
	DefaultCommandTimeout    = 30 * time.Second
	DefaultKeepAlive         = 30 * time.Second
	DefaultConnectRetries    = 2
	DefaultConnectRetryDelay = 500 * time.Millisecond
)

// ConnectionConfig describes one logical connection to one remote
// endpoint. It is copied into the Client at construction and never
// mutated afterwards.
type ConnectionConfig struct {
	Host string
	Port int
	User string

	Auth          security.AuthMethod
	Password      string
	KeyPath       string
	KeyPassphrase string

	DialTimeout    time.Duration
	CommandTimeout time.Duration

	// KeepAlive is the interval between liveness probes on a ready
	// connection. Zero disables the probe.
	KeepAlive time.Duration

	// ConnectRetries bounds the client's own low-level reconnect
	// attempts for recoverable dial errors. Pool-level reconnection
	// with backoff is layered on top of this.
	ConnectRetries    int
	ConnectRetryDelay time.Duration

	// Protocol algorithm preferences, passed through to the engine.
	Ciphers           []string
	KeyExchanges      []string
	HostKeyAlgorithms []string

	// KnownHostsPath overrides ~/.ssh/known_hosts for host-key checks.
	KnownHostsPath string

	// InsecureSkipHostKey disables host-key verification entirely.
	// Meant for CI and tests, never production.
	InsecureSkipHostKey bool
}

// Key returns the pool key for this configuration: user@host:port.
// Defaults are applied first so a config keys the same before and after
// it is handed to a client.
func (c ConnectionConfig) Key() string {
	n := c.normalize()
	return fmt.Sprintf("%s@%s", n.User, n.Address())
}

// Address returns the host:port string for dialing.
func (c ConnectionConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// normalize returns a copy with defaults filled in for zero fields.
func (c ConnectionConfig) normalize() ConnectionConfig {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Auth == "" {
		c.Auth = security.AuthAgent
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.ConnectRetries < 0 {
		c.ConnectRetries = 0
	}
	if c.ConnectRetryDelay <= 0 {
		c.ConnectRetryDelay = DefaultConnectRetryDelay
	}
	return c
}
