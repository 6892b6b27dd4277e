// Package config loads and resolves .sshkit.yaml configuration: pool
// sizing, reconnection behavior, the security policy, and per-connection
// defaults.
package config

import (
	"time"

	"github.com/tmckenzie51/sshkit/internal/backoff"
	"github.com/tmckenzie51/sshkit/internal/pool"
	"github.com/tmckenzie51/sshkit/internal/security"
	"github.com/tmckenzie51/sshkit/pkg/sshutil"
)

// Config is the root of .sshkit.yaml.
type Config struct {
	Pool       PoolConfig       `mapstructure:"pool"`
	Reconnect  ReconnectConfig  `mapstructure:"reconnect"`
	Security   SecurityConfig   `mapstructure:"security"`
	Connection ConnectionConfig `mapstructure:"connection"`
}

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxConnections int           `mapstructure:"max_connections"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// ReconnectConfig controls automatic reconnection and its backoff curve.
type ReconnectConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	Jitter        bool          `mapstructure:"jitter"`
}

// SecurityConfig mirrors the security policy fields.
type SecurityConfig struct {
	AllowedPorts    []int    `mapstructure:"allowed_ports"`
	TrustedHosts    []string `mapstructure:"trusted_hosts"`
	AllowedCommands []string `mapstructure:"allowed_commands"`
	BlockedCommands []string `mapstructure:"blocked_commands"`

	AllowPasswordAuth bool `mapstructure:"allow_password_auth"`
	AllowKeyAuth      bool `mapstructure:"allow_key_auth"`
	AllowAgentAuth    bool `mapstructure:"allow_agent_auth"`

	MinPasswordLength int `mapstructure:"min_password_length"`

	MaxConnectionAttempts   int           `mapstructure:"max_connection_attempts"`
	ConnectionAttemptWindow time.Duration `mapstructure:"connection_attempt_window"`

	MaxConnectionTime time.Duration `mapstructure:"max_connection_time"`
	MaxIdleTime       time.Duration `mapstructure:"max_idle_time"`

	AllowUnknownHosts bool `mapstructure:"allow_unknown_hosts"`
}

// ConnectionConfig holds defaults applied to every connection.
type ConnectionConfig struct {
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
}

// DefaultConfig returns the configuration used when no file is found.
func DefaultConfig() *Config {
	defaultPolicy := security.DefaultPolicy()
	return &Config{
		Pool: PoolConfig{
			MaxConnections: pool.DefaultMaxConnections,
			IdleTimeout:    pool.DefaultIdleTimeout,
			SweepInterval:  pool.DefaultSweepInterval,
		},
		Reconnect: ReconnectConfig{
			Enabled:       true,
			MaxAttempts:   pool.DefaultMaxReconnects,
			InitialDelay:  backoff.DefaultInitial,
			MaxDelay:      backoff.DefaultMax,
			BackoffFactor: backoff.DefaultFactor,
			Jitter:        true,
		},
		Security: SecurityConfig{
			BlockedCommands:         append([]string(nil), security.DefaultBlockedCommands...),
			AllowPasswordAuth:       defaultPolicy.AllowPasswordAuth,
			AllowKeyAuth:            defaultPolicy.AllowKeyAuth,
			AllowAgentAuth:          defaultPolicy.AllowAgentAuth,
			MinPasswordLength:       defaultPolicy.MinPasswordLength,
			MaxConnectionAttempts:   defaultPolicy.MaxConnectionAttempts,
			ConnectionAttemptWindow: defaultPolicy.ConnectionAttemptWindow,
		},
		Connection: ConnectionConfig{
			DialTimeout:    sshutil.DefaultDialTimeout,
			CommandTimeout: sshutil.DefaultCommandTimeout,
			KeepAlive:      sshutil.DefaultKeepAlive,
		},
	}
}

// PoolSettings converts the file representation to the pool's config.
func (c *Config) PoolSettings() pool.Config {
	return pool.Config{
		MaxConnections: c.Pool.MaxConnections,
		IdleTimeout:    c.Pool.IdleTimeout,
		AcquireTimeout: c.Pool.AcquireTimeout,
		SweepInterval:  c.Pool.SweepInterval,
		Reconnect: pool.ReconnectConfig{
			Enabled:     c.Reconnect.Enabled,
			MaxAttempts: c.Reconnect.MaxAttempts,
			Backoff:     c.BackoffPolicy(),
		},
	}
}

// BackoffPolicy converts the reconnect section to a backoff policy.
func (c *Config) BackoffPolicy() backoff.Policy {
	return backoff.Policy{
		Initial: c.Reconnect.InitialDelay,
		Max:     c.Reconnect.MaxDelay,
		Factor:  c.Reconnect.BackoffFactor,
		Jitter:  c.Reconnect.Jitter,
	}
}

// SecurityPolicy converts the security section to a validator policy.
func (c *Config) SecurityPolicy() *security.Policy {
	return &security.Policy{
		AllowedPorts:            append([]int(nil), c.Security.AllowedPorts...),
		TrustedHosts:            append([]string(nil), c.Security.TrustedHosts...),
		AllowedCommands:         append([]string(nil), c.Security.AllowedCommands...),
		BlockedCommands:         append([]string(nil), c.Security.BlockedCommands...),
		AllowPasswordAuth:       c.Security.AllowPasswordAuth,
		AllowKeyAuth:            c.Security.AllowKeyAuth,
		AllowAgentAuth:          c.Security.AllowAgentAuth,
		MinPasswordLength:       c.Security.MinPasswordLength,
		MaxConnectionAttempts:   c.Security.MaxConnectionAttempts,
		ConnectionAttemptWindow: c.Security.ConnectionAttemptWindow,
		MaxConnectionTime:       c.Security.MaxConnectionTime,
		MaxIdleTime:             c.Security.MaxIdleTime,
		AllowUnknownHosts:       c.Security.AllowUnknownHosts,
	}
}

// ApplyConnectionDefaults fills a connection config's zero timing fields
// from the file's connection section.
func (c *Config) ApplyConnectionDefaults(conn sshutil.ConnectionConfig) sshutil.ConnectionConfig {
	if conn.DialTimeout <= 0 {
		conn.DialTimeout = c.Connection.DialTimeout
	}
	if conn.CommandTimeout <= 0 {
		conn.CommandTimeout = c.Connection.CommandTimeout
	}
	if conn.KeepAlive <= 0 {
		conn.KeepAlive = c.Connection.KeepAlive
	}
	return conn
}
