package sshutil

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/crypto/ssh"

	"github.com/tmckenzie51/sshkit/internal/errors"
	"github.com/tmckenzie51/sshkit/internal/logger"
	"github.com/tmckenzie51/sshkit/internal/security"
)

// Client is one logical connection to one remote endpoint. It owns the
// protocol session, executes commands, and opens shell channels, stepping
// through the connection lifecycle states as it goes.
//
// Concurrent Connect calls while a connect is in flight share the single
// pending outcome; exactly one handshake happens.
//
// Transport death of any kind, including a clean close by the remote
// side, lands in StateError with a recoverable CONNECTION error so the
// pool's reconnection wiring sees one uniform signal. StateDisconnected
// only ever describes a client that has not yet connected.
type Client struct {
	cfg       ConnectionConfig
	engine    Engine
	validator *security.Validator
	log       logger.Logger

	mu             sync.Mutex
	state          State
	conn           Conn
	lastErr        error
	pending        *pendingConnect
	stateListeners []func(State)
	errListeners   []func(error)
	connectedAt    time.Time
	lastActivity   time.Time
	keepaliveStop  chan struct{}
}

// pendingConnect is the shared outcome of an in-flight connect attempt.
type pendingConnect struct {
	done chan struct{}
	err  error
}

// Option configures a Client at construction.
type Option func(*Client)

// WithEngine substitutes the protocol engine (tests use a mock).
func WithEngine(e Engine) Option {
	return func(c *Client) { c.engine = e }
}

// WithValidator sets the security validator gating this client.
func WithValidator(v *security.Validator) Option {
	return func(c *Client) { c.validator = v }
}

// WithLogger sets the client's logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for the given configuration. The config is
// copied and normalized; it is immutable for the client's lifetime.
func NewClient(cfg ConnectionConfig, opts ...Option) *Client {
	c := &Client{
		cfg:       cfg.normalize(),
		engine:    NewEngine(),
		validator: security.NewValidator(nil),
		log:       logger.NewEnvLogger("[client]"),
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns a copy of the client's connection configuration.
func (c *Client) Config() ConnectionConfig {
	return c.cfg
}

// Key returns the pool key for this client: user@host:port.
func (c *Client) Key() string {
	return c.cfg.Key()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error recorded by the most recent failure.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastActivity returns the time of the most recent successful operation.
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns when the client last reached ready.
func (c *Client) ConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedAt
}

// OnStateChange registers a listener invoked on every state transition.
// Listeners run outside the client's lock but on the transitioning
// goroutine; they should return quickly.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateListeners = append(c.stateListeners, fn)
}

// OnError registers a listener invoked when the client records a failure,
// including transport death detected by the keep-alive probe. The pool
// uses this to drive reconnection.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errListeners = append(c.errListeners, fn)
}

// Connect establishes the connection, stepping disconnected → connecting →
// connected → authenticating → ready. It is idempotent: calling on a ready
// client returns nil, and concurrent callers share one pending attempt.
//
// Recoverable dial failures are retried a small bounded number of times
// with a fixed delay. Authentication and protocol errors propagate
// immediately without local retry.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateReady {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateClosed {
		c.mu.Unlock()
		return errors.New(errors.ErrConnection,
			"Client has been closed",
			"Build a new client for this endpoint")
	}
	if p := c.pending; p != nil {
		c.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p := &pendingConnect{done: make(chan struct{})}
	c.pending = p
	c.mu.Unlock()

	err := c.doConnect(ctx)

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	p.err = err
	close(p.done)
	return err
}

func (c *Client) doConnect(ctx context.Context) error {
	cfg := c.cfg

	var keyData []byte
	if cfg.Auth == security.AuthKey {
		if cfg.KeyPath == "" {
			// No identity configured; fall back to the conventional
			// key locations the way ssh itself would.
			for _, candidate := range DefaultKeyPaths() {
				if _, statErr := os.Stat(candidate); statErr == nil {
					cfg.KeyPath = candidate
					break
				}
			}
		}
		if cfg.KeyPath == "" {
			err := errors.New(errors.ErrConfig,
				"Key authentication requested but no private key found",
				"Set the key path, or create one of ~/.ssh/id_ed25519, id_rsa, id_ecdsa")
			c.fail(err)
			return err
		}
		data, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			err = errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Couldn't read the private key at %s", cfg.KeyPath),
				"Check the key file exists and is readable")
			c.fail(err)
			return err
		}
		keyData = data
	}

	// Policy gate runs before any network call and is never retried.
	if err := c.validator.ValidateConnection(security.ConnectionRequest{
		Host:       cfg.Host,
		Port:       cfg.Port,
		AuthMethod: cfg.Auth,
		Password:   cfg.Password,
		PrivateKey: keyData,
	}); err != nil {
		c.fail(err)
		return err
	}

	clientConfig, err := buildClientConfig(cfg, keyData)
	if err != nil {
		c.fail(err)
		return err
	}

	strategy := retry.WithMaxRetries(uint64(c.cfg.ConnectRetries),
		retry.NewConstant(c.cfg.ConnectRetryDelay))

	err = retry.Do(ctx, strategy, func(ctx context.Context) error {
		attemptErr := c.dialOnce(ctx, clientConfig)
		if attemptErr != nil && errors.Recoverable(attemptErr) {
			c.log.Debug("recoverable connect failure for %s: %v", c.cfg.Key(), attemptErr)
			return retry.RetryableError(attemptErr)
		}
		return attemptErr
	})
	if err != nil {
		c.fail(err)
		return err
	}

	c.validator.ResetRateLimit(c.cfg.Host)
	return nil
}

// dialOnce performs one transport + handshake attempt, stepping through
// connecting → connected → authenticating → ready.
func (c *Client) dialOnce(ctx context.Context, clientConfig *ssh.ClientConfig) error {
	addr := c.cfg.Address()

	c.setState(StateConnecting)
	netConn, err := c.engine.Dial(ctx, addr, c.cfg.DialTimeout)
	if err != nil {
		return errors.Classify(err, c.cfg.Host)
	}
	c.setState(StateConnected)

	c.setState(StateAuthenticating)
	conn, err := c.engine.Handshake(netConn, addr, clientConfig)
	if err != nil {
		_ = netConn.Close()
		return errors.Classify(err, c.cfg.Host)
	}

	c.mu.Lock()
	c.conn = conn
	c.lastErr = nil
	now := time.Now()
	c.connectedAt = now
	c.lastActivity = now
	c.stopKeepaliveLocked()
	if c.cfg.KeepAlive > 0 {
		stop := make(chan struct{})
		c.keepaliveStop = stop
		go c.keepaliveLoop(conn, stop, c.cfg.KeepAlive)
	}
	c.state = StateReady
	fns := slices.Clone(c.stateListeners)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(StateReady)
	}
	c.log.Debug("connection to %s ready", c.cfg.Key())
	return nil
}

// fail records an error, transitions to the error state, and notifies
// error listeners. The dead transport, if any, is closed.
func (c *Client) fail(err error) {
	c.mu.Lock()
	c.lastErr = err
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.stopKeepaliveLocked()
	prev := c.state
	c.state = StateError
	stateFns := slices.Clone(c.stateListeners)
	errFns := slices.Clone(c.errListeners)
	c.mu.Unlock()

	if prev != StateError {
		for _, fn := range stateFns {
			fn(StateError)
		}
	}
	for _, fn := range errFns {
		fn(err)
	}
}

// setState transitions to a new state and notifies listeners.
func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fns := slices.Clone(c.stateListeners)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// touch records activity for idle-time accounting.
func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Disconnect closes all active channels, then ends the transport.
// Safe to call repeatedly.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.stopKeepaliveLocked()
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	fns := slices.Clone(c.stateListeners)
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	for _, fn := range fns {
		fn(StateClosed)
	}
	return err
}

func (c *Client) stopKeepaliveLocked() {
	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
}

// keepaliveLoop probes the transport at the configured interval and
// reports death to error listeners so the pool can schedule reconnects.
func (c *Client) keepaliveLoop(conn Conn, stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := conn.SendRequest("keepalive@sshkit", true, nil); err != nil {
				c.log.Debug("keep-alive to %s failed: %v", c.cfg.Key(), err)
				c.fail(errors.WrapWithCode(err, errors.ErrConnection,
					fmt.Sprintf("Lost connection to '%s'", c.cfg.Host),
					"The connection will be re-established if reconnection is enabled"))
				return
			}
		}
	}
}

// activeConn returns the connection if the client is ready.
func (c *Client) activeConn() (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || c.conn == nil {
		return nil, errors.New(errors.ErrConnection,
			fmt.Sprintf("Client for '%s' is %s, not ready", c.cfg.Host, c.state),
			"Connect the client before using it")
	}
	return c.conn, nil
}
