// Package pool manages a bounded set of reusable SSH connections keyed by
// endpoint (user@host:port). Acquired connections are checked out, released
// back, swept when idle, and transparently reconnected with backoff when
// the transport drops.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tmckenzie51/sshkit/internal/backoff"
	"github.com/tmckenzie51/sshkit/internal/errors"
	"github.com/tmckenzie51/sshkit/internal/logger"
	"github.com/tmckenzie51/sshkit/pkg/sshutil"
)

// Default pool sizing, applied by normalize().
const (
	DefaultMaxConnections = 10
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultSweepInterval  = 60 * time.Second
	DefaultMaxReconnects  = 5
)

// Config sizes the pool and its reconnection behavior.
type Config struct {
	MaxConnections int
	IdleTimeout    time.Duration

	// AcquireTimeout bounds the connect phase of Get. Zero defers to the
	// caller's context.
	AcquireTimeout time.Duration

	SweepInterval time.Duration

	Reconnect ReconnectConfig
}

// ReconnectConfig controls automatic reconnection of dropped connections.
type ReconnectConfig struct {
	Enabled     bool
	MaxAttempts int
	Backoff     backoff.Policy
}

func (c Config) normalize() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = DefaultMaxReconnects
	}
	return c
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Total   int
	Active  int
	Idle    int
	Pending int
}

// ConnInfo describes one pooled connection for display and diagnostics.
type ConnInfo struct {
	ID                string
	Key               string
	State             sshutil.State
	InUse             bool
	LastUsed          time.Time
	CreatedAt         time.Time
	ReconnectAttempts int
}

// entry is one pooled connection and its bookkeeping.
type entry struct {
	id        string
	key       string
	client    *sshutil.Client
	inUse     bool
	lastUsed  time.Time
	createdAt time.Time

	reconnectAttempts int
	reconnecting      bool
	reconnectTimer    *time.Timer
}

// Factory builds a client for a pooled connection. Tests substitute one
// that injects a mock engine.
type Factory func(cfg sshutil.ConnectionConfig) *sshutil.Client

// Manager owns the key→connections map. All map mutations are serialized
// under one mutex; the connect phase of Get runs outside it so slow
// handshakes don't block unrelated acquires.
type Manager struct {
	cfg     Config
	factory Factory
	log     logger.Logger
	now     func() time.Time

	mu        sync.Mutex
	conns     map[string][]*entry
	closed    bool
	sweepStop chan struct{}
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithFactory substitutes the client factory.
func WithFactory(f Factory) Option {
	return func(m *Manager) { m.factory = f }
}

// WithLogger sets the pool's logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock pins the pool's clock, for idle-timeout tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a pool and starts its idle sweeper.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg.normalize(),
		factory:   func(c sshutil.ConnectionConfig) *sshutil.Client { return sshutil.NewClient(c) },
		log:       logger.NewEnvLogger("[pool]"),
		now:       time.Now,
		conns:     make(map[string][]*entry),
		sweepStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweepLoop()
	return m
}

// Get returns a ready client for the endpoint, reusing an idle pooled
// connection when one exists. At capacity it runs one idle cleanup pass
// and retries; if the pool is still full it fails with a pool-exhausted
// error rather than queueing.
func (m *Manager) Get(ctx context.Context, cfg sshutil.ConnectionConfig) (*sshutil.Client, error) {
	if m.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.AcquireTimeout)
		defer cancel()
	}

	for pass := 0; pass < 2; pass++ {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, errors.New(errors.ErrConnection,
				"Connection pool has been closed",
				"Build a new pool manager")
		}

		key := cfg.Key()

		// Reuse an idle ready connection for this endpoint.
		for _, e := range m.conns[key] {
			if !e.inUse && e.client.State() == sshutil.StateReady {
				e.inUse = true
				e.lastUsed = m.now()
				m.mu.Unlock()
				m.log.Debug("reusing connection %s for %s", e.id, key)
				return e.client, nil
			}
		}

		if m.totalLocked() < m.cfg.MaxConnections {
			e := &entry{
				id:        uuid.NewString(),
				key:       key,
				client:    m.factory(cfg),
				inUse:     true,
				lastUsed:  m.now(),
				createdAt: m.now(),
			}
			m.conns[key] = append(m.conns[key], e)
			m.mu.Unlock()

			e.client.OnError(func(err error) { m.handleClientError(e, err) })

			if err := e.client.Connect(ctx); err != nil {
				m.remove(e)
				return nil, err
			}
			m.log.Debug("opened connection %s for %s", e.id, key)
			return e.client, nil
		}

		removed := m.cleanupIdleLocked()
		m.mu.Unlock()

		if pass == 0 && removed > 0 {
			continue
		}
		break
	}

	return nil, errors.New(errors.ErrPoolExhausted,
		fmt.Sprintf("Connection pool is at capacity (%d connections, none idle)", m.cfg.MaxConnections),
		"Release connections you're done with, or raise pool.max_connections")
}

// Release returns a checked-out client to the pool without closing it.
// Releasing a client the pool doesn't own is a no-op.
func (m *Manager) Release(client *sshutil.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.findLocked(client); e != nil {
		e.inUse = false
		e.lastUsed = m.now()
	}
}

// CloseConn tears down one pooled connection and removes it.
func (m *Manager) CloseConn(client *sshutil.Client) error {
	m.mu.Lock()
	e := m.findLocked(client)
	if e != nil {
		m.removeLocked(e)
	}
	m.mu.Unlock()

	if e == nil {
		return nil
	}
	return e.client.Disconnect()
}

// CloseAll tears down every pooled connection. The pool stays usable.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	var all []*entry
	for _, list := range m.conns {
		all = append(all, list...)
	}
	m.conns = make(map[string][]*entry)
	for _, e := range all {
		stopReconnectLocked(e)
	}
	m.mu.Unlock()

	for _, e := range all {
		_ = e.client.Disconnect()
	}
}

// Close shuts the pool down: stops the sweeper and closes every connection.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.sweepStop)
	m.mu.Unlock()

	m.CloseAll()
}

// Stats computes the current pool counters from the live map.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	for _, list := range m.conns {
		for _, e := range list {
			s.Total++
			state := e.client.State()
			switch {
			case e.inUse && state == sshutil.StateReady:
				s.Active++
			case !e.inUse && state == sshutil.StateReady:
				s.Idle++
			default:
				s.Pending++
			}
		}
	}
	return s
}

// Snapshot lists every pooled connection, for the stats display.
func (m *Manager) Snapshot() []ConnInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ConnInfo
	for _, list := range m.conns {
		for _, e := range list {
			out = append(out, ConnInfo{
				ID:                e.id,
				Key:               e.key,
				State:             e.client.State(),
				InUse:             e.inUse,
				LastUsed:          e.lastUsed,
				CreatedAt:         e.createdAt,
				ReconnectAttempts: e.reconnectAttempts,
			})
		}
	}
	return out
}

// CleanupIdle removes idle connections past the idle timeout and returns
// how many were closed.
func (m *Manager) CleanupIdle() int {
	m.mu.Lock()
	n := m.cleanupIdleLocked()
	m.mu.Unlock()
	return n
}

// cleanupIdleLocked removes and closes entries idle past IdleTimeout.
func (m *Manager) cleanupIdleLocked() int {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)
	removed := 0
	for key, list := range m.conns {
		kept := list[:0]
		for _, e := range list {
			if !e.inUse && e.lastUsed.Before(cutoff) {
				stopReconnectLocked(e)
				go func(c *sshutil.Client) { _ = c.Disconnect() }(e.client)
				m.log.Debug("closed idle connection %s for %s", e.id, key)
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(m.conns, key)
		} else {
			m.conns[key] = kept
		}
	}
	return removed
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
			if n := m.CleanupIdle(); n > 0 {
				m.log.Debug("idle sweep closed %d connection(s)", n)
			}
		}
	}
}

// handleClientError drives reconnection for a dropped pooled connection.
// Unrecoverable errors destroy the entry; recoverable ones schedule a
// backoff-delayed reconnect until the attempt budget runs out.
func (m *Manager) handleClientError(e *entry, err error) {
	m.mu.Lock()
	if m.closed || !m.ownsLocked(e) {
		m.mu.Unlock()
		return
	}

	if !m.cfg.Reconnect.Enabled || !errors.Recoverable(err) {
		m.removeLocked(e)
		m.mu.Unlock()
		_ = e.client.Disconnect()
		m.log.Debug("dropped connection %s for %s: %v", e.id, e.key, err)
		return
	}

	e.reconnectAttempts++
	if e.reconnectAttempts > m.cfg.Reconnect.MaxAttempts {
		m.removeLocked(e)
		m.mu.Unlock()
		_ = e.client.Disconnect()
		m.log.Debug("giving up on connection %s for %s after %d attempts",
			e.id, e.key, e.reconnectAttempts-1)
		return
	}

	attempt := e.reconnectAttempts
	delay := m.cfg.Reconnect.Backoff.Delay(attempt)
	e.reconnecting = true
	e.reconnectTimer = time.AfterFunc(delay, func() { m.reconnect(e) })
	m.mu.Unlock()

	m.log.Debug("scheduling reconnect %d/%d for %s in %s",
		attempt, m.cfg.Reconnect.MaxAttempts, e.key, delay)
}

// reconnect performs one scheduled reconnect attempt. A failure fires the
// client's error listeners again, which loops back into handleClientError
// for the next backoff step.
func (m *Manager) reconnect(e *entry) {
	m.mu.Lock()
	if m.closed || !m.ownsLocked(e) {
		m.mu.Unlock()
		return
	}
	e.reconnecting = false
	m.mu.Unlock()

	if err := e.client.Connect(context.Background()); err != nil {
		return
	}

	// Ready again: the attempt counter starts fresh.
	m.mu.Lock()
	if m.ownsLocked(e) {
		e.reconnectAttempts = 0
		e.lastUsed = m.now()
	}
	m.mu.Unlock()
	m.log.Debug("reconnected %s for %s", e.id, e.key)
}

// remove takes an entry out of the map and closes its client.
func (m *Manager) remove(e *entry) {
	m.mu.Lock()
	m.removeLocked(e)
	m.mu.Unlock()
	_ = e.client.Disconnect()
}

func (m *Manager) removeLocked(e *entry) {
	stopReconnectLocked(e)
	list := m.conns[e.key]
	kept := list[:0]
	for _, cur := range list {
		if cur != e {
			kept = append(kept, cur)
		}
	}
	if len(kept) == 0 {
		delete(m.conns, e.key)
	} else {
		m.conns[e.key] = kept
	}
}

func (m *Manager) findLocked(client *sshutil.Client) *entry {
	for _, list := range m.conns {
		for _, e := range list {
			if e.client == client {
				return e
			}
		}
	}
	return nil
}

func (m *Manager) ownsLocked(e *entry) bool {
	for _, cur := range m.conns[e.key] {
		if cur == e {
			return true
		}
	}
	return false
}

func (m *Manager) totalLocked() int {
	total := 0
	for _, list := range m.conns {
		total += len(list)
	}
	return total
}

func stopReconnectLocked(e *entry) {
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
	e.reconnecting = false
}
