package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmckenzie51/sshkit/internal/backoff"
	"github.com/tmckenzie51/sshkit/internal/errors"
	"github.com/tmckenzie51/sshkit/internal/logger"
	"github.com/tmckenzie51/sshkit/internal/security"
	"github.com/tmckenzie51/sshkit/pkg/sshutil"
	"github.com/tmckenzie51/sshkit/pkg/sshutil/sshtest"
)

// fakeClock is a mutable clock for idle-timeout tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// endpoint uses password auth so pooled clients connect against the
// mock engine without touching the local agent socket or known_hosts.
func endpoint(host string) sshutil.ConnectionConfig {
	return sshutil.ConnectionConfig{
		Host:                host,
		Port:                22,
		User:                "deploy",
		Auth:                security.AuthPassword,
		Password:            "c0rrect-H0rse!",
		InsecureSkipHostKey: true,
		ConnectRetryDelay:   time.Millisecond,
	}
}

// newTestManager wires every pooled client to a shared mock engine.
func newTestManager(t *testing.T, cfg Config, engine *sshtest.Engine, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{
		WithLogger(logger.Noop()),
		WithFactory(func(c sshutil.ConnectionConfig) *sshutil.Client {
			return sshutil.NewClient(c,
				sshutil.WithEngine(engine),
				sshutil.WithLogger(logger.Noop()),
			)
		}),
	}, opts...)
	m := NewManager(cfg, opts...)
	t.Cleanup(m.Close)
	return m
}

func TestPoolGetConnectsAndReusesIdle(t *testing.T) {
	engine := sshtest.NewEngine()
	m := newTestManager(t, Config{MaxConnections: 4}, engine)

	first, err := m.Get(context.Background(), endpoint("web-01"))
	require.NoError(t, err)
	assert.Equal(t, sshutil.StateReady, first.State())
	assert.Equal(t, Stats{Total: 1, Active: 1}, m.Stats())

	m.Release(first)
	assert.Equal(t, Stats{Total: 1, Idle: 1}, m.Stats())

	second, err := m.Get(context.Background(), endpoint("web-01"))
	require.NoError(t, err)
	assert.Same(t, first, second, "an idle ready connection must be reused")
	assert.Equal(t, 1, engine.Handshakes())
}

func TestPoolGetSeparateEndpointsSeparateConnections(t *testing.T) {
	engine := sshtest.NewEngine()
	m := newTestManager(t, Config{MaxConnections: 4}, engine)

	a, err := m.Get(context.Background(), endpoint("web-01"))
	require.NoError(t, err)
	b, err := m.Get(context.Background(), endpoint("web-02"))
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, Stats{Total: 2, Active: 2}, m.Stats())
}

func TestPoolExhaustedAtCapacity(t *testing.T) {
	engine := sshtest.NewEngine()
	m := newTestManager(t, Config{MaxConnections: 1}, engine)

	_, err := m.Get(context.Background(), endpoint("web-01"))
	require.NoError(t, err)

	_, err = m.Get(context.Background(), endpoint("web-02"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrPoolExhausted))
}

func TestPoolExhaustedSameEndpointWhileInUse(t *testing.T) {
	engine := sshtest.NewEngine()
	m := newTestManager(t, Config{MaxConnections: 1}, engine)

	first, err := m.Get(context.Background(), endpoint("web-01"))
	require.NoError(t, err)

	// An in-use connection is never shared: a second acquire of the same
	// endpoint needs a fresh slot, and the pool is full.
	_, err = m.Get(context.Background(), endpoint("web-01"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrPoolExhausted))
	assert.Equal(t, 1, engine.Handshakes())

	// Releasing the first makes the same connection available again.
	m.Release(first)
	second, err := m.Get(context.Background(), endpoint("web-01"))
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestPoolCleanupAndRetryAtCapacity(t *testing.T) {
	engine := sshtest.NewEngine()
	clock := newFakeClock()
	m := newTestManager(t, Config{
		MaxConnections: 1,
		IdleTimeout:    time.Minute,
	}, engine, WithClock(clock.Now))

	first, err := m.Get(context.Background(), endpoint("web-01"))
	require.NoError(t, err)
	m.Release(first)

	// Still within the idle window: the slot is occupied by web-01 and
	// web-02 cannot claim it.
	_, err = m.Get(context.Background(), endpoint("web-02"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrPoolExhausted))

	// Past the idle window the cleanup pass frees the slot.
	clock.Advance(2 * time.Minute)
	second, err := m.Get(context.Background(), endpoint("web-02"))
	require.NoError(t, err)
	assert.Equal(t, "deploy@web-02:22", second.Key())
}

func TestPoolIdleSweepRemovesStaleConnections(t *testing.T) {
	engine := sshtest.NewEngine()
	clock := newFakeClock()
	m := newTestManager(t, Config{
		MaxConnections: 4,
		IdleTimeout:    time.Minute,
		SweepInterval:  10 * time.Millisecond,
	}, engine, WithClock(clock.Now))

	client, err := m.Get(context.Background(), endpoint("web-01"))
	require.NoError(t, err)
	m.Release(client)
	require.Equal(t, 1, m.Stats().Total)

	clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool {
		return m.Stats().Total == 0
	}, time.Second, 5*time.Millisecond, "the sweeper should remove the stale connection")
}

func TestPoolReleaseUnknownClientIsNoop(t *testing.T) {
	engine := sshtest.NewEngine()
	m := newTestManager(t, Config{}, engine)

	stray := sshutil.NewClient(endpoint("web-09"), sshutil.WithLogger(logger.Noop()))
	m.Release(stray)
	assert.Equal(t, Stats{}, m.Stats())
}

func TestPoolCloseConnRemovesEntry(t *testing.T) {
	engine := sshtest.NewEngine()
	m := newTestManager(t, Config{}, engine)

	client, err := m.Get(context.Background(), endpoint("web-01"))
	require.NoError(t, err)

	require.NoError(t, m.CloseConn(client))
	assert.Equal(t, sshutil.StateClosed, client.State())
	assert.Equal(t, Stats{}, m.Stats())
}

func TestPoolCloseAll(t *testing.T) {
	engine := sshtest.NewEngine()
	m := newTestManager(t, Config{MaxConnections: 4}, engine)

	a, err := m.Get(context.Background(), endpoint("web-01"))
	require.NoError(t, err)
	b, err := m.Get(context.Background(), endpoint("web-02"))
	require.NoError(t, err)

	m.CloseAll()

	assert.Equal(t, sshutil.StateClosed, a.State())
	assert.Equal(t, sshutil.StateClosed, b.State())
	assert.Equal(t, Stats{}, m.Stats())
}

func TestPoolGetAfterCloseRejected(t *testing.T) {
	engine := sshtest.NewEngine()
	m := newTestManager(t, Config{}, engine)
	m.Close()

	_, err := m.Get(context.Background(), endpoint("web-01"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConnection))
}

func TestPoolFailedConnectLeavesNoEntry(t *testing.T) {
	engine := sshtest.NewEngine()
	engine.FailHandshake(fmt.Errorf("ssh: unable to authenticate, attempted methods [none]"))
	m := newTestManager(t, Config{}, engine)

	_, err := m.Get(context.Background(), endpoint("web-01"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrAuth))
	assert.Equal(t, Stats{}, m.Stats())
}

func reconnectConfig() Config {
	return Config{
		MaxConnections: 4,
		Reconnect: ReconnectConfig{
			Enabled:     true,
			MaxAttempts: 3,
			Backoff: backoff.Policy{
				Initial: time.Millisecond,
				Max:     2 * time.Millisecond,
				Factor:  2,
			},
		},
	}
}

func TestPoolReconnectsDroppedConnection(t *testing.T) {
	engine := sshtest.NewEngine()
	m := newTestManager(t, reconnectConfig(), engine)

	cfg := endpoint("web-01")
	cfg.KeepAlive = 10 * time.Millisecond

	client, err := m.Get(context.Background(), cfg)
	require.NoError(t, err)
	m.Release(client)

	engine.Conn().Break()

	require.Eventually(t, func() bool {
		return client.State() == sshutil.StateReady && engine.Handshakes() >= 2
	}, 2*time.Second, 5*time.Millisecond, "the pool should re-establish the dropped connection")

	// Counter resets once the connection is ready again.
	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return len(snap) == 1 && snap[0].ReconnectAttempts == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPoolDestroysConnectionAfterReconnectBudget(t *testing.T) {
	engine := sshtest.NewEngine()
	m := newTestManager(t, reconnectConfig(), engine)

	cfg := endpoint("web-01")
	cfg.KeepAlive = 10 * time.Millisecond
	cfg.ConnectRetries = 0

	client, err := m.Get(context.Background(), cfg)
	require.NoError(t, err)
	m.Release(client)

	// Every reconnect attempt fails at the dial.
	for i := 0; i < 10; i++ {
		engine.FailDial(fmt.Errorf("dial tcp 10.0.0.5:22: connect: connection refused"))
	}
	engine.Conn().Break()

	require.Eventually(t, func() bool {
		return m.Stats().Total == 0
	}, 2*time.Second, 5*time.Millisecond, "an unreachable connection must be destroyed, not retried forever")
}

func TestPoolUnrecoverableErrorDestroysEntry(t *testing.T) {
	engine := sshtest.NewEngine()
	m := newTestManager(t, reconnectConfig(), engine)

	client, err := m.Get(context.Background(), endpoint("web-01"))
	require.NoError(t, err)
	m.Release(client)

	m.handleClientError(m.findEntry(client), errors.New(errors.ErrAuth, "auth revoked", ""))
	assert.Equal(t, Stats{}, m.Stats())
}

// findEntry is a test hook: the entry for a client, or nil.
func (m *Manager) findEntry(client *sshutil.Client) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(client)
}
