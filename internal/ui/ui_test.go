package ui

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tmckenzie51/sshkit/internal/errors"
	"github.com/tmckenzie51/sshkit/internal/pool"
	"github.com/tmckenzie51/sshkit/pkg/sshutil"
)

func TestFormatErrorStructured(t *testing.T) {
	err := errors.WrapWithCode(stderrors.New("dial tcp: connection refused"),
		errors.ErrConnection,
		"Couldn't connect to web-01",
		"Check the host is reachable")

	out := FormatError(err)
	assert.Contains(t, out, "Couldn't connect to web-01")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "Check the host is reachable")
}

func TestFormatErrorPlain(t *testing.T) {
	out := FormatError(stderrors.New("something broke"))
	assert.Contains(t, out, "something broke")
}

func TestRenderStatsCounters(t *testing.T) {
	out := RenderStats(pool.Stats{Total: 4, Active: 2, Idle: 1, Pending: 1})
	assert.Contains(t, out, "total 4")
	assert.Contains(t, out, "active 2")
	assert.Contains(t, out, "idle 1")
	assert.Contains(t, out, "pending 1")
}

func TestRenderConnTable(t *testing.T) {
	out := RenderConnTable([]pool.ConnInfo{
		{Key: "deploy@web-01:22", State: sshutil.StateReady, InUse: true, LastUsed: time.Now()},
	})
	assert.Contains(t, out, "CONNECTION")
	assert.Contains(t, out, "deploy@web-01:22")
	assert.Contains(t, out, "ready")
}

func TestRenderConnTableEmpty(t *testing.T) {
	assert.Equal(t, "No pooled connections", RenderConnTable(nil))
}

func TestHumanSince(t *testing.T) {
	assert.Equal(t, "never", humanSince(time.Time{}))
	assert.Equal(t, "just now", humanSince(time.Now()))
	assert.Equal(t, "30s ago", humanSince(time.Now().Add(-30*time.Second)))
	assert.Equal(t, "5m ago", humanSince(time.Now().Add(-5*time.Minute)))
	assert.Equal(t, "2h ago", humanSince(time.Now().Add(-2*time.Hour)))
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "ab   ", padRight("ab", 5))
	assert.Equal(t, "abcdef", padRight("abcdef", 5))
}

func TestDisableColors(t *testing.T) {
	assert.NotPanics(t, func() {
		DisableColors()
	})

	rendered := Success("test")
	assert.Contains(t, rendered, "test")
}
