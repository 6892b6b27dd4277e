package monitor

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmckenzie51/sshkit/internal/pool"
	"github.com/tmckenzie51/sshkit/pkg/sshutil"
)

// staticSource serves fixed stats for model tests.
type staticSource struct {
	stats pool.Stats
	conns []pool.ConnInfo
}

func (s *staticSource) Stats() pool.Stats         { return s.stats }
func (s *staticSource) Snapshot() []pool.ConnInfo { return s.conns }

func testSource() *staticSource {
	return &staticSource{
		stats: pool.Stats{Total: 2, Active: 1, Idle: 1},
		conns: []pool.ConnInfo{
			{
				ID:       "b",
				Key:      "deploy@web-02:22",
				State:    sshutil.StateReady,
				LastUsed: time.Now().Add(-30 * time.Second),
			},
			{
				ID:       "a",
				Key:      "deploy@web-01:22",
				State:    sshutil.StateReady,
				InUse:    true,
				LastUsed: time.Now(),
			},
		},
	}
}

func TestModelViewShowsCountersAndConnections(t *testing.T) {
	m := NewModel(testSource(), time.Second)

	view := m.View()
	assert.Contains(t, view, "sshkit connection pool")
	assert.Contains(t, view, "total 2")
	assert.Contains(t, view, "active 1")
	assert.Contains(t, view, "idle 1")
	assert.Contains(t, view, "deploy@web-01:22")
	assert.Contains(t, view, "deploy@web-02:22")
}

func TestModelSortsRowsByKey(t *testing.T) {
	m := NewModel(testSource(), time.Second)
	require.Len(t, m.conns, 2)
	assert.Equal(t, "deploy@web-01:22", m.conns[0].Key)
	assert.Equal(t, "deploy@web-02:22", m.conns[1].Key)
}

func TestModelTickRefreshes(t *testing.T) {
	source := testSource()
	m := NewModel(source, time.Second)

	source.stats = pool.Stats{Total: 3, Active: 3}
	updated, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd, "a tick must schedule the next one")

	view := updated.View()
	assert.Contains(t, view, "total 3")
	assert.Contains(t, view, "active 3")
}

func TestModelQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "esc", "ctrl+c"} {
		t.Run(key, func(t *testing.T) {
			m := NewModel(testSource(), time.Second)

			var msg tea.KeyMsg
			switch key {
			case "q":
				msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
			case "esc":
				msg = tea.KeyMsg{Type: tea.KeyEsc}
			case "ctrl+c":
				msg = tea.KeyMsg{Type: tea.KeyCtrlC}
			}

			updated, cmd := m.Update(msg)
			require.NotNil(t, cmd, "quit keys must produce a quit command")
			assert.Empty(t, updated.View(), "the view clears on quit")
		})
	}
}

func TestModelEmptyPool(t *testing.T) {
	m := NewModel(&staticSource{}, time.Second)
	assert.Contains(t, m.View(), "No pooled connections")
}

func TestModelDefaultsInterval(t *testing.T) {
	m := NewModel(&staticSource{}, 0)
	assert.Equal(t, DefaultInterval, m.interval)
}
