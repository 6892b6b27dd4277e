// Package monitor renders a live pool-stats dashboard for `sshkit stats
// --watch`: the pool counters plus a table of every pooled connection,
// refreshed on an interval.
package monitor

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tmckenzie51/sshkit/internal/pool"
	"github.com/tmckenzie51/sshkit/internal/ui"
)

// DefaultInterval is the dashboard refresh rate.
const DefaultInterval = time.Second

// StatsSource supplies the dashboard's data. *pool.Manager satisfies it.
type StatsSource interface {
	Stats() pool.Stats
	Snapshot() []pool.ConnInfo
}

// tickMsg signals a periodic refresh.
type tickMsg time.Time

// Model is the Bubble Tea model for the stats dashboard.
type Model struct {
	source   StatsSource
	interval time.Duration

	stats      pool.Stats
	conns      []pool.ConnInfo
	table      table.Model
	width      int
	lastUpdate time.Time
	quitting   bool
}

// NewModel creates a dashboard model reading from the given source.
func NewModel(source StatsSource, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}

	columns := []table.Column{
		{Title: "CONNECTION", Width: 32},
		{Title: "STATE", Width: 16},
		{Title: "IN USE", Width: 7},
		{Title: "RECONNECTS", Width: 11},
		{Title: "LAST USED", Width: 12},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ui.ColorMuted).
		BorderBottom(true).
		Bold(true).
		Foreground(ui.ColorPrimary)
	s.Cell = s.Cell.Foreground(ui.ColorPrimary)
	s.Selected = s.Selected.Bold(false).Foreground(ui.ColorPrimary)
	t.SetStyles(s)

	m := Model{
		source:   source,
		interval: interval,
		table:    t,
	}
	m.refresh(time.Now())
	return m
}

// Init schedules the first refresh tick.
func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles refresh ticks, resizes, and quit keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh(time.Time(msg))
		return m, m.tick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetHeight(msg.Height - 7)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// refresh pulls fresh counters and rebuilds the table rows.
func (m *Model) refresh(now time.Time) {
	m.stats = m.source.Stats()
	m.conns = m.source.Snapshot()
	m.lastUpdate = now

	sort.Slice(m.conns, func(i, j int) bool {
		if m.conns[i].Key != m.conns[j].Key {
			return m.conns[i].Key < m.conns[j].Key
		}
		return m.conns[i].ID < m.conns[j].ID
	})

	rows := make([]table.Row, len(m.conns))
	for i, c := range m.conns {
		inUse := ""
		if c.InUse {
			inUse = "yes"
		}
		lastUsed := "never"
		if !c.LastUsed.IsZero() {
			lastUsed = formatAge(now.Sub(c.LastUsed))
		}
		rows[i] = table.Row{
			c.Key,
			c.State.String(),
			inUse,
			fmt.Sprintf("%d", c.ReconnectAttempts),
			lastUsed,
		}
	}
	m.table.SetRows(rows)
	if m.table.Height() == 0 {
		m.table.SetHeight(len(rows) + 1)
	}
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(ui.ColorSecondary)
	mutedStyle := lipgloss.NewStyle().Foreground(ui.ColorMuted)

	header := titleStyle.Render("sshkit connection pool")
	counters := ui.RenderStats(m.stats)

	body := m.table.View()
	if len(m.conns) == 0 {
		body = mutedStyle.Render("No pooled connections")
	}

	footer := mutedStyle.Render(fmt.Sprintf("updated %s  ·  q to quit",
		m.lastUpdate.Format("15:04:05")))

	return header + "\n\n" + counters + "\n\n" + body + "\n" + footer + "\n"
}

// Run blocks, rendering the dashboard until the user quits.
func Run(source StatsSource, interval time.Duration) error {
	program := tea.NewProgram(NewModel(source, interval))
	_, err := program.Run()
	return err
}

// formatAge formats a duration coarsely for the last-used column.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
