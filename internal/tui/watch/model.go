package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 2 * time.Second

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	health    healthMsg
	counts    queueMsg
	grants    grantsMsg
	journal   table.Model
	connected bool
	lastCheck time.Time

	theme     Theme
	lastError string
}

// New creates a new watch TUI model.
func New(apiURL string) *Model {
	columns := []table.Column{
		{Title: "Command", Width: 38},
		{Title: "Status", Width: 10},
		{Title: "Retries", Width: 7},
		{Title: "Completed", Width: 10},
		{Title: "Error", Width: 40},
	}
	jt := table.New(
		table.WithColumns(columns),
		table.WithHeight(10),
		table.WithFocused(true),
	)
	return &Model{
		apiURL:  apiURL,
		journal: jt,
		theme:   NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.pollAll(),
		tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) pollAll() tea.Cmd {
	url := m.apiURL
	return tea.Batch(
		func() tea.Msg { return fetchHealth(url) },
		func() tea.Msg { return fetchQueue(url) },
		func() tea.Msg { return fetchGrants(url) },
		func() tea.Msg { return fetchJournal(url) },
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.pollAll()
		}
		var cmd tea.Cmd
		m.journal, cmd = m.journal.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(
			m.pollAll(),
			tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		)

	case healthMsg:
		m.health = msg
		m.connected = true
		m.lastCheck = time.Now()
		m.lastError = ""

	case queueMsg:
		m.counts = msg

	case grantsMsg:
		m.grants = msg

	case journalMsg:
		rows := make([]table.Row, 0, len(msg.Entries))
		for _, e := range msg.Entries {
			rows = append(rows, table.Row{
				e.ID,
				e.Status,
				fmt.Sprintf("%d", e.Retries),
				e.CompletedAt.Format("15:04:05"),
				e.LastError,
			})
		}
		m.journal.SetRows(rows)

	case errMsg:
		m.connected = false
		m.lastError = msg.Error()
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to scopegate..."
	}

	header := m.renderHeader()
	grants := m.renderGrants()
	journal := m.theme.Border.Render(m.journal.View())

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := m.theme.Dim.Render(" [q] Quit • [r] Refresh • [↑/↓] Journal")

	parts := []string{header, grants, journal}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	innerWidth := m.width - 4

	statusText := m.theme.StatusOK.Render("HEALTHY")
	if !m.connected {
		statusText = m.theme.StatusFailed.Render("DISCONNECTED")
	}

	uptime := formatDuration(time.Duration(m.health.UptimeSeconds) * time.Second)
	clock := m.theme.Dim.Render(time.Now().Format("15:04:05"))
	title := m.theme.Title.Render("SCOPEGATE WATCH")

	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  ⏱ %s  Pending: %d  Running: %d  Done: %d  Failed: %d",
		statusText,
		uptime,
		m.counts.Counts.Pending,
		m.counts.Counts.InProgress,
		m.counts.Counts.Completed,
		m.counts.Counts.Failed,
	)

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine)
	return m.theme.Border.Width(innerWidth).Render(content)
}

func (m Model) renderGrants() string {
	innerWidth := m.width - 4

	title := m.theme.Header.Render(" Active grants")
	if len(m.grants.Grants) == 0 {
		return m.theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, m.theme.Dim.Render("  none")),
		)
	}

	lines := []string{title}
	for _, g := range m.grants.Grants {
		lines = append(lines, fmt.Sprintf("  %s %s",
			m.theme.StatusRunning.Render(fmt.Sprintf("×%d", g.Count)),
			m.theme.Highlight.Render(g.Path),
		))
	}
	return m.theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, lines...),
	)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
