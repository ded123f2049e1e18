// Package tui is the operator dashboard for mixctl: a bubbletea program
// that polls the Catalog for job-queue depth and mashup status and renders
// them as a live-refreshing table.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/infinitymix/engine/internal/domain"
)

// backlogCeiling is the pending-job count the backlog bar treats as "full".
// Past this point the pipeline is falling behind regardless of the exact
// number, so the bar is more useful saturated than precise.
const backlogCeiling = 20

// Snapshot is one poll's worth of pipeline state, assembled by the caller
// from Catalog queries so this package stays free of storage details.
type Snapshot struct {
	PendingByKind map[domain.JobKind]int
	Mashups       []MashupRow
	PolledAt      time.Time
}

// MashupRow is one row of the mashup table.
type MashupRow struct {
	ID     string
	Name   string
	Status domain.MashupStatus
}

// PollFunc fetches the latest Snapshot; the Model calls it on every tick.
type PollFunc func() (Snapshot, error)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	statusColors = map[domain.MashupStatus]string{
		domain.MashupPending:    "3",
		domain.MashupGenerating: "6",
		domain.MashupCompleted:  "10",
		domain.MashupFailed:     "1",
	}
	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

const pollInterval = 2 * time.Second

type tickMsg time.Time

type snapshotMsg struct {
	snap Snapshot
	err  error
}

// Model is the bubbletea program state for the dashboard.
type Model struct {
	poll     PollFunc
	snap     Snapshot
	err      error
	quitting bool
	backlog  progress.Model
}

// New builds a Model that polls poll every 2 seconds.
func New(poll PollFunc) Model {
	return Model{poll: poll, backlog: progress.New(progress.WithDefaultGradient())}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.poll()
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.backlog.Width = msg.Width - 10
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
		}
		return m, nil
	}
	return m, nil
}

func (m Model) totalPending() int {
	total := 0
	for _, n := range m.snap.PendingByKind {
		total += n
	}
	return total
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("infinitymix — pipeline status") + "\n\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("poll failed: "+m.err.Error()) + "\n")
	}

	b.WriteString(labelStyle.Render("queue depth") + "\n")
	for _, kind := range []domain.JobKind{domain.JobAnalyze, domain.JobSeparate, domain.JobPlan, domain.JobRender} {
		b.WriteString(fmt.Sprintf("  %s%s\n", labelStyle.Render(padKind(kind)), valueStyle.Render(fmt.Sprintf("%d", m.snap.PendingByKind[kind]))))
	}

	fraction := float64(m.totalPending()) / float64(backlogCeiling)
	if fraction > 1 {
		fraction = 1
	}
	b.WriteString("\n" + labelStyle.Render("backlog") + "\n  " + m.backlog.ViewAs(fraction) + "\n")

	b.WriteString("\n" + labelStyle.Render("mashups") + "\n")
	if len(m.snap.Mashups) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, row := range m.snap.Mashups {
		color := statusColors[row.Status]
		if color == "" {
			color = "8"
		}
		statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		b.WriteString(fmt.Sprintf("  %-36s %-20s %s\n", row.ID, row.Name, statusStyle.Render(string(row.Status))))
	}

	b.WriteString("\n" + labelStyle.Render("last polled: ") + valueStyle.Render(m.snap.PolledAt.Format(time.Kitchen)))
	b.WriteString("\n" + labelStyle.Render("press q to quit"))
	return b.String()
}

func padKind(kind domain.JobKind) string {
	return fmt.Sprintf("%-10s", string(kind))
}
