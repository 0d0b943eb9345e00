package cli

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/shareingest/internal/service"
)

const pollInterval = 500 * time.Millisecond

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Warning: lipgloss.Color("#FFAF00"), // amber
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// jobSource is the part of the ingest service the UI needs.
type jobSource interface {
	GetStatus(jobID string) (service.Job, error)
	RequestStop(jobID string) error
}

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries the updated job data
type jobUpdateMsg struct {
	job service.Job
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	source   jobSource
	jobID    string
	job      *service.Job
	progress progress.Model
	theme    Theme
	done     bool
	stopping bool
	aborted  bool
	err      error
}

// newProgressModel creates a new progress model.
func newProgressModel(source jobSource, jobID string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		source:   source,
		jobID:    jobID,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchJob(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Second press stops waiting for the batch boundary.
			if m.stopping {
				m.aborted = true
				m.done = true
				return m, tea.Quit
			}
			m.stopping = true
			if err := m.source.RequestStop(m.jobID); err != nil {
				m.err = err
				m.done = true
				return m, tea.Quit
			}
			return m, nil
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		job := msg.job
		m.job = &job

		if job.Status.IsTerminal() {
			m.done = true
			if job.Status == service.JobStatusFailed {
				m.err = fmt.Errorf("%s", resultText(job))
			}
			return m, tea.Quit
		}

		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.job == nil {
		return "Connecting to share...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	bar := m.progress.ViewAs(m.job.Progress / 100)

	s := m.job.Stats
	counts := fmt.Sprintf("batch %d/%d  %d/%d files", s.BatchesDone, s.Batches, s.Transferred, s.Total)
	if s.Failed > 0 || s.Trashed > 0 {
		counts += m.theme.warningStyle().Render(fmt.Sprintf("  %d failed  %d trashed", s.Failed, s.Trashed))
	}

	hint := m.theme.hintStyle().Render("Press q to stop after the current batch")
	if m.stopping {
		hint = m.theme.warningStyle().Render("Stopping after the current batch... press q again to quit now")
	}

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.aborted {
		return m.theme.hintStyle().Render(fmt.Sprintf(
			"\nStopped waiting for job %s. Finished batches are checkpointed; re-run to continue.\n", m.jobID))
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}
	if m.job == nil {
		return ""
	}
	return renderSummary(m.theme, *m.job)
}

// renderSummary formats a terminal job for the console.
func renderSummary(theme Theme, job service.Job) string {
	var b strings.Builder
	switch job.Status {
	case service.JobStatusCompleted:
		b.WriteString(theme.completedStyle().Render("✓ Completed"))
	case service.JobStatusInterrupted:
		b.WriteString(theme.warningStyle().Render("■ Interrupted"))
	default:
		b.WriteString(theme.errorStyle().Render("✗ " + string(job.Status)))
	}
	b.WriteString("  " + resultText(job) + "\n\n")

	s := job.Stats
	fmt.Fprintf(&b, "  Files pending:     %d\n", s.Total)
	fmt.Fprintf(&b, "  Files transferred: %d\n", s.Transferred)
	fmt.Fprintf(&b, "  Batches:           %d/%d\n", s.BatchesDone, s.Batches)
	if s.Failed > 0 {
		b.WriteString(theme.errorStyle().Render(fmt.Sprintf("  Failed:            %d", s.Failed)) + "\n")
	}
	if s.Trashed > 0 {
		b.WriteString(theme.warningStyle().Render(fmt.Sprintf("  Trashed:           %d", s.Trashed)) + "\n")
	}
	if s.TimedOut > 0 {
		b.WriteString(theme.warningStyle().Render(fmt.Sprintf("  Batch timeouts:    %d", s.TimedOut)) + "\n")
	}
	return b.String()
}

func resultText(job service.Job) string {
	if job.Result == nil {
		return "no result recorded"
	}
	return *job.Result
}

// fetchJob reads the job from the in-process registry.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		job, err := m.source.GetStatus(m.jobID)
		return jobUpdateMsg{job: job, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunJobProgress runs the interactive progress UI until the job reaches a
// terminal status or the user quits twice. The returned job is the last
// observed state.
func RunJobProgress(source jobSource, jobID string) (*service.Job, bool, error) {
	model := newProgressModel(source, jobID)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return nil, false, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(progressModel)
	if !ok {
		return nil, false, nil
	}
	if m.err != nil {
		return m.job, m.aborted, m.err
	}
	return m.job, m.aborted, nil
}
