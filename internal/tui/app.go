package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stepwise-cli/stepwise/internal/models"
	"github.com/stepwise-cli/stepwise/internal/storage"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
)

// App is a read-only browser over the run history.
type App struct {
	store *storage.Storage

	view        View
	runs        []*models.Result
	selectedIdx int
	selectedRun *models.Result
	detail      viewport.Model

	width  int
	height int
	err    error
}

func NewApp(store *storage.Storage) *App {
	return &App{
		store: store,
		view:  ViewRunList,
	}
}

func (a *App) Init() tea.Cmd {
	return a.loadRuns
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.detail.Width = msg.Width
		a.detail.Height = msg.Height - 4
		return a, nil

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		return a, nil

	case runDetailMsg:
		a.err = msg.err
		if msg.err == nil {
			a.selectedRun = msg.run
			a.detail = viewport.New(a.width, a.height-4)
			a.detail.SetContent(a.renderDetail(msg.run))
			a.view = ViewRunDetail
		}
		return a, nil

	case runDeletedMsg:
		a.err = msg.err
		if a.selectedIdx >= len(a.runs)-1 && a.selectedIdx > 0 {
			a.selectedIdx--
		}
		return a, a.loadRuns
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	}
	return a, nil
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.loadRunDetail(a.runs[a.selectedIdx].RunID)
		}

	case "r":
		return a, a.loadRuns

	case "d":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.deleteRun(a.runs[a.selectedIdx].RunID)
		}
	}

	return a, nil
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selectedRun = nil
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.detail, cmd = a.detail.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("Stepwise") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No runs yet. Start one with: stepwise run <job-id>\n"
	} else {
		s += "Recent Runs\n"
		s += "───────────\n"

		for i, run := range a.runs {
			line := a.formatRunLine(run)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + dimStyle.Render(line)
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [d] delete  [r] refresh  [q] quit")

	return s
}

func (a *App) formatRunLine(run *models.Result) string {
	status := a.formatStatus(run.Status)
	age := a.formatAge(run.StartedAt)
	mode := ""
	if run.DryRun {
		mode = "dry"
	}
	return fmt.Sprintf("%-18s %s  %-6s %-4s %s", run.JobID, status, age, mode, run.RunID)
}

func (a *App) formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func (a *App) formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusSuccess:
		return statusSuccess.Render("✓ success")
	case models.RunStatusFailed:
		return statusFailed.Render("✗ failed")
	default:
		return string(status)
	}
}

func (a *App) viewRunDetail() string {
	if a.selectedRun == nil {
		return "No run selected"
	}

	header := titleStyle.Render("Run "+a.selectedRun.RunID) + "  " + a.formatStatus(a.selectedRun.Status)
	help := helpStyle.Render("[↑/↓] scroll  [esc] back  [q] quit")

	return header + "\n\n" + a.detail.View() + "\n" + help
}

func (a *App) renderDetail(run *models.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Job:"), run.JobID)
	if run.DryRun {
		fmt.Fprintf(&b, "%s dry run\n", labelStyle.Render("Mode:"))
	}
	if run.Error != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Error:"), statusFailed.Render(run.Error))
	}

	b.WriteString("\nSteps\n─────\n")

	if len(run.Steps) == 0 {
		b.WriteString("(no step outcomes recorded)\n")
	}

	for i, step := range run.Steps {
		icon := statusFailed.Render("✗")
		switch step.Status {
		case models.StepStatusSuccess:
			icon = statusSuccess.Render("✓")
		case models.StepStatusSkipped:
			icon = statusSkipped.Render("○")
		}

		fmt.Fprintf(&b, "%d. %-16s %s  %s\n", i+1, step.Step, icon, dimStyle.Render(step.Call))
		if step.Error != "" {
			fmt.Fprintf(&b, "   %s\n", statusFailed.Render(step.Error))
		}
		if len(step.Result) > 0 {
			keys := make([]string, 0, len(step.Result))
			for k := range step.Result {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "   %s %v\n", labelStyle.Render(k+":"), step.Result[k])
			}
		}
	}

	return b.String()
}

// Messages

type runsLoadedMsg struct {
	runs []*models.Result
	err  error
}

type runDetailMsg struct {
	run *models.Result
	err error
}

type runDeletedMsg struct {
	runID string
	err   error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	runs, err := a.store.ListRuns(20)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadRunDetail(runID string) tea.Cmd {
	return func() tea.Msg {
		run, err := a.store.GetRun(runID)
		return runDetailMsg{run: run, err: err}
	}
}

func (a *App) deleteRun(runID string) tea.Cmd {
	return func() tea.Msg {
		if err := a.store.DeleteRun(runID); err != nil {
			return runDeletedMsg{err: err}
		}
		return runDeletedMsg{runID: runID}
	}
}
