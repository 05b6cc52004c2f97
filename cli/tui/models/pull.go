package models

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/compozy/ragpipe/cli/tui/styles"
)

const progressWidth = 50

// PullProgressMsg carries one progress update from the model download.
type PullProgressMsg struct {
	Status    string
	Completed int64
	Total     int64
}

// PullDoneMsg ends the download, successfully when Err is nil.
type PullDoneMsg struct {
	Err error
}

// PullModel renders a progress bar while Ollama downloads a model.
type PullModel struct {
	name    string
	status  string
	percent float64
	bar     progress.Model
	err     error
	done    bool
}

func NewPullModel(name string) PullModel {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(progressWidth))
	return PullModel{name: name, status: "starting", bar: bar}
}

func (m PullModel) Init() tea.Cmd {
	return nil
}

func (m PullModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case PullProgressMsg:
		m.status = msg.Status
		if msg.Total > 0 {
			m.percent = float64(msg.Completed) / float64(msg.Total)
		}
		return m, nil
	case PullDoneMsg:
		m.done = true
		m.err = msg.Err
		if msg.Err == nil {
			m.percent = 1
		}
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m PullModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", styles.Title.Render("Pulling"), m.name)
	b.WriteString(m.bar.ViewAs(m.percent))
	b.WriteString("\n")
	switch {
	case m.err != nil:
		b.WriteString(styles.Failure.Render(m.err.Error()))
	case m.done:
		b.WriteString(styles.Success.Render("done"))
	default:
		b.WriteString(styles.Subtle.Render(m.status))
	}
	b.WriteString("\n")
	return b.String()
}

// Err is the download error once the model has finished.
func (m PullModel) Err() error {
	return m.err
}

// Percent reports the fraction downloaded.
func (m PullModel) Percent() float64 {
	return m.percent
}
