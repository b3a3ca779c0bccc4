package main

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/tutord/internal/ingest"
)

// Lipgloss styles for the ingest progress view
var (
	// Header style - bright cyan background, bold black text
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	// Label style - dim cyan
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	// Value style - bright white
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	// Dim style - for units and secondary info
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)
)

// Message types
type progressMsg ingest.ProgressEvent

type doneMsg struct {
	report ingest.Report
	err    error
}

// ingestModel renders live ingestion progress.
type ingestModel struct {
	prog progress.Model

	current string // chapter title being processed
	seq     int
	total   int
	chunks  int // chunks embedded so far
	failed  int // chapters that failed

	report   *ingest.Report
	err      error
	quitting bool
}

// newIngestModel creates the progress view model
func newIngestModel() ingestModel {
	return ingestModel{
		prog: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
	}
}

// Init initializes the model; progress arrives via Send, so no initial command.
func (m ingestModel) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m ingestModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case progressMsg:
		m.current = msg.ChapterTitle
		if m.current == "" {
			m.current = msg.ChapterID
		}
		m.seq = msg.Seq
		m.total = msg.Total
		m.chunks += msg.Chunks
		if msg.Err != nil {
			m.failed++
		}
		return m, nil

	case doneMsg:
		report := msg.report
		m.report = &report
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the progress display
func (m ingestModel) View() string {
	if m.quitting {
		return ""
	}

	header := headerStyle.Render(" tutord Ingest ")

	var content string
	content += header + "\n\n"

	if m.total == 0 {
		content += dimStyle.Render("Scanning content directory...") + "\n"
	} else {
		percent := float64(m.seq) / float64(m.total)
		content += m.prog.ViewAs(percent) + "\n\n"

		content += labelStyle.Render("Chapter: ") + valueStyle.Render(m.current) + "\n"
		content += labelStyle.Render("Progress: ") +
			valueStyle.Render(fmt.Sprintf("%d/%d", m.seq, m.total)) +
			dimStyle.Render(" chapters") + "\n"
		content += labelStyle.Render("Chunks: ") + valueStyle.Render(fmt.Sprintf("%d", m.chunks)) + "\n"

		if m.failed > 0 {
			content += labelStyle.Render("Failed: ") + errStyle.Render(fmt.Sprintf("%d", m.failed)) + "\n"
		} else {
			content += labelStyle.Render("Failed: ") + healthyStyle.Render("0") + "\n"
		}
	}

	content += footerStyle.Render("[q] abort")
	return content + "\n"
}
