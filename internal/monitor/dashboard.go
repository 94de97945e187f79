package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	taskprogress "github.com/fyrsmithlabs/taskrelay/internal/progress"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	logSize         = 6
)

// Source yields a task's updates in publish order. *publish.Subscription and
// *PollSource implement it.
type Source interface {
	Next(ctx context.Context) (taskprogress.Update, error)
}

// Model represents the BubbleTea task dashboard model
type Model struct {
	taskID   string
	source   Source
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	// staleAfter flags a task whose last update, heartbeat included, is older.
	staleAfter time.Duration

	started    time.Time
	now        time.Time
	lastUpdate time.Time
	state      TaskView
	err        error
	quitting   bool

	bar progress.Model
}

// TaskView holds what the dashboard knows about the task
type TaskView struct {
	Percentage float64
	Message    string
	Final      bool
	Progress   int
	Heartbeats int

	// Historical data for the sparkline (last N points)
	PercentageHistory []float64
	// Last messages, newest last
	Log []string
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	// Header style - bright cyan background, bold black text
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	// Section title style - bold bright cyan
	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	// Status styles with unicode symbols
	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard following taskID through source. interval
// drives the clock refresh; staleAfter is usually twice the heartbeat interval.
func NewModel(taskID string, source Source, interval, staleAfter time.Duration) Model {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return Model{
		taskID:     taskID,
		source:     source,
		ctx:        ctx,
		cancel:     cancel,
		interval:   interval,
		staleAfter: staleAfter,
		started:    now,
		now:        now,
		bar: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
		state: TaskView{
			PercentageHistory: make([]float64, 0, historySize),
		},
	}
}

// Err returns the error that stopped the stream, if any.
func (m Model) Err() error {
	return m.err
}

// Final reports whether the final update was received.
func (m Model) Final() bool {
	return m.state.Final
}

// statusBadge returns the task status badge
func (m Model) statusBadge() string {
	switch {
	case m.state.Final:
		return healthyStyle.Render("✓ FINISHED")
	case m.lastUpdate.IsZero():
		return dimStyle.Render("… WAITING")
	case m.staleAfter > 0 && m.now.Sub(m.lastUpdate) > m.staleAfter:
		return warningStyle.Render("⚠ STALE")
	default:
		return healthyStyle.Render("● RUNNING")
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func appendToLog(log []string, line string) []string {
	log = append(log, line)
	if len(log) > logSize {
		log = log[1:]
	}
	return log
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type updateMsg taskprogress.Update
type errMsg struct{ err error }

// Init starts the clock and the first read.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		waitForUpdate(m.ctx, m.source),
	)
}

// tick creates a tick command for the elapsed and staleness display
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForUpdate blocks on the next update from source.
func waitForUpdate(ctx context.Context, source Source) tea.Cmd {
	return func() tea.Msg {
		u, err := source.Next(ctx)
		if err != nil {
			return errMsg{err}
		}
		return updateMsg(u)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}

	case tickMsg:
		m.now = time.Time(msg)
		return m, tick(m.interval)

	case updateMsg:
		u := taskprogress.Update(msg)
		m.apply(u)
		if u.IsFinal {
			m.cancel()
			return m, tea.Quit
		}
		return m, waitForUpdate(m.ctx, m.source)

	case errMsg:
		if m.ctx.Err() != nil {
			return m, nil
		}
		m.err = msg.err
		m.cancel()
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) apply(u taskprogress.Update) {
	m.lastUpdate = time.Now()
	m.now = m.lastUpdate

	// Updates are monotonic on the wire; a poll racing a restart is not.
	if u.Percentage > m.state.Percentage {
		m.state.Percentage = u.Percentage
	}
	m.state.PercentageHistory = appendToHistory(m.state.PercentageHistory, m.state.Percentage)

	switch u.Kind() {
	case taskprogress.KindHeartbeat:
		m.state.Heartbeats++
	case taskprogress.KindFinal:
		m.state.Final = true
		m.state.Message = u.Message
		m.state.Log = appendToLog(m.state.Log, u.Message)
	default:
		m.state.Progress++
		if u.Message != m.state.Message {
			m.state.Log = appendToLog(m.state.Log, u.Message)
		}
		m.state.Message = u.Message
	}
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

// renderError renders the error view
func (m Model) renderError() string {
	header := headerStyle.Render(" taskrelay watch ")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Update stream failed") + "\n"
	content += "\n"
	content += dimStyle.Render("Task: ") + valueStyle.Render(m.taskID) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

// renderDashboard renders the main view with the progress bar and sparkline
func (m Model) renderDashboard() string {
	var content string

	header := headerStyle.Render(" taskrelay watch ")
	headerLine := fmt.Sprintf("%s   %s %s   %s %s",
		m.statusBadge(),
		dimStyle.Render("Task:"),
		valueStyle.Render(m.taskID),
		dimStyle.Render("Elapsed:"),
		valueStyle.Render(FormatDuration(m.now.Sub(m.started))))

	content += header + "\n"
	content += headerLine + "\n"

	content += "\n" + sectionStyle.Render("┃ Progress") + "\n"
	content += labelStyle.Render("  ") +
		m.bar.ViewAs(m.state.Percentage) +
		" " + valueStyle.Render(FormatPercentage(m.state.Percentage)) + "\n"
	content += labelStyle.Render("  Trend: ") + createSparkline(m.state.PercentageHistory) + "\n"
	content += labelStyle.Render("  Updates: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.state.Progress)) +
		dimStyle.Render("  heartbeats ") +
		valueStyle.Render(fmt.Sprintf("%d", m.state.Heartbeats)) +
		dimStyle.Render("  last ") +
		valueStyle.Render(FormatAge(m.lastUpdate, m.now)) + "\n"

	content += "\n" + sectionStyle.Render("┃ Activity") + "\n"
	if len(m.state.Log) == 0 {
		content += dimStyle.Render("  waiting for the first update") + "\n"
	}
	for _, line := range m.state.Log {
		content += "  " + strings.TrimSpace(line) + "\n"
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerStyle.Render(fmt.Sprintf("Refresh: %v", m.interval))
	content += "\n" + footer

	return containerStyle.Render(content)
}
