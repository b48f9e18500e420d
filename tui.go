package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rosterchat/internal/node"
)

// Styles for the TUI
var (
	primaryColor    = lipgloss.Color("#7C3AED") // Purple
	accentColor     = lipgloss.Color("#10B981") // Green
	warningColor    = lipgloss.Color("#F59E0B") // Amber
	errorColor      = lipgloss.Color("#EF4444") // Red
	mutedColor      = lipgloss.Color("#6B7280") // Gray
	backgroundColor = lipgloss.Color("#1F2937") // Dark gray

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Background(backgroundColor).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	logStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Italic(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	outgoingStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	incomingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6"))

	timestampStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Faint(true)

	peerAliveStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	peerDeadStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

const peerPanelWidth = 30

// Quitting the window shuts the node down, which sends leave to every peer.
const keyHelp = "Ctrl+H toggles this help, Ctrl+C or Esc quits and notifies peers."

// entry is one line in the message pane.
type entry struct {
	at    time.Time
	chat  bool
	dir   node.Direction
	peer  string
	level node.Level
	text  string
}

type chatLineMsg entry
type logLineMsg entry

// tickMsg carries a fresh peer snapshot. The snapshot is taken in the tick
// goroutine: Status takes peer locks that the node may hold while it is
// sending to this program.
type tickMsg struct {
	at    time.Time
	peers []node.PeerStatus
}

// UI is the bubbletea model for the chat window.
type UI struct {
	self     string
	status   func() []node.PeerStatus
	dispatch func(string)

	entries  []entry
	peers    []node.PeerStatus
	viewport viewport.Model
	textarea textarea.Model
	ready    bool
	width    int
	height   int
	lastTick time.Time
	showHelp bool
}

// NewUI creates the TUI model. dispatch runs a command line; it is called
// off the UI goroutine.
func NewUI(self string, status func() []node.PeerStatus, dispatch func(string)) *UI {
	ta := textarea.New()
	ta.Placeholder = "Type a command, help for the list..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 500
	ta.SetWidth(80)
	ta.SetHeight(1)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent("")

	return &UI{
		self:     self,
		status:   status,
		dispatch: dispatch,
		viewport: vp,
		textarea: ta,
		lastTick: time.Now(),
	}
}

func (ui *UI) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, ui.tickCmd())
}

func (ui *UI) tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg{at: t, peers: ui.status()}
	})
}

func (ui *UI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	ui.textarea, tiCmd = ui.textarea.Update(msg)
	ui.viewport, vpCmd = ui.viewport.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return ui, tea.Quit

		case tea.KeyCtrlH:
			ui.showHelp = !ui.showHelp
			ui.updateViewport()
			return ui, nil

		case tea.KeyEnter:
			input := strings.TrimSpace(ui.textarea.Value())
			ui.textarea.Reset()
			if input == "" {
				return ui, nil
			}
			// Commands write back through the sink, which sends to this
			// program, so they must not run on the update goroutine.
			return ui, func() tea.Msg {
				ui.dispatch(input)
				return nil
			}
		}

	case tea.WindowSizeMsg:
		ui.width = msg.Width
		ui.height = msg.Height
		ui.ready = true

		headerHeight := 3
		footerHeight := 5
		statusBarHeight := 1
		ui.viewport.Width = ui.width - peerPanelWidth - 5
		ui.viewport.Height = ui.height - headerHeight - footerHeight - statusBarHeight
		ui.textarea.SetWidth(ui.width - 4)
		ui.updateViewport()

	case chatLineMsg:
		ui.addEntry(entry(msg))

	case logLineMsg:
		ui.addEntry(entry(msg))

	case tickMsg:
		ui.peers = msg.peers
		ui.lastTick = msg.at
		return ui, ui.tickCmd()
	}

	return ui, tea.Batch(tiCmd, vpCmd)
}

func (ui *UI) addEntry(e entry) {
	ui.entries = append(ui.entries, e)
	ui.updateViewport()
	ui.viewport.GotoBottom()
}

func (ui *UI) updateViewport() {
	var content strings.Builder
	if ui.showHelp {
		content.WriteString(strings.Join(helpLines, "\n"))
		content.WriteString("\n\n" + keyHelp + "\n")
	} else {
		for _, e := range ui.entries {
			content.WriteString(renderEntry(e))
			content.WriteString("\n")
		}
	}
	ui.viewport.SetContent(content.String())
}

func renderEntry(e entry) string {
	ts := timestampStyle.Render(e.at.Format("15:04:05"))

	if e.chat {
		if e.dir == node.Outgoing {
			return fmt.Sprintf("%s %s %s", ts, outgoingStyle.Render("> "+e.peer), e.text)
		}
		return fmt.Sprintf("%s %s %s", ts, incomingStyle.Render(e.peer), e.text)
	}

	style := logStyle
	switch e.level {
	case node.LevelNotice:
		style = noticeStyle
	case node.LevelError, node.LevelCritical:
		style = errorStyle
	}
	return fmt.Sprintf("%s %s", ts, style.Render(formatLog(e.level, e.text)))
}

func (ui *UI) View() string {
	if !ui.ready {
		return "\n  Starting rosterchat...\n"
	}

	header := headerStyle.Render("rosterchat - " + ui.self)

	messagePanel := panelStyle.Width(ui.width - peerPanelWidth - 5).Height(ui.viewport.Height + 2).Render(
		fmt.Sprintf("Messages\n%s", ui.viewport.View()))

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, messagePanel, ui.renderPeerPanel())

	inputArea := inputStyle.Width(ui.width - 4).Render(
		fmt.Sprintf("Input (Ctrl+H for help)\n%s", ui.textarea.View()))

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		mainContent,
		ui.renderStatusBar(),
		inputArea,
	)
}

func (ui *UI) renderPeerPanel() string {
	var content strings.Builder

	content.WriteString("Peers\n")
	content.WriteString(strings.Repeat("─", peerPanelWidth-2) + "\n")

	for _, p := range ui.peers {
		dot := peerDeadStyle.Render("●")
		if p.Alive {
			dot = peerAliveStyle.Render("●")
		}
		content.WriteString(fmt.Sprintf("  %s %s%s\n", dot, p.ID, sessionMarks(p)))
	}

	panelHeight := ui.viewport.Height + 2
	for i := len(ui.peers) + 2; i < panelHeight; i++ {
		content.WriteString("\n")
	}

	return panelStyle.Width(peerPanelWidth).Height(panelHeight).Render(content.String())
}

func (ui *UI) renderStatusBar() string {
	alive := 0
	for _, p := range ui.peers {
		if p.Alive {
			alive++
		}
	}

	left := fmt.Sprintf("Node: %s", ui.self)
	right := fmt.Sprintf("Alive: %d/%d | %s", alive, len(ui.peers), ui.lastTick.Format("15:04:05"))

	spacing := max(0, ui.width-4-lipgloss.Width(left)-lipgloss.Width(right))
	return statusBarStyle.Width(ui.width - 4).Render(left + strings.Repeat(" ", spacing) + right)
}

// tuiSink forwards node output into the running program.
type tuiSink struct {
	p *tea.Program
}

func (s tuiSink) ChatMessage(dir node.Direction, peerID, text string) {
	s.p.Send(chatLineMsg{at: time.Now(), chat: true, dir: dir, peer: peerID, text: text})
}

func (s tuiSink) Log(level node.Level, text string) {
	s.p.Send(logLineMsg{at: time.Now(), level: level, text: text})
}
