package commands

import (
	"context"
	"errors"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/glamour"
)

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#79C0FF")).Bold(true)
	systemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	statusStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#1F2937")).
			Foreground(lipgloss.Color("#D1D5DB")).
			Padding(0, 1)
)

// chromeHeight is the status line plus the input line.
const chromeHeight = 2

// replyMsg ends a turn started from the input.
type replyMsg struct {
	content string
	err     error
}

// skillEnteredMsg reports the assistant now handling a session's turn.
type skillEnteredMsg struct {
	session string
	skill   string
}

// chatModel is the full-screen chat: transcript, status line, input.
type chatModel struct {
	ctx  context.Context
	chat *chatSession

	input    textinput.Model
	view     viewport.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer

	blocks []string
	skill  string
	busy   bool
	width  int
}

func newChatModel(ctx context.Context, chat *chatSession, width int) *chatModel {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Ask about your dbt project, /help for commands"

	m := &chatModel{
		ctx:   ctx,
		chat:  chat,
		input: input,
		view:  viewport.New(viewport.WithWidth(width), viewport.WithHeight(20)),
		spin:  spinner.New(spinner.WithSpinner(spinner.MiniDot)),
	}
	m.resize(width, 20+chromeHeight)
	m.system("session: " + chat.id + " (type /help for commands)")
	return m
}

func (m *chatModel) Init() tea.Cmd {
	return m.input.Focus()
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		case "enter":
			return m, m.submit()
		}

	case replyMsg:
		m.busy = false
		m.skill = ""
		switch {
		case errors.Is(msg.err, context.Canceled):
			return m, tea.Quit
		case msg.err != nil:
			m.push(errorStyle.Render("error: " + msg.err.Error()))
		default:
			m.push(m.markdown(msg.content))
			if needsApproval(msg.content) {
				m.system(approveHint)
			}
		}
		return m, m.input.Focus()

	case skillEnteredMsg:
		if m.busy && msg.session == m.chat.id {
			m.skill = msg.skill
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles the input line: a slash command runs at once, anything
// else starts a turn in the background.
func (m *chatModel) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if m.busy || text == "" {
		return nil
	}
	m.input.Reset()

	if strings.HasPrefix(text, "/") {
		out, quit, err := m.chat.command(m.ctx, text)
		if quit {
			return tea.Quit
		}
		if err != nil {
			m.push(errorStyle.Render("error: " + err.Error()))
			return nil
		}
		m.system(out)
		return nil
	}

	m.push(userStyle.Render("> ") + text)
	m.busy = true
	m.input.Blur()

	ctx, chat, id := m.ctx, m.chat, m.chat.id
	turn := func() tea.Msg {
		reply, err := chat.send(ctx, id, text)
		return replyMsg{content: reply, err: err}
	}
	return tea.Batch(turn, m.spin.Tick)
}

func (m *chatModel) View() tea.View {
	v := tea.NewView(lipgloss.JoinVertical(lipgloss.Left,
		m.view.View(),
		statusStyle.Width(m.width).Render(m.statusLine()),
		m.input.View(),
	))
	v.AltScreen = true
	return v
}

// statusLine names the session and, during a turn, the assistant on it.
func (m *chatModel) statusLine() string {
	status := "session " + m.chat.id
	if !m.busy {
		return status
	}
	working := "working"
	if m.skill != "" {
		working = m.skill
	}
	return m.spin.View() + " " + working + " | " + status
}

func (m *chatModel) resize(width, height int) {
	m.width = width
	m.view.SetWidth(width)
	m.view.SetHeight(max(height-chromeHeight, 3))
	m.input.SetWidth(max(width-len(m.input.Prompt)-1, 10))
	m.renderer = markdownRenderer(max(width-4, 20))
	m.refresh()
}

func (m *chatModel) push(block string) {
	m.blocks = append(m.blocks, block)
	m.refresh()
}

func (m *chatModel) system(text string) {
	m.push(systemStyle.Render(text))
}

func (m *chatModel) refresh() {
	m.view.SetContent(strings.Join(m.blocks, "\n\n"))
	m.view.GotoBottom()
}

func (m *chatModel) markdown(content string) string {
	if m.renderer != nil {
		if out, err := m.renderer.Render(content); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return content
}
