package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashbert/nestor/internal/agent"
	"github.com/ashbert/nestor/internal/config"
)

func chatCmd(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	altScreen := fs.Bool("alt-screen", true, "Use the terminal alternate screen")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}
	go s.agent.RunJanitor(ctx, agent.DefaultJanitorInterval)

	m := newChatModel(ctx, s.agent.Service(), s.userID, s.displayName)
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if *altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	_, runErr := tea.NewProgram(m, opts...).Run()
	if cerr := s.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", cerr)
	}
	if runErr != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "chat fatal error: %v\n", runErr)
		os.Exit(1)
	}
}

type chatEntry struct {
	fromUser bool
	text     string
}

type replyMsg struct {
	text string
	quit bool
}

type chatTheme struct {
	header    lipgloss.Style
	panel     lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	body      lipgloss.Style
	status    lipgloss.Style
	help      lipgloss.Style
}

func newChatTheme() chatTheme {
	gold := lipgloss.Color("#e0b050")
	blue := lipgloss.Color("#7aa2f7")
	muted := lipgloss.Color("#8a8fa8")
	return chatTheme{
		header: lipgloss.NewStyle().Bold(true).Foreground(gold).Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		user:      lipgloss.NewStyle().Bold(true).Foreground(blue),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(gold),
		body:      lipgloss.NewStyle(),
		status:    lipgloss.NewStyle().Foreground(muted),
		help:      lipgloss.NewStyle().Foreground(muted).Italic(true),
	}
}

type chatModel struct {
	ctx         context.Context
	conv        conversation
	userID      int64
	displayName string

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    chatTheme

	entries  []chatEntry
	inflight bool
	width    int
	height   int
}

func newChatModel(ctx context.Context, conv conversation, userID int64, displayName string) chatModel {
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Placeholder = "Write to Nestor. /today, /week, /confirm <code>, /cancel, /quit"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return chatModel{
		ctx:         ctx,
		conv:        conv,
		userID:      userID,
		displayName: displayName,
		input:       input,
		timeline:    viewport.New(0, 0),
		spinner:     sp,
		theme:       newChatTheme(),
		entries:     []chatEntry{{text: startText}},
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m chatModel) sendCmd(line string) tea.Cmd {
	ctx, conv, userID, name := m.ctx, m.conv, m.userID, m.displayName
	return func() tea.Msg {
		reply, quit := dispatch(ctx, conv, userID, name, line)
		return replyMsg{text: reply, quit: quit}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case replyMsg:
		m.inflight = false
		if msg.text != "" {
			m.entries = append(m.entries, chatEntry{text: msg.text})
		}
		m.render()
		if msg.quit {
			return m, tea.Quit
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" || m.inflight {
				return m, nil
			}
			m.input.Reset()
			m.inflight = true
			m.entries = append(m.entries, chatEntry{fromUser: true, text: line})
			m.render()
			return m, m.sendCmd(line)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *chatModel) resize() {
	w := maxInt(20, m.width-4)
	// header, input panel (3 rows) and status line
	h := maxInt(3, m.height-7)
	m.timeline.Width = w
	m.timeline.Height = h
	m.input.Width = maxInt(10, w-4)
	m.render()
}

func (m *chatModel) render() {
	width := maxInt(20, m.timeline.Width)
	var sb strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if e.fromUser {
			sb.WriteString(m.theme.user.Render(m.displayName))
		} else {
			sb.WriteString(m.theme.assistant.Render("Nestor"))
		}
		sb.WriteString("\n")
		sb.WriteString(m.theme.body.Width(width).Render(e.text))
	}
	m.timeline.SetContent(sb.String())
	m.timeline.GotoBottom()
}

func (m chatModel) View() string {
	header := m.theme.header.Render("Nestor")
	status := m.theme.help.Render("Enter to send · PgUp/PgDn to scroll · Esc to quit")
	if m.inflight {
		status = m.theme.status.Render(m.spinner.View() + " thinking...")
	}
	input := m.theme.panel.Width(maxInt(20, m.width-4)).Render(m.input.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, m.timeline.View(), input, status)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
