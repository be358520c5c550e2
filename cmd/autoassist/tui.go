package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nstogner/autoassist/pkg/config"
	"github.com/nstogner/autoassist/pkg/runner"
	"github.com/nstogner/autoassist/pkg/store"
)

func newTUICmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Chat with assistants in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			f, err := cfg.OpenLogFile()
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer f.Close()
			cfg.SetupLogging(f)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := loadApp(ctx, flags, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			r := a.newRunner()
			go func() {
				if err := r.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("Runner stopped", "error", err)
				}
			}()

			p := tea.NewProgram(initialModel(ctx, a.store, r), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	senderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
	warningStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
)

type state int

const (
	stateSelectingAssistant state = iota
	stateChatting
	stateConfirmReset
)

type errMsg struct{ err error }
type runnerErrorMsg struct{ err error }
type warningMsg struct{ err error }
type storeEventMsg int64
type assistantMsg store.Assistant
type assistantsMsg []store.Assistant
type requestDoneMsg struct{}

type model struct {
	ctx     context.Context
	store   store.AgentStore
	runner  *runner.Runner
	updates <-chan int64

	state      state
	assistants []store.Assistant
	current    *store.Assistant
	cursor     int
	listOffset int
	width      int
	height     int
	busy       bool
	err        error
	warning    string

	viewport viewport.Model
	textarea textarea.Model
	renderer *glamour.TermRenderer
}

func initialModel(ctx context.Context, s store.AgentStore, r *runner.Runner) model {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Prompt = "┃ "
	ta.CharLimit = 4000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)

	// "light" avoids terminal queries that leak into input.
	rd, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	var updates <-chan int64
	if w, ok := s.(store.Watcher); ok {
		updates = w.Subscribe()
	}

	return model{
		ctx:      ctx,
		store:    s,
		runner:   r,
		updates:  updates,
		state:    stateSelectingAssistant,
		viewport: vp,
		textarea: ta,
		renderer: rd,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.loadAssistants(),
		waitForStoreEvent(m.updates),
		waitForAssistant(m.runner.Updates),
		waitForWarning(m.runner.Warnings),
		waitForRunnerError(m.runner.ErrorChan),
	)
}

func (m model) maxViewable() int {
	n := m.height - 7
	if n < 1 {
		n = 1
	}
	return n
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Keys only reach the textarea while chatting so list navigation does not type.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = msg.Height - m.textarea.Height() - 4
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(m.width-4),
		)
		if m.cursor >= m.listOffset+m.maxViewable() {
			m.listOffset = m.cursor - m.maxViewable() + 1
		}
		if m.current != nil {
			m.render()
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEsc:
			switch m.state {
			case stateConfirmReset:
				m.state = stateChatting
			case stateChatting:
				m.leaveChat()
				return m, m.loadAssistants()
			default:
				return m, tea.Quit
			}
			return m, nil
		case tea.KeyEnter:
			switch m.state {
			case stateSelectingAssistant:
				if m.cursor < len(m.assistants) {
					return m.enterChat(m.assistants[m.cursor]), nil
				}
			case stateChatting:
				m.err = nil
				return m.submit()
			}
		case tea.KeyUp:
			if m.state == stateSelectingAssistant && m.cursor > 0 {
				m.cursor--
				if m.cursor < m.listOffset {
					m.listOffset = m.cursor
				}
			}
		case tea.KeyDown:
			if m.state == stateSelectingAssistant && m.cursor < len(m.assistants)-1 {
				m.cursor++
				if m.cursor >= m.listOffset+m.maxViewable() {
					m.listOffset = m.cursor - m.maxViewable() + 1
				}
			}
		default:
			if m.state == stateConfirmReset {
				switch msg.String() {
				case "y", "Y":
					m.state = stateChatting
					return m, m.resetCmd(m.current.ID)
				case "n", "N":
					m.state = stateChatting
				}
			}
		}

	case assistantsMsg:
		m.assistants = msg
		if m.cursor >= len(m.assistants) {
			m.cursor = 0
			m.listOffset = 0
		}

	case storeEventMsg:
		slog.Debug("TUI received store event", "assistantID", int64(msg))
		cmds = append(cmds, waitForStoreEvent(m.updates))
		if m.state == stateSelectingAssistant {
			cmds = append(cmds, m.loadAssistants())
		} else if m.current != nil && m.current.ID == int64(msg) {
			cmds = append(cmds, m.reloadCurrent())
		}

	case assistantMsg:
		a := store.Assistant(msg)
		if m.current != nil && m.current.ID == a.ID {
			m.current = &a
			m.render()
		}
		cmds = append(cmds, waitForAssistant(m.runner.Updates))

	case requestDoneMsg:
		m.busy = false
		if m.current != nil {
			m.render()
		}

	case warningMsg:
		m.warning = msg.err.Error()
		cmds = append(cmds, waitForWarning(m.runner.Warnings))

	case runnerErrorMsg:
		slog.Debug("TUI received runner error", "error", msg.err)
		m.err = msg.err
		cmds = append(cmds, waitForRunnerError(m.runner.ErrorChan))

	case errMsg:
		m.busy = false
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	var notices []string
	if m.warning != "" {
		notices = append(notices, warningStyle.Width(m.width).Render("Warning: "+m.warning))
	}
	if m.err != nil {
		notices = append(notices, errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err)))
	}
	noticeView := lipgloss.JoinVertical(lipgloss.Left, notices...)

	switch m.state {
	case stateSelectingAssistant:
		header := titleStyle.Render("Select Assistant")

		start := m.listOffset
		end := start + m.maxViewable()
		if end > len(m.assistants) {
			end = len(m.assistants)
		}
		var optionsView []string
		for i := start; i < end; i++ {
			a := m.assistants[i]
			cursor := " "
			line := fmt.Sprintf("%s (%d messages)", a.Title, len(a.Messages))
			if a.Summary != "" {
				line += statusStyle.Render(" " + a.Summary)
			}
			if m.cursor == i {
				cursor = ">"
				line = selectedItemStyle.Render(line)
			}
			optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
		}
		list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
		footer := "Press Enter to select, Esc to quit."
		return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, noticeView)

	case stateConfirmReset:
		return lipgloss.JoinVertical(
			lipgloss.Left,
			titleStyle.Render("Confirm Reset"),
			"",
			fmt.Sprintf("Clear the conversation with %s? (y/n)", m.current.Title),
			"Generated images are deleted as well.",
			noticeView,
		)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render(m.current.Title),
		statusStyle.Render(m.statusLine()),
		m.viewport.View(),
		noticeView,
		m.textarea.View(),
	)
}

func (m model) statusLine() string {
	var parts []string
	if m.current.IsAutoAssist() {
		sess := m.runner.Session()
		mode := "off"
		if m.runner.AgentMode() {
			mode = "on"
		}
		parts = append(parts, fmt.Sprintf("state: %s", sess.State), fmt.Sprintf("agent mode: %s", mode))
	} else if m.current.EnableAPI {
		parts = append(parts, fmt.Sprintf("APIs: %d", len(m.current.APIConfigs)))
	}
	if m.busy {
		parts = append(parts, "thinking...")
	}
	parts = append(parts, "/help for commands")
	return strings.Join(parts, " | ")
}

// Actions

func (m model) enterChat(a store.Assistant) model {
	m.current = &a
	m.state = stateChatting
	m.err = nil
	m.warning = ""
	m.textarea.Reset()
	m.textarea.Focus()
	m.render()
	return m
}

func (m *model) leaveChat() {
	m.current = nil
	m.state = stateSelectingAssistant
	m.textarea.Blur()
}

func (m model) submit() (model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" {
		return m, nil
	}
	m.textarea.Reset()

	c, err := parseInput(v)
	if err != nil {
		m.err = err
		return m, nil
	}
	id := m.current.ID

	switch c.kind {
	case cmdExit:
		m.leaveChat()
		return m, m.loadAssistants()
	case cmdHelp:
		m.viewport.SetContent(helpText)
		return m, nil
	case cmdReset:
		m.state = stateConfirmReset
		return m, nil
	case cmdAgent:
		m.runner.SetAgentMode(!m.runner.AgentMode())
		return m, nil
	case cmdEdit:
		m.busy = true
		r, ctx := m.runner, m.ctx
		return m, func() tea.Msg {
			if err := r.Edit(ctx, id, c.index, c.text); err != nil {
				return errMsg{err}
			}
			return requestDoneMsg{}
		}
	}

	m.busy = true
	done, err := m.runner.Submit(runner.Message{
		AssistantID: id,
		Text:        c.text,
		Attachments: c.attachments,
		APIs:        c.apis,
	})
	if err != nil {
		m.busy = false
		m.err = err
		return m, nil
	}
	return m, func() tea.Msg {
		// Failures arrive on the runner's error channel.
		<-done
		return requestDoneMsg{}
	}
}

func (m model) resetCmd(id int64) tea.Cmd {
	r, ctx, s := m.runner, m.ctx, m.store
	return func() tea.Msg {
		if err := r.Reset(ctx, id); err != nil {
			return errMsg{err}
		}
		a, err := store.Get(ctx, s, id)
		if err != nil {
			return errMsg{err}
		}
		return assistantMsg(a)
	}
}

func (m model) loadAssistants() tea.Cmd {
	ctx, s := m.ctx, m.store
	return func() tea.Msg {
		all, err := s.LoadAll(ctx)
		if err != nil {
			return errMsg{err}
		}
		return assistantsMsg(all)
	}
}

func (m model) reloadCurrent() tea.Cmd {
	ctx, s, id := m.ctx, m.store, m.current.ID
	return func() tea.Msg {
		a, err := store.Get(ctx, s, id)
		if err != nil {
			return errMsg{err}
		}
		return assistantMsg(a)
	}
}

// render writes the current conversation into the viewport.
func (m *model) render() {
	var sb strings.Builder
	for i, msg := range m.current.Messages {
		content := msg.Content
		if m.renderer != nil {
			if rendered, err := m.renderer.Render(content); err == nil {
				content = rendered
			}
		}
		if msg.Role == store.RoleUser {
			sb.WriteString(userStyle.Render(fmt.Sprintf("[%d] User: ", i)))
		} else {
			sb.WriteString(senderStyle.Render(fmt.Sprintf("[%d] %s: ", i, m.current.Title)))
		}
		sb.WriteString("\n")
		sb.WriteString(content)
		if msg.ImagePath != "" {
			sb.WriteString(statusStyle.Render("  image: " + msg.ImagePath))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if len(m.current.Messages) == 0 {
		sb.WriteString(statusStyle.Render("No messages yet."))
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func waitForStoreEvent(ch <-chan int64) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		id, ok := <-ch
		if !ok {
			return nil
		}
		return storeEventMsg(id)
	}
}

func waitForAssistant(ch <-chan store.Assistant) tea.Cmd {
	return func() tea.Msg {
		a, ok := <-ch
		if !ok {
			return nil
		}
		return assistantMsg(a)
	}
}

func waitForWarning(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		err, ok := <-ch
		if !ok {
			return nil
		}
		return warningMsg{err}
	}
}

func waitForRunnerError(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		err, ok := <-ch
		if !ok {
			return nil
		}
		return runnerErrorMsg{err}
	}
}

// Input commands

type cmdKind int

const (
	cmdSend cmdKind = iota
	cmdExit
	cmdHelp
	cmdReset
	cmdAgent
	cmdEdit
)

const helpText = `Commands:

  /exit                        back to the assistant list
  /reset                       clear this conversation
  /agent                       toggle AutoAssist agent mode
  /edit <index> <text>         replace a user message and continue from there
  /attach <path,...> <text>    send files from the upload directory
  /api <name,...> <text>       call the named APIs regardless of triggers
  /help                        show this help`

type input struct {
	kind        cmdKind
	text        string
	index       int
	attachments []string
	apis        []string
}

// parseInput interprets a line typed into the chat box.
func parseInput(v string) (input, error) {
	if !strings.HasPrefix(v, "/") {
		return input{kind: cmdSend, text: v}, nil
	}
	name, rest, _ := strings.Cut(v, " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "/exit":
		return input{kind: cmdExit}, nil
	case "/help":
		return input{kind: cmdHelp}, nil
	case "/reset":
		return input{kind: cmdReset}, nil
	case "/agent":
		return input{kind: cmdAgent}, nil
	case "/edit":
		idx, text, _ := strings.Cut(rest, " ")
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return input{}, fmt.Errorf("usage: /edit <index> <text>")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return input{}, fmt.Errorf("usage: /edit <index> <text>")
		}
		return input{kind: cmdEdit, index: n, text: text}, nil
	case "/attach", "/api":
		list, text, _ := strings.Cut(rest, " ")
		items := splitList(list)
		if len(items) == 0 {
			return input{}, fmt.Errorf("usage: %s <name,...> <text>", name)
		}
		in := input{kind: cmdSend, text: strings.TrimSpace(text)}
		if name == "/attach" {
			in.attachments = items
		} else {
			in.apis = items
			if in.text == "" {
				return input{}, fmt.Errorf("usage: /api <name,...> <text>")
			}
		}
		return in, nil
	}
	return input{}, fmt.Errorf("unknown command %s, try /help", name)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
