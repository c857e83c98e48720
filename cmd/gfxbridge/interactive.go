package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-gfx-bridge/callback"
	"github.com/wippyai/wasm-gfx-bridge/config"
	"github.com/wippyai/wasm-gfx-bridge/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	actionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const (
	logLines     = 8
	statsRefresh = 500 * time.Millisecond
)

type paramInfo struct {
	name    string
	witType wit.Type
}

// action is one thing the user can send to the running module.
type action struct {
	name   string
	params []paramInfo
	run    func(ctx context.Context, s *session, args []string) (string, error)
}

func i32Param(name string) paramInfo {
	return paramInfo{name: name, witType: callback.KindI32.WitType()}
}

// parseI32 reads args[i] as a closure i32 argument.
func parseI32(args []string, i int) (int32, error) {
	v, err := callback.Parse(callback.KindI32, args[i])
	if err != nil {
		return 0, err
	}
	return v.I32(), nil
}

var actions = []action{
	{
		name:   "resize",
		params: []paramInfo{i32Param("width"), i32Param("height")},
		run: func(ctx context.Context, s *session, args []string) (string, error) {
			w, err := parseI32(args, 0)
			if err != nil {
				return "", err
			}
			h, err := parseI32(args, 1)
			if err != nil {
				return "", err
			}
			if err := s.inst.Dispatch(ctx, runtime.EventResize(w, h)); err != nil {
				return "", err
			}
			return fmt.Sprintf("resize %dx%d sent to %d closures", w, h, len(s.inst.Subscribers(runtime.KindResize))), nil
		},
	},
	{
		name:   "input",
		params: []paramInfo{i32Param("code")},
		run: func(ctx context.Context, s *session, args []string) (string, error) {
			code, err := parseI32(args, 0)
			if err != nil {
				return "", err
			}
			if err := s.inst.Dispatch(ctx, runtime.EventInput(code)); err != nil {
				return "", err
			}
			return fmt.Sprintf("input %d sent to %d closures", code, len(s.inst.Subscribers(runtime.KindInput))), nil
		},
	},
	{
		name:   "message",
		params: []paramInfo{{name: "payload", witType: wit.String{}}},
		run: func(ctx context.Context, s *session, args []string) (string, error) {
			if err := s.inst.Deliver(ctx, []byte(args[0])); err != nil {
				return "", err
			}
			return fmt.Sprintf("message of %d bytes sent to %d closures", len(args[0]), len(s.inst.Subscribers(runtime.KindMessage))), nil
		},
	},
	{
		name: "replay",
		run: func(_ context.Context, s *session, _ []string) (string, error) {
			bundles, err := s.replay()
			if err != nil {
				return "", err
			}
			if len(bundles) == 0 {
				return "no finalized bundles", nil
			}
			var b strings.Builder
			for _, r := range bundles {
				fmt.Fprintf(&b, "bundle %d %q\n", r.handle, r.label)
				for _, c := range r.commands {
					fmt.Fprintf(&b, "  %s\n", formatCommand(c))
				}
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	},
}

type modelState int

const (
	stateSelectAction modelState = iota
	stateInputArgs
	stateShowResult
)

type interactiveModel struct {
	err      error
	ctx      context.Context
	cfg      *config.Config
	session  *session
	binary   []byte
	filename string
	result   string
	log      []string
	inputs   []textinput.Model
	stats    runtime.Stats
	width    int
	height   int
	selected int
	focusIdx int
	state    modelState
}

func newInteractiveModel(ctx context.Context, cfg *config.Config, filename string, binary []byte) *interactiveModel {
	return &interactiveModel{
		ctx:      ctx,
		cfg:      cfg,
		binary:   binary,
		filename: filename,
		state:    stateSelectAction,
	}
}

type loadedMsg struct {
	err     error
	session *session
}

type actionResultMsg struct {
	err    error
	name   string
	result string
}

type resizedMsg struct {
	err           error
	width, height int
}

type tickMsg struct{}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	s, err := openSession(m.ctx, m.cfg, zap.NewNop(), m.binary)
	if err != nil {
		return loadedMsg{err: err}
	}
	if err := s.connect(m.ctx); err != nil {
		s.close(m.ctx)
		return loadedMsg{err: err}
	}
	return loadedMsg{session: s}
}

func tick() tea.Cmd {
	return tea.Tick(statsRefresh, func(time.Time) tea.Msg { return tickMsg{} })
}

// resize dispatches a resize event unless the size is unchanged.
func (m *interactiveModel) resize(width, height int) tea.Cmd {
	if m.session == nil || (width == m.width && height == m.height) {
		return nil
	}
	m.width, m.height = width, height
	s, ctx := m.session, m.ctx
	return func() tea.Msg {
		return resizedMsg{err: s.resize(ctx, width, height), width: width, height: height}
	}
}

func (m *interactiveModel) logf(format string, args ...any) {
	m.log = append(m.log, time.Now().Format("15:04:05")+" "+fmt.Sprintf(format, args...))
	if len(m.log) > logLines {
		m.log = m.log[len(m.log)-logLines:]
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, m.quit()

		case "q":
			if m.state != stateInputArgs {
				return m, m.quit()
			}

		case "up", "k":
			if m.state == stateSelectAction && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectAction && m.selected < len(actions)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectAction:
				if m.session == nil {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.runAction()
				}
				m.state = stateInputArgs
				return m, nil

			case stateInputArgs:
				return m, m.runAction()

			case stateShowResult:
				m.state = stateSelectAction
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectAction
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectAction
				m.result = ""
				m.err = nil
			}
		}

	case tea.WindowSizeMsg:
		return m, m.resize(msg.Width, msg.Height)

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.stats = m.session.inst.Stats()
		m.logf("started %s, %d subscriptions", m.filename, m.stats.Subscriptions)
		if m.cfg.GatewayURL != "" {
			m.logf("relaying %s", m.cfg.GatewayURL)
		}
		cmds := []tea.Cmd{tick()}
		if w, h, ok := terminalSize(); ok {
			cmds = append(cmds, m.resize(w, h))
		}
		return m, tea.Batch(cmds...)

	case resizedMsg:
		if msg.err != nil {
			m.logf("resize %dx%d: %v", msg.width, msg.height, msg.err)
		} else {
			m.logf("resize %dx%d", msg.width, msg.height)
		}

	case actionResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		if msg.err != nil {
			m.logf("%s: %v", msg.name, msg.err)
		} else {
			m.logf("%s ok", msg.name)
		}

	case tickMsg:
		if m.session != nil {
			m.stats = m.session.inst.Stats()
		}
		return m, tick()
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) quit() tea.Cmd {
	if m.session != nil {
		m.session.close(context.WithoutCancel(m.ctx))
		m.session = nil
	}
	return tea.Quit
}

func (m *interactiveModel) prepareInputs() {
	a := actions[m.selected]
	m.inputs = make([]textinput.Model, len(a.params))
	for i, p := range a.params {
		ti := textinput.New()
		ti.Placeholder = witTypeStr(p.witType)
		ti.Prompt = p.name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) runAction() tea.Cmd {
	a, s, ctx := actions[m.selected], m.session, m.ctx
	args := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		args[i] = input.Value()
	}
	return func() tea.Msg {
		result, err := a.run(ctx, s, args)
		return actionResultMsg{err: err, name: a.name, result: result}
	}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.session == nil {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("gfxbridge"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n")
	b.WriteString(typeStyle.Render(fmt.Sprintf(
		"handles %d  closures %d  bundles %d  subscriptions %d  arena %d live  frames %d",
		m.stats.Handles, m.stats.Closures, m.stats.Bundles, m.stats.Subscriptions,
		m.stats.Arena.Live, m.session.received())))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectAction:
		b.WriteString("Select an event to send:\n\n")
		for i, a := range actions {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatAction(a)))
			} else {
				b.WriteString("  " + formatAction(a))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter send • q quit"))

	case stateInputArgs:
		a := actions[m.selected]
		b.WriteString(fmt.Sprintf("Sending %s\n\n", actionStyle.Render(a.name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(witTypeStr(a.params[i].witType)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter send • esc back"))

	case stateShowResult:
		a := actions[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", actionStyle.Render(a.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	if len(m.log) > 0 {
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render(strings.Join(m.log, "\n")))
	}
	return b.String()
}

func formatAction(a action) string {
	var params []string
	for _, p := range a.params {
		params = append(params, p.name+": "+typeStyle.Render(witTypeStr(p.witType)))
	}
	return actionStyle.Render(a.name) + "(" + strings.Join(params, ", ") + ")"
}

func witTypeStr(t wit.Type) string {
	switch t.(type) {
	case wit.S32:
		return "s32"
	case wit.S64:
		return "s64"
	case wit.U32:
		return "u32"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.String:
		return "string"
	default:
		return fmt.Sprintf("%T", t)
	}
}

func runInteractive(ctx context.Context, cfg *config.Config, filename string, binary []byte) error {
	m := newInteractiveModel(ctx, cfg, filename, binary)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if m.session != nil {
		m.session.close(context.WithoutCancel(ctx))
	}
	if stderrors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
