package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasmbridge/actor"
	"github.com/wippyai/wasmbridge/runtime"
	"github.com/wippyai/wasmbridge/scalar"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	importStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD580"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const interactiveSession = 1

// interactiveModel is a human actor: it issues calls and answers the
// module's import calls by hand.
type interactiveModel struct {
	err      error
	rt       *runtime.Runtime
	mb       *actor.Mailbox
	decls    map[int64]runtime.ImportDecl
	filename string
	result   string
	funcs    []runtime.FunctionExport
	inputs   []textinput.Model
	pending  []runtime.ImportCall
	imports  []runtime.ImportDecl
	selected int
	focusIdx int
	calls    int
	state    modelState
	loaded   bool
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateRunning
	stateReply
	stateShowResult
)

func newInteractiveModel(filename string, rt *runtime.Runtime, mb *actor.Mailbox, imports []runtime.ImportDecl) *interactiveModel {
	decls := make(map[int64]runtime.ImportDecl, len(imports))
	for _, d := range imports {
		decls[d.ID] = d
	}
	return &interactiveModel{
		filename: filename,
		rt:       rt,
		mb:       mb,
		imports:  imports,
		decls:    decls,
		state:    stateSelectFunc,
	}
}

type eventMsg struct {
	event runtime.Event
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.load, m.waitEvent)
}

func (m *interactiveModel) load() tea.Msg {
	m.rt.Load(runtime.LoadRequest{
		Session: interactiveSession,
		Token:   "load",
		Path:    m.filename,
		Imports: m.imports,
	})
	return nil
}

// waitEvent delivers the next runtime event to Update.
func (m *interactiveModel) waitEvent() tea.Msg {
	e, err := m.mb.Receive(context.Background())
	if err != nil {
		return nil
	}
	return eventMsg{event: e}
}

func (m *interactiveModel) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.rt.Close(ctx)
	m.mb.Close()
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.shutdown()
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs && m.state != stateReply {
				m.shutdown()
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					break
				}
				f := m.funcs[m.selected]
				m.prepareInputs(f.Signature.Params, "arg")
				if len(m.inputs) == 0 {
					m.startCall()
					return m, nil
				}
				m.state = stateInputArgs

			case stateInputArgs:
				m.startCall()
				return m, nil

			case stateReply:
				m.sendReply()

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if (m.state == stateInputArgs || m.state == stateReply) && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case eventMsg:
		m.handleEvent(msg.event)
		return m, m.waitEvent
	}

	if m.state == stateInputArgs || m.state == stateReply {
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

func (m *interactiveModel) handleEvent(e runtime.Event) {
	switch ev := e.(type) {
	case runtime.Ready:
		funcs, err := m.rt.ListFunctionExports(ev.Session)
		if err != nil {
			m.err = err
			return
		}
		m.funcs = funcs
		m.loaded = true

	case runtime.LoadFailed:
		m.err = ev.Err

	case runtime.ImportCall:
		m.pending = append(m.pending, ev)
		if m.state == stateRunning {
			m.promptReply()
		}

	case runtime.CallCompleted:
		parts := make([]string, len(ev.Results))
		for i, v := range ev.Results {
			parts[i] = v.String()
		}
		m.result = "(" + strings.Join(parts, ", ") + ")"
		m.err = nil
		m.state = stateShowResult

	case runtime.CallFailed:
		m.err = ev.Err
		m.state = stateShowResult
	}
}

func (m *interactiveModel) prepareInputs(types []scalar.Type, prefix string) {
	m.inputs = make([]textinput.Model, len(types))
	for i, t := range types {
		ti := textinput.New()
		ti.Placeholder = t.String()
		ti.Prompt = prefix + strconv.Itoa(i) + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func parseInputs(inputs []textinput.Model, types []scalar.Type) ([]scalar.Value, error) {
	vals := make([]scalar.Value, len(types))
	for i, t := range types {
		v, err := scalar.ParseValue(t, inputs[i].Value())
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// startCall queues the selected export. The outcome arrives as an event.
func (m *interactiveModel) startCall() {
	f := m.funcs[m.selected]
	args, err := parseInputs(m.inputs, f.Signature.Params)
	if err != nil {
		m.err = err
		m.state = stateShowResult
		return
	}
	m.calls++
	m.inputs = nil
	m.state = stateRunning
	m.rt.CallExport(interactiveSession, "call-"+strconv.Itoa(m.calls), f.Name, args)
}

// promptReply opens the reply form for the oldest pending import call.
func (m *interactiveModel) promptReply() {
	if len(m.pending) == 0 {
		return
	}
	call := m.pending[0]
	m.prepareInputs(m.decls[call.ImportID].Results, "result")
	m.state = stateReply
	if len(m.inputs) == 0 {
		m.sendReply()
	}
}

func (m *interactiveModel) sendReply() {
	call := m.pending[0]
	vals, err := parseInputs(m.inputs, m.decls[call.ImportID].Results)
	if err != nil {
		m.err = err
		return
	}
	m.err = nil
	if err := m.rt.ReplyToImport(call.Session, call.ImportID, vals); err != nil {
		m.err = err
	}
	m.pending = m.pending[1:]
	m.inputs = nil
	m.state = stateRunning
	m.promptReply()
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult && m.state != stateReply {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if !m.loaded {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Bridge"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + f.Name + f.Signature.String()))
			} else {
				b.WriteString("  " + m.formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.Name)))
		m.writeInputs(&b, f.Signature.Params)
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateRunning:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Running %s...\n", funcStyle.Render(f.Name)))

	case stateReply:
		call := m.pending[0]
		args := make([]string, len(call.Args))
		for i, v := range call.Args {
			args[i] = v.String()
		}
		b.WriteString(importStyle.Render(fmt.Sprintf("Import %d called with (%s)", call.ImportID, strings.Join(args, ", "))))
		b.WriteString("\n\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n\n")
		}
		m.writeInputs(&b, m.decls[call.ImportID].Results)
		b.WriteString(helpStyle.Render("tab next field • enter reply"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.Name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) writeInputs(b *strings.Builder, types []scalar.Type) {
	for i, input := range m.inputs {
		b.WriteString(input.View())
		b.WriteString(" ")
		b.WriteString(typeStyle.Render(types[i].String()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func (m *interactiveModel) formatFunc(f runtime.FunctionExport) string {
	params, results := f.Signature.Tags()
	for i, p := range params {
		params[i] = typeStyle.Render(p)
	}
	for i, r := range results {
		results[i] = typeStyle.Render(r)
	}
	out := funcStyle.Render(f.Name) + "(" + strings.Join(params, ", ") + ")"
	if len(results) > 0 {
		out += " -> " + strings.Join(results, ", ")
	}
	return out
}

func runInteractive(filename string, imports []runtime.ImportDecl, opts []runtime.Option) error {
	mb := actor.NewMailbox()
	rt, err := runtime.New(context.Background(), append(opts, runtime.WithNotifier(mb))...)
	if err != nil {
		return err
	}
	p := tea.NewProgram(newInteractiveModel(filename, rt, mb, imports), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
