package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/opcore/engine"
	"github.com/wippyai/opcore/marshal"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	opStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
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

// NewExploreCommand creates the explore command.
func NewExploreCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "explore",
		Short: "Call ops interactively",
		Long: `Explore lists the op table and calls ops with arguments written as Lua
expressions. Resources created by one call stay open for the next, so a
store opened with op_kv_open can be used by id afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return NewExitError(ExitCommandError, "explore needs a terminal")
			}
			cfg, err := opts.LoadConfig()
			if err != nil {
				return err
			}
			p := tea.NewProgram(newExploreModel(func(out *bytes.Buffer) (*runtime.Runtime, error) {
				return runtime.New(cfg, runtime.WithLogger(zap.NewNop()), runtime.WithStdio(out, out))
			}), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}

type exploreModel struct {
	err      error
	open     func(*bytes.Buffer) (*runtime.Runtime, error)
	rt       *runtime.Runtime
	output   *bytes.Buffer
	result   callResult
	ops      []op.Entry
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type modelState int

const (
	stateSelectOp modelState = iota
	stateInputArgs
	stateShowResult
)

func newExploreModel(open func(*bytes.Buffer) (*runtime.Runtime, error)) *exploreModel {
	return &exploreModel{open: open, output: &bytes.Buffer{}, state: stateSelectOp}
}

type loadedMsg struct {
	err error
	rt  *runtime.Runtime
}

// callResult is what one op call produced.
type callResult struct {
	Value    string
	Error    string
	Printed  string
	Resource int
}

type callResultMsg struct {
	err    error
	result callResult
}

func (m *exploreModel) Init() tea.Cmd {
	return m.load
}

func (m *exploreModel) load() tea.Msg {
	rt, err := m.open(m.output)
	return loadedMsg{rt: rt, err: err}
}

func (m *exploreModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, m.quit()

		case "q":
			if m.state != stateInputArgs {
				return m, m.quit()
			}

		case "up":
			if m.state == stateSelectOp && m.selected > 0 {
				m.selected--
			}

		case "down":
			if m.state == stateSelectOp && m.selected < len(m.ops)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectOp:
				if len(m.ops) > 0 {
					m.prepareInputs()
					m.state = stateInputArgs
				}
				return m, nil

			case stateInputArgs:
				return m, m.callOp

			case stateShowResult:
				m.state = stateSelectOp
				m.result = callResult{}
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectOp
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectOp
				m.result = callResult{}
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt
		m.ops = msg.rt.Ops()
		sort.SliceStable(m.ops, func(i, j int) bool { return m.ops[i].Name < m.ops[j].Name })

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
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

func (m *exploreModel) quit() tea.Cmd {
	if m.rt != nil {
		m.rt.Close()
	}
	return tea.Quit
}

func (m *exploreModel) prepareInputs() {
	m.inputs = make([]textinput.Model, 2)
	for i, name := range []string{"a", "b"} {
		ti := textinput.New()
		ti.Placeholder = "nil"
		ti.Prompt = name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *exploreModel) callOp() tea.Msg {
	if m.rt == nil {
		return callResultMsg{err: fmt.Errorf("runtime not loaded")}
	}
	res, err := callOp(context.Background(), m.rt, m.ops[m.selected], m.inputs[0].Value(), m.inputs[1].Value())
	res.Printed = m.output.String()
	m.output.Reset()
	return callResultMsg{result: res, err: err}
}

// callOp calls e with a and b evaluated as Lua expressions. Async ops are
// awaited. An empty expression passes nil.
func callOp(ctx context.Context, rt *runtime.Runtime, e op.Entry, a, b string) (callResult, error) {
	call := fmt.Sprintf("core.opSync(%q, (%s), (%s))", e.Name, exprOrNil(a), exprOrNil(b))
	if e.Kind == op.KindAsync {
		call = fmt.Sprintf("core.await(core.opAsync(%q, (%s), (%s)))", e.Name, exprOrNil(a), exprOrNil(b))
	}
	src := "explore_value, explore_error = " + call

	L := rt.VM().L
	L.SetGlobal("explore_value", lua.LNil)
	L.SetGlobal("explore_error", lua.LNil)
	if err := rt.Run(ctx, "explore", src); err != nil {
		return callResult{}, err
	}

	res := callResult{
		Value:    describe(engine.ToGo(L.GetGlobal("explore_value"))),
		Resource: len(rt.Resources()),
	}
	if errv := L.GetGlobal("explore_error"); errv != lua.LNil {
		res.Error = L.ToStringMeta(errv).String()
	}
	return res, nil
}

func exprOrNil(expr string) string {
	if strings.TrimSpace(expr) == "" {
		return "nil"
	}
	return expr
}

func describe(v any) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case *marshal.Buffer:
		return fmt.Sprintf("Buffer(%d) %q", v.Len(), v.Bytes())
	case float64:
		return fmt.Sprintf("%g", v)
	case string:
		return fmt.Sprintf("%q", v)
	default:
		var b bytes.Buffer
		if err := writeJSON(&b, v); err != nil {
			return fmt.Sprintf("%v", v)
		}
		return strings.TrimSpace(b.String())
	}
}

func (m *exploreModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.rt == nil {
		return "Starting runtime..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("opcore explorer"))
	fmt.Fprintf(&b, " %d ops\n\n", len(m.ops))

	switch m.state {
	case stateSelectOp:
		b.WriteString("Select an op to call:\n\n")
		for i, e := range m.ops {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatOp(e)))
			} else {
				b.WriteString("  " + formatOp(e))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		e := m.ops[m.selected]
		fmt.Fprintf(&b, "Calling %s\n\n", opStyle.Render(e.Name))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("Lua expressions • tab next field • enter call • esc back"))

	case stateShowResult:
		e := m.ops[m.selected]
		fmt.Fprintf(&b, "Result of %s:\n\n", opStyle.Render(e.Name))
		switch {
		case m.err != nil:
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		case m.result.Error != "":
			b.WriteString(errorStyle.Render(m.result.Error))
		default:
			b.WriteString(resultStyle.Render(m.result.Value))
		}
		if m.result.Printed != "" {
			b.WriteString("\n\n")
			b.WriteString(m.result.Printed)
		}
		fmt.Fprintf(&b, "\n\n%d open resources\n\n", m.result.Resource)
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func formatOp(e op.Entry) string {
	return fmt.Sprintf("%3d %s %s", e.ID, kindStyle.Render(fmt.Sprintf("%-5s", e.Kind)), opStyle.Render(e.Name))
}
