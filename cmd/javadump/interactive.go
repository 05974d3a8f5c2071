package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/graph"
	"github.com/jawatools/jawa/trace"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5F5FD7")).
			Padding(0, 1)

	methodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	descStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5F5FD7"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func runInteractive(path string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("interactive mode needs a terminal")
	}
	p := tea.NewProgram(newInteractiveModel(path), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type modelState int

const (
	stateSelectMethod modelState = iota
	stateShowMethod
)

type interactiveModel struct {
	err      error
	cf       *classfile.ClassFile
	filename string
	dump     string
	filter   textinput.Model
	methods  []*classfile.Member
	visible  []int
	selected int
	state    modelState
}

func newInteractiveModel(filename string) *interactiveModel {
	filter := textinput.New()
	filter.Placeholder = "filter methods"
	filter.Focus()
	return &interactiveModel{
		filename: filename,
		filter:   filter,
		state:    stateSelectMethod,
	}
}

type loadedMsg struct {
	err error
	cf  *classfile.ClassFile
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadClass
}

func (m *interactiveModel) loadClass() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	var v jerrors.Verifier
	cf, err := classfile.Read(data, &v)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{cf: cf}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		m.err = msg.err
		m.cf = msg.cf
		if m.cf != nil {
			m.methods = m.cf.Methods
			m.refilter()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			if m.state == stateShowMethod {
				m.state = stateSelectMethod
				return m, nil
			}
			return m, tea.Quit
		case "esc":
			if m.state == stateShowMethod {
				m.state = stateSelectMethod
				return m, nil
			}
			return m, tea.Quit
		case "up":
			if m.state == stateSelectMethod && m.selected > 0 {
				m.selected--
			}
			return m, nil
		case "down":
			if m.state == stateSelectMethod && m.selected < len(m.visible)-1 {
				m.selected++
			}
			return m, nil
		case "enter":
			if m.state == stateSelectMethod && len(m.visible) > 0 {
				m.showMethod(m.methods[m.visible[m.selected]])
				m.state = stateShowMethod
			}
			return m, nil
		}

		if m.state == stateSelectMethod {
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.refilter()
			return m, cmd
		}
	}
	return m, nil
}

func (m *interactiveModel) refilter() {
	needle := strings.ToLower(m.filter.Value())
	m.visible = m.visible[:0]
	for i, method := range m.methods {
		if needle == "" || strings.Contains(strings.ToLower(method.Name), needle) {
			m.visible = append(m.visible, i)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = 0
	}
}

func (m *interactiveModel) showMethod(method *classfile.Member) {
	code := method.Code()
	if code == nil {
		m.dump = "(no code)"
		return
	}

	var v jerrors.Verifier
	g, err := graph.Disassemble(code, m.cf.Pool, &v)
	if err != nil {
		m.dump = errorStyle.Render(err.Error())
		return
	}
	tr, err := trace.Run(g, frame.Method{
		Class:      string(m.cf.This.Name),
		Name:       method.Name,
		Descriptor: method.Descriptor,
		Static:     method.Static(),
	}, &v, trace.Options{})
	if err != nil {
		m.dump = errorStyle.Render(err.Error())
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "max_stack=%d max_locals=%d\n\n", tr.MaxStack, tr.MaxLocals)
	b.WriteString(formatCFG(g, tr))
	if v.Len() > 0 {
		b.WriteString("\n")
		for _, e := range v.Errors() {
			b.WriteString(errorStyle.Render(e.Error()))
			b.WriteString("\n")
		}
	}
	m.dump = b.String()
}

func (m *interactiveModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
	}
	if m.cf == nil {
		return "loading...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s (version %s)", m.cf.This.Name, m.cf.Version)))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectMethod:
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
		for row, i := range m.visible {
			method := m.methods[i]
			line := methodStyle.Render(method.Name) + descStyle.Render(method.Descriptor)
			if row == m.selected {
				line = selectedStyle.Render("> " + method.Name + method.Descriptor)
			} else {
				line = "  " + line
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("up/down: select  enter: disassemble  q: quit"))

	case stateShowMethod:
		method := m.methods[m.visible[m.selected]]
		b.WriteString(methodStyle.Render(method.Name + method.Descriptor))
		b.WriteString("\n\n")
		b.WriteString(m.dump)
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("esc: back  ctrl+c: quit"))
	}

	b.WriteString("\n")
	return b.String()
}
