package main

import (
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var appStyle = lipgloss.NewStyle().Padding(1, 2)

// consoleItem is one selectable console name. Filtering uses the name
// itself, so "/" narrows the list with fuzzy matching.
type consoleItem string

func (c consoleItem) Title() string       { return string(c) }
func (c consoleItem) Description() string { return "" }
func (c consoleItem) FilterValue() string { return string(c) }

// pickerModel wraps a bubbles list; choice carries the selected console
// name out of the program (empty when the operator quit).
type pickerModel struct {
	list   list.Model
	choice string
}

func newPicker(names []string) pickerModel {
	items := make([]list.Item, len(names))
	for i, name := range names {
		items[i] = consoleItem(name)
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false

	l := list.New(items, delegate, 48, 20)
	l.Title = "conman consoles"
	l.SetShowStatusBar(false)
	l.Styles.Title = lipgloss.NewStyle().
		Background(lipgloss.Color("62")).
		Foreground(lipgloss.Color("230")).
		Padding(0, 1)

	return pickerModel{list: l}
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h, v := appStyle.GetFrameSize()
		m.list.SetSize(msg.Width-h, msg.Height-v)

	case tea.KeyMsg:
		// Keys typed into the filter prompt belong to the list.
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(consoleItem); ok {
				m.choice = string(item)
			}
			return m, tea.Quit
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m pickerModel) View() string {
	return appStyle.Render(m.list.View())
}
