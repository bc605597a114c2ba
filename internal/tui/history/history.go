package history

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"steadytls/internal/storage"
	"steadytls/internal/target"
	"steadytls/internal/tui/result"
	"steadytls/internal/tui/styles"
)

// Model browses stored runs. Enter opens the summary of the selected run,
// esc goes back, d deletes it.
type Model struct {
	Store *storage.Store
	Table table.Model
	Items []storage.HistoryItem

	Detail *result.Model
	Err    error

	Width  int
	Height int
}

func NewModel(store *storage.Store) Model {
	columns := []table.Column{
		{Title: "Time", Width: 20},
		{Title: "URL", Width: 36},
		{Title: "TLS", Width: 8},
		{Title: "VUs", Width: 5},
		{Title: "Reqs", Width: 8},
		{Title: "Err %", Width: 7},
		{Title: "P99 (ms)", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.ColorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.ColorPrimary)
	s.Selected = s.Selected.
		Foreground(styles.ColorBg).
		Background(styles.ColorPrimary).
		Bold(true)
	t.SetStyles(s)

	m := Model{
		Store: store,
		Table: t,
	}
	m.Refresh()
	return m
}

// Rows converts history items into table rows.
func Rows(items []storage.HistoryItem) []table.Row {
	rows := make([]table.Row, len(items))
	for i, item := range items {
		rows[i] = table.Row{
			item.Timestamp.Format(time.RFC822),
			item.Target.URL,
			target.VersionName(item.Target.TLSVersion),
			fmt.Sprintf("%d", item.Run.VUs),
			fmt.Sprintf("%d", item.Summary.Requests),
			fmt.Sprintf("%.1f", item.Summary.ErrorRate()),
			fmt.Sprintf("%.2f", float64(item.Summary.Get(99))/float64(time.Millisecond)),
		}
	}
	return rows
}

func (m *Model) Refresh() {
	items, err := m.Store.List()
	m.Items, m.Err = items, err
	m.Table.SetRows(Rows(items))
}

func (m Model) Selected() *storage.HistoryItem {
	i := m.Table.Cursor()
	if i < 0 || i >= len(m.Items) {
		return nil
	}
	return &m.Items[i]
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)
		m.Table.SetHeight(max(msg.Height-8, 5))

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "esc":
			m.Detail = nil
			return m, nil
		case "enter":
			if item := m.Selected(); item != nil {
				d := result.NewModel(fmt.Sprintf("Run %s  %s", item.ID, item.Target.URL), item.Summary)
				d.Note = item.Aborted
				m.Detail = &d
			}
			return m, nil
		case "d":
			if item := m.Selected(); item != nil && m.Detail == nil {
				m.Err = m.Store.Delete(item.ID)
				m.Refresh()
			}
			return m, nil
		}
	}

	if m.Detail == nil {
		m.Table, cmd = m.Table.Update(msg)
	}
	return m, cmd
}

func (m Model) View() string {
	if m.Detail != nil {
		return m.Detail.View() + "\n\n" + styles.RenderKey("esc", "back") + "   " + styles.RenderKey("q", "quit")
	}
	out := styles.Title.Render("📜 Run History") + "\n\n"
	if len(m.Items) == 0 {
		out += styles.Subtle.Render("No runs recorded yet.") + "\n"
	} else {
		out += styles.Box.Render(m.Table.View()) + "\n"
	}
	if m.Err != nil {
		out += styles.Error.Render(m.Err.Error()) + "\n"
	}
	return out + "\n" + styles.RenderKey("enter", "details") + "   " + styles.RenderKey("d", "delete") + "   " + styles.RenderKey("q", "quit")
}
