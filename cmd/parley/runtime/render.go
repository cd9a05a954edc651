package runtime

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/parley/internal/history"
	"github.com/harunnryd/parley/internal/scenario"
	"github.com/harunnryd/parley/internal/session"
	"github.com/harunnryd/parley/internal/store"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

// Renderer formats session state for the terminal.
type Renderer struct {
	userStyle      lipgloss.Style
	assistantStyle lipgloss.Style
	systemStyle    lipgloss.Style
	warnStyle      lipgloss.Style
	errorStyle     lipgloss.Style
	headerStyle    lipgloss.Style
	cellStyle      lipgloss.Style
	oddRowStyle    lipgloss.Style
	evenRowStyle   lipgloss.Style
	borderStyle    lipgloss.Style
}

func NewRenderer() *Renderer {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &Renderer{
		userStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		assistantStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true),
		systemStyle:    lipgloss.NewStyle().Foreground(gray).Italic(true),
		warnStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		errorStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		cellStyle: lipgloss.NewStyle().
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (r *Renderer) Entry(e history.Entry) string {
	stamp := e.Timestamp.Local().Format(time.TimeOnly)
	switch e.Role {
	case history.RoleUser:
		return fmt.Sprintf("%s %s %s", stamp, r.userStyle.Render("you:"), e.Content)
	case history.RoleAssistant:
		return fmt.Sprintf("%s %s %s", stamp, r.assistantStyle.Render("prospect:"), e.Content)
	default:
		return fmt.Sprintf("%s %s", stamp, r.systemStyle.Render("· "+e.Content))
	}
}

func (r *Renderer) Notice(n session.Notice) string {
	switch n.Level {
	case session.NoticeError:
		return r.errorStyle.Render("error: " + n.Message)
	case session.NoticeWarning:
		return r.warnStyle.Render("warning: " + n.Message)
	default:
		return r.systemStyle.Render(n.Message)
	}
}

// Status renders the snapshot as a two-column table.
func (r *Renderer) Status(s session.Snapshot) string {
	t := r.keyValueTable()

	t.Row("State", s.State.String())
	if s.SessionID != "" {
		t.Row("Session", s.SessionID)
	}
	if s.Scenario != "" {
		t.Row("Scenario", s.Scenario)
	}
	t.Row("Speaking", yesNo(s.IsSpeaking))
	t.Row("Listening", yesNo(s.IsListening))
	t.Row("Duration", (time.Duration(s.SessionDurationSeconds) * time.Second).String())
	t.Row("Exchanges", strconv.Itoa(s.ExchangeCount))
	t.Row("Messages", fmt.Sprintf("%d (%d you / %d prospect)",
		s.Metrics.TotalMessages, s.Metrics.UserMessages, s.Metrics.AssistantMessages))
	t.Row("Tool calls", strconv.Itoa(s.Metrics.ToolCalls))
	if s.LastError != nil {
		t.Row("Last error", truncateString(s.LastError.Error(), 60))
	}

	return t.String()
}

func (r *Renderer) History(entries []history.Entry) string {
	if len(entries) == 0 {
		return r.systemStyle.Render("No conversation yet.")
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, r.Entry(e))
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) Scenarios(list []scenario.Scenario) string {
	if len(list) == 0 {
		return "No scenarios found"
	}

	t := r.listTable("ID", "Name", "Kind", "Persona", "Voice", "Adversarial")
	for _, sc := range list {
		t.Row(
			sc.ID,
			truncateString(sc.Name, 24),
			string(sc.Kind),
			truncateString(sc.Persona, 30),
			sc.Voice,
			yesNo(sc.Adversarial),
		)
	}
	return t.String()
}

func (r *Renderer) Sessions(list []store.SessionMeta) string {
	if len(list) == 0 {
		return "No sessions recorded"
	}

	t := r.listTable("ID", "Scenario", "Status", "Started", "Duration", "Exchanges")
	for _, m := range list {
		t.Row(
			m.ID,
			m.Scenario,
			string(m.Status),
			m.StartedAt.Local().Format(time.DateTime),
			(time.Duration(m.DurationSeconds) * time.Second).String(),
			strconv.Itoa(m.ExchangeCount),
		)
	}
	return t.String()
}

func (r *Renderer) Session(m store.SessionMeta) string {
	t := r.keyValueTable()
	t.Row("ID", m.ID)
	t.Row("Scenario", m.Scenario)
	t.Row("Status", string(m.Status))
	if m.Error != "" {
		t.Row("Error", truncateString(m.Error, 60))
	}
	t.Row("Started", m.StartedAt.Local().Format(time.DateTime))
	t.Row("Ended", m.EndedAt.Local().Format(time.DateTime))
	t.Row("Duration", (time.Duration(m.DurationSeconds) * time.Second).String())
	t.Row("Exchanges", strconv.Itoa(m.ExchangeCount))
	t.Row("Messages", strconv.Itoa(m.Messages))
	t.Row("Tool calls", strconv.Itoa(m.ToolCalls))
	if mood := m.Metadata["mood"]; mood != "" {
		t.Row("Mood", mood)
	}
	if obj := m.Metadata["hidden_objection"]; obj != "" {
		t.Row("Objection", truncateString(obj, 60))
	}
	return t.String()
}

func (r *Renderer) Transcript(entries []store.TranscriptEntry) string {
	converted := make([]history.Entry, 0, len(entries))
	for _, e := range entries {
		converted = append(converted, history.Entry{
			ID:        e.ID,
			Role:      history.Role(e.Role),
			Content:   e.Content,
			Timestamp: e.Timestamp,
			Kind:      history.Kind(e.Kind),
		})
	}
	return r.History(converted)
}

func (r *Renderer) listTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return r.headerStyle
			case row%2 == 0:
				return r.evenRowStyle
			default:
				return r.oddRowStyle
			}
		}).
		Headers(headers...)
}

func (r *Renderer) keyValueTable() *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return r.headerStyle
			}
			return r.cellStyle
		})
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
