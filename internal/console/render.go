package console

import (
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"schedform/internal/schedule"
	"schedform/internal/storage"
)

const emptyCell = "-"

// RenderTable writes entries as a pipe table. Incomplete rows are marked
// with "!" in the first column.
func RenderTable(w io.Writer, entries []schedule.Entry) {
	renderTable(w, entries)
}

func renderTable(w io.Writer, entries []schedule.Entry) {
	header := []string{" ", "Key", "Start Date", "End Date", "Channel", "Location"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		mark := " "
		if !e.Complete() {
			mark = "!"
		}
		rows = append(rows, []string{mark, strconv.Itoa(e.Key), dateCell(e.StartDate), dateCell(e.EndDate), e.Channel, e.Location})
	}
	writeTable(w, header, rows)
}

func renderAudit(w io.Writer, entries []storage.AuditEntry) {
	header := []string{"At", "Op", "Action", "Count", "Result", "Took"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		result := "ok"
		if !e.OK {
			result = "failed: " + e.Error
		}
		op := e.Op
		if len(op) > 8 {
			op = op[:8]
		}
		if op == "" {
			op = emptyCell
		}
		rows = append(rows, []string{
			e.At.Format("2006-01-02 15:04:05"),
			op,
			e.Action,
			strconv.Itoa(e.Count),
			result,
			strconv.FormatInt(e.TookMS, 10) + "ms",
		})
	}
	writeTable(w, header, rows)
}

func dateCell(d *schedule.Date) string {
	if d == nil {
		return emptyCell
	}
	return d.String()
}

// writeTable renders a markdown-style pipe table. Styles come from a
// renderer bound to w, so piped output carries no escape codes.
func writeTable(w io.Writer, header []string, rows [][]string) {
	cell := lipgloss.NewRenderer(w).NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.MarkdownBorder()).
		BorderTop(false).
		BorderBottom(false).
		Headers(header...).
		Rows(rows...).
		StyleFunc(func(_, _ int) lipgloss.Style { return cell })

	out := t.Render() + "\n"
	if len(rows) == 0 {
		out += "(no schedules)\n"
	}
	_, _ = io.WriteString(w, out)
}
