package cli

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Table renders rows under fixed headers with go-pretty.
type Table struct {
	out     *Output
	meta    Meta
	headers []string
	rows    [][]any
	footer  []any
}

// AddRow appends a row. Cells are formatted with formatValue.
func (t *Table) AddRow(cells ...any) *Table {
	t.rows = append(t.rows, cells)
	return t
}

// Footer sets a summary row, such as ping statistics.
func (t *Table) Footer(cells ...any) *Table {
	t.footer = cells
	return t
}

func (t *Table) Render() error { return t.out.Render(t) }

func (t *Table) Meta() Meta { return t.meta }

func (t *Table) RenderText(w io.Writer) error {
	tw := t.writer()
	tw.SetStyle(table.StyleLight)
	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

// RenderJSON returns one object per row keyed by header. The footer is not
// included; JSON consumers compute their own summaries.
func (t *Table) RenderJSON() any {
	rows := make([]map[string]any, 0, len(t.rows))
	for _, row := range t.rows {
		obj := make(map[string]any, len(t.headers))
		for i, h := range t.headers {
			if i < len(row) {
				obj[toJSONKey(h)] = jsonValue(row[i])
			}
		}
		rows = append(rows, obj)
	}
	return rows
}

func (t *Table) RenderMarkdown(w io.Writer) error {
	_, err := io.WriteString(w, t.writer().RenderMarkdown()+"\n")
	return err
}

func (t *Table) writer() table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(t.row(stringsToAny(t.headers)))
	for _, r := range t.rows {
		tw.AppendRow(t.row(r))
	}
	if len(t.footer) > 0 {
		tw.AppendFooter(t.row(t.footer))
	}
	return tw
}

func (t *Table) row(cells []any) table.Row {
	r := make(table.Row, len(cells))
	for i, c := range cells {
		r[i] = formatValue(c)
	}
	return r
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// toJSONKey turns a header into a JSON key: "Unacked Receipts" becomes
// "unacked_receipts".
func toJSONKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
}
