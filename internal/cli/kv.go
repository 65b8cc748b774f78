package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// KV renders ordered key-value pairs.
type KV struct {
	out   *Output
	meta  Meta
	pairs []kvPair
}

type kvPair struct {
	key   string
	value any
}

// Set appends a pair. Keys keep insertion order in every format.
func (k *KV) Set(key string, value any) *KV {
	k.pairs = append(k.pairs, kvPair{key: key, value: value})
	return k
}

func (k *KV) Render() error { return k.out.Render(k) }

func (k *KV) Meta() Meta { return k.meta }

// RenderText writes aligned "key: value" lines without borders.
func (k *KV) RenderText(w io.Writer) error {
	if len(k.pairs) == 0 {
		return nil
	}
	_, err := io.WriteString(w, pairsWriter(k.pairs, "").Render()+"\n")
	return err
}

func (k *KV) RenderJSON() any {
	return pairsJSON(k.pairs)
}

func (k *KV) RenderMarkdown(w io.Writer) error {
	for _, p := range k.pairs {
		if _, err := fmt.Fprintf(w, "**%s:** %s\n\n", p.key, markdownValue(p.value)); err != nil {
			return err
		}
	}
	return nil
}

func pairsWriter(pairs []kvPair, indent string) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	opts := &tw.Style().Options
	opts.DrawBorder = false
	opts.SeparateColumns = false
	opts.SeparateRows = false
	opts.SeparateHeader = false
	for _, p := range pairs {
		tw.AppendRow(table.Row{indent + p.key + ":", formatValue(p.value)})
	}
	return tw
}

func pairsJSON(pairs []kvPair) map[string]any {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		out[toJSONKey(p.key)] = jsonValue(p.value)
	}
	return out
}

// formatValue renders a cell for text output. Durations are rounded to
// what a person reads off a ping table.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		if x == "" {
			return "-"
		}
		return x
	case time.Duration:
		return roundDuration(x).String()
	case time.Time:
		if x.IsZero() {
			return "-"
		}
		return x.Format(time.RFC3339)
	case error:
		return x.Error()
	default:
		return fmt.Sprint(v)
	}
}

// jsonValue keeps numbers numeric. Durations become milliseconds.
func jsonValue(v any) any {
	switch x := v.(type) {
	case time.Duration:
		return float64(x.Microseconds()) / 1000
	case time.Time:
		return x
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}

// markdownValue code-formats identifiers so JIDs and ids survive rendering.
func markdownValue(v any) string {
	s := formatValue(v)
	if strings.ContainsAny(s, "@/:") && !strings.Contains(s, " ") {
		return "`" + s + "`"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

func roundDuration(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond)
	default:
		return d.Round(time.Microsecond)
	}
}
