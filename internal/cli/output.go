// Package cli holds the plumbing shared by courier commands: config and
// runtime setup, transport selection and output rendering.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat parses a format name. Unknown names mean text.
func ParseFormat(s string) Format {
	switch s {
	case "json":
		return FormatJSON
	case "markdown", "md":
		return FormatMarkdown
	default:
		return FormatText
	}
}

// Meta describes a rendered result. It becomes the JSON envelope's meta
// field and the markdown frontmatter.
type Meta struct {
	Type      string    `json:"type" yaml:"type"`
	Server    string    `json:"server,omitempty" yaml:"server,omitempty"`
	Generated time.Time `json:"generated" yaml:"generated"`
}

// NewMeta creates metadata stamped with the current time.
func NewMeta(resultType string) Meta {
	return Meta{Type: resultType, Generated: time.Now().UTC()}
}

// Renderable can render itself in every format.
type Renderable interface {
	Meta() Meta
	RenderText(w io.Writer) error
	RenderJSON() any
	RenderMarkdown(w io.Writer) error
}

// Output renders command results in one format.
type Output struct {
	format Format
	server string
	w      io.Writer
}

// NewOutput creates an output renderer writing to w.
func NewOutput(format Format, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// ViperGetter is the subset of viper.Viper we need.
type ViperGetter interface {
	GetString(key string) string
}

// NewOutputFromViper creates a stdout renderer using the "output" key.
func NewOutputFromViper(v ViperGetter) *Output {
	return NewOutput(ParseFormat(v.GetString("output")), os.Stdout)
}

// ForServer stamps every result's metadata with the server address.
func (o *Output) ForServer(addr string) *Output {
	o.server = addr
	return o
}

func (o *Output) Format() Format { return o.format }

// Writer returns the destination, for commands that draw their own output.
func (o *Output) Writer() io.Writer { return o.w }

func (o *Output) meta(resultType string) Meta {
	m := NewMeta(resultType)
	m.Server = o.server
	return m
}

// Table starts a table result.
func (o *Output) Table(resultType string, headers ...string) *Table {
	return &Table{out: o, meta: o.meta(resultType), headers: headers}
}

// KV starts a key-value result.
func (o *Output) KV(resultType string) *KV {
	return &KV{out: o, meta: o.meta(resultType)}
}

// Result starts a one-line result with details.
func (o *Output) Result(resultType, message string) *Result {
	return &Result{out: o, meta: o.meta(resultType), message: message}
}

// Error starts an error result.
func (o *Output) Error(resultType string, err error) *Error {
	return &Error{out: o, meta: o.meta(resultType + "-error"), err: err}
}

// Line writes one record of a long-running command. JSON output is a
// compact object per line with no envelope, so it can be piped into jq.
// Other formats print text.
func (o *Output) Line(text string, record any) error {
	if o.format == FormatJSON {
		return json.NewEncoder(o.w).Encode(record)
	}
	_, err := fmt.Fprintln(o.w, text)
	return err
}

// Render writes r in the configured format.
func (o *Output) Render(r Renderable) error {
	switch o.format {
	case FormatJSON:
		return o.renderJSON(r)
	case FormatMarkdown:
		return o.renderMarkdown(r)
	default:
		return r.RenderText(o.w)
	}
}

func (o *Output) renderJSON(r Renderable) error {
	envelope := struct {
		Meta Meta `json:"meta"`
		Data any  `json:"data"`
	}{
		Meta: r.Meta(),
		Data: r.RenderJSON(),
	}

	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope)
}

func (o *Output) renderMarkdown(r Renderable) error {
	if _, err := fmt.Fprintln(o.w, "---"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(o.w)
	enc.SetIndent(2)
	if err := enc.Encode(r.Meta()); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if _, err := fmt.Fprint(o.w, "---\n\n"); err != nil {
		return err
	}
	return r.RenderMarkdown(o.w)
}
