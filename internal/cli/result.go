package cli

import (
	"fmt"
	"io"
)

// Result is a one-line message with ordered details.
type Result struct {
	out     *Output
	meta    Meta
	message string
	details []kvPair
}

// With appends a detail.
func (r *Result) With(key string, value any) *Result {
	r.details = append(r.details, kvPair{key: key, value: value})
	return r
}

func (r *Result) Render() error { return r.out.Render(r) }

func (r *Result) Meta() Meta { return r.meta }

func (r *Result) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintln(w, r.message); err != nil {
		return err
	}
	if len(r.details) == 0 {
		return nil
	}
	_, err := io.WriteString(w, pairsWriter(r.details, "  ").Render()+"\n")
	return err
}

func (r *Result) RenderJSON() any {
	out := pairsJSON(r.details)
	out["message"] = r.message
	return out
}

func (r *Result) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "**%s**\n\n", r.message); err != nil {
		return err
	}
	for _, d := range r.details {
		if _, err := fmt.Fprintf(w, "- **%s:** %s\n", d.key, markdownValue(d.value)); err != nil {
			return err
		}
	}
	return nil
}

// Error is a structured error result. Server errors keep their condition as
// the code.
type Error struct {
	out     *Output
	meta    Meta
	err     error
	code    string
	details []kvPair
}

// WithCode sets an error code such as a stanza error condition.
func (e *Error) WithCode(code string) *Error {
	e.code = code
	return e
}

// With appends a detail.
func (e *Error) With(key string, value any) *Error {
	e.details = append(e.details, kvPair{key: key, value: value})
	return e
}

func (e *Error) Render() error { return e.out.Render(e) }

func (e *Error) Meta() Meta { return e.meta }

func (e *Error) headline() string {
	if e.code != "" {
		return fmt.Sprintf("Error [%s]: %v", e.code, e.err)
	}
	return fmt.Sprintf("Error: %v", e.err)
}

func (e *Error) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintln(w, e.headline()); err != nil {
		return err
	}
	for _, d := range e.details {
		if _, err := fmt.Fprintf(w, "  %s: %s\n", d.key, formatValue(d.value)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Error) RenderJSON() any {
	out := pairsJSON(e.details)
	out["error"] = e.err.Error()
	if e.code != "" {
		out["code"] = e.code
	}
	return out
}

func (e *Error) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "> **%s**\n", e.headline()); err != nil {
		return err
	}
	if len(e.details) > 0 {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	for _, d := range e.details {
		if _, err := fmt.Fprintf(w, "- %s: %s\n", d.key, markdownValue(d.value)); err != nil {
			return err
		}
	}
	return nil
}
