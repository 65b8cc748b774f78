// Package cel classifies inbound stanzas with CEL expressions.
package cel

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/gezibash/courier/pkg/stanza"
)

// DefaultAckExpression marks messages that carry an id as needing an ack.
const DefaultAckExpression = `name == "message" && id != ""`

// Filter is a compiled CEL expression evaluated against stanza attributes.
//
// Declared variables:
//
//	name, namespace, id, from, to  string
//	stanza_type                    string, the type attribute
//	attrs                          map(string, string)
//	children                       list(string) of child element names
//
// type is a CEL builtin, hence stanza_type.
type Filter struct {
	expr    string
	program cel.Program
}

// Compile parses, type-checks and compiles expr. The expression must
// evaluate to a bool.
func Compile(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("namespace", cel.StringType),
		cel.Variable("id", cel.StringType),
		cel.Variable("stanza_type", cel.StringType),
		cel.Variable("from", cel.StringType),
		cel.Variable("to", cel.StringType),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("children", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("cel compile: expression %q must return bool, got %s", expr, ast.OutputType())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	return &Filter{expr: expr, program: prog}, nil
}

// MustCompile is Compile that panics on error, for package-level defaults.
func MustCompile(expr string) *Filter {
	f, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match evaluates the filter against s. Evaluation errors count as no match.
func (f *Filter) Match(s *stanza.Stanza) bool {
	if s == nil {
		return false
	}
	out, _, err := f.program.Eval(Activation(s))
	if err != nil {
		return false
	}
	if out.Type() != types.BoolType {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Activation builds the variable bindings for a stanza.
func Activation(s *stanza.Stanza) map[string]any {
	attrs := make(map[string]string, len(s.Attrs))
	for _, a := range s.Attrs {
		attrs[a.Name.Local] = a.Value
	}
	children := make([]string, 0, len(s.Children))
	for _, c := range s.Children {
		children = append(children, c.Name())
	}
	return map[string]any{
		"name":        s.Name(),
		"namespace":   s.Namespace(),
		"id":          s.ID(),
		"stanza_type": s.Type(),
		"from":        s.From(),
		"to":          s.To(),
		"attrs":       attrs,
		"children":    children,
	}
}
