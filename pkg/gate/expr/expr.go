// Package expr implements the expression language used by custom gate
// criteria. An expression combines named facts (pass_rate, executed,
// coverage, ...), numeric literals, arithmetic, comparisons, and boolean
// operators, e.g.:
//
//	pass_rate >= 95 && open_defects("S1") == 0
//	(passed + blocked) / executed * 100 > 80
//
// Expressions evaluate to a float64; comparisons and boolean operators yield
// 1 (true) or 0 (false), and any non-zero value is truthy.
package expr

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Env supplies named facts to an evaluation. Value resolves a bare
// identifier; Call resolves a function call with string arguments.
type Env interface {
	Value(name string) (float64, bool)
	Call(name string, args []string) (float64, error)
}

var gateLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Number", Pattern: `\d+(?:\.\d+)?`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Operator", Pattern: `\|\||&&|[<>=!]=|[<>!+\-*/(),]`},
	{Name: "whitespace", Pattern: `\s+`},
})

var parser = participle.MustBuild[expression](
	participle.Lexer(gateLexer),
	participle.Unquote("String"),
	participle.UseLookahead(2),
)

type expression struct {
	Or []*conjunction `parser:"@@ ( '||' @@ )*"`
}

type conjunction struct {
	And []*comparison `parser:"@@ ( '&&' @@ )*"`
}

type comparison struct {
	Left  *sum   `parser:"@@"`
	Op    string `parser:"( @('>=' | '<=' | '==' | '!=' | '>' | '<')"`
	Right *sum   `parser:"@@ )?"`
}

type sum struct {
	First *product  `parser:"@@"`
	Rest  []*sumOp  `parser:"@@*"`
}

type sumOp struct {
	Op   string   `parser:"@('+' | '-')"`
	Term *product `parser:"@@"`
}

type product struct {
	First *unary       `parser:"@@"`
	Rest  []*productOp `parser:"@@*"`
}

type productOp struct {
	Op     string `parser:"@('*' | '/')"`
	Factor *unary `parser:"@@"`
}

type unary struct {
	Not  *unary `parser:"'!' @@"`
	Atom *atom  `parser:"| @@"`
}

type atom struct {
	Number *float64    `parser:"@Number"`
	Call   *call       `parser:"| @@"`
	Ident  *string     `parser:"| @Ident"`
	Group  *expression `parser:"| '(' @@ ')'"`
}

type call struct {
	Name string   `parser:"@Ident '('"`
	Args []string `parser:"( @String ( ',' @String )* )? ')'"`
}

// Program is a compiled expression ready for repeated evaluation.
type Program struct {
	source string
	ast    *expression
}

// Compile parses source into a reusable Program.
func Compile(source string) (*Program, error) {
	ast, err := parser.ParseString("", source)
	if err != nil {
		return nil, fmt.Errorf("parse expression: %w", err)
	}
	return &Program{source: source, ast: ast}, nil
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.source }

// Evaluate runs the program against env.
func (p *Program) Evaluate(env Env) (float64, error) {
	return p.ast.eval(env)
}

func (e *expression) eval(env Env) (float64, error) {
	if len(e.Or) == 1 {
		return e.Or[0].eval(env)
	}
	for _, term := range e.Or {
		v, err := term.eval(env)
		if err != nil {
			return 0, err
		}
		if v != 0 {
			return 1, nil
		}
	}
	return 0, nil
}

func (c *conjunction) eval(env Env) (float64, error) {
	if len(c.And) == 1 {
		return c.And[0].eval(env)
	}
	for _, cmp := range c.And {
		v, err := cmp.eval(env)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			return 0, nil
		}
	}
	return 1, nil
}

func (c *comparison) eval(env Env) (float64, error) {
	left, err := c.Left.eval(env)
	if err != nil {
		return 0, err
	}
	if c.Op == "" {
		return left, nil
	}
	right, err := c.Right.eval(env)
	if err != nil {
		return 0, err
	}
	var ok bool
	switch c.Op {
	case ">=":
		ok = left >= right
	case "<=":
		ok = left <= right
	case "==":
		ok = left == right
	case "!=":
		ok = left != right
	case ">":
		ok = left > right
	case "<":
		ok = left < right
	}
	if ok {
		return 1, nil
	}
	return 0, nil
}

func (s *sum) eval(env Env) (float64, error) {
	result, err := s.First.eval(env)
	if err != nil {
		return 0, err
	}
	for _, op := range s.Rest {
		v, err := op.Term.eval(env)
		if err != nil {
			return 0, err
		}
		if op.Op == "+" {
			result += v
		} else {
			result -= v
		}
	}
	return result, nil
}

func (p *product) eval(env Env) (float64, error) {
	result, err := p.First.eval(env)
	if err != nil {
		return 0, err
	}
	for _, op := range p.Rest {
		v, err := op.Factor.eval(env)
		if err != nil {
			return 0, err
		}
		if op.Op == "*" {
			result *= v
			continue
		}
		if v == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		result /= v
	}
	return result, nil
}

func (u *unary) eval(env Env) (float64, error) {
	if u.Not != nil {
		v, err := u.Not.eval(env)
		if err != nil {
			return 0, err
		}
		if v != 0 {
			return 0, nil
		}
		return 1, nil
	}
	return u.Atom.eval(env)
}

func (a *atom) eval(env Env) (float64, error) {
	switch {
	case a.Number != nil:
		return *a.Number, nil
	case a.Call != nil:
		return env.Call(a.Call.Name, a.Call.Args)
	case a.Ident != nil:
		v, ok := env.Value(*a.Ident)
		if !ok {
			return 0, fmt.Errorf("unknown identifier %q", *a.Ident)
		}
		return v, nil
	case a.Group != nil:
		return a.Group.eval(env)
	}
	return 0, fmt.Errorf("invalid expression atom")
}
