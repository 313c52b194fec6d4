package marker

import (
	"fmt"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

/*
Grammar (PEP 508, https://peps.python.org/pep-0508/#environment-markers):

marker       = marker_or
marker_or    = marker_and wsp* 'or' marker_or | marker_and
marker_and   = marker_expr wsp* 'and' marker_and | marker_expr
marker_expr  = marker_var marker_op marker_var | wsp* '(' marker ')'
marker_var   = wsp* (env_var | python_str)
env_var      = 'python_version' | 'python_full_version' | 'os_name'
             | 'sys_platform' | 'platform_release' | 'platform_system'
             | 'platform_version' | 'platform_machine'
             | 'platform_python_implementation'
             | 'implementation_name' | 'implementation_version' | 'extra'
marker_op    = version_cmp | (wsp* 'in') | (wsp* 'not' wsp+ 'in')
version_cmp  = wsp* ('<=' | '<' | '!=' | '==' | '>=' | '>' | '~=' | '===')
*/

// Marker is a parsed PEP 508 environment-marker expression.
type Marker interface {
	Eval(env Environment) bool
	String() string
}

// Parse parses a raw PEP 508 marker expression.
func Parse(raw string) (Marker, error) {
	p := &parser{input: raw}

	m, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	p.skipWsp()

	if p.pos < len(p.input) {
		return nil, p.expected("end of marker")
	}

	return m, nil
}

type parser struct {
	input string
	pos   int
}

const eof byte = 0xFF

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return eof
	}

	return p.input[p.pos]
}

func (p *parser) skipWsp() bool {
	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}

	return p.pos != start
}

func (p *parser) accept(s string) bool {
	if !strings.HasPrefix(p.input[p.pos:], s) {
		return false
	}

	p.pos += len(s)

	return true
}

func (p *parser) expected(want string) error {
	rest := p.input[p.pos:]
	if len(rest) > 12 {
		rest = rest[:12]
	}

	if rest == "" {
		rest = "<eof>"
	}

	return fmt.Errorf("marker parse error: expected %s, found %q", want, rest)
}

func (p *parser) parseOr() (Marker, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	p.skipWsp()

	if !p.accept("or") {
		return left, nil
	}

	p.skipWsp()

	right, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	return orExpr{left, right}, nil
}

func (p *parser) parseAnd() (Marker, error) {
	left, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	p.skipWsp()

	if !p.accept("and") {
		return left, nil
	}

	p.skipWsp()

	right, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	return andExpr{left, right}, nil
}

func (p *parser) parseExpr() (Marker, error) {
	p.skipWsp()

	if p.accept("(") {
		m, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		p.skipWsp()

		if !p.accept(")") {
			return nil, p.expected("closing )")
		}

		return m, nil
	}

	left, err := p.parseVar()
	if err != nil {
		return nil, err
	}

	op, err := p.parseOp()
	if err != nil {
		return nil, err
	}

	right, err := p.parseVar()
	if err != nil {
		return nil, err
	}

	return compareExpr{op: op, left: left, right: right}, nil
}

var envVarNames = []string{
	"python_full_version", "python_version", "platform_python_implementation",
	"platform_machine", "platform_release", "platform_system", "platform_version",
	"implementation_version", "implementation_name", "sys_platform", "os_name", "extra",
}

func (p *parser) parseVar() (term, error) {
	p.skipWsp()

	if s, ok := p.parseString(); ok {
		return term{literal: s, isLiteral: true}, nil
	}

	for _, name := range envVarNames {
		if p.accept(name) {
			return term{name: name}, nil
		}
	}

	return term{}, p.expected("string or marker variable")
}

func (p *parser) parseString() (string, bool) {
	q := p.peek()
	if q != '\'' && q != '"' {
		return "", false
	}

	end := strings.IndexByte(p.input[p.pos+1:], q)
	if end < 0 {
		return "", false
	}

	s := p.input[p.pos+1 : p.pos+1+end]
	p.pos += end + 2

	return s, true
}

var opsByLength = []string{"===", "<=", "!=", "==", ">=", "~=", "<", ">"}

func (p *parser) parseOp() (string, error) {
	p.skipWsp()

	for _, op := range opsByLength {
		if p.accept(op) {
			return op, nil
		}
	}

	if p.accept("not") {
		if !p.skipWsp() {
			return "", p.expected("whitespace in 'not in'")
		}

		if !p.accept("in") {
			return "", p.expected("'in' after 'not'")
		}

		return "not in", nil
	}

	if p.accept("in") {
		return "in", nil
	}

	return "", p.expected("comparison operator")
}

// term is one operand of a marker_expr: either a quoted literal or a named
// environment variable (possibly "extra").
type term struct {
	name      string
	literal   string
	isLiteral bool
}

func (t term) resolve(env Environment) (string, bool) {
	if t.isLiteral {
		return t.literal, false
	}

	if t.name == "extra" {
		return "", false
	}

	v, _ := env.value(t.name)

	return v, true
}

func (t term) String() string {
	if t.isLiteral {
		return fmt.Sprintf("%q", t.literal)
	}

	return t.name
}

type andExpr struct{ left, right Marker }

func (e andExpr) Eval(env Environment) bool { return e.left.Eval(env) && e.right.Eval(env) }
func (e andExpr) String() string            { return fmt.Sprintf("(%s and %s)", e.left, e.right) }

type orExpr struct{ left, right Marker }

func (e orExpr) Eval(env Environment) bool { return e.left.Eval(env) || e.right.Eval(env) }
func (e orExpr) String() string            { return fmt.Sprintf("(%s or %s)", e.left, e.right) }

type compareExpr struct {
	op          string
	left, right term
}

func (e compareExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.left, e.op, e.right)
}

func (e compareExpr) Eval(env Environment) bool {
	if e.left.name == "extra" || e.right.name == "extra" {
		lit := e.left.literal
		if e.left.name == "extra" {
			lit = e.right.literal
		}

		if e.op != "==" {
			return false
		}

		return env.Extras[lit]
	}

	lv, _ := e.left.resolve(env)
	rv, _ := e.right.resolve(env)

	if e.op != "===" {
		if pv, perr := pep440.Parse(lv); perr == nil {
			if qv, qerr := pep440.Parse(rv); qerr == nil {
				return compareVersions(pv, e.op, qv)
			}
		}
	}

	return compareStrings(lv, e.op, rv)
}

func compareVersions(l pep440.Version, op string, r pep440.Version) bool {
	cmp := l.Compare(r)

	switch op {
	case "<=":
		return cmp <= 0
	case "<":
		return cmp < 0
	case "!=":
		return cmp != 0
	case "==":
		return cmp == 0
	case ">=":
		return cmp >= 0
	case ">":
		return cmp > 0
	case "~=":
		spec, err := pep440.NewSpecifiers("~=" + r.String())
		if err != nil {
			return false
		}

		return spec.Check(l)
	default:
		return false
	}
}

func compareStrings(l, op, r string) bool {
	switch op {
	case "<=":
		return l <= r
	case "<":
		return l < r
	case "!=":
		return l != r
	case "==", "===":
		return l == r
	case ">=":
		return l >= r
	case ">":
		return l > r
	case "in":
		return strings.Contains(r, l)
	case "not in":
		return !strings.Contains(r, l)
	default:
		return false
	}
}
