// Package emit renders structured statements as QSC source text.
package emit

import (
	"fmt"
	"strconv"
	"strings"

	"igiconv/internal/ast"
)

const indent = "    "

// primary is the precedence of literals, names, calls and placeholders.
const primary = ast.UnaryPrec + 1

// Source renders body as QSC text, one statement per line. The same
// tree always renders to the same bytes.
func Source(body []ast.Stmt) string {
	p := &printer{}
	p.stmts(body)
	return p.b.String()
}

// Expr renders a single expression with minimal parentheses.
func Expr(e ast.Expr) string {
	p := &printer{}
	p.expr(e, ast.Lowest)
	return p.b.String()
}

type printer struct {
	b     strings.Builder
	depth int
}

func (p *printer) line(format string, args ...any) {
	for i := 0; i < p.depth; i++ {
		p.b.WriteString(indent)
	}
	fmt.Fprintf(&p.b, format, args...)
	p.b.WriteByte('\n')
}

func (p *printer) block(list []ast.Stmt) {
	p.depth++
	p.stmts(list)
	p.depth--
}

func (p *printer) stmts(list []ast.Stmt) {
	for _, s := range list {
		p.stmt(s)
	}
}

func (p *printer) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.ExprStmt:
		p.line("%s;", Expr(s.X))
	case *ast.If:
		p.line("if (%s) {", Expr(s.Cond))
		p.block(s.Then)
		els := s.Else
		for len(els) == 1 {
			next, ok := els[0].(*ast.If)
			if !ok {
				break
			}
			p.line("} else if (%s) {", Expr(next.Cond))
			p.block(next.Then)
			els = next.Else
		}
		if len(els) > 0 {
			p.line("} else {")
			p.block(els)
		}
		p.line("}")
	case *ast.While:
		p.line("while (%s) {", Expr(s.Cond))
		p.block(s.Body)
		p.line("}")
	case *ast.Break:
		p.line("break;")
	case *ast.Continue:
		p.line("continue;")
	case *ast.Return:
		if s.Value == nil {
			p.line("return;")
		} else {
			p.line("return %s;", Expr(s.Value))
		}
	case *ast.Goto:
		p.line("goto %s;", s.Label)
	case *ast.Label:
		p.line("%s:", s.Name)
	default:
		panic(fmt.Sprintf("emit: unexpected statement %T", s))
	}
}

func precOf(e ast.Expr) int {
	switch e := e.(type) {
	case *ast.Binary:
		return e.Op.Precedence()
	case *ast.Unary:
		return ast.UnaryPrec
	case *ast.Literal:
		if e.Kind == ast.IntLit && e.Int < 0 {
			return ast.UnaryPrec
		}
	}
	return primary
}

// expr writes e, parenthesized if it binds looser than min.
func (p *printer) expr(e ast.Expr, min int) {
	if precOf(e) < min {
		p.b.WriteByte('(')
		p.expr(e, ast.Lowest)
		p.b.WriteByte(')')
		return
	}

	switch e := e.(type) {
	case *ast.Literal:
		p.b.WriteString(Literal(e))
	case *ast.Var:
		p.b.WriteString(e.Name)
	case *ast.Opaque:
		fmt.Fprintf(&p.b, "<opaque 0x%x>", e.Offset)
	case *ast.Unary:
		p.b.WriteString(e.Op.String())
		operand := Expr(e.X)
		if (e.Op == ast.PLUS || e.Op == ast.MINUS) && strings.HasPrefix(operand, e.Op.String()) ||
			precOf(e.X) < ast.UnaryPrec {
			operand = "(" + operand + ")"
		}
		p.b.WriteString(operand)
	case *ast.Binary:
		prec := e.Op.Precedence()
		left, right := prec, prec+1
		if e.Op.RightAssoc() {
			left, right = prec+1, prec
		}
		p.expr(e.X, left)
		fmt.Fprintf(&p.b, " %s ", e.Op)
		p.expr(e.Y, right)
	case *ast.Call:
		p.expr(e.Fn, primary)
		p.b.WriteByte('(')
		for i, a := range e.Args {
			if i > 0 {
				p.b.WriteString(", ")
			}
			p.expr(a, ast.Lowest)
		}
		p.b.WriteByte(')')
	default:
		panic(fmt.Sprintf("emit: unexpected expression %T", e))
	}
}

// Literal renders a literal constant.
func Literal(l *ast.Literal) string {
	switch l.Kind {
	case ast.FloatLit:
		return formatFloat(l.Float)
	case ast.StringLit:
		return Quote(l.Str)
	}
	return strconv.FormatInt(l.Int, 10)
}

// formatFloat renders the shortest decimal that reads back as the same
// float32, always with a decimal point.
func formatFloat(f float32) string {
	s := strconv.FormatFloat(float64(f), 'g', -1, 32)
	if strings.ContainsAny(s, ".nN") {
		return s
	}
	if i := strings.IndexByte(s, 'e'); i >= 0 {
		return s[:i] + ".0" + s[i:]
	}
	return s + ".0"
}

// Quote double-quotes s, escaping newlines and double quotes only.
func Quote(s string) string {
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
