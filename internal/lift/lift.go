// Package lift rebuilds expression trees from the operand stack effects
// of each basic block.
package lift

import (
	"errors"
	"fmt"

	"igiconv/internal/ast"
	"igiconv/internal/disasm"
	"igiconv/internal/qvm"
	"igiconv/internal/qvmfmt"
)

// Block is the reconstructed code of one basic block.
type Block struct {
	ID     int
	Stmts  []ast.Stmt
	Cond   ast.Expr // value popped by the closing BF/BT; nil otherwise
	Opaque bool     // stack simulation failed; Stmts is a placeholder
}

// Result holds the lifted code of every block in a CFG.
type Result struct {
	Blocks []Block
	Diags  qvmfmt.Diags
}

// Lift simulates every block of g, reachable or not. A block whose
// stack effects do not balance becomes an opaque placeholder and a
// stack_imbalance diagnostic; it never fails the whole module.
func Lift(g *disasm.CFG, m *qvm.Module) *Result {
	r := &Result{Blocks: make([]Block, len(g.Blocks))}
	for id := range g.Blocks {
		l := &lifter{p: g.Prog, m: m}
		b, err := l.block(g, id)
		if err != nil {
			off, msg := g.Offset(id), err.Error()
			var ie *imbalance
			if errors.As(err, &ie) {
				off, msg = ie.off, ie.msg
			}
			r.Diags.Add(off, id, qvmfmt.DiagStackImbalance, msg)
			b = opaque(g, id)
		}
		r.Blocks[id] = b
	}
	return r
}

// opaque replaces a block that could not be lifted. Control flow out of
// the block is kept: a terminating block still returns and a two-way
// block still branches on an (opaque) condition.
func opaque(g *disasm.CFG, id int) Block {
	off := g.Offset(id)
	b := Block{
		ID:     id,
		Stmts:  []ast.Stmt{&ast.ExprStmt{X: &ast.Opaque{Offset: off}}},
		Opaque: true,
	}
	last := g.Last(id)
	switch {
	case last.Op.IsTerminator():
		b.Stmts = append(b.Stmts, &ast.Return{})
	case last.Op.IsConditional() && len(g.Blocks[id].Succs) == 2:
		b.Cond = &ast.Opaque{Offset: last.Off}
	}
	return b
}

type imbalance struct {
	off int
	msg string
}

func (e *imbalance) Error() string { return fmt.Sprintf("0x%x: %s", e.off, e.msg) }

type lifter struct {
	p     *disasm.Program
	m     *qvm.Module
	stack []ast.Expr
	out   []ast.Stmt
}

func (l *lifter) push(e ast.Expr) { l.stack = append(l.stack, e) }

func (l *lifter) pop(in disasm.Inst) (ast.Expr, error) {
	if len(l.stack) == 0 {
		return nil, &imbalance{off: in.Off, msg: fmt.Sprintf("%s pops an empty stack", in.Op)}
	}
	e := l.stack[len(l.stack)-1]
	l.stack = l.stack[:len(l.stack)-1]
	return e, nil
}

func (l *lifter) block(g *disasm.CFG, id int) (Block, error) {
	b := Block{ID: id}
	blk := g.Blocks[id]
	for pos := blk.Start; pos < blk.End; pos++ {
		idx := g.Prog.Main[pos]
		in := g.Prog.Insts[idx]
		switch in.Op {
		case qvm.OpBF, qvm.OpBT:
			c, err := l.pop(in)
			if err != nil {
				return b, err
			}
			if len(blk.Succs) == 2 {
				b.Cond = c
			} else {
				// Both edges lead to the same block; keep the evaluation.
				l.out = append(l.out, &ast.ExprStmt{X: c})
			}
		case qvm.OpRET:
			ret := &ast.Return{}
			if len(l.stack) > 0 {
				ret.Value, _ = l.pop(in)
			}
			l.out = append(l.out, ret)
		case qvm.OpBRK:
			l.out = append(l.out, &ast.Return{})
		case qvm.OpPOP:
			e, err := l.pop(in)
			if err != nil {
				return b, err
			}
			l.out = append(l.out, &ast.ExprStmt{X: e})
		default:
			if err := l.expr(idx); err != nil {
				return b, err
			}
		}
	}
	if n := len(l.stack); n != 0 {
		last := g.Last(id)
		return b, &imbalance{off: last.Off, msg: fmt.Sprintf("%d value(s) left on the stack at block exit", n)}
	}
	b.Stmts = l.out
	return b, nil
}

// expr applies the stack effect of an instruction that only builds
// expressions: pushes, operators and calls.
func (l *lifter) expr(idx int) error {
	in := l.p.Insts[idx]
	switch in.Op {
	case qvm.OpPUSH, qvm.OpPUSHB, qvm.OpPUSHW:
		l.push(ast.Int(int64(in.Value)))
	case qvm.OpPUSH0:
		l.push(ast.Int(0))
	case qvm.OpPUSH1:
		l.push(ast.Int(1))
	case qvm.OpPUSHM:
		l.push(ast.Int(-1))
	case qvm.OpPUSHF:
		l.push(ast.Float(in.Float))
	case qvm.OpPUSHSI, qvm.OpPUSHSIB, qvm.OpPUSHSIW:
		s, _ := l.m.StringAt(int(in.Value))
		l.push(ast.String(s))
	case qvm.OpPUSHII, qvm.OpPUSHIIB, qvm.OpPUSHIIW:
		name, _ := l.m.SymbolAt(int(in.Value))
		l.push(&ast.Var{Name: name})
	case qvm.OpPLUS, qvm.OpMINUS, qvm.OpINV, qvm.OpNOT:
		x, err := l.pop(in)
		if err != nil {
			return err
		}
		l.push(&ast.Unary{Op: unaryOps[in.Op], X: x})
	case qvm.OpADD, qvm.OpSUB, qvm.OpMUL, qvm.OpDIV, qvm.OpSHL, qvm.OpSHR,
		qvm.OpAND, qvm.OpOR, qvm.OpXOR, qvm.OpLAND, qvm.OpLOR,
		qvm.OpEQ, qvm.OpNE, qvm.OpLT, qvm.OpLE, qvm.OpGT, qvm.OpGE, qvm.OpASSIGN:
		y, err := l.pop(in)
		if err != nil {
			return err
		}
		x, err := l.pop(in)
		if err != nil {
			return err
		}
		l.push(&ast.Binary{Op: binaryOps[in.Op], X: x, Y: y})
	case qvm.OpCALL:
		fn, err := l.pop(in)
		if err != nil {
			return err
		}
		call := &ast.Call{Fn: fn}
		for k, body := range l.p.Calls[idx].Args {
			arg, err := l.thunk(in, k, body)
			if err != nil {
				return err
			}
			call.Args = append(call.Args, arg)
		}
		l.push(call)
	case qvm.OpNOP, qvm.OpBRA:
	default:
		return &imbalance{off: in.Off, msg: fmt.Sprintf("unexpected %s", in.Op)}
	}
	return nil
}

// thunk simulates one call argument on a fresh stack. It must leave
// exactly one value and contain no control flow.
func (l *lifter) thunk(call disasm.Inst, k int, body []int) (ast.Expr, error) {
	sub := &lifter{p: l.p, m: l.m}
	for _, idx := range body {
		in := l.p.Insts[idx]
		switch {
		case in.Op.IsBranch(), in.Op.IsTerminator():
			return nil, &imbalance{off: in.Off, msg: fmt.Sprintf("%s inside argument %d of call at 0x%x", in.Op, k, call.Off)}
		case in.Op == qvm.OpPOP:
			if _, err := sub.pop(in); err != nil {
				return nil, err
			}
			continue
		}
		if err := sub.expr(idx); err != nil {
			return nil, err
		}
	}
	if len(sub.stack) != 1 {
		return nil, &imbalance{off: call.Off, msg: fmt.Sprintf("argument %d leaves %d values, want 1", k, len(sub.stack))}
	}
	return sub.stack[0], nil
}

var unaryOps = map[qvm.Op]ast.Operator{
	qvm.OpPLUS: ast.PLUS, qvm.OpMINUS: ast.MINUS, qvm.OpINV: ast.INV, qvm.OpNOT: ast.NOT,
}

var binaryOps = map[qvm.Op]ast.Operator{
	qvm.OpADD: ast.ADD, qvm.OpSUB: ast.SUB, qvm.OpMUL: ast.MUL, qvm.OpDIV: ast.DIV,
	qvm.OpSHL: ast.SHL, qvm.OpSHR: ast.SHR,
	qvm.OpAND: ast.AND, qvm.OpOR: ast.OR, qvm.OpXOR: ast.XOR,
	qvm.OpLAND: ast.LAND, qvm.OpLOR: ast.LOR,
	qvm.OpEQ: ast.EQ, qvm.OpNE: ast.NE,
	qvm.OpLT: ast.LT, qvm.OpLE: ast.LE, qvm.OpGT: ast.GT, qvm.OpGE: ast.GE,
	qvm.OpASSIGN: ast.ASSIGN,
}
