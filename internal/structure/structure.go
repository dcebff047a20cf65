// Package structure turns a control flow graph with lifted blocks into
// nested if/while statements, falling back to labels and gotos for flow
// that does not nest.
package structure

import (
	"fmt"

	"igiconv/internal/ast"
	"igiconv/internal/disasm"
	"igiconv/internal/lift"
	"igiconv/internal/qvmfmt"
)

// Result is the structured body of one module.
type Result struct {
	Body  []ast.Stmt
	Order []int // block IDs in placement order; each block exactly once
	Diags qvmfmt.Diags
}

// LabelName returns the label of a fallback region starting at block id.
func LabelName(id int) string { return fmt.Sprintf("label_%d", id) }

// frame structures one statement sequence from cur up to stop.
type frame struct {
	out    *[]ast.Stmt
	cur    int
	stop   int  // -1: run until the flow ends or leaves the loop
	loop   int  // index into CFG.Loops, -1 outside any loop
	body   bool // top level of a loop body: reaching the header ends the iteration
	header bool // the next visit to the loop header places it
}

func (f *frame) emit(s ...ast.Stmt) { *f.out = append(*f.out, s...) }

type structurer struct {
	g        *disasm.CFG
	code     *lift.Result
	placed   []bool
	targets  map[string]bool // labels referenced by a goto or starting a region
	headerOf []int           // loop index per header block, -1 otherwise
	follow   []int           // per loop: block control reaches on exit, -1 if none
	res      *Result
}

// Build structures g using the lifted code of its blocks. It never
// fails: flow that cannot be expressed with if/while is kept as gotos.
func Build(g *disasm.CFG, code *lift.Result) *Result {
	s := &structurer{
		g:        g,
		code:     code,
		placed:   make([]bool, len(g.Blocks)),
		targets:  make(map[string]bool),
		headerOf: make([]int, len(g.Blocks)),
		follow:   make([]int, len(g.Loops)),
		res:      &Result{},
	}
	for i := range s.headerOf {
		s.headerOf[i] = -1
	}
	for i, l := range g.Loops {
		s.headerOf[l.Header] = i
		s.follow[i] = s.loopFollow(l)
	}

	for _, id := range g.Unreachable {
		s.res.Diags.Add(g.Offset(id), id, qvmfmt.DiagUnreachable, "block is not reachable from the entry")
	}
	for _, e := range g.Irreducible {
		s.res.Diags.Addf(g.Last(e.From).Off, e.To, qvmfmt.DiagIrreducible,
			"retreating edge from block %d into block %d does not close a loop", e.From, e.To)
	}

	s.run(&frame{out: &s.res.Body, cur: g.Entry, stop: -1, loop: -1})

	// Whatever is left is reached only by goto, or not at all.
	for id := range g.Blocks {
		if s.placed[id] {
			continue
		}
		s.targets[LabelName(id)] = true
		s.run(&frame{out: &s.res.Body, cur: id, stop: -1, loop: -1})
	}

	s.finish()
	return s.res
}

// loopFollow picks the block a loop exits to: the header's own exit if
// it has one, otherwise the exit target earliest in reverse postorder.
func (s *structurer) loopFollow(l *disasm.Loop) int {
	for _, succ := range s.g.Blocks[l.Header].Succs {
		if !l.Contains(succ.BlockID) {
			return succ.BlockID
		}
	}
	best := -1
	for _, id := range l.Blocks() {
		for _, succ := range s.g.Blocks[id].Succs {
			t := succ.BlockID
			if l.Contains(t) {
				continue
			}
			if best == -1 || s.g.RPONum(t) < s.g.RPONum(best) {
				best = t
			}
		}
	}
	return best
}

func (s *structurer) run(root *frame) {
	stack := []*frame{root}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		push, done := s.step(f)
		if done {
			stack = stack[:len(stack)-1]
		}
		// push is in execution order; the first frame must end up on top.
		for i := len(push) - 1; i >= 0; i-- {
			stack = append(stack, push[i])
		}
	}
}

// step advances f until it finishes or needs nested frames structured
// before it can continue.
func (s *structurer) step(f *frame) (push []*frame, done bool) {
	for {
		cur := f.cur
		if cur < 0 || cur == f.stop {
			return nil, true
		}
		if f.loop >= 0 {
			l := s.g.Loops[f.loop]
			switch {
			case cur == l.Header && !f.header:
				if !f.body {
					f.emit(&ast.Continue{})
				}
				return nil, true
			case cur == s.follow[f.loop]:
				f.emit(&ast.Break{})
				return nil, true
			case !l.Contains(cur):
				if !s.escapes(f, cur) {
					f.emit(s.jump(cur))
					return nil, true
				}
				f.loop, f.stop, f.body = -1, -1, false
			}
		}
		if s.placed[cur] {
			f.emit(s.jump(cur))
			return nil, true
		}
		if li := s.headerOf[cur]; li >= 0 && !(f.loop == li && f.header) {
			return s.loop(f, li), false
		}

		f.header = false
		s.place(f, cur)
		blk := s.g.Blocks[cur]
		switch len(blk.Succs) {
		case 0:
			return nil, true
		case 1:
			f.cur = blk.Succs[0].BlockID
			continue
		}
		if push := s.branch(f, cur); len(push) > 0 {
			return push, false
		}
	}
}

func (s *structurer) place(f *frame, id int) {
	s.placed[id] = true
	s.res.Order = append(s.res.Order, id)
	f.emit(&ast.Label{Name: LabelName(id)})
	f.emit(s.code.Blocks[id].Stmts...)
}

func (s *structurer) jump(id int) ast.Stmt {
	name := LabelName(id)
	s.targets[name] = true
	return &ast.Goto{Label: name}
}

func (s *structurer) cond(id int) ast.Expr {
	if c := s.code.Blocks[id].Cond; c != nil {
		return c
	}
	return &ast.Opaque{Offset: s.g.Last(id).Off}
}

// jumpy reports whether reaching x from f is a jump rather than a
// fallthrough: a loop continue or break, a loop exit, or a block that is
// already placed.
func (s *structurer) jumpy(f *frame, x int) bool {
	if s.placed[x] {
		return true
	}
	if f.loop < 0 {
		return false
	}
	l := s.g.Loops[f.loop]
	return x == l.Header || x == s.follow[f.loop] || !l.Contains(x)
}

// exit returns the statement that transfers control from f to x.
func (s *structurer) exit(f *frame, x int) ast.Stmt {
	if f.loop >= 0 {
		switch x {
		case s.g.Loops[f.loop].Header:
			return &ast.Continue{}
		case s.follow[f.loop]:
			return &ast.Break{}
		}
	}
	return s.jump(x)
}

// escapes reports whether x leaves f's loop for good: it is not the
// loop follow and no path from x comes back to the outermost enclosing
// loop. Such a region can be structured in place with no loop context.
func (s *structurer) escapes(f *frame, x int) bool {
	if f.loop < 0 || s.placed[x] {
		return false
	}
	l := s.g.Loops[f.loop]
	if l.Contains(x) || x == s.follow[f.loop] {
		return false
	}
	outer := l
	for outer.Parent >= 0 {
		outer = s.g.Loops[outer.Parent]
	}
	seen := map[int]bool{x: true}
	work := []int{x}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		if outer.Contains(id) {
			return false
		}
		for _, succ := range s.g.Blocks[id].Succs {
			if !seen[succ.BlockID] {
				seen[succ.BlockID] = true
				work = append(work, succ.BlockID)
			}
		}
	}
	return true
}

// merge returns where the two arms of block b rejoin, or -1 if they
// cannot be structured as a nested if/else inside f.
func (s *structurer) merge(f *frame, b int) int {
	m := s.g.IPDom[b]
	if m < 0 || s.placed[m] {
		return -1
	}
	if f.loop >= 0 && !s.g.Loops[f.loop].Contains(m) {
		return -1
	}
	if f.stop >= 0 && m != f.stop && s.g.PostDominates(m, f.stop) {
		return -1
	}
	return m
}

func (s *structurer) arm(f *frame, out *[]ast.Stmt, start, stop int) *frame {
	return &frame{out: out, cur: start, stop: stop, loop: f.loop}
}

func (s *structurer) branch(f *frame, b int) []*frame {
	c := s.cond(b)
	br, _ := s.g.BranchOf(b)
	t, e := br.OnTrue, br.OnFalse

	if m := s.merge(f, b); m >= 0 {
		f.cur = m
		switch {
		case e == m:
			n := &ast.If{Cond: c}
			f.emit(n)
			return []*frame{s.arm(f, &n.Then, t, m)}
		case t == m:
			n := &ast.If{Cond: ast.Not(c)}
			f.emit(n)
			return []*frame{s.arm(f, &n.Then, e, m)}
		default:
			n := &ast.If{Cond: c}
			f.emit(n)
			return []*frame{s.arm(f, &n.Then, t, m), s.arm(f, &n.Else, e, m)}
		}
	}

	switch {
	case s.escapes(f, t):
		n := &ast.If{Cond: c}
		f.emit(n)
		f.cur = e
		return []*frame{{out: &n.Then, cur: t, stop: -1, loop: -1}}
	case s.escapes(f, e):
		n := &ast.If{Cond: ast.Not(c)}
		f.emit(n)
		f.cur = t
		return []*frame{{out: &n.Then, cur: e, stop: -1, loop: -1}}
	}

	jt, je := s.jumpy(f, t), s.jumpy(f, e)
	if jt && je && f.loop >= 0 && t == s.g.Loops[f.loop].Header {
		// Prefer "if (!c) break;" and let the header be reached naturally.
		jt = false
	}
	switch {
	case jt:
		f.emit(&ast.If{Cond: c, Then: []ast.Stmt{s.exit(f, t)}})
		f.cur = e
		return nil
	case je:
		f.emit(&ast.If{Cond: ast.Not(c), Then: []ast.Stmt{s.exit(f, e)}})
		f.cur = t
		return nil
	}

	stop := f.stop
	f.cur = stop
	switch {
	case t == stop:
		n := &ast.If{Cond: ast.Not(c)}
		f.emit(n)
		return []*frame{s.arm(f, &n.Then, e, stop)}
	case e == stop:
		n := &ast.If{Cond: c}
		f.emit(n)
		return []*frame{s.arm(f, &n.Then, t, stop)}
	}
	n := &ast.If{Cond: c}
	f.emit(n)
	return []*frame{s.arm(f, &n.Then, t, stop), s.arm(f, &n.Else, e, stop)}
}

// loop emits the while statement headed by loop li and returns the
// frame for its body. f resumes at the loop follow.
func (s *structurer) loop(f *frame, li int) []*frame {
	l := s.g.Loops[li]
	h := l.Header
	f.cur = s.follow[li]

	if inner, cond, ok := s.whileCond(li); ok {
		s.placed[h] = true
		s.res.Order = append(s.res.Order, h)
		f.emit(&ast.Label{Name: LabelName(h)})
		w := &ast.While{Cond: cond}
		f.emit(w)
		return []*frame{{out: &w.Body, cur: inner, stop: -1, loop: li, body: true}}
	}

	w := &ast.While{Cond: ast.Int(1)}
	f.emit(w)
	return []*frame{{out: &w.Body, cur: h, stop: -1, loop: li, body: true, header: true}}
}

// whileCond reports whether loop li's header does nothing but test a
// condition that leaves the loop. It returns the first block of the
// body and the condition under which the loop keeps running.
func (s *structurer) whileCond(li int) (inner int, cond ast.Expr, ok bool) {
	l := s.g.Loops[li]
	h := l.Header
	code := s.code.Blocks[h]
	if code.Opaque || len(code.Stmts) > 0 || code.Cond == nil {
		return 0, nil, false
	}
	br, isBranch := s.g.BranchOf(h)
	if !isBranch {
		return 0, nil, false
	}
	switch {
	case l.Contains(br.OnTrue) && br.OnFalse == s.follow[li]:
		return br.OnTrue, code.Cond, true
	case l.Contains(br.OnFalse) && br.OnTrue == s.follow[li]:
		return br.OnFalse, ast.Not(code.Cond), true
	}
	return 0, nil, false
}

// finish drops labels nothing jumps to and tidies ifs whose then-arm
// came out empty.
func (s *structurer) finish() {
	var ifs []*ast.If
	lists := []*[]ast.Stmt{&s.res.Body}
	for len(lists) > 0 {
		p := lists[len(lists)-1]
		lists = lists[:len(lists)-1]

		kept := (*p)[:0]
		for _, st := range *p {
			switch n := st.(type) {
			case *ast.Label:
				if !s.targets[n.Name] {
					continue
				}
			case *ast.If:
				ifs = append(ifs, n)
				lists = append(lists, &n.Then, &n.Else)
			case *ast.While:
				lists = append(lists, &n.Body)
			}
			kept = append(kept, st)
		}
		*p = kept
	}

	for _, n := range ifs {
		if len(n.Then) == 0 && len(n.Else) > 0 {
			n.Cond = ast.Not(n.Cond)
			n.Then, n.Else = n.Else, nil
		}
		if len(n.Else) == 0 {
			n.Else = nil
		}
	}
}
