package disasm

import "sort"

// Loop is a natural loop: a header plus every block that reaches one of
// its back edges without passing through the header.
type Loop struct {
	Header  int
	Latches []int        // sources of back edges, ascending
	Body    map[int]bool // includes Header
	Parent  int          // index of the enclosing loop in CFG.Loops, -1 if outermost
}

// Contains reports whether block id belongs to the loop.
func (l *Loop) Contains(id int) bool { return l.Body[id] }

// Blocks returns the loop's block IDs in ascending order.
func (l *Loop) Blocks() []int {
	out := make([]int, 0, len(l.Body))
	for id := range l.Body {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (g *CFG) analyze() {
	n := len(g.Blocks)
	g.reachable = make([]bool, n)
	g.rpoNum = make([]int, n)
	for i := range g.rpoNum {
		g.rpoNum[i] = -1
	}

	g.RPO = g.reversePostorder()
	for i, id := range g.RPO {
		g.rpoNum[id] = i
		g.reachable[id] = true
	}
	for id := 0; id < n; id++ {
		if !g.reachable[id] {
			g.Unreachable = append(g.Unreachable, id)
		}
	}

	g.IDom = g.dominators()
	g.IPDom = g.postDominators()
	g.findLoops()
}

// reversePostorder runs an iterative DFS from Entry. Successors are
// visited in edge order so the result is deterministic.
func (g *CFG) reversePostorder() []int {
	type frame struct{ id, next int }
	visited := make([]bool, len(g.Blocks))
	var post []int
	stack := []frame{{id: g.Entry}}
	visited[g.Entry] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := g.Blocks[top.id].Succs
		if top.next < len(succs) {
			s := succs[top.next].BlockID
			top.next++
			if !visited[s] {
				visited[s] = true
				stack = append(stack, frame{id: s})
			}
			continue
		}
		post = append(post, top.id)
		stack = stack[:len(stack)-1]
	}
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// dominators computes immediate dominators with the Cooper-Harvey-Kennedy
// iterative algorithm over reverse postorder.
func (g *CFG) dominators() []int {
	idom := make([]int, len(g.Blocks))
	for i := range idom {
		idom[i] = -1
	}
	idom[g.Entry] = g.Entry

	for changed := true; changed; {
		changed = false
		for _, b := range g.RPO[1:] {
			newIdom := -1
			for _, p := range g.Blocks[b].Preds {
				if idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(idom, g.rpoNum, p, newIdom)
				}
			}
			if newIdom != idom[b] {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	idom[g.Entry] = -1
	return idom
}

func intersect(idom, order []int, a, b int) int {
	for a != b {
		for order[a] > order[b] {
			a = idom[a]
		}
		for order[b] > order[a] {
			b = idom[b]
		}
	}
	return a
}

// postDominators computes immediate post-dominators on the reverse graph,
// rooted at a virtual exit fed by every reachable exit block. Blocks that
// cannot reach an exit get -1, as do blocks whose ipdom is the virtual exit.
func (g *CFG) postDominators() []int {
	n := len(g.Blocks)
	exit := n

	// Reverse graph DFS from the virtual exit.
	type frame struct{ id, next int }
	preds := func(id int) []int {
		if id == exit {
			var out []int
			for _, e := range g.Exits {
				if g.reachable[e] {
					out = append(out, e)
				}
			}
			return out
		}
		return g.Blocks[id].Preds
	}
	succs := func(id int) []int {
		var out []int
		if g.Blocks[id].IsTerm {
			out = append(out, exit)
		}
		for _, s := range g.Blocks[id].Succs {
			out = append(out, s.BlockID)
		}
		return out
	}

	visited := make([]bool, n+1)
	var post []int
	stack := []frame{{id: exit}}
	visited[exit] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		ps := preds(top.id)
		if top.next < len(ps) {
			p := ps[top.next]
			top.next++
			if !visited[p] && g.reachable[p] {
				visited[p] = true
				stack = append(stack, frame{id: p})
			}
			continue
		}
		post = append(post, top.id)
		stack = stack[:len(stack)-1]
	}

	order := make([]int, n+1)
	for i := range order {
		order[i] = -1
	}
	for i, id := range post {
		// Higher postorder number = closer to the root; invert so the
		// root has the lowest number, as intersect expects.
		order[id] = len(post) - 1 - i
	}

	ipdom := make([]int, n+1)
	for i := range ipdom {
		ipdom[i] = -1
	}
	ipdom[exit] = exit

	for changed := true; changed; {
		changed = false
		for i := len(post) - 2; i >= 0; i-- {
			b := post[i]
			newIdom := -1
			for _, s := range succs(b) {
				if ipdom[s] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = s
				} else {
					newIdom = intersect(ipdom, order, s, newIdom)
				}
			}
			if newIdom != ipdom[b] {
				ipdom[b] = newIdom
				changed = true
			}
		}
	}

	out := ipdom[:n]
	for i, d := range out {
		if d == exit {
			out[i] = -1
		}
	}
	return out
}

// Dominates reports whether a dominates b. Every block dominates itself.
func (g *CFG) Dominates(a, b int) bool {
	if !g.reachable[a] || !g.reachable[b] {
		return false
	}
	for x := b; x != -1; x = g.IDom[x] {
		if x == a {
			return true
		}
	}
	return false
}

// PostDominates reports whether every path from b to an exit passes
// through a. Blocks that cannot reach an exit are post-dominated by
// nothing but themselves.
func (g *CFG) PostDominates(a, b int) bool {
	for x := b; x != -1; x = g.IPDom[x] {
		if x == a {
			return true
		}
	}
	return false
}

// RPONum returns the reverse-postorder index of id, or -1 if unreachable.
func (g *CFG) RPONum(id int) int { return g.rpoNum[id] }

// findLoops collects natural loops from back edges and records retreating
// edges that are not back edges as irreducible.
func (g *CFG) findLoops() {
	byHeader := make(map[int]*Loop)
	var headers []int

	for _, b := range g.RPO {
		for _, s := range g.Blocks[b].Succs {
			h := s.BlockID
			if g.rpoNum[h] > g.rpoNum[b] {
				continue // forward edge
			}
			if !g.Dominates(h, b) {
				g.Irreducible = append(g.Irreducible, Edge{From: b, To: h})
				continue
			}
			l, ok := byHeader[h]
			if !ok {
				l = &Loop{Header: h, Body: map[int]bool{h: true}, Parent: -1}
				byHeader[h] = l
				headers = append(headers, h)
			}
			l.Latches = append(l.Latches, b)

			work := []int{b}
			for len(work) > 0 {
				x := work[len(work)-1]
				work = work[:len(work)-1]
				if l.Body[x] {
					continue
				}
				l.Body[x] = true
				for _, p := range g.Blocks[x].Preds {
					if g.reachable[p] && !l.Body[p] {
						work = append(work, p)
					}
				}
			}
		}
	}

	// Outermost first: larger bodies before the loops they contain.
	sort.Slice(headers, func(i, j int) bool {
		li, lj := byHeader[headers[i]], byHeader[headers[j]]
		if len(li.Body) != len(lj.Body) {
			return len(li.Body) > len(lj.Body)
		}
		return li.Header < lj.Header
	})
	for _, h := range headers {
		l := byHeader[h]
		sort.Ints(l.Latches)
		g.Loops = append(g.Loops, l)
	}

	g.LoopOf = make([]int, len(g.Blocks))
	for i := range g.LoopOf {
		g.LoopOf[i] = -1
	}
	for i, l := range g.Loops {
		// Outermost first, so the innermost enclosing loop seen so far is the parent.
		l.Parent = g.LoopOf[l.Header]
		for id := range l.Body {
			g.LoopOf[id] = i
		}
	}
}
