package callgraph

import (
	"fmt"
	"sort"

	"github.com/zboralski/lattice"

	"igiconv/internal/disasm"
	"igiconv/internal/qvm"
)

// BuildCFG constructs a lattice.CFGGraph with one FuncCFG per module CFG.
func BuildCFG(graphs []*disasm.CFG, mods []*qvm.Module, withStrings bool) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for i, g := range graphs {
		lcfg, _ := BuildFuncCFG(g, mods[i], withStrings)
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg
}

// BuildFuncCFG maps a module CFG to a lattice.FuncCFG. Calls, including
// those nested in argument thunks, are attached to the block holding the
// outermost CALL. If withStrings is set, string literal references are added
// as quoted call sites. Returns the FuncCFG and the number of basic blocks.
func BuildFuncCFG(g *disasm.CFG, m *qvm.Module, withStrings bool) (*lattice.FuncCFG, int) {
	lcfg := &lattice.FuncCFG{Name: g.Name}
	for _, db := range g.Blocks {
		lb := &lattice.BasicBlock{
			ID:    db.ID,
			Start: db.Start,
			End:   db.End,
			Term:  db.IsTerm,
		}

		// Convert successors.
		for _, ds := range db.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: ds.BlockID,
				Cond:    ds.Cond,
			})
		}

		for pos := db.Start; pos < db.End; pos++ {
			lb.Calls = callSites(lb.Calls, g.Prog, m, g.Prog.Main[pos], pos)
		}
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	if withStrings {
		addStringRefs(lcfg, g, m)
	}
	return lcfg, len(g.Blocks)
}

// callSites appends a call site for instruction idx if it is a CALL, then
// recurses into its argument thunks. All sites share the flow position pos.
func callSites(out []lattice.CallSite, p *disasm.Program, m *qvm.Module, idx, pos int) []lattice.CallSite {
	c, ok := p.Calls[idx]
	if !ok {
		return out
	}
	callee := disasm.CalleeOf(p, idx, m)
	if callee == "" {
		callee = fmt.Sprintf("0x%x", p.Insts[idx].Off)
	}
	out = append(out, lattice.CallSite{Offset: pos, Callee: callee})
	for _, arg := range c.Args {
		for _, j := range arg {
			out = callSites(out, p, m, j, pos)
		}
	}
	return out
}

// addStringRefs adds string reference CallSite entries into the blocks
// that push them, thunks included.
func addStringRefs(lcfg *lattice.FuncCFG, g *disasm.CFG, m *qvm.Module) {
	for bi, db := range g.Blocks {
		added := false
		for pos := db.Start; pos < db.End; pos++ {
			for _, idx := range flatten(nil, g.Prog, g.Prog.Main[pos]) {
				in := g.Prog.Insts[idx]
				if !in.Op.IsStringRef() {
					continue
				}
				val, _ := m.StringAt(int(in.Value))
				if len(val) > 50 {
					val = val[:47] + "..."
				}
				lcfg.Blocks[bi].Calls = append(lcfg.Blocks[bi].Calls, lattice.CallSite{
					Offset: pos,
					Callee: fmt.Sprintf("%q", val),
				})
				added = true
			}
		}
		if added {
			sort.SliceStable(lcfg.Blocks[bi].Calls, func(i, j int) bool {
				return lcfg.Blocks[bi].Calls[i].Offset < lcfg.Blocks[bi].Calls[j].Offset
			})
		}
	}
}

// flatten appends idx and every instruction of its argument thunks.
func flatten(out []int, p *disasm.Program, idx int) []int {
	out = append(out, idx)
	if c, ok := p.Calls[idx]; ok {
		for _, arg := range c.Args {
			for _, j := range arg {
				out = flatten(out, p, j)
			}
		}
	}
	return out
}
