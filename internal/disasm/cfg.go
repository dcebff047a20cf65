package disasm

import (
	"sort"

	"igiconv/internal/qvm"
	"igiconv/internal/qvmfmt"
)

// Block is a basic block of the top-level flow.
type Block struct {
	ID      int
	Start   int    // position in Program.Main (inclusive)
	End     int    // position in Program.Main (exclusive)
	Succs   []Succ // successor edges
	Preds   []int  // predecessor block IDs, ascending
	IsEntry bool
	IsTerm  bool // ends with BRK or RET
}

// Succ describes a control-flow successor edge.
type Succ struct {
	BlockID int
	Cond    string // "" = unconditional, "T" = branch taken, "F" = fallthrough
}

// Edge is a directed block-to-block edge.
type Edge struct {
	From, To int
}

// CFG is the control flow graph of one module's top-level flow.
type CFG struct {
	Name        string
	Prog        *Program
	Blocks      []Block
	Entry       int
	Exits       []int // blocks ending in BRK/RET
	Unreachable []int // blocks not reachable from Entry

	RPO         []int   // reachable blocks in reverse postorder
	IDom        []int   // immediate dominator, -1 for Entry and unreachable blocks
	IPDom       []int   // immediate post-dominator, -1 for the virtual exit or none
	Loops       []*Loop // natural loops, outermost first
	LoopOf      []int   // innermost loop index per block, -1 if none
	Irreducible []Edge  // retreating edges whose target does not dominate the source

	rpoNum    []int
	reachable []bool
}

// Last returns the final instruction of block id.
func (g *CFG) Last(id int) Inst {
	return g.Prog.MainInst(g.Blocks[id].End - 1)
}

// Insts returns the instructions of block id.
func (g *CFG) Insts(id int) []Inst {
	b := g.Blocks[id]
	out := make([]Inst, 0, b.End-b.Start)
	for pos := b.Start; pos < b.End; pos++ {
		out = append(out, g.Prog.MainInst(pos))
	}
	return out
}

// Offset returns the code offset of the first instruction of block id.
func (g *CFG) Offset(id int) int {
	return g.Prog.MainInst(g.Blocks[id].Start).Off
}

// Reachable reports whether block id is reachable from Entry.
func (g *CFG) Reachable(id int) bool { return g.reachable[id] }

// BuildCFG constructs the control flow graph of p's top-level flow.
// The algorithm:
//  1. Find block leaders: the entry, branch targets, instructions after
//     branches and terminators.
//  2. Partition the flow into blocks by leaders.
//  3. Compute successor edges from each block's last instruction.
//  4. Run reachability, dominator and loop analysis.
func BuildCFG(name string, p *Program, entry int) (*CFG, error) {
	if len(p.Main) == 0 {
		return nil, qvmfmt.Errorf(qvmfmt.KindMissingTerminator, 0, "no instructions")
	}
	entryIdx, ok := p.IndexOf(entry)
	if !ok {
		return nil, qvmfmt.Errorf(qvmfmt.KindDanglingJumpTarget, entry, "entry is not an instruction boundary")
	}
	entryPos, ok := p.MainPos(entryIdx)
	if !ok {
		return nil, qvmfmt.Errorf(qvmfmt.KindDanglingJumpTarget, entry, "entry lies inside a call region")
	}

	// Pass 1: Identify block leaders.
	leaders := map[int]bool{0: true, entryPos: true}
	targetPos := make(map[int]int) // position of branch -> position of its target
	for pos := range p.Main {
		in := p.MainInst(pos)
		if in.Op.IsBranch() {
			tIdx, ok := p.IndexOf(in.Target)
			if !ok {
				return nil, qvmfmt.Errorf(qvmfmt.KindDanglingJumpTarget, in.Off,
					"%s target 0x%x is not an instruction boundary", in.Op, in.Target)
			}
			tPos, ok := p.MainPos(tIdx)
			if !ok {
				return nil, qvmfmt.Errorf(qvmfmt.KindDanglingJumpTarget, in.Off,
					"%s target 0x%x lies inside a call region", in.Op, in.Target)
			}
			leaders[tPos] = true
			targetPos[pos] = tPos
		}
		if (in.Op.IsBranch() || in.Op.IsTerminator()) && pos+1 < len(p.Main) {
			leaders[pos+1] = true
		}
	}

	sorted := make([]int, 0, len(leaders))
	for pos := range leaders {
		sorted = append(sorted, pos)
	}
	sort.Ints(sorted)

	// Pass 2: Partition into blocks.
	g := &CFG{Name: name, Prog: p, Blocks: make([]Block, len(sorted))}
	leaderToBlock := make(map[int]int, len(sorted))
	for i, start := range sorted {
		end := len(p.Main)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		g.Blocks[i] = Block{ID: i, Start: start, End: end, IsEntry: start == entryPos}
		leaderToBlock[start] = i
		if start == entryPos {
			g.Entry = i
		}
	}

	// Pass 3: Compute successors.
	for i := range g.Blocks {
		blk := &g.Blocks[i]
		last := p.MainInst(blk.End - 1)
		next, hasNext := leaderToBlock[blk.End]

		switch {
		case last.Op.IsTerminator():
			blk.IsTerm = true
			g.Exits = append(g.Exits, i)
		case last.Op == qvm.OpBRA:
			blk.Succs = []Succ{{BlockID: leaderToBlock[targetPos[blk.End-1]]}}
		case last.Op.IsConditional():
			if !hasNext {
				return nil, qvmfmt.Errorf(qvmfmt.KindMissingTerminator, last.Off, "%s falls off the end of the code", last.Op)
			}
			taken := leaderToBlock[targetPos[blk.End-1]]
			if taken == next {
				blk.Succs = []Succ{{BlockID: next}}
			} else {
				blk.Succs = []Succ{{BlockID: taken, Cond: "T"}, {BlockID: next, Cond: "F"}}
			}
		default:
			if !hasNext {
				return nil, qvmfmt.Errorf(qvmfmt.KindMissingTerminator, last.Off, "flow falls off the end after %s", last.Op)
			}
			blk.Succs = []Succ{{BlockID: next}}
		}
	}

	for i := range g.Blocks {
		for _, s := range g.Blocks[i].Succs {
			g.Blocks[s.BlockID].Preds = append(g.Blocks[s.BlockID].Preds, i)
		}
	}

	g.analyze()
	return g, nil
}

// Branch describes the two-way exit of a conditional block in terms of
// the popped condition value.
type Branch struct {
	OnTrue  int // successor when the condition is nonzero
	OnFalse int // successor when the condition is zero
}

// BranchOf returns the condition-relative successors of a two-way block.
func (g *CFG) BranchOf(id int) (Branch, bool) {
	blk := g.Blocks[id]
	if len(blk.Succs) != 2 {
		return Branch{}, false
	}
	var taken, fall int
	for _, s := range blk.Succs {
		if s.Cond == "T" {
			taken = s.BlockID
		} else {
			fall = s.BlockID
		}
	}
	if g.Last(id).Op == qvm.OpBT {
		return Branch{OnTrue: taken, OnFalse: fall}, true
	}
	return Branch{OnTrue: fall, OnFalse: taken}, true
}
