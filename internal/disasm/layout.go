package disasm

import (
	"igiconv/internal/qvm"
	"igiconv/internal/qvmfmt"
)

// Call is one CALL instruction with its argument thunks folded in.
//
// The compiler lays a call out as
//
//	push callee; CALL n, [a1..an]; BRA skip; <a1 ... BRK> ... <an ... BRK>; skip:
//
// so everything in [BRA, skip) belongs to the call, not to the
// surrounding flow.
type Call struct {
	Index int     // instruction index of the CALL
	Skip  int     // offset execution resumes at
	Args  [][]int // per argument: instruction indices of the thunk, BRK excluded
}

// Program is a decoded stream split into the top-level flow and the
// call argument thunks hanging off it.
type Program struct {
	Insts []Inst
	Main  []int         // instruction indices of the top-level flow, in offset order
	Calls map[int]*Call // keyed by CALL instruction index

	index   map[int]int // offset -> instruction index
	mainPos map[int]int // instruction index -> position in Main
	codeLen int
}

// IndexOf returns the instruction index starting at off.
func (p *Program) IndexOf(off int) (int, bool) {
	i, ok := p.index[off]
	return i, ok
}

// MainPos returns the position in Main of the instruction at index idx.
func (p *Program) MainPos(idx int) (int, bool) {
	pos, ok := p.mainPos[idx]
	return pos, ok
}

// MainInst returns the instruction at position pos of the top-level flow.
func (p *Program) MainInst(pos int) Inst { return p.Insts[p.Main[pos]] }

// Layout splits insts into the top-level flow and call thunks. Calls are
// processed from an explicit worklist; nested calls inside thunks are
// queued as they are found.
func Layout(insts []Inst) (*Program, error) {
	p := &Program{
		Insts:   insts,
		Calls:   make(map[int]*Call),
		index:   make(map[int]int, len(insts)),
		mainPos: make(map[int]int, len(insts)),
	}
	for i, in := range insts {
		p.index[in.Off] = i
	}
	if n := len(insts); n > 0 {
		p.codeLen = insts[n-1].Next()
	}
	// Thunk branches never reach BuildCFG, so every target is checked
	// here. Only a call skip may point at the end of the code.
	for i, in := range insts {
		if !in.Op.IsBranch() {
			continue
		}
		if _, ok := p.index[in.Target]; ok {
			continue
		}
		if in.Op == qvm.OpBRA && in.Target == p.codeLen && i > 0 && insts[i-1].Op == qvm.OpCALL {
			continue
		}
		return nil, qvmfmt.Errorf(qvmfmt.KindDanglingJumpTarget, in.Off,
			"%s target 0x%x is not an instruction boundary", in.Op, in.Target)
	}

	type pending struct {
		call  *Call
		entry []int // instruction index of each argument entry
	}
	var queue []pending

	fold := func(i int) (int, error) {
		in := insts[i]
		if i+1 >= len(insts) || insts[i+1].Op != qvm.OpBRA {
			return 0, qvmfmt.Errorf(qvmfmt.KindMalformedCall, in.Off, "CALL not followed by BRA")
		}
		bra := insts[i+1]
		if bra.Target <= bra.Off {
			return 0, qvmfmt.Errorf(qvmfmt.KindMalformedCall, bra.Off, "call skip 0x%x is not forward", bra.Target)
		}
		skipIdx, ok := p.index[bra.Target]
		if !ok {
			if bra.Target != p.codeLen {
				return 0, qvmfmt.Errorf(qvmfmt.KindDanglingJumpTarget, bra.Off,
					"call skip 0x%x is not an instruction boundary", bra.Target)
			}
			skipIdx = len(insts)
		}

		c := &Call{Index: i, Skip: bra.Target, Args: make([][]int, len(in.Args))}
		entries := make([]int, len(in.Args))
		for k, a := range in.Args {
			if a < bra.Next() || a >= bra.Target {
				return 0, qvmfmt.Errorf(qvmfmt.KindMalformedCall, in.Off,
					"argument %d entry 0x%x outside call region [0x%x, 0x%x)", k, a, bra.Next(), bra.Target)
			}
			idx, ok := p.index[a]
			if !ok {
				return 0, qvmfmt.Errorf(qvmfmt.KindDanglingJumpTarget, in.Off,
					"argument %d entry 0x%x is not an instruction boundary", k, a)
			}
			entries[k] = idx
		}
		p.Calls[i] = c
		queue = append(queue, pending{call: c, entry: entries})
		return skipIdx, nil
	}

	for i := 0; i < len(insts); {
		p.mainPos[i] = len(p.Main)
		p.Main = append(p.Main, i)
		if insts[i].Op != qvm.OpCALL {
			i++
			continue
		}
		next, err := fold(i)
		if err != nil {
			return nil, err
		}
		i = next
	}

	for len(queue) > 0 {
		pc := queue[0]
		queue = queue[1:]
		limit := pc.call.Skip
		for k, j := range pc.entry {
			var body []int
			for {
				if j >= len(insts) || insts[j].Off >= limit {
					return nil, qvmfmt.Errorf(qvmfmt.KindMissingTerminator, insts[pc.entry[k]].Off,
						"argument thunk has no BRK before 0x%x", limit)
				}
				op := insts[j].Op
				if op == qvm.OpBRK {
					break
				}
				body = append(body, j)
				if op != qvm.OpCALL {
					j++
					continue
				}
				if _, done := p.Calls[j]; done {
					return nil, qvmfmt.Errorf(qvmfmt.KindMalformedCall, insts[j].Off, "call shared between argument thunks")
				}
				next, err := fold(j)
				if err != nil {
					return nil, err
				}
				j = next
			}
			pc.call.Args[k] = body
		}
	}
	return p, nil
}
