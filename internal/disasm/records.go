package disasm

import (
	"fmt"

	"igiconv/internal/qvm"
)

// CallRecord is one line in calls.jsonl.
type CallRecord struct {
	Script string `json:"script"`
	PC     string `json:"pc"`
	Callee string `json:"callee,omitempty"` // symbol pushed just before CALL, if any
	Argc   int    `json:"argc"`
	Skip   string `json:"skip"`
}

// StringRefRecord is one line in string_refs.jsonl.
type StringRefRecord struct {
	Script  string `json:"script"`
	PC      string `json:"pc"`
	PoolIdx int    `json:"pool_idx"`
	Value   string `json:"value"` // raw string value (unquoted)
}

// CallRecords lists every call in p in offset order, thunk calls included.
func CallRecords(script string, p *Program, m *qvm.Module) []CallRecord {
	var out []CallRecord
	for i, in := range p.Insts {
		c, ok := p.Calls[i]
		if !ok {
			continue
		}
		out = append(out, CallRecord{
			Script: script,
			PC:     fmt.Sprintf("0x%x", in.Off),
			Callee: CalleeOf(p, i, m),
			Argc:   len(c.Args),
			Skip:   fmt.Sprintf("0x%x", c.Skip),
		})
	}
	return out
}

// CalleeOf returns the symbol pushed by the instruction preceding the
// CALL at index i, or "" if the callee is computed.
func CalleeOf(p *Program, i int, m *qvm.Module) string {
	if i == 0 {
		return ""
	}
	prev := p.Insts[i-1]
	if !prev.Op.IsSymbolRef() {
		return ""
	}
	name, _ := m.SymbolAt(int(prev.Value))
	return name
}

// StringRefs lists every string literal reference in insts.
func StringRefs(script string, insts []Inst, m *qvm.Module) []StringRefRecord {
	var out []StringRefRecord
	for _, in := range insts {
		if !in.Op.IsStringRef() {
			continue
		}
		v, _ := m.StringAt(int(in.Value))
		out = append(out, StringRefRecord{
			Script:  script,
			PC:      fmt.Sprintf("0x%x", in.Off),
			PoolIdx: int(in.Value),
			Value:   v,
		})
	}
	return out
}
