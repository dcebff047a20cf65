// Package decompile runs the whole QVM to QSC pipeline for one module.
package decompile

import (
	"fmt"

	"igiconv/internal/ast"
	"igiconv/internal/disasm"
	"igiconv/internal/emit"
	"igiconv/internal/lift"
	"igiconv/internal/qvm"
	"igiconv/internal/qvmfmt"
	"igiconv/internal/structure"
)

// Result is a decompiled module and the artifacts it was built from.
type Result struct {
	Name    string
	Module  *qvm.Module
	Insts   []disasm.Inst
	Program *disasm.Program
	CFG     *disasm.CFG
	Code    *lift.Result
	Body    []ast.Stmt
	Order   []int // block placement order
	Text    string
	Diags   qvmfmt.Diags
}

// Decompile loads, decodes and structures one compiled script. Fatal
// errors are *qvmfmt.Error values wrapped with the failing stage; no
// partial Result is returned with them. In strict mode any diagnostic
// fails the module with a Degraded error.
func Decompile(name string, data []byte, opts qvmfmt.Options) (*Result, error) {
	m, err := qvm.Load(data)
	if err != nil {
		return nil, fmt.Errorf("decompile: load %s: %w", name, err)
	}
	insts, err := disasm.Decode(m)
	if err != nil {
		return nil, fmt.Errorf("decompile: decode %s: %w", name, err)
	}
	p, err := disasm.Layout(insts)
	if err != nil {
		return nil, fmt.Errorf("decompile: layout %s: %w", name, err)
	}
	g, err := disasm.BuildCFG(name, p, m.Entry)
	if err != nil {
		return nil, fmt.Errorf("decompile: cfg %s: %w", name, err)
	}

	code := lift.Lift(g, m)
	st := structure.Build(g, code)

	r := &Result{
		Name:    name,
		Module:  m,
		Insts:   insts,
		Program: p,
		CFG:     g,
		Code:    code,
		Body:    st.Body,
		Order:   st.Order,
		Text:    emit.Source(st.Body),
	}
	r.Diags.Merge(code.Diags)
	r.Diags.Merge(st.Diags)
	r.Diags.Sort()

	if opts.Mode == qvmfmt.ModeStrict && r.Diags.Len() > 0 {
		first := r.Diags.Items()[0]
		return nil, fmt.Errorf("decompile: %s: %w", name,
			qvmfmt.Errorf(qvmfmt.KindDegraded, first.Offset, "%d diagnostic(s), first: %s", r.Diags.Len(), first))
	}
	return r, nil
}

// Disassemble decodes a module without structuring it.
func Disassemble(name string, data []byte) (*qvm.Module, []disasm.Inst, error) {
	m, err := qvm.Load(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decompile: load %s: %w", name, err)
	}
	insts, err := disasm.Decode(m)
	if err != nil {
		return nil, nil, fmt.Errorf("decompile: decode %s: %w", name, err)
	}
	return m, insts, nil
}
