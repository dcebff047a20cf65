// Package qvmtest assembles synthetic QVM images for tests.
package qvmtest

import (
	"encoding/binary"
	"fmt"
	"math"

	"igiconv/internal/qvm"
)

type fixupKind int

const (
	fixRel fixupKind = iota // i32 relative to the end of the operand
	fixAbs                  // i32 absolute code offset
)

type fixup struct {
	at    int // operand position
	base  int // position the relative offset is measured from
	label string
	kind  fixupKind
}

// Asm builds a code section and its pools. Methods chain; label
// references may be forward and are resolved by Code.
type Asm struct {
	table   *qvm.OpcodeTable
	minor   uint32
	code    []byte
	labels  map[string]int
	fixups  []fixup
	symbols []string
	symIdx  map[string]uint32
	strings []string
	strIdx  map[string]uint32
	calls   int
}

// New returns an assembler for the given minor version (qvm.MinorV5 or qvm.MinorV7).
func New(minor uint32) *Asm {
	t := qvm.Table(minor)
	if t == nil {
		panic(fmt.Sprintf("qvmtest: unsupported minor version %d", minor))
	}
	return &Asm{
		table:  t,
		minor:  minor,
		labels: make(map[string]int),
		symIdx: make(map[string]uint32),
		strIdx: make(map[string]uint32),
	}
}

// Offset returns the current code position.
func (a *Asm) Offset() int { return len(a.code) }

// Sym interns a symbol pool entry.
func (a *Asm) Sym(name string) uint32 {
	if i, ok := a.symIdx[name]; ok {
		return i
	}
	i := uint32(len(a.symbols))
	a.symbols = append(a.symbols, name)
	a.symIdx[name] = i
	return i
}

// Str interns a string pool entry.
func (a *Asm) Str(s string) uint32 {
	if i, ok := a.strIdx[s]; ok {
		return i
	}
	i := uint32(len(a.strings))
	a.strings = append(a.strings, s)
	a.strIdx[s] = i
	return i
}

// Label defines name at the current position.
func (a *Asm) Label(name string) *Asm {
	if _, dup := a.labels[name]; dup {
		panic("qvmtest: duplicate label " + name)
	}
	a.labels[name] = len(a.code)
	return a
}

// Raw appends bytes verbatim.
func (a *Asm) Raw(b ...byte) *Asm {
	a.code = append(a.code, b...)
	return a
}

// Op appends an opcode without operands.
func (a *Asm) Op(op qvm.Op) *Asm {
	b, ok := a.table.Byte(op)
	if !ok {
		panic("qvmtest: no encoding for " + op.String())
	}
	a.code = append(a.code, b)
	return a
}

// U8, U16, U32 and F32 append an opcode with an immediate operand.
func (a *Asm) U8(op qvm.Op, v uint8) *Asm { return a.Op(op).Raw(v) }

func (a *Asm) U16(op qvm.Op, v uint16) *Asm {
	return a.Op(op).Raw(binary.LittleEndian.AppendUint16(nil, v)...)
}

func (a *Asm) U32(op qvm.Op, v uint32) *Asm {
	return a.Op(op).Raw(binary.LittleEndian.AppendUint32(nil, v)...)
}

func (a *Asm) F32(op qvm.Op, v float32) *Asm {
	return a.Op(op).Raw(binary.LittleEndian.AppendUint32(nil, math.Float32bits(v))...)
}

// Jump appends BRA, BF or BT to label.
func (a *Asm) Jump(op qvm.Op, label string) *Asm {
	a.Op(op)
	at := len(a.code)
	a.fixups = append(a.fixups, fixup{at: at, base: at + 4, label: label, kind: fixRel})
	return a.Raw(0, 0, 0, 0)
}

// JumpRel appends a branch with a literal relative offset.
func (a *Asm) JumpRel(op qvm.Op, rel int32) *Asm {
	return a.Op(op).Raw(binary.LittleEndian.AppendUint32(nil, uint32(rel))...)
}

// Call appends CALL with one absolute argument entry per label.
func (a *Asm) Call(args ...string) *Asm {
	a.Op(qvm.OpCALL).Raw(binary.LittleEndian.AppendUint32(nil, uint32(len(args)))...)
	for _, l := range args {
		a.fixups = append(a.fixups, fixup{at: len(a.code), label: l, kind: fixAbs})
		a.Raw(0, 0, 0, 0)
	}
	return a
}

// Int pushes an unsigned 32-bit literal.
func (a *Asm) Int(v uint32) *Asm { return a.U32(qvm.OpPUSH, v) }

// Var pushes a reference to a symbol.
func (a *Asm) Var(name string) *Asm { return a.U32(qvm.OpPUSHII, a.Sym(name)) }

// String pushes a string literal.
func (a *Asm) String(s string) *Asm { return a.U32(qvm.OpPUSHSI, a.Str(s)) }

// Assign emits "name = <value>;" where value is appended by emit.
func (a *Asm) Assign(name string, emit func(*Asm)) *Asm {
	a.Var(name)
	emit(a)
	return a.Op(qvm.OpASSIGN).Op(qvm.OpPOP)
}

// CallStmt emits "fn(args...);" with each argument appended by its
// emitter into its own BRK-terminated thunk.
func (a *Asm) CallStmt(fn string, args ...func(*Asm)) *Asm {
	a.CallExpr(fn, args...)
	return a.Op(qvm.OpPOP)
}

// CallExpr emits a call expression leaving its result on the stack.
func (a *Asm) CallExpr(fn string, args ...func(*Asm)) *Asm {
	a.calls++
	id := a.calls
	names := make([]string, len(args))
	for i := range args {
		names[i] = fmt.Sprintf("__call%d_arg%d", id, i)
	}
	skip := fmt.Sprintf("__call%d_skip", id)
	a.Var(fn).Call(names...).Jump(qvm.OpBRA, skip)
	for i, emit := range args {
		a.Label(names[i])
		emit(a)
		a.Op(qvm.OpBRK)
	}
	return a.Label(skip)
}

// Code resolves label references and returns the code section.
func (a *Asm) Code() []byte {
	out := append([]byte(nil), a.code...)
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			panic("qvmtest: undefined label " + f.label)
		}
		v := int32(target)
		if f.kind == fixRel {
			v = int32(target - f.base)
		}
		binary.LittleEndian.PutUint32(out[f.at:], uint32(v))
	}
	return out
}

// Image returns a complete LOOP file containing the code and pools.
func (a *Asm) Image() []byte {
	return Build(a.minor, a.symbols, a.strings, a.Code())
}

// Build lays out a LOOP file: header, variables, strings, code.
// Points tables hold one u32 offset per entry into the data section.
func Build(minor uint32, symbols, strings []string, code []byte) []byte {
	varPoints, varData := pool(symbols)
	strPoints, strData := pool(strings)

	off := uint32(qvm.HeaderSize)
	place := func(b []byte) uint32 {
		at := off
		off += uint32(len(b))
		return at
	}
	vpOff := place(varPoints)
	vdOff := place(varData)
	spOff := place(strPoints)
	sdOff := place(strData)
	codeOff := place(code)

	h := []uint32{
		qvm.MajorVersion, minor,
		vpOff, vdOff, uint32(len(varPoints)), uint32(len(varData)),
		spOff, sdOff, uint32(len(strPoints)), uint32(len(strData)),
		codeOff, uint32(len(code)),
		0, 0,
	}
	out := []byte("LOOP")
	for _, v := range h {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	for _, b := range [][]byte{varPoints, varData, strPoints, strData, code} {
		out = append(out, b...)
	}
	return out
}

func pool(entries []string) (points, data []byte) {
	for _, e := range entries {
		points = binary.LittleEndian.AppendUint32(points, uint32(len(data)))
		data = append(data, e...)
		data = append(data, 0)
	}
	return points, data
}
