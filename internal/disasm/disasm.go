// Package disasm decodes QVM instruction streams and builds their control flow graphs.
package disasm

import (
	"fmt"
	"strconv"
	"strings"

	"igiconv/internal/qvm"
	"igiconv/internal/qvmfmt"
)

// Inst is one decoded instruction at a code-section offset.
type Inst struct {
	Off    int
	Size   int
	Op     qvm.Op
	Code   byte    // raw opcode byte
	Value  uint32  // immediate integer or pool index
	Float  float32 // PUSHF immediate
	Target int     // absolute jump target (BRA, BF, BT)
	Args   []int   // absolute argument entry offsets (CALL)
}

// Next returns the offset of the following instruction.
func (in Inst) Next() int { return in.Off + in.Size }

// DecodeAt decodes the instruction at off and returns it together with the
// offset of the next instruction. Pool references are not checked here.
func DecodeAt(code []byte, off int, table *qvm.OpcodeTable) (Inst, int, error) {
	s := qvmfmt.NewStreamAt(code, off)
	b, err := s.ReadByte()
	if err != nil {
		return Inst{}, off, qvmfmt.Errorf(qvmfmt.KindTruncatedData, off, "opcode past end of code")
	}
	op := table.Op(b)
	in := Inst{Off: off, Op: op, Code: b}

	truncated := func() error {
		return qvmfmt.Errorf(qvmfmt.KindTruncatedData, off, "%s operand past end of code", op)
	}

	switch op.Operand() {
	case qvm.OperandNone:
	case qvm.OperandU8:
		v, err := s.ReadByte()
		if err != nil {
			return Inst{}, off, truncated()
		}
		in.Value = uint32(v)
	case qvm.OperandU16:
		v, err := s.ReadUint16()
		if err != nil {
			return Inst{}, off, truncated()
		}
		in.Value = uint32(v)
	case qvm.OperandU32:
		v, err := s.ReadUint32()
		if err != nil {
			return Inst{}, off, truncated()
		}
		in.Value = v
	case qvm.OperandF32:
		v, err := s.ReadFloat32()
		if err != nil {
			return Inst{}, off, truncated()
		}
		in.Float = v
	case qvm.OperandRel32:
		v, err := s.ReadInt32()
		if err != nil {
			return Inst{}, off, truncated()
		}
		in.Value = uint32(v)
		in.Target = s.Position() + int(v)
	case qvm.OperandCallArgs:
		n, err := s.ReadUint32()
		if err != nil {
			return Inst{}, off, truncated()
		}
		if int64(n)*4 > int64(s.Remaining()) {
			return Inst{}, off, truncated()
		}
		in.Value = n
		in.Args = make([]int, n)
		for i := range in.Args {
			v, _ := s.ReadInt32()
			in.Args[i] = int(v)
		}
	default:
		if op == qvm.OpInvalid {
			return Inst{}, off, qvmfmt.Errorf(qvmfmt.KindUnknownOpcode, off, "opcode byte 0x%02x", b)
		}
		return Inst{}, off, qvmfmt.Errorf(qvmfmt.KindUnknownOpcode, off, "%s (0x%02x) has no known operand layout", op, b)
	}

	in.Size = s.Position() - off
	return in, s.Position(), nil
}

// Decode decodes the whole code section of m. Any failure is fatal:
// no partial instruction list is returned.
func Decode(m *qvm.Module) ([]Inst, error) {
	table := qvm.Table(m.Version.Minor)
	if table == nil {
		return nil, qvmfmt.Errorf(qvmfmt.KindMalformedHeader, 8, "no opcode table for version %s", m.Version)
	}

	var insts []Inst
	for off := 0; off < len(m.Code); {
		in, next, err := DecodeAt(m.Code, off, table)
		if err != nil {
			return nil, err
		}
		if err := checkPoolRef(m, in); err != nil {
			return nil, err
		}
		insts = append(insts, in)
		off = next
	}

	if len(insts) == 0 {
		return nil, qvmfmt.Errorf(qvmfmt.KindMissingTerminator, 0, "empty code section")
	}
	if last := insts[len(insts)-1]; !last.Op.IsTerminator() {
		return nil, qvmfmt.Errorf(qvmfmt.KindMissingTerminator, last.Off, "stream ends with %s", last.Op)
	}
	return insts, nil
}

func checkPoolRef(m *qvm.Module, in Inst) error {
	switch {
	case in.Op.IsStringRef():
		if int(in.Value) >= len(m.Strings) {
			return qvmfmt.Errorf(qvmfmt.KindInvalidPoolReference, in.Off,
				"string index %d out of range (pool has %d)", in.Value, len(m.Strings))
		}
	case in.Op.IsSymbolRef():
		if int(in.Value) >= len(m.Symbols) {
			return qvmfmt.Errorf(qvmfmt.KindInvalidPoolReference, in.Off,
				"symbol index %d out of range (pool has %d)", in.Value, len(m.Symbols))
		}
	}
	return nil
}

// Operands renders the operand text of in.
func (in Inst) Operands() string {
	switch in.Op.Operand() {
	case qvm.OperandU8, qvm.OperandU16, qvm.OperandU32:
		return strconv.FormatUint(uint64(in.Value), 10)
	case qvm.OperandF32:
		return strconv.FormatFloat(float64(in.Float), 'g', -1, 32)
	case qvm.OperandRel32:
		return fmt.Sprintf("0x%x", in.Target)
	case qvm.OperandCallArgs:
		parts := make([]string, len(in.Args))
		for i, a := range in.Args {
			parts[i] = fmt.Sprintf("0x%x", a)
		}
		return fmt.Sprintf("%d [%s]", len(in.Args), strings.Join(parts, ", "))
	}
	return ""
}

// Format renders instructions as a stable listing. Each line:
// <offset>  <opcode byte>  <mnemonic> <operands>  ; <pool value>
func Format(insts []Inst, m *qvm.Module) string {
	var b strings.Builder
	for _, in := range insts {
		writeInst(&b, in, m, "")
	}
	return b.String()
}

// FormatProgram renders p like Format, but in call layout order: the
// BRA skip and argument thunks of each CALL follow it, indented one
// level per call depth.
func FormatProgram(p *Program, m *qvm.Module) string {
	var b strings.Builder
	for _, idx := range p.Main {
		writeCall(&b, p, m, idx, "")
	}
	return b.String()
}

func writeCall(b *strings.Builder, p *Program, m *qvm.Module, idx int, indent string) {
	writeInst(b, p.Insts[idx], m, indent)
	c, ok := p.Calls[idx]
	if !ok {
		return
	}
	inner := indent + "    "
	writeInst(b, p.Insts[idx+1], m, inner)
	for k, body := range c.Args {
		for _, j := range body {
			writeCall(b, p, m, j, inner)
		}
		if brk, ok := p.thunkEnd(c, k); ok {
			writeInst(b, p.Insts[brk], m, inner)
		}
	}
}

// thunkEnd returns the index of the BRK closing argument k of c.
func (p *Program) thunkEnd(c *Call, k int) (int, bool) {
	body := c.Args[k]
	if len(body) == 0 {
		return p.IndexOf(p.Insts[c.Index].Args[k])
	}
	last := body[len(body)-1]
	if nested, ok := p.Calls[last]; ok {
		return p.IndexOf(nested.Skip)
	}
	return p.IndexOf(p.Insts[last].Next())
}

func writeInst(b *strings.Builder, in Inst, m *qvm.Module, indent string) {
	fmt.Fprintf(b, "0x%06x  %02x  %s%s", in.Off, in.Code, indent, in.Text())
	if c := in.Comment(m); c != "" {
		b.WriteString("  ; ")
		b.WriteString(c)
	}
	b.WriteByte('\n')
}

// Text returns the mnemonic followed by its operands.
func (in Inst) Text() string {
	if ops := in.Operands(); ops != "" {
		return in.Op.String() + " " + ops
	}
	return in.Op.String()
}

// Comment resolves the pool reference of in, if any.
func (in Inst) Comment(m *qvm.Module) string {
	if m == nil {
		return ""
	}
	switch {
	case in.Op.IsSymbolRef():
		if s, ok := m.SymbolAt(int(in.Value)); ok {
			return s
		}
	case in.Op.IsStringRef():
		if s, ok := m.StringAt(int(in.Value)); ok {
			return strconv.Quote(s)
		}
	}
	return ""
}
