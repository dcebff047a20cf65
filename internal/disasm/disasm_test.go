package disasm

import (
	"errors"
	"strings"
	"testing"

	"igiconv/internal/qvm"
	"igiconv/internal/qvm/qvmtest"
	"igiconv/internal/qvmfmt"
)

func load(t *testing.T, a *qvmtest.Asm) *qvm.Module {
	t.Helper()
	m, err := qvm.Load(a.Image())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func TestDecode_Operands(t *testing.T) {
	a := qvmtest.New(qvm.MinorV7)
	a.Int(5).U8(qvm.OpPUSHB, 7).U16(qvm.OpPUSHW, 300).F32(qvm.OpPUSHF, 1.5).
		Op(qvm.OpADD).Op(qvm.OpPOP).Op(qvm.OpBRK)

	insts, err := Decode(load(t, a))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(insts) != 7 {
		t.Fatalf("got %d instructions, want 7", len(insts))
	}
	wantOffs := []int{0, 5, 7, 10, 15, 16, 17}
	for i, in := range insts {
		if in.Off != wantOffs[i] {
			t.Errorf("inst %d off = %d, want %d", i, in.Off, wantOffs[i])
		}
	}
	if insts[0].Value != 5 || insts[1].Value != 7 || insts[2].Value != 300 {
		t.Errorf("values = %d %d %d", insts[0].Value, insts[1].Value, insts[2].Value)
	}
	if insts[3].Float != 1.5 {
		t.Errorf("float = %v, want 1.5", insts[3].Float)
	}
}

func TestDecode_V5Table(t *testing.T) {
	a := qvmtest.New(qvm.MinorV5)
	a.Int(1).Op(qvm.OpPOP).Op(qvm.OpRET)

	insts, err := Decode(load(t, a))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := []qvm.Op{insts[0].Op, insts[1].Op, insts[2].Op}
	want := []qvm.Op{qvm.OpPUSH, qvm.OpPOP, qvm.OpRET}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("op %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDecode_BranchTarget(t *testing.T) {
	a := qvmtest.New(qvm.MinorV7)
	a.Jump(qvm.OpBRA, "end").Op(qvm.OpNOP).Label("end").Op(qvm.OpBRK)

	insts, err := Decode(load(t, a))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if insts[0].Target != 6 {
		t.Errorf("target = %d, want 6", insts[0].Target)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		asm  func(a *qvmtest.Asm)
		want error
		off  int
	}{
		{"truncated operand", func(a *qvmtest.Asm) { a.Op(qvm.OpNOP).Op(qvm.OpPUSH).Raw(1, 2) }, qvmfmt.ErrTruncatedData, 1},
		{"truncated call args", func(a *qvmtest.Asm) { a.U32(qvm.OpCALL, 3).Raw(0, 0, 0, 0) }, qvmfmt.ErrTruncatedData, 0},
		{"unassigned byte", func(a *qvmtest.Asm) { a.Raw(0xff).Op(qvm.OpBRK) }, qvmfmt.ErrUnknownOpcode, 0},
		{"no operand layout", func(a *qvmtest.Asm) { a.Op(qvm.OpJSR).Op(qvm.OpBRK) }, qvmfmt.ErrUnknownOpcode, 0},
		{"symbol out of range", func(a *qvmtest.Asm) { a.U32(qvm.OpPUSHII, 4).Op(qvm.OpBRK) }, qvmfmt.ErrInvalidPoolReference, 0},
		{"string out of range", func(a *qvmtest.Asm) { a.U8(qvm.OpPUSHSIB, 0).Op(qvm.OpBRK) }, qvmfmt.ErrInvalidPoolReference, 0},
		{"no terminator", func(a *qvmtest.Asm) { a.Int(1).Op(qvm.OpPOP) }, qvmfmt.ErrMissingTerminator, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := qvmtest.New(qvm.MinorV7)
			tt.asm(a)
			insts, err := Decode(load(t, a))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if insts != nil {
				t.Errorf("got %d instructions on failure", len(insts))
			}
			var qe *qvmfmt.Error
			if !errors.As(err, &qe) || qe.Offset != tt.off {
				t.Errorf("error offset = %+v, want %d", qe, tt.off)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	a := qvmtest.New(qvm.MinorV7)
	a.Var("health").String("hi").Op(qvm.OpBRK)
	m := load(t, a)
	insts, err := Decode(m)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	text := Format(insts, m)
	if !strings.Contains(text, "0x000000  12  PUSHII 0  ; health") {
		t.Errorf("missing symbol line:\n%s", text)
	}
	if !strings.Contains(text, `PUSHSI 0  ; "hi"`) {
		t.Errorf("missing string line:\n%s", text)
	}
	if text != Format(insts, m) {
		t.Error("Format is not deterministic")
	}
}

func TestFormatProgram(t *testing.T) {
	a := qvmtest.New(qvm.MinorV7)
	a.CallStmt("Outer",
		func(a *qvmtest.Asm) { a.CallExpr("Inner", func(a *qvmtest.Asm) { a.Int(2) }) },
		func(a *qvmtest.Asm) { a.String("x") },
	).Op(qvm.OpBRK)

	p, m := layout(t, a)
	text := FormatProgram(p, m)
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) != len(p.Insts) {
		t.Fatalf("%d lines for %d instructions:\n%s", len(lines), len(p.Insts), text)
	}

	want := []struct {
		indent int
		op     string
	}{
		{0, "PUSHII"}, {0, "CALL"},
		{4, "BRA"},
		{4, "PUSHII"}, {4, "CALL"}, {8, "BRA"}, {8, "PUSH"}, {8, "BRK"},
		{4, "BRK"},
		{4, "PUSHSI"}, {4, "BRK"},
		{0, "POP"}, {0, "BRK"},
	}
	for i, w := range want {
		col := lines[i][len("0x000000  00  "):]
		mnem := strings.TrimLeft(col, " ")
		if indent := len(col) - len(mnem); indent != w.indent || !strings.HasPrefix(mnem, w.op+" ") && mnem != w.op {
			t.Errorf("line %d = %q, want %s at indent %d", i, lines[i], w.op, w.indent)
		}
	}
	if !strings.Contains(text, "PUSHII 1  ; Inner") {
		t.Errorf("missing callee comment:\n%s", text)
	}
}
