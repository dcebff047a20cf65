package decompile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igiconv/internal/ast"
	"igiconv/internal/qvm"
	"igiconv/internal/qvm/qvmtest"
	"igiconv/internal/qvmfmt"
)

func set(name string, v uint32) func(*qvmtest.Asm) {
	return func(a *qvmtest.Asm) { a.Assign(name, func(a *qvmtest.Asm) { a.Int(v) }) }
}

// assignedCond assigns 1 + 2 to x and branches on the result.
func assignedCond(minor uint32) []byte {
	a := qvmtest.New(minor)
	a.Var("x").Int(1).Int(2).Op(qvm.OpADD).Op(qvm.OpASSIGN).Jump(qvm.OpBF, "L1")
	set("x", 3)(a)
	a.Jump(qvm.OpBRA, "L2").Label("L1")
	set("x", 4)(a)
	a.Label("L2").Op(qvm.OpBRK)
	return a.Image()
}

func TestDecompile_IfElseOnAssignedCondition(t *testing.T) {
	for _, minor := range []uint32{qvm.MinorV5, qvm.MinorV7} {
		r, err := Decompile("a.qvm", assignedCond(minor), qvmfmt.Options{})
		require.NoError(t, err)
		assert.Zero(t, r.Diags.Len())
		assert.Equal(t, `if (x = 1 + 2) {
    x = 3;
} else {
    x = 4;
}
return;
`, r.Text)
	}
}

func TestDecompile_WhileWithBreak(t *testing.T) {
	a := qvmtest.New(qvm.MinorV7)
	set("i", 0)(a)
	a.Label("top").Var("i").Int(10).Op(qvm.OpLT).Jump(qvm.OpBF, "done")
	a.CallStmt("Step", func(a *qvmtest.Asm) { a.Var("i") })
	a.Var("stop").Jump(qvm.OpBT, "done")
	a.Assign("i", func(a *qvmtest.Asm) { a.Var("i").Op(qvm.OpPUSH1).Op(qvm.OpADD) })
	a.Jump(qvm.OpBRA, "top").Label("done").Op(qvm.OpBRK)

	r, err := Decompile("b.qvm", a.Image(), qvmfmt.Options{Mode: qvmfmt.ModeStrict})
	require.NoError(t, err)
	assert.Equal(t, `i = 0;
while (i < 10) {
    Step(i);
    if (stop) {
        break;
    }
    i = i + 1;
}
return;
`, r.Text)
}

func TestDecompile_MidInstructionJump(t *testing.T) {
	a := qvmtest.New(qvm.MinorV7)
	a.JumpRel(qvm.OpBRA, 2).Int(3).Op(qvm.OpPOP).Op(qvm.OpBRK)

	r, err := Decompile("c.qvm", a.Image(), qvmfmt.Options{})
	require.Error(t, err)
	assert.Nil(t, r)
	assert.True(t, errors.Is(err, qvmfmt.ErrDanglingJumpTarget))
	assert.Equal(t, qvmfmt.KindDanglingJumpTarget, qvmfmt.KindOf(err))
}

func TestDecompile_MidInstructionJumpInArgument(t *testing.T) {
	a := qvmtest.New(qvm.MinorV7)
	a.CallStmt("F", func(a *qvmtest.Asm) {
		a.Var("y").JumpRel(qvm.OpBRA, 1).Int(7)
	}).Op(qvm.OpBRK)

	r, err := Decompile("arg.qvm", a.Image(), qvmfmt.Options{})
	require.Error(t, err)
	assert.Nil(t, r)
	assert.True(t, errors.Is(err, qvmfmt.ErrDanglingJumpTarget))
}

func TestDecompile_IrreducibleFallback(t *testing.T) {
	a := qvmtest.New(qvm.MinorV7)
	a.Var("c").Jump(qvm.OpBF, "b").
		Label("a").Var("x").Jump(qvm.OpBF, "end")
	set("n", 1)(a)
	a.Jump(qvm.OpBRA, "b").
		Label("b").Var("y").Jump(qvm.OpBF, "end")
	set("n", 2)(a)
	a.Jump(qvm.OpBRA, "a").
		Label("end").Op(qvm.OpBRK)

	r, err := Decompile("d.qvm", a.Image(), qvmfmt.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, r.Text)
	assert.Len(t, r.Order, len(r.CFG.Blocks))

	labels := ast.Count(r.Body, func(s ast.Stmt) bool {
		_, ok := s.(*ast.Label)
		return ok
	})
	gotos := ast.Count(r.Body, func(s ast.Stmt) bool {
		_, ok := s.(*ast.Goto)
		return ok
	})
	assert.GreaterOrEqual(t, labels, 1)
	assert.GreaterOrEqual(t, gotos, 1)

	_, err = Decompile("d.qvm", a.Image(), qvmfmt.Options{Mode: qvmfmt.ModeStrict})
	assert.True(t, errors.Is(err, qvmfmt.ErrDegraded))
}

func TestDecompile_FatalErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", []byte("POOL0000000000000000000000000000000000000000000000000000000000"), qvmfmt.ErrMalformedHeader},
		{"short", []byte("LOOP"), qvmfmt.ErrTruncatedData},
		{"unknown opcode", qvmtest.Build(qvm.MinorV7, nil, nil, []byte{0xfe, 0x00}), qvmfmt.ErrUnknownOpcode},
		{"pool reference", qvmtest.New(qvm.MinorV7).U32(qvm.OpPUSHSI, 3).Op(qvm.OpBRK).Image(), qvmfmt.ErrInvalidPoolReference},
		{"no terminator", qvmtest.New(qvm.MinorV7).Op(qvm.OpNOP).Image(), qvmfmt.ErrMissingTerminator},
		{"call without skip", qvmtest.New(qvm.MinorV7).Var("f").Call().Op(qvm.OpPOP).Op(qvm.OpBRK).Image(), qvmfmt.ErrMalformedCall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Decompile(tt.name, tt.data, qvmfmt.Options{})
			assert.Nil(t, r)
			assert.True(t, errors.Is(err, tt.want), "err = %v", err)
		})
	}
}

func TestDecompile_Degraded(t *testing.T) {
	a := qvmtest.New(qvm.MinorV7)
	set("x", 1)(a)
	a.Int(7).Op(qvm.OpBRK)

	r, err := Decompile("e.qvm", a.Image(), qvmfmt.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, r.Diags.Len())
	assert.Equal(t, qvmfmt.DiagStackImbalance, r.Diags.Items()[0].Kind)
	assert.Equal(t, "<opaque 0x0>;\nreturn;\n", r.Text)

	r, err = Decompile("e.qvm", a.Image(), qvmfmt.Options{Mode: qvmfmt.ModeStrict})
	assert.Nil(t, r)
	assert.True(t, errors.Is(err, qvmfmt.ErrDegraded))
}

func TestDecompile_Deterministic(t *testing.T) {
	data := assignedCond(qvm.MinorV7)
	first, err := Decompile("a.qvm", data, qvmfmt.Options{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := Decompile("a.qvm", data, qvmfmt.Options{})
		require.NoError(t, err)
		assert.Equal(t, first.Text, again.Text)
	}
}

func TestDecompile_DiagsSortedByOffset(t *testing.T) {
	// The unreachable block comes before the imbalanced one, though
	// lifting reports the imbalance first.
	a := qvmtest.New(qvm.MinorV7)
	a.Jump(qvm.OpBRA, "end")
	set("x", 1)(a)
	a.Label("end").Int(7).Op(qvm.OpBRK)

	r, err := Decompile("s.qvm", a.Image(), qvmfmt.Options{})
	require.NoError(t, err)
	require.Equal(t, 2, r.Diags.Len())
	assert.Equal(t, qvmfmt.DiagUnreachable, r.Diags.Items()[0].Kind)
	assert.Equal(t, qvmfmt.DiagStackImbalance, r.Diags.Items()[1].Kind)
	assert.Less(t, r.Diags.Items()[0].Offset, r.Diags.Items()[1].Offset)

	_, err = Decompile("s.qvm", a.Image(), qvmfmt.Options{Mode: qvmfmt.ModeStrict})
	var qe *qvmfmt.Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, qvmfmt.KindDegraded, qe.Kind)
	assert.Equal(t, 5, qe.Offset)
}
