package render

import (
	"strings"
	"testing"

	"igiconv/internal/decompile"
	"igiconv/internal/qvm"
	"igiconv/internal/qvm/qvmtest"
	"igiconv/internal/qvmfmt"
)

func TestCFGDOT_Loop(t *testing.T) {
	a := qvmtest.New(qvm.MinorV7)
	a.Label("top").Var("c").Jump(qvm.OpBF, "out").
		CallStmt("Print", func(a *qvmtest.Asm) { a.String("hi") }).
		Jump(qvm.OpBRA, "top").
		Label("out").Op(qvm.OpBRK)

	res, err := decompile.Decompile("loop.qvm", a.Image(), qvmfmt.Options{})
	if err != nil {
		t.Fatalf("Decompile: %v", err)
	}
	dot := CFGDOT(res.CFG, res.Module, NASA)

	for _, want := range []string{
		"digraph cfg {",
		"loop.qvm",
		"subgraph cluster_loop0 {",
		"loop bb0",
		"bb0 -> bb2",
		"bb1 -> bb0 [constraint=false, color=\"" + NASA.EdgeBack + "\"]",
		"; Print",
		"; &quot;hi&quot;",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT missing %q\n%s", want, dot)
		}
	}
	if !strings.HasSuffix(dot, "}\n") {
		t.Error("DOT not closed")
	}
	if dot != CFGDOT(res.CFG, res.Module, NASA) {
		t.Error("CFGDOT is not deterministic")
	}
}

func TestCFGDOT_Unreachable(t *testing.T) {
	a := qvmtest.New(qvm.MinorV7)
	a.Jump(qvm.OpBRA, "end").Assign("x", func(a *qvmtest.Asm) { a.Int(1) }).
		Label("end").Op(qvm.OpBRK)

	res, err := decompile.Decompile("dead.qvm", a.Image(), qvmfmt.Options{})
	if err != nil {
		t.Fatalf("Decompile: %v", err)
	}
	dot := CFGDOT(res.CFG, res.Module, NASA)
	if !strings.Contains(dot, "fillcolor=\""+NASA.DeadFill+"\"") {
		t.Errorf("unreachable block not marked:\n%s", dot)
	}
	if strings.Contains(dot, "cluster_loop") {
		t.Error("loop cluster in acyclic graph")
	}
}

func TestTruncLabel(t *testing.T) {
	if got := truncLabel("abcdefgh", 6); got != "abc..." {
		t.Errorf("truncLabel = %q", got)
	}
	if got := truncLabel("abc", 6); got != "abc" {
		t.Errorf("truncLabel = %q", got)
	}
}
