package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igiconv/internal/config"
	"igiconv/internal/qvm"
	"igiconv/internal/qvm/qvmtest"
	"igiconv/internal/qvmfmt"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd(BuildInfo{Version: "test"})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func writeModule(t *testing.T, path string, a *qvmtest.Asm) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, a.Image(), 0644))
}

func ifElse() *qvmtest.Asm {
	a := qvmtest.New(qvm.MinorV7)
	a.Var("c").Jump(qvm.OpBF, "else").
		Assign("x", func(a *qvmtest.Asm) { a.Int(3) }).
		Jump(qvm.OpBRA, "end").
		Label("else").
		Assign("x", func(a *qvmtest.Asm) { a.Int(4) }).
		Label("end").Op(qvm.OpBRK)
	return a
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "igiconv version test"), out)
}

func TestDecompile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "objects.qvm")
	writeModule(t, src, ifElse())

	out, _, err := run(t, "qvm", "decompile", src)
	require.NoError(t, err)
	dst := filepath.Join(dir, "objects.qsc")
	assert.Contains(t, out, "Created "+filepath.ToSlash(dst))

	text, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "if (c) {\n    x = 3;\n} else {\n    x = 4;\n}\nreturn;\n", string(text))

	_, _, err = run(t, "qvm", "decompile", src)
	assert.ErrorContains(t, err, "already exists")

	_, _, err = run(t, "qvm", "decompile", "--force", src)
	require.NoError(t, err)

	other := filepath.Join(dir, "out", "renamed.qsc")
	_, _, err = run(t, "qvm", "decompile", src, other)
	require.NoError(t, err)
	assert.FileExists(t, other)
}

func TestDecompile_StrictAndFatal(t *testing.T) {
	dir := t.TempDir()
	dead := qvmtest.New(qvm.MinorV7)
	dead.Jump(qvm.OpBRA, "end").
		Assign("x", func(a *qvmtest.Asm) { a.Int(1) }).
		Label("end").Op(qvm.OpBRK)
	src := filepath.Join(dir, "dead.qvm")
	writeModule(t, src, dead)

	_, errOut, err := run(t, "qvm", "decompile", src)
	require.NoError(t, err)
	assert.Contains(t, errOut, "unreachable")

	_, _, err = run(t, "qvm", "decompile", "--strict", "--force", src)
	assert.ErrorIs(t, err, qvmfmt.ErrDegraded)

	bad := filepath.Join(dir, "bad.qvm")
	require.NoError(t, os.WriteFile(bad, []byte("LOOP"), 0644))
	_, _, err = run(t, "qvm", "decompile", bad)
	assert.ErrorIs(t, err, qvmfmt.ErrTruncatedData)
	assert.NoFileExists(t, filepath.Join(dir, "bad.qsc"))
}

func TestDisasm(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.qvm")
	writeModule(t, src, ifElse())

	out, _, err := run(t, "qvm", "disasm", src)
	require.NoError(t, err)
	assert.Contains(t, out, "BF")
	assert.Contains(t, out, "; c")
	assert.Contains(t, out, "BRK")

	listing := filepath.Join(dir, "a.txt")
	_, _, err = run(t, "qvm", "disasm", "--out", listing, src)
	require.NoError(t, err)
	data, err := os.ReadFile(listing)
	require.NoError(t, err)
	assert.Equal(t, out, string(data))
}

func TestDisasm_IndentsThunks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "call.qvm")
	a := qvmtest.New(qvm.MinorV7)
	a.CallStmt("Print", func(a *qvmtest.Asm) { a.String("hi") }).Op(qvm.OpBRK)
	writeModule(t, src, a)

	out, _, err := run(t, "qvm", "disasm", src)
	require.NoError(t, err)
	assert.Contains(t, out, "      PUSHSI 0  ; \"hi\"\n")
	assert.Contains(t, out, "  PUSHII 0  ; Print\n")
}

func TestGraph(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.qvm")
	writeModule(t, src, ifElse())

	out, _, err := run(t, "qvm", "graph", src)
	require.NoError(t, err)
	assert.Contains(t, out, "digraph cfg {")
	assert.Contains(t, out, "bb0 -> bb")

	lat, _, err := run(t, "qvm", "graph", "--lattice", src)
	require.NoError(t, err)
	assert.NotEmpty(t, lat)

	dot := filepath.Join(dir, "graphs", "a.dot")
	_, _, err = run(t, "qvm", "graph", "-o", dot, src)
	require.NoError(t, err)
	assert.FileExists(t, dot)
}

func TestConfigInitAndCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "igiconv.toml")

	out, _, err := run(t, "config", "init", "--yes", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
	assert.Contains(t, out, "warning:")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	_, _, err = run(t, "config", "check", "--path", path)
	require.Error(t, err)

	game := filepath.Join(dir, "game")
	require.NoError(t, os.MkdirAll(game, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(game, "igi.exe"), nil, 0644))
	cfg.GameDir = game
	cfg.WorkDir = filepath.Join(dir, "work")
	require.NoError(t, cfg.Save(path))

	out, _, err = run(t, "config", "check", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
}

func TestConvertAll(t *testing.T) {
	dir := t.TempDir()
	game := filepath.Join(dir, "game")
	work := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(game, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(game, "igi.exe"), nil, 0644))
	writeModule(t, filepath.Join(game, "missions", "location0", "level1", "objects.qvm"), ifElse())
	require.NoError(t, os.WriteFile(filepath.Join(game, "broken.qvm"), []byte("junk"), 0644))

	cfg := config.DefaultConfig()
	cfg.GameDir = game
	cfg.WorkDir = work
	cfg.Log.Level = "error"
	path := filepath.Join(dir, "igiconv.yaml")
	require.NoError(t, cfg.Save(path))

	out, errOut, err := run(t, "qvm", "convert-all", "--config", path, "--workers", "2", "--graph")
	require.NoError(t, err)
	assert.Contains(t, out, "Converting .qvm files from "+filepath.ToSlash(game))
	assert.Contains(t, out, "Created "+filepath.ToSlash(filepath.Join(work, "decoded", "missions", "location0", "level1", "objects.qsc")))
	assert.Contains(t, out, "QSC script saved: "+filepath.ToSlash(filepath.Join(work, "scripts", "encode-all-qvm.qsc")))
	assert.Contains(t, out, "1 converted, 0 cached, 1 failed")
	assert.Contains(t, errOut, "broken.qvm")
	assert.FileExists(t, filepath.Join(work, "report.json"))
	assert.FileExists(t, filepath.Join(work, "graphs", "callgraph.dot"))

	_, _, err = run(t, "qvm", "convert-all", "--config", path, "--fail-fast", "--no-cache")
	assert.ErrorIs(t, err, qvmfmt.ErrTruncatedData)

	_, _, err = run(t, "qvm", "convert-all", "--config", filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "config: read")
}
