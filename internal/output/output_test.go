package output

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igiconv/internal/disasm"
)

func TestWriteQSC_CreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missions", "location0", "1", "objects.qsc")
	require.NoError(t, WriteQSC(path, "return;\n"))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "return;\n", string(got))
}

func TestWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.dot")
	require.NoError(t, WriteDOT(path, "digraph a {}\n"))
	require.NoError(t, WriteDOT(path, "digraph b {}\n"))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "digraph b {}\n", string(got))
}

func TestWriteJSON_FailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	err := WriteJSON(path, map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output: encode")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.jsonl")
	recs := []disasm.CallRecord{
		{Script: "a.qvm", PC: "0x5", Callee: "Print", Argc: 1, Skip: "0x20"},
		{Script: "a.qvm", PC: "0x30", Argc: 0, Skip: "0x3a"},
	}
	require.NoError(t, WriteJSONL(path, recs))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		`{"script":"a.qvm","pc":"0x5","callee":"Print","argc":1,"skip":"0x20"}`+"\n"+
			`{"script":"a.qvm","pc":"0x30","argc":0,"skip":"0x3a"}`+"\n",
		string(raw))

	got, err := ReadJSONL[disasm.CallRecord](path)
	require.NoError(t, err)
	assert.Equal(t, recs, got)
}

func TestReadJSONL_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadJSONL[disasm.CallRecord](filepath.Join(dir, "missing.jsonl"))
	require.Error(t, err)

	path := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"script\":1}\n"), 0644))
	_, err = ReadJSONL[disasm.CallRecord](path)
	assert.ErrorContains(t, err, "output: decode")
}
