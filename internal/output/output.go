// Package output writes igiconv results to files.
//
// Every writer goes through a temp file in the destination directory
// followed by a rename, so a failed write never leaves a partial file.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteQSC writes decompiled script text.
func WriteQSC(path, text string) error {
	return WriteFile(path, []byte(text))
}

// WriteDOT writes a Graphviz graph.
func WriteDOT(path, dot string) error {
	return WriteFile(path, []byte(dot))
}

// WriteListing writes a disassembly listing.
func WriteListing(path, text string) error {
	return WriteFile(path, []byte(text))
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return WriteFile(path, append(data, '\n'))
}

// WriteJSONL writes one JSON object per line.
func WriteJSONL[T any](path string, recs []T) error {
	return atomic(path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		enc := json.NewEncoder(w)
		for _, r := range recs {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("output: encode %s: %w", path, err)
			}
		}
		return w.Flush()
	})
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(path string, data []byte) error {
	return atomic(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

func atomic(path string, fill func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	tmp := f.Name()
	if err := fill(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	if err := f.Chmod(0644); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("output: chmod %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("output: close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("output: rename %s: %w", path, err)
	}
	return nil
}

// ReadJSONL reads one JSON object per line.
func ReadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("output: open %s: %w", path, err)
	}
	defer f.Close()

	var out []T
	dec := json.NewDecoder(f)
	for dec.More() {
		var v T
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("output: decode %s: %w", path, err)
		}
		out = append(out, v)
	}
	return out, nil
}
