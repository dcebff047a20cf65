// Package cache remembers which modules a batch run already converted.
//
// The manifest maps an input path, relative to the game directory, to the
// BLAKE2b-256 hash of its bytes and the output written for it. It is
// persisted with msgpack.
package cache

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"

	"igiconv/internal/output"
)

// Version is bumped whenever decompiler output may change for the same
// input, invalidating older manifests.
const Version = 1

// Sum is a BLAKE2b-256 content hash.
type Sum [blake2b.Size256]byte

// Hash returns the content hash of data.
func Hash(data []byte) Sum { return blake2b.Sum256(data) }

func (s Sum) String() string { return hex.EncodeToString(s[:]) }

// Entry is one converted input.
type Entry struct {
	Hash        Sum       `msgpack:"hash"`
	Output      string    `msgpack:"output"`
	Diags       int       `msgpack:"diags"`
	ConvertedAt time.Time `msgpack:"converted_at"`
}

type manifest struct {
	Version int              `msgpack:"version"`
	Entries map[string]Entry `msgpack:"entries"`
}

// Manifest is safe for concurrent use.
type Manifest struct {
	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{entries: make(map[string]Entry)}
}

// Load reads the manifest at path. A missing file or a manifest written
// by another Version yields an empty manifest.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("cache: read %s: %w", path, err)
	}

	var mf manifest
	if err := msgpack.NewDecoder(bytes.NewReader(data)).Decode(&mf); err != nil {
		return nil, fmt.Errorf("cache: decode %s: %w", path, err)
	}
	m := New()
	if mf.Version != Version {
		return m, nil
	}
	for k, e := range mf.Entries {
		m.entries[k] = e
	}
	return m, nil
}

// Save writes the manifest to path if it changed since Load.
func (m *Manifest) Save(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(manifest{Version: Version, Entries: m.entries}); err != nil {
		return fmt.Errorf("cache: encode %s: %w", path, err)
	}
	if err := output.WriteFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	m.dirty = false
	return nil
}

// Fresh reports whether key was converted from identical bytes and its
// output still exists.
func (m *Manifest) Fresh(key string, sum Sum) (Entry, bool) {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok || e.Hash != sum {
		return Entry{}, false
	}
	if st, err := os.Stat(e.Output); err != nil || !st.Mode().IsRegular() {
		return Entry{}, false
	}
	return e, true
}

// Put records a conversion.
func (m *Manifest) Put(key string, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	m.dirty = true
}

// Forget drops key, e.g. after its conversion failed.
func (m *Manifest) Forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		delete(m.entries, key)
		m.dirty = true
	}
}

// Keys returns the recorded keys in sorted order.
func (m *Manifest) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
