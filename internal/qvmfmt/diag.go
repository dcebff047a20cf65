// Package qvmfmt provides shared types, errors and diagnostics for QVM decoding.
package qvmfmt

import (
	"fmt"
	"sort"
)

// DiagKind classifies a diagnostic message.
type DiagKind string

const (
	DiagStackImbalance DiagKind = "stack_imbalance"
	DiagIrreducible    DiagKind = "irreducible"
	DiagUnreachable    DiagKind = "unreachable"
)

// Diag records a non-fatal issue encountered while decompiling.
// Block is the basic block the issue is attached to, or -1.
type Diag struct {
	Offset int      `json:"offset" msgpack:"offset"`
	Block  int      `json:"block" msgpack:"block"`
	Kind   DiagKind `json:"kind" msgpack:"kind"`
	Msg    string   `json:"msg" msgpack:"msg"`
}

func (d Diag) String() string {
	if d.Block >= 0 {
		return fmt.Sprintf("[%s] 0x%x (block %d): %s", d.Kind, d.Offset, d.Block, d.Msg)
	}
	return fmt.Sprintf("[%s] 0x%x: %s", d.Kind, d.Offset, d.Msg)
}

// Diags accumulates diagnostics.
type Diags struct {
	items []Diag
}

func (d *Diags) Add(offset, block int, kind DiagKind, msg string) {
	d.items = append(d.items, Diag{Offset: offset, Block: block, Kind: kind, Msg: msg})
}

func (d *Diags) Addf(offset, block int, kind DiagKind, format string, args ...any) {
	d.items = append(d.items, Diag{Offset: offset, Block: block, Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// Merge appends all diagnostics of other.
func (d *Diags) Merge(other Diags) {
	d.items = append(d.items, other.items...)
}

// Sort orders the diagnostics by offset, keeping insertion order for ties.
func (d *Diags) Sort() {
	sort.SliceStable(d.items, func(i, j int) bool { return d.items[i].Offset < d.items[j].Offset })
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// Mode controls error handling behavior.
type Mode int

const (
	ModeBestEffort Mode = iota // keep going with placeholders, accumulate diags
	ModeStrict                 // any diagnostic becomes an error
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "best-effort"
}

// ParseMode maps a config/flag value onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "best-effort", "besteffort":
		return ModeBestEffort, nil
	case "strict":
		return ModeStrict, nil
	}
	return ModeBestEffort, fmt.Errorf("qvmfmt: unknown mode %q", s)
}

// Options controls decompilation behavior across packages.
type Options struct {
	Mode Mode
}
