// Package qvm loads compiled QVM script containers ("LOOP" files).
package qvm

import (
	"bytes"
	"fmt"

	"igiconv/internal/qvmfmt"
)

// HeaderSize is the fixed size of the LOOP header in bytes.
const HeaderSize = 60

// Supported container versions.
const (
	MajorVersion = 8
	MinorV5      = 5
	MinorV7      = 7
)

// magic is the 4-byte signature at the start of every QVM file.
var magic = [4]byte{'L', 'O', 'O', 'P'}

// Section locates one region of the file.
type Section struct {
	Offset uint32 `json:"offset"`
	Size   uint32 `json:"size"`
}

// Header holds the parsed fields of a LOOP header.
// Layout (little-endian uint32 unless noted):
//
//	+0x00: magic "LOOP" (4 bytes)
//	+0x04: major version (8)
//	+0x08: minor version (5 or 7)
//	+0x0c: variables points offset, +0x10 variables data offset
//	+0x14: variables points size,   +0x18 variables data size
//	+0x1c: strings points offset,   +0x20 strings data offset
//	+0x24: strings points size,     +0x28 strings data size
//	+0x2c: instructions offset,     +0x30 instructions size
//	+0x34: reserved (0),            +0x38 reserved (0)
type Header struct {
	Major        uint32  `json:"major"`
	Minor        uint32  `json:"minor"`
	VarPoints    Section `json:"var_points"`
	VarData      Section `json:"var_data"`
	StringPoints Section `json:"string_points"`
	StringData   Section `json:"string_data"`
	Code         Section `json:"code"`
}

// Version is the container format version.
type Version struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// Module is one decoded compiled script. It is immutable once loaded.
type Module struct {
	Header  Header   `json:"header"`
	Version Version  `json:"version"`
	Symbols []string `json:"symbols"` // variable and function names
	Strings []string `json:"strings"` // string literals
	Entry   int      `json:"entry"`
	Footer  *uint32  `json:"footer,omitempty"` // v8.5 only
	Code    []byte   `json:"-"`
}

// Load parses a QVM image. Either the whole module is returned or an
// *qvmfmt.Error of kind MalformedHeader or TruncatedData.
func Load(data []byte) (*Module, error) {
	if len(data) < HeaderSize {
		return nil, qvmfmt.Errorf(qvmfmt.KindTruncatedData, len(data),
			"header needs %d bytes, have %d", HeaderSize, len(data))
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return nil, qvmfmt.Errorf(qvmfmt.KindMalformedHeader, 0, "bad magic %q", data[:4])
	}

	s := qvmfmt.NewStreamAt(data, 4)
	var fields [14]uint32
	for i := range fields {
		v, err := s.ReadUint32()
		if err != nil {
			return nil, qvmfmt.Errorf(qvmfmt.KindTruncatedData, s.Position(), "header field %d", i)
		}
		fields[i] = v
	}

	h := Header{
		Major:        fields[0],
		Minor:        fields[1],
		VarPoints:    Section{Offset: fields[2], Size: fields[4]},
		VarData:      Section{Offset: fields[3], Size: fields[5]},
		StringPoints: Section{Offset: fields[6], Size: fields[8]},
		StringData:   Section{Offset: fields[7], Size: fields[9]},
		Code:         Section{Offset: fields[10], Size: fields[11]},
	}
	if h.Major != MajorVersion {
		return nil, qvmfmt.Errorf(qvmfmt.KindMalformedHeader, 4, "unsupported major version %d", h.Major)
	}
	if h.Minor != MinorV5 && h.Minor != MinorV7 {
		return nil, qvmfmt.Errorf(qvmfmt.KindMalformedHeader, 8, "unsupported minor version %d", h.Minor)
	}
	if fields[12] != 0 || fields[13] != 0 {
		return nil, qvmfmt.Errorf(qvmfmt.KindMalformedHeader, 52, "reserved fields not zero (%d, %d)", fields[12], fields[13])
	}

	named := []struct {
		name string
		sec  Section
		at   int // header offset of the section's offset field
	}{
		{"variables points", h.VarPoints, 0x0c},
		{"variables data", h.VarData, 0x10},
		{"strings points", h.StringPoints, 0x1c},
		{"strings data", h.StringData, 0x20},
		{"instructions", h.Code, 0x2c},
	}
	for _, n := range named {
		end := uint64(n.sec.Offset) + uint64(n.sec.Size)
		if end > uint64(len(data)) {
			return nil, qvmfmt.Errorf(qvmfmt.KindTruncatedData, int(n.sec.Offset),
				"%s section [0x%x, 0x%x) exceeds file size 0x%x", n.name, n.sec.Offset, end, len(data))
		}
	}

	m := &Module{
		Header:  h,
		Version: Version{Major: h.Major, Minor: h.Minor},
		Symbols: splitPool(slice(data, h.VarData)),
		Strings: splitPool(slice(data, h.StringData)),
		Code:    slice(data, h.Code),
	}

	if h.Minor == MinorV5 && len(data)-HeaderSize > 4 {
		footer, _ := qvmfmt.NewStreamAt(data, HeaderSize).ReadUint32()
		m.Footer = &footer
	}
	return m, nil
}

// SymbolAt returns the symbol pool entry at idx.
func (m *Module) SymbolAt(idx int) (string, bool) {
	if idx < 0 || idx >= len(m.Symbols) {
		return "", false
	}
	return m.Symbols[idx], true
}

// StringAt returns the string pool entry at idx.
func (m *Module) StringAt(idx int) (string, bool) {
	if idx < 0 || idx >= len(m.Strings) {
		return "", false
	}
	return m.Strings[idx], true
}

func slice(data []byte, s Section) []byte {
	out := make([]byte, s.Size)
	copy(out, data[s.Offset:s.Offset+s.Size])
	return out
}

// splitPool splits a NUL-terminated string table. A trailing run
// without a terminator is not an entry.
func splitPool(b []byte) []string {
	parts := bytes.Split(b, []byte{0})
	parts = parts[:len(parts)-1]
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}
