package qvmfmt

import (
	"encoding/binary"
	"errors"
	"math"
)

var ErrStreamEOF = errors.New("stream: unexpected end of data")

// Stream reads little-endian fixed-width values from a byte slice.
// It never copies; slices returned by ReadBytes alias data.
type Stream struct {
	data []byte
	pos  int
}

// NewStream creates a stream over the given data.
func NewStream(data []byte) *Stream {
	return &Stream{data: data}
}

// NewStreamAt creates a stream starting at offset within data.
func NewStreamAt(data []byte, offset int) *Stream {
	if offset > len(data) {
		offset = len(data)
	}
	return &Stream{data: data, pos: offset}
}

// Position returns the current read position.
func (s *Stream) Position() int { return s.pos }

// Remaining returns bytes left to read.
func (s *Stream) Remaining() int { return len(s.data) - s.pos }

func (s *Stream) ReadByte() (byte, error) {
	if s.pos >= len(s.data) {
		return 0, ErrStreamEOF
	}
	b := s.data[s.pos]
	s.pos++
	return b, nil
}

// ReadBytes returns the next n bytes.
func (s *Stream) ReadBytes(n int) ([]byte, error) {
	if n < 0 || s.pos+n > len(s.data) {
		return nil, ErrStreamEOF
	}
	out := s.data[s.pos : s.pos+n]
	s.pos += n
	return out, nil
}

func (s *Stream) ReadUint16() (uint16, error) {
	b, err := s.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *Stream) ReadUint32() (uint32, error) {
	b, err := s.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *Stream) ReadInt32() (int32, error) {
	v, err := s.ReadUint32()
	return int32(v), err
}

func (s *Stream) ReadFloat32() (float32, error) {
	v, err := s.ReadUint32()
	return math.Float32frombits(v), err
}
