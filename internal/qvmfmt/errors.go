package qvmfmt

import (
	"errors"
	"fmt"
)

// ErrorKind names one class of fatal, structural decoding failure.
type ErrorKind string

const (
	KindMalformedHeader      ErrorKind = "MalformedHeader"
	KindTruncatedData        ErrorKind = "TruncatedData"
	KindUnknownOpcode        ErrorKind = "UnknownOpcode"
	KindInvalidPoolReference ErrorKind = "InvalidPoolReference"
	KindMissingTerminator    ErrorKind = "MissingTerminator"
	KindDanglingJumpTarget   ErrorKind = "DanglingJumpTarget"
	KindMalformedCall        ErrorKind = "MalformedCall"
	KindDegraded             ErrorKind = "Degraded"
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its kind.
var (
	ErrMalformedHeader      = errors.New("malformed header")
	ErrTruncatedData        = errors.New("truncated data")
	ErrUnknownOpcode        = errors.New("unknown opcode")
	ErrInvalidPoolReference = errors.New("invalid pool reference")
	ErrMissingTerminator    = errors.New("missing terminator")
	ErrDanglingJumpTarget   = errors.New("dangling jump target")
	ErrMalformedCall        = errors.New("malformed call")
	ErrDegraded             = errors.New("degraded output")
)

var sentinels = map[ErrorKind]error{
	KindMalformedHeader:      ErrMalformedHeader,
	KindTruncatedData:        ErrTruncatedData,
	KindUnknownOpcode:        ErrUnknownOpcode,
	KindInvalidPoolReference: ErrInvalidPoolReference,
	KindMissingTerminator:    ErrMissingTerminator,
	KindDanglingJumpTarget:   ErrDanglingJumpTarget,
	KindMalformedCall:        ErrMalformedCall,
	KindDegraded:             ErrDegraded,
}

// Error is a fatal decoding error. Offset is the byte offset at fault:
// relative to the file for loader errors, relative to the code section
// for everything after it.
type Error struct {
	Kind   ErrorKind
	Offset int
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at 0x%x: %s", e.Kind, e.Offset, e.Msg)
}

func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, offset int, format string, args ...any) *Error {
	return &Error{Kind: kind, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a wrapped *Error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
