package reader

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedArchive indicates the archive structure does not conform to the zip specification
	ErrMalformedArchive = errors.New("zip: malformed archive")
	// ErrEntryNotFound indicates no entry matches the requested path
	ErrEntryNotFound = errors.New("zip: entry not found")
	// ErrUnsupportedMethod indicates an invalid/unsupported compression algorithm
	ErrUnsupportedMethod = errors.New("zip: unsupported compression method")
	// ErrCorruptData indicates a checksum or length mismatch while decoding an entry
	ErrCorruptData = errors.New("zip: corrupt entry data")
	// ErrIO indicates a failure reading from the byte source
	ErrIO = errors.New("zip: i/o error")
	// ErrSink indicates a failure writing to a destination sink
	ErrSink = errors.New("zip: sink error")
	// ErrInvalidState indicates an operation on an archive that is not ready
	ErrInvalidState = errors.New("zip: invalid archive state")
	// ErrInsecurePath indicates an entry name that would escape the destination root
	ErrInsecurePath = errors.New("zip: insecure entry path")
)

// Error records a failed archive operation. Kind is one of the package
// sentinels and is matched by errors.Is; Err is the underlying cause, if any.
type Error struct {
	Op     string
	Path   string
	Method uint16
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg += " (" + e.Op
		if e.Path != "" {
			msg += " " + e.Path
		}
		msg += ")"
	} else if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Kind == ErrUnsupportedMethod {
		msg += fmt.Sprintf(": method %d", e.Method)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, path string, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

func malformed(op, path, format string, args ...interface{}) *Error {
	return newError(ErrMalformedArchive, op, path, fmt.Errorf(format, args...))
}

// NewError builds an *Error of the given kind. It lets callers outside this
// package report failures with the same taxonomy.
func NewError(kind error, op, path string, err error) error {
	return newError(kind, op, path, err)
}
