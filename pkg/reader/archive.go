package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/alec-rabold/zipspy/pkg/source"
)

// State is the lifecycle state of an Archive.
type State int32

const (
	StateUnopened State = iota
	StateParsing
	StateReady
	StateFailed
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateParsing:
		return "parsing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateReleased:
		return "released"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Archive is an opened, parsed zip archive.
//
// The entry table is built once by Parse and never modified afterwards, so an
// Archive in StateReady may be used from multiple goroutines. Every read goes
// through the source's ReadAt.
type Archive struct {
	src           source.ByteSource
	state         atomic.Int32
	entries       []Entry
	index         map[string]int
	comment       string
	decompressors map[uint16]Decompressor
}

// Option configures an Archive.
type Option func(*Archive)

// WithDecompressor registers or overrides a custom decompressor for a
// specific method ID. If a decompressor for a given method is not found,
// the built-in Store and Deflate decompressors are used.
func WithDecompressor(method uint16, dcomp Decompressor) Option {
	return func(a *Archive) {
		if a.decompressors == nil {
			a.decompressors = make(map[uint16]Decompressor)
		}
		a.decompressors[method] = dcomp
	}
}

// NewArchive returns an unopened Archive over src. Parse must be called
// before the archive can be used.
func NewArchive(src source.ByteSource, opts ...Option) *Archive {
	a := &Archive{src: src}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open creates an Archive over src and parses its central directory.
func Open(ctx context.Context, src source.ByteSource, opts ...Option) (*Archive, error) {
	a := NewArchive(src, opts...)
	if err := a.Parse(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// OpenFile opens the named local file as an archive. Closing the archive
// closes the file.
func OpenFile(ctx context.Context, name string, opts ...Option) (*Archive, error) {
	f, err := source.OpenFile(name)
	if err != nil {
		return nil, newError(ErrIO, "open", name, err)
	}
	a, err := Open(ctx, f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

// Parse reads the end of central directory record and the central directory.
// A failed parse is terminal: the archive stays in StateFailed. A parse
// stopped by ctx returns the archive to StateUnopened so it can be retried.
func (a *Archive) Parse(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(StateUnopened), int32(StateParsing)) {
		return newError(ErrInvalidState, "parse", "", fmt.Errorf("archive is %s", a.State()))
	}
	if a.src == nil {
		a.state.Store(int32(StateFailed))
		return newError(ErrInvalidState, "parse", "", errors.New("archive has no source"))
	}

	d, err := readDirectoryEnd(a.src, a.src.Size())
	if err == nil {
		a.entries, err = readDirectory(ctx, a.src, d)
	}
	if err != nil {
		a.entries = nil
		next := StateFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			next = StateUnopened
		}
		a.state.CompareAndSwap(int32(StateParsing), int32(next))
		return err
	}

	a.comment = d.comment
	a.index = make(map[string]int, len(a.entries))
	for i := range a.entries {
		// first match by directory order wins
		if _, ok := a.index[a.entries[i].Name]; !ok {
			a.index[a.entries[i].Name] = i
		}
	}
	if !a.state.CompareAndSwap(int32(StateParsing), int32(StateReady)) {
		return newError(ErrInvalidState, "parse", "", errors.New("archive released while parsing"))
	}
	return nil
}

// State returns the current lifecycle state.
func (a *Archive) State() State {
	return State(a.state.Load())
}

// Close releases the archive. The source is closed if it implements io.Closer.
// Operations already in flight may fail with an I/O error.
func (a *Archive) Close() error {
	if State(a.state.Swap(int32(StateReleased))) == StateReleased {
		return nil
	}
	if c, ok := a.src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return newError(ErrIO, "close", "", err)
		}
	}
	return nil
}

func (a *Archive) ready(op, path string) error {
	if s := a.State(); s != StateReady {
		return newError(ErrInvalidState, op, path, fmt.Errorf("archive is %s", s))
	}
	return nil
}

// Len returns the number of entries in the archive.
func (a *Archive) Len() int {
	if a.ready("len", "") != nil {
		return 0
	}
	return len(a.entries)
}

// Comment returns the archive comment.
func (a *Archive) Comment() (string, error) {
	if err := a.ready("comment", ""); err != nil {
		return "", err
	}
	return a.comment, nil
}

// Entries returns a copy of the entry table in central directory order.
func (a *Archive) Entries() ([]Entry, error) {
	if err := a.ready("list", ""); err != nil {
		return nil, err
	}
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out, nil
}

// Find returns the entry whose stored name equals name exactly.
func (a *Archive) Find(name string) (Entry, error) {
	if err := a.ready("find", name); err != nil {
		return Entry{}, err
	}
	i, ok := a.index[name]
	if !ok {
		return Entry{}, newError(ErrEntryNotFound, "find", name, nil)
	}
	return a.entries[i], nil
}

// Open returns a reader over the decompressed contents of the named entry.
func (a *Archive) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	e, err := a.Find(name)
	if err != nil {
		return nil, err
	}
	return a.OpenEntry(ctx, e)
}

// ReadFile returns the decompressed contents of the named entry.
func (a *Archive) ReadFile(ctx context.Context, name string) ([]byte, error) {
	e, err := a.Find(name)
	if err != nil {
		return nil, err
	}
	rc, err := a.OpenEntry(ctx, e)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	buf := bytes.NewBuffer(make([]byte, 0, preallocSize(e.UncompressedSize)))
	if _, err := io.Copy(buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// preallocSize caps the up-front allocation so a lying header cannot
// force a huge buffer.
func preallocSize(n uint64) int {
	const limit = 8 << 20
	if n > limit {
		return limit
	}
	return int(n)
}

func (a *Archive) decompressor(method uint16) Decompressor {
	dcomp := a.decompressors[method]
	if dcomp == nil {
		dcomp = builtinDecompressor(method)
	}
	return dcomp
}
