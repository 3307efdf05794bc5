// Package source provides random-access byte sources for zip archives.
//
// Every source satisfies ByteSource: positioned reads through io.ReaderAt
// plus a known total size. Positioned reads carry no shared cursor, so a
// single source may serve concurrent reads.
package source

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// ByteSource is a seekable, randomly addressable read interface over an
// archive's backing stream.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// Bytes returns a ByteSource over an in-memory buffer.
func Bytes(b []byte) ByteSource {
	return &bytesSource{r: bytes.NewReader(b)}
}

type bytesSource struct {
	r *bytes.Reader
}

func (s *bytesSource) ReadAt(p []byte, off int64) (int, error) { return s.r.ReadAt(p, off) }
func (s *bytesSource) Size() int64                               { return s.r.Size() }

// File is a ByteSource backed by a local file.
type File struct {
	f    *os.File
	size int64
}

// OpenFile opens the named file as a ByteSource. The caller must Close it.
func OpenFile(name string) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if fi.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open %s: is a directory", name)
	}
	return &File{f: f, size: fi.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (s *File) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }

// Size returns the size of the file at open time.
func (s *File) Size() int64 { return s.size }

// Close closes the underlying file.
func (s *File) Close() error { return s.f.Close() }

// Locked adapts a stream that only offers a shared cursor. Each ReadAt holds
// a lock for the duration of one Seek+Read pair.
func Locked(rs io.ReadSeeker, size int64) ByteSource {
	return &lockedSource{rs: rs, size: size}
}

type lockedSource struct {
	mu   sync.Mutex
	rs   io.ReadSeeker
	size int64
}

func (s *lockedSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(s.rs, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (s *lockedSource) Size() int64 { return s.size }

// Close closes the wrapped stream if it is closable.
func (s *lockedSource) Close() error {
	if c, ok := s.rs.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
