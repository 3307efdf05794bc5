package zipfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Sink receives the contents of one extracted entry. Finish is called once
// after the last Write.
type Sink interface {
	io.Writer
	Finish() error
}

// Destination creates directories and sinks for whole-archive extraction.
// Names are relative, slash-separated and already validated.
type Destination interface {
	CreateDir(name string) error
	CreateFile(name string) (Sink, error)
}

// FileSink writes to a local file. Finish closes it.
type FileSink struct {
	f *os.File
}

// NewFileSink wraps an open file.
func NewFileSink(f *os.File) *FileSink {
	return &FileSink{f: f}
}

// CreateFileSink creates or truncates the named file.
func CreateFileSink(name string) (*FileSink, error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Write(p []byte) (int, error) { return s.f.Write(p) }

// Finish closes the file.
func (s *FileSink) Finish() error { return s.f.Close() }

// Name returns the file name.
func (s *FileSink) Name() string { return s.f.Name() }

// BufferSink collects an entry in memory.
type BufferSink struct {
	buf      bytes.Buffer
	finished bool
}

func (s *BufferSink) Write(p []byte) (int, error) {
	if s.finished {
		return 0, errors.New("write to finished sink")
	}
	return s.buf.Write(p)
}

// Finish marks the sink complete.
func (s *BufferSink) Finish() error {
	s.finished = true
	return nil
}

// Bytes returns the bytes written so far.
func (s *BufferSink) Bytes() []byte { return s.buf.Bytes() }

// Len returns the number of bytes written so far.
func (s *BufferSink) Len() int { return s.buf.Len() }

// Finished reports whether Finish was called.
func (s *BufferSink) Finished() bool { return s.finished }

// DirDestination extracts into a directory on the local filesystem.
type DirDestination struct {
	root string
}

// NewDirDestination creates root if needed and returns a Destination rooted there.
func NewDirDestination(root string) (*DirDestination, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, err
	}
	return &DirDestination{root: abs}, nil
}

// Root returns the absolute destination directory.
func (d *DirDestination) Root() string { return d.root }

func (d *DirDestination) resolve(name string) (string, error) {
	p := filepath.Join(d.root, filepath.FromSlash(name))
	rel, err := filepath.Rel(d.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s resolves outside %s", name, d.root)
	}
	return p, nil
}

// CreateDir creates the named directory and its parents.
func (d *DirDestination) CreateDir(name string) error {
	p, err := d.resolve(name)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, 0755)
}

// CreateFile creates or truncates the named file, creating parents as needed.
func (d *DirDestination) CreateFile(name string) (Sink, error) {
	p, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, err
	}
	return CreateFileSink(p)
}

// MemoryDestination extracts into memory.
type MemoryDestination struct {
	mu    sync.Mutex
	dirs  map[string]struct{}
	files map[string]*BufferSink
}

// NewMemoryDestination returns an empty in-memory destination.
func NewMemoryDestination() *MemoryDestination {
	return &MemoryDestination{
		dirs:  make(map[string]struct{}),
		files: make(map[string]*BufferSink),
	}
}

func (m *MemoryDestination) CreateDir(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; ok {
		return fmt.Errorf("%s exists and is a file", name)
	}
	m.dirs[name] = struct{}{}
	return nil
}

func (m *MemoryDestination) CreateFile(name string) (Sink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dirs[name]; ok {
		return nil, fmt.Errorf("%s exists and is a directory", name)
	}
	s := &BufferSink{}
	m.files[name] = s
	return s, nil
}

// Files returns the contents of every file created so far.
func (m *MemoryDestination) Files() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.files))
	for name, s := range m.files {
		out[name] = append([]byte(nil), s.Bytes()...)
	}
	return out
}

// Dirs returns the created directories in sorted order.
func (m *MemoryDestination) Dirs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.dirs))
	for name := range m.dirs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
