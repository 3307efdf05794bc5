package zipfile

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alec-rabold/zipspy/internal/ziptest"
	"github.com/alec-rabold/zipspy/pkg/reader"
	"github.com/alec-rabold/zipspy/pkg/source"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExtractor(t *testing.T, data []byte, opts ...Option) *Extractor {
	t.Helper()
	a, err := reader.Open(context.Background(), source.Bytes(data))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	logger, _ := test.NewNullLogger()
	return NewExtractor(a, append([]Option{WithLogger(logger)}, opts...)...)
}

func TestExtractFile(t *testing.T) {
	x := newExtractor(t, ziptest.ODT(t))

	sink := &BufferSink{}
	n, err := x.ExtractFile(context.Background(), "meta.xml", sink)
	require.NoError(t, err)
	assert.True(t, sink.Finished())
	assert.EqualValues(t, sink.Len(), n)
	assert.Contains(t, string(sink.Bytes()), "<meta:generator>zipspy</meta:generator>")
}

func TestExtractFileToDisk(t *testing.T) {
	x := newExtractor(t, ziptest.ODT(t))
	dir := t.TempDir()

	for _, name := range []string{"meta.xml", "content.xml"} {
		out := filepath.Join(dir, "temp_"+name)
		sink, err := CreateFileSink(out)
		require.NoError(t, err)

		_, err = x.ExtractFile(context.Background(), name, sink)
		require.NoError(t, err)

		fi, err := os.Stat(out)
		require.NoError(t, err)
		assert.Greater(t, fi.Size(), int64(0))
	}
}

func TestExtractMissingFileLeavesSinkAlone(t *testing.T) {
	logger, hook := test.NewNullLogger()
	x := newExtractor(t, ziptest.ODT(t), WithLogger(logger))

	out := filepath.Join(t.TempDir(), "temp.xml")
	f, err := os.Create(out)
	require.NoError(t, err)
	sink := NewFileSink(f)
	defer sink.Finish()

	_, err = x.ExtractFile(context.Background(), "foobar.dat", sink)
	assert.ErrorIs(t, err, reader.ErrEntryNotFound)
	assert.NotErrorIs(t, err, reader.ErrIO)
	assert.NotErrorIs(t, err, reader.ErrSink)

	fi, err := os.Stat(out)
	require.NoError(t, err, "pre-created destination must not be deleted")
	assert.Zero(t, fi.Size())

	// The sink is still open and usable by the caller.
	_, err = sink.Write([]byte("x"))
	assert.NoError(t, err)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "foobar.dat", hook.LastEntry().Data["path"])

	mem := &BufferSink{}
	_, err = x.ExtractFile(context.Background(), "foobar.dat", mem)
	assert.ErrorIs(t, err, reader.ErrEntryNotFound)
	assert.False(t, mem.Finished())
	assert.Zero(t, mem.Len())
}

type brokenSink struct {
	written int
}

func (s *brokenSink) Write(p []byte) (int, error) {
	if s.written > 0 {
		return 0, errors.New("disk full")
	}
	s.written += len(p)
	return len(p), nil
}

func (s *brokenSink) Finish() error { return nil }

func TestExtractFileSinkFailure(t *testing.T) {
	body := strings.Repeat("x", 100<<10)
	x := newExtractor(t, ziptest.Build(t, "", ziptest.File{Name: "big.txt", Body: body, Method: 8}))

	_, err := x.ExtractFile(context.Background(), "big.txt", &brokenSink{})
	assert.ErrorIs(t, err, reader.ErrSink)
	assert.NotErrorIs(t, err, reader.ErrCorruptData)
	assert.ErrorContains(t, err, "disk full")
}

func TestExtractFileTo(t *testing.T) {
	x := newExtractor(t, ziptest.DOCX(t))
	dest := NewMemoryDestination()

	n, err := x.ExtractFileTo(context.Background(), "docProps/core.xml", dest)
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.Equal(t, []string{"docProps"}, dest.Dirs())
	assert.Contains(t, dest.Files(), "docProps/core.xml")

	_, err = x.ExtractFileTo(context.Background(), "docProps/missing.xml", dest)
	assert.ErrorIs(t, err, reader.ErrEntryNotFound)
	assert.Len(t, dest.Files(), 1)
}

func TestExtractAllToDisk(t *testing.T) {
	x := newExtractor(t, ziptest.ODT(t), WithWorkers(3))
	dest, err := NewDirDestination(filepath.Join(t.TempDir(), "unzipped"))
	require.NoError(t, err)

	summary, err := x.ExtractAll(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, 9, summary.Files)
	assert.Len(t, summary.Results, 9)

	var files int
	err = filepath.WalkDir(dest.Root(), func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		files++
		fi, err := d.Info()
		if err != nil {
			return err
		}
		assert.Greater(t, fi.Size(), int64(0), p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, summary.Files, files)

	for _, dir := range []string{"Configurations2/floater", "Configurations2/images/Bitmaps", "Thumbnails", "META-INF"} {
		fi, err := os.Stat(filepath.Join(dest.Root(), filepath.FromSlash(dir)))
		require.NoError(t, err, dir)
		assert.True(t, fi.IsDir(), dir)
	}

	want := ziptest.ODTFiles()
	for _, f := range want {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		got, err := os.ReadFile(filepath.Join(dest.Root(), filepath.FromSlash(f.Name)))
		require.NoError(t, err)
		assert.Equal(t, f.Body, string(got), f.Name)
	}
}

func TestExtractAllSynthesizesDirectories(t *testing.T) {
	x := newExtractor(t, ziptest.DOCX(t))
	dest := NewMemoryDestination()

	summary, err := x.ExtractAll(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, 9, summary.Files)
	assert.Equal(t, []string{"_rels", "docProps", "word", "word/_rels", "word/theme"}, dest.Dirs())
	assert.Equal(t, len(dest.Dirs()), summary.Dirs)
	assert.Len(t, dest.Files(), 9)
}

func TestExtractAllCollectsFailures(t *testing.T) {
	data := ziptest.Raw("",
		ziptest.RawEntry{Name: "ok/one.txt", Data: []byte("one")},
		ziptest.RawEntry{Name: "../evil.txt", Data: []byte("evil")},
		ziptest.RawEntry{Name: "bad.txt", Data: []byte("bad"), CRC: 1},
		ziptest.RawEntry{Name: "weird.bin", Method: 99, Data: []byte("?")},
		ziptest.RawEntry{Name: "/etc/passwd", Data: []byte("root")},
		ziptest.RawEntry{Name: "ok/two.txt", Data: []byte("two")},
		ziptest.RawEntry{Name: "ok/one.txt", Data: []byte("duplicate")},
	)
	x := newExtractor(t, data)
	dest := NewMemoryDestination()

	summary, err := x.ExtractAll(context.Background(), dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialFailure)
	assert.ErrorIs(t, err, reader.ErrInsecurePath)
	assert.ErrorIs(t, err, reader.ErrCorruptData)
	assert.ErrorIs(t, err, reader.ErrUnsupportedMethod)

	var partial *PartialFailure
	require.True(t, errors.As(err, &partial))
	failed := make(map[string]error)
	for _, f := range partial.Failures {
		failed[f.Path] = f.Err
	}
	assert.Len(t, failed, 4)
	assert.ErrorIs(t, failed["../evil.txt"], reader.ErrInsecurePath)
	assert.ErrorIs(t, failed["/etc/passwd"], reader.ErrInsecurePath)
	assert.ErrorIs(t, failed["bad.txt"], reader.ErrCorruptData)
	assert.ErrorIs(t, failed["weird.bin"], reader.ErrUnsupportedMethod)

	assert.Equal(t, 2, summary.Files)
	files := dest.Files()
	assert.Equal(t, "one", string(files["ok/one.txt"]))
	assert.Equal(t, "two", string(files["ok/two.txt"]))
	assert.NotContains(t, files, "evil.txt")
	assert.NotContains(t, files, "etc/passwd")

	for _, name := range []string{"weird.bin", "bad.txt", "ok/one.txt"} {
		require.Contains(t, dest.files, name)
		assert.True(t, dest.files[name].Finished(), name)
	}
}

// countingDestination records how many sinks are still open.
type countingDestination struct {
	*MemoryDestination
	open int
}

type countingSink struct {
	Sink
	d *countingDestination
}

func (s countingSink) Finish() error {
	s.d.open--
	return s.Sink.Finish()
}

func (d *countingDestination) CreateFile(name string) (Sink, error) {
	s, err := d.MemoryDestination.CreateFile(name)
	if err != nil {
		return nil, err
	}
	d.open++
	return countingSink{Sink: s, d: d}, nil
}

func TestUndecodableEntriesFinishTheirSinks(t *testing.T) {
	data := ziptest.Raw("",
		ziptest.RawEntry{Name: "weird.bin", Method: 99, Data: []byte("?")},
		ziptest.RawEntry{Name: "locked.txt", Flags: 0x1, Data: []byte("secret")},
		ziptest.RawEntry{Name: "moved.txt", Data: []byte("moved"), LocalName: "other.txt"},
	)
	x := newExtractor(t, data, WithWorkers(1))
	dest := &countingDestination{MemoryDestination: NewMemoryDestination()}

	for i := 0; i < 50; i++ {
		_, err := x.ExtractFileTo(context.Background(), "weird.bin", dest)
		require.ErrorIs(t, err, reader.ErrUnsupportedMethod)
	}
	assert.Zero(t, dest.open)

	_, err := x.ExtractAll(context.Background(), dest)
	assert.ErrorIs(t, err, ErrPartialFailure)
	assert.ErrorIs(t, err, reader.ErrMalformedArchive)
	assert.Zero(t, dest.open)
}

func TestExtractAllCancelled(t *testing.T) {
	x := newExtractor(t, ziptest.ODT(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := x.ExtractAll(ctx, NewMemoryDestination())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Files)
}

func TestExtractAllReleasedArchive(t *testing.T) {
	x := newExtractor(t, ziptest.ODT(t))
	require.NoError(t, x.Archive().Close())

	_, err := x.ExtractAll(context.Background(), NewMemoryDestination())
	assert.ErrorIs(t, err, reader.ErrInvalidState)

	_, err = x.ExtractFile(context.Background(), "meta.xml", &BufferSink{})
	assert.ErrorIs(t, err, reader.ErrInvalidState)
}

func TestReadFileSharedAcrossCallers(t *testing.T) {
	x := newExtractor(t, ziptest.ODT(t))
	want, err := x.Archive().ReadFile(context.Background(), "content.xml")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]byte, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := x.ReadFile(context.Background(), "content.xml")
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	for i, b := range results {
		assert.Equal(t, want, b)
		if i > 0 && len(b) > 0 && len(results[0]) > 0 {
			b[0] = '!'
			assert.NotEqual(t, byte('!'), results[0][0], "callers must not share buffers")
			b[0] = want[0]
		}
	}

	_, err = x.ReadFile(context.Background(), "foobar.dat")
	assert.ErrorIs(t, err, reader.ErrEntryNotFound)
}
