package zipfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferSink(t *testing.T) {
	s := &BufferSink{}
	_, err := s.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, s.Finish())
	assert.True(t, s.Finished())
	assert.Equal(t, "hello", string(s.Bytes()))

	_, err = s.Write([]byte("!"))
	assert.Error(t, err)
}

func TestFileSinkTruncates(t *testing.T) {
	name := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(name, []byte("previous contents"), 0644))

	s, err := CreateFileSink(name)
	require.NoError(t, err)
	assert.Equal(t, name, s.Name())
	_, err = s.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, s.Finish())

	got, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestDirDestination(t *testing.T) {
	d, err := NewDirDestination(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(d.Root()))

	require.NoError(t, d.CreateDir("a/b"))
	fi, err := os.Stat(filepath.Join(d.Root(), "a", "b"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	s, err := d.CreateFile("c/d.txt")
	require.NoError(t, err)
	_, err = s.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, s.Finish())

	got, err := os.ReadFile(filepath.Join(d.Root(), "c", "d.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))

	_, err = d.CreateFile("../escape.txt")
	assert.ErrorContains(t, err, "resolves outside")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(d.Root()), "escape.txt"))
}

func TestMemoryDestinationConflicts(t *testing.T) {
	m := NewMemoryDestination()
	require.NoError(t, m.CreateDir("a"))
	_, err := m.CreateFile("a")
	assert.Error(t, err)

	_, err = m.CreateFile("b")
	require.NoError(t, err)
	assert.Error(t, m.CreateDir("b"))

	assert.Equal(t, []string{"a"}, m.Dirs())
	assert.Contains(t, m.Files(), "b")
}
