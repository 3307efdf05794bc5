package zipfile

import (
	"context"
	"testing"
	"time"

	"github.com/alec-rabold/zipspy/internal/ziptest"
	"github.com/alec-rabold/zipspy/pkg/reader"
	"github.com/alec-rabold/zipspy/pkg/source"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncOperations(t *testing.T) {
	ctx := context.Background()
	a, err := OpenAsync(ctx, source.Bytes(ziptest.DOCX(t))).Wait(ctx)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, reader.StateReady, a.State())

	logger, _ := test.NewNullLogger()
	x := NewExtractor(a, WithLogger(logger))

	b, err := x.ReadFileAsync(ctx, "docProps/core.xml").Wait(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(b), "<dc:creator>zipspy</dc:creator>")

	sink := &BufferSink{}
	n, err := x.ExtractFileAsync(ctx, "docProps/core.xml", sink).Wait(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, len(b), n)
	assert.Equal(t, b, sink.Bytes())

	summary, err := x.ExtractAllAsync(ctx, NewMemoryDestination()).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, summary.Files)
}

func TestOpenAsyncMalformed(t *testing.T) {
	ctx := context.Background()
	_, err := OpenAsync(ctx, source.Bytes([]byte("not a zip file at all, just text"))).Wait(ctx)
	assert.ErrorIs(t, err, reader.ErrMalformedArchive)
}

func TestFutureWaitTimeout(t *testing.T) {
	release := make(chan struct{})
	f := Go(context.Background(), func(context.Context) (int, error) {
		<-release
		return 42, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-f.Done()
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
