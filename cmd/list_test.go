package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alec-rabold/zipspy/pkg/reader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintEntries(t *testing.T) {
	mod := time.Date(2020, 3, 1, 12, 30, 0, 0, time.UTC)
	entries := []reader.Entry{
		{Name: "mimetype", Method: reader.Store, CompressedSize: 39, UncompressedSize: 39, Modified: mod},
		{Name: "content.xml", Method: reader.Deflate, CompressedSize: 120, UncompressedSize: 8600, Modified: mod},
		{Name: "odd.bin", Method: 14, Modified: mod},
	}

	var buf bytes.Buffer
	require.NoError(t, printEntries(&buf, entries))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "Method")
	assert.Contains(t, lines[1], "store")
	assert.True(t, strings.HasSuffix(lines[2], " content.xml"))
	assert.Contains(t, lines[2], "8600")
	assert.Contains(t, lines[2], "2020-03-01 12:30")
	assert.Contains(t, lines[3], "method(14)")
	assert.Equal(t, "3 entries", lines[4])
}

func TestOpenSourceRequiresFlags(t *testing.T) {
	archivePath, bucket, key, url = "", "", "", ""
	_, err := openSource(context.Background())
	assert.ErrorContains(t, err, "is required")

	bucket = "only-bucket"
	defer func() { bucket = "" }()
	_, err = openSource(context.Background())
	assert.Error(t, err)
}
