// Package ziptest builds zip archives for tests.
package ziptest

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/require"
)

// File is one entry of a built archive. Names ending in "/" are directories.
type File struct {
	Name   string
	Body   string
	Method uint16
}

// Build writes files with archive/zip in the given order. The writer uses
// data descriptors, so local headers carry no sizes or checksums.
func Build(t testing.TB, comment string, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fh := &zip.FileHeader{Name: f.Name, Method: f.Method}
		if strings.HasSuffix(f.Name, "/") {
			fh.Method = zip.Store
		}
		fw, err := w.CreateHeader(fh)
		require.NoError(t, err)
		if f.Body != "" {
			_, err = io.WriteString(fw, f.Body)
			require.NoError(t, err)
		}
	}
	if comment != "" {
		require.NoError(t, w.SetComment(comment))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// ODTFiles mirrors the layout of an OpenDocument text container: 17 entries,
// 8 of them directory records.
func ODTFiles() []File {
	return []File{
		{Name: "mimetype", Body: "application/vnd.oasis.opendocument.text", Method: zip.Store},
		{Name: "Configurations2/statusbar/"},
		{Name: "Configurations2/accelerator/current.xml", Body: "<accel/>", Method: zip.Deflate},
		{Name: "Configurations2/floater/"},
		{Name: "Configurations2/popupmenu/"},
		{Name: "Configurations2/progressbar/"},
		{Name: "Configurations2/toolpanel/"},
		{Name: "Configurations2/menubar/"},
		{Name: "Configurations2/toolbar/"},
		{Name: "content.xml", Body: strings.Repeat("<text:p>Lorem ipsum dolor sit amet</text:p>", 200), Method: zip.Deflate},
		{Name: "manifest.rdf", Body: `<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"/>`, Method: zip.Deflate},
		{Name: "styles.xml", Body: strings.Repeat("<style:style/>", 50), Method: zip.Deflate},
		{Name: "meta.xml", Body: "<office:document-meta><meta:generator>zipspy</meta:generator></office:document-meta>", Method: zip.Deflate},
		{Name: "Thumbnails/thumbnail.png", Body: "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR", Method: zip.Store},
		{Name: "settings.xml", Body: "<office:document-settings/>", Method: zip.Deflate},
		{Name: "META-INF/manifest.xml", Body: "<manifest:manifest/>", Method: zip.Deflate},
		{Name: "Configurations2/images/Bitmaps/"},
	}
}

// ODT builds the OpenDocument-like archive.
func ODT(t testing.TB) []byte {
	return Build(t, "", ODTFiles()...)
}

// DOCXFiles mirrors the layout of an Office Open XML document: 9 files.
func DOCXFiles() []File {
	return []File{
		{Name: "[Content_Types].xml", Body: "<Types/>", Method: zip.Deflate},
		{Name: "_rels/.rels", Body: "<Relationships/>", Method: zip.Deflate},
		{Name: "word/_rels/document.xml.rels", Body: "<Relationships/>", Method: zip.Deflate},
		{Name: "word/document.xml", Body: strings.Repeat("<w:p><w:r><w:t>hello</w:t></w:r></w:p>", 100), Method: zip.Deflate},
		{Name: "word/theme/theme1.xml", Body: "<a:theme/>", Method: zip.Deflate},
		{Name: "word/settings.xml", Body: "<w:settings/>", Method: zip.Deflate},
		{Name: "word/fontTable.xml", Body: "<w:fonts/>", Method: zip.Deflate},
		{Name: "docProps/core.xml", Body: "<cp:coreProperties><dc:creator>zipspy</dc:creator></cp:coreProperties>", Method: zip.Deflate},
		{Name: "docProps/app.xml", Body: "<Properties/>", Method: zip.Deflate},
	}
}

// DOCX builds the Office Open XML-like archive.
func DOCX(t testing.TB) []byte {
	return Build(t, "", DOCXFiles()...)
}

// Deflate compresses data with raw DEFLATE.
func Deflate(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// RawEntry gives full control over the header fields written by Raw.
// Zero CRC and USize are computed from Data.
type RawEntry struct {
	Name   string
	Method uint16
	Flags  uint16
	// Data is the uncompressed content; Body, when set, is written
	// instead of Data as the entry's stored bytes.
	Data []byte
	Body []byte
	CRC  uint32
	// USize overrides the uncompressed size when non-zero.
	USize uint32

	// LocalName and LocalMethod override the local header when set.
	LocalName   string
	LocalMethod *uint16
	// LocalZeros writes zero checksum and sizes into the local header.
	LocalZeros bool
}

// Raw lays out local headers, a central directory and an end record by hand.
func Raw(comment string, entries ...RawEntry) []byte {
	var buf bytes.Buffer
	le := func(v interface{}) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	offsets := make([]uint32, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.Body == nil {
			e.Body = e.Data
		}
		if e.CRC == 0 {
			e.CRC = crc32.ChecksumIEEE(e.Data)
		}
		if e.USize == 0 {
			e.USize = uint32(len(e.Data))
		}
		name, method := e.Name, e.Method
		if e.LocalName != "" {
			name = e.LocalName
		}
		if e.LocalMethod != nil {
			method = *e.LocalMethod
		}
		crc, csize, usize := e.CRC, uint32(len(e.Body)), e.USize
		if e.LocalZeros {
			crc, csize, usize = 0, 0, 0
		}

		offsets[i] = uint32(buf.Len())
		le(uint32(0x04034b50))
		le(uint16(20))
		le(e.Flags)
		le(method)
		le(uint16(0)) // time
		le(uint16(0)) // date
		le(crc)
		le(csize)
		le(usize)
		le(uint16(len(name)))
		le(uint16(0))
		buf.WriteString(name)
		buf.Write(e.Body)
	}

	cdOffset := buf.Len()
	for i, e := range entries {
		le(uint32(0x02014b50))
		le(uint16(20)) // creator
		le(uint16(20)) // reader
		le(e.Flags)
		le(e.Method)
		le(uint16(0))
		le(uint16(0))
		le(e.CRC)
		le(uint32(len(e.Body)))
		le(e.USize)
		le(uint16(len(e.Name)))
		le(uint16(0)) // extra
		le(uint16(0)) // comment
		le(uint16(0)) // disk
		le(uint16(0)) // internal attrs
		le(uint32(0)) // external attrs
		le(offsets[i])
		buf.WriteString(e.Name)
	}
	cdSize := buf.Len() - cdOffset

	le(uint32(0x06054b50))
	le(uint16(0))
	le(uint16(0))
	le(uint16(len(entries)))
	le(uint16(len(entries)))
	le(uint32(cdSize))
	le(uint32(cdOffset))
	le(uint16(len(comment)))
	buf.WriteString(comment)
	return buf.Bytes()
}
