package reader

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

var errClosed = errors.New("zip: read after close")

// OpenEntry returns a ReadCloser that provides access to the entry's
// decompressed contents. The reader is single-pass; call OpenEntry again to
// restart. Multiple entries may be read concurrently.
//
// The local header is checked against e before any data is read. Reads stop
// with ctx's error once ctx is done.
func (a *Archive) OpenEntry(ctx context.Context, e Entry) (io.ReadCloser, error) {
	if err := a.ready("open", e.Name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Flags&flagEncrypted != 0 {
		return nil, &Error{Op: "open", Path: e.Name, Method: e.Method, Kind: ErrUnsupportedMethod,
			Err: errors.New("encrypted entries are not supported")}
	}
	dcomp := a.decompressor(e.Method)
	if dcomp == nil {
		return nil, &Error{Op: "open", Path: e.Name, Method: e.Method, Kind: ErrUnsupportedMethod}
	}

	bodyOffset, err := a.findBodyOffset(e)
	if err != nil {
		return nil, err
	}
	size := int64(e.CompressedSize)
	if size < 0 || bodyOffset > a.src.Size() || size > a.src.Size()-bodyOffset {
		return nil, malformed("open", e.Name, "data (offset %d, size %d) outside archive bounds", bodyOffset, e.CompressedSize)
	}

	r := io.NewSectionReader(sourceReader{src: a.src, name: e.Name}, bodyOffset, size)
	return &entryReader{
		ctx:  ctx,
		rc:   dcomp(r),
		e:    e,
		hash: crc32.NewIEEE(),
	}, nil
}

// findBodyOffset reads the local header, verifies it agrees with the
// central directory record and returns the offset of the entry's data.
func (a *Archive) findBodyOffset(e Entry) (int64, error) {
	var buf [fileHeaderLen]byte
	if _, err := a.src.ReadAt(buf[:], e.HeaderOffset); err != nil && err != io.EOF {
		return 0, newError(ErrIO, "read local header", e.Name, err)
	}
	b := readBuf(buf[:])
	if sig := b.uint32(); sig != fileHeaderSignature {
		return 0, malformed("read local header", e.Name, "bad signature 0x%08x", sig)
	}
	b.skip(2) // reader version
	flags := b.uint16()
	method := b.uint16()
	b.skip(4) // modified time and date
	crc := b.uint32()
	compressedSize := b.uint32()
	uncompressedSize := b.uint32()
	filenameLen := int(b.uint16())
	extraLen := int(b.uint16())

	if method != e.Method {
		return 0, malformed("read local header", e.Name, "method %d differs from central directory method %d", method, e.Method)
	}
	// With a data descriptor the local header carries zeros; the
	// central directory is authoritative.
	if flags&flagDataDescriptor == 0 {
		if crc != e.CRC32 {
			return 0, malformed("read local header", e.Name, "checksum 0x%08x differs from central directory 0x%08x", crc, e.CRC32)
		}
		if compressedSize != ^uint32(0) && uint64(compressedSize) != e.CompressedSize {
			return 0, malformed("read local header", e.Name, "compressed size %d differs from central directory %d", compressedSize, e.CompressedSize)
		}
		if uncompressedSize != ^uint32(0) && uint64(uncompressedSize) != e.UncompressedSize {
			return 0, malformed("read local header", e.Name, "uncompressed size %d differs from central directory %d", uncompressedSize, e.UncompressedSize)
		}
	}

	nameOffset := e.HeaderOffset + fileHeaderLen
	if int64(filenameLen) > a.src.Size()-nameOffset {
		return 0, malformed("read local header", e.Name, "name length %d overruns the archive", filenameLen)
	}
	name := make([]byte, filenameLen)
	if _, err := a.src.ReadAt(name, nameOffset); err != nil && err != io.EOF {
		return 0, newError(ErrIO, "read local header", e.Name, err)
	}
	if string(name) != e.Name {
		return 0, malformed("read local header", e.Name, "local name %q does not match", name)
	}
	return nameOffset + int64(filenameLen) + int64(extraLen), nil
}

// sourceReader tags read failures from the byte source as ErrIO so they
// can be told apart from decompressor errors.
type sourceReader struct {
	src  io.ReaderAt
	name string
}

func (r sourceReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.src.ReadAt(p, off)
	if err != nil && err != io.EOF {
		err = newError(ErrIO, "read", r.name, err)
	}
	return n, err
}

type entryReader struct {
	ctx   context.Context
	rc    io.ReadCloser
	e     Entry
	hash  hash.Hash32
	nread uint64 // number of bytes read so far
	err   error  // sticky error
}

func (r *entryReader) Read(b []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return 0, err
	}
	n, err = r.rc.Read(b)
	r.hash.Write(b[:n])
	r.nread += uint64(n)
	if r.nread > r.e.UncompressedSize {
		r.err = r.corrupt(fmt.Errorf("more than the declared %d bytes", r.e.UncompressedSize))
		return 0, r.err
	}
	if err == nil {
		return n, nil
	}
	if err == io.EOF {
		if r.nread != r.e.UncompressedSize {
			err = r.corrupt(fmt.Errorf("got %d bytes, want %d: %w", r.nread, r.e.UncompressedSize, io.ErrUnexpectedEOF))
		} else if sum := r.hash.Sum32(); sum != r.e.CRC32 {
			err = r.corrupt(fmt.Errorf("checksum 0x%08x, want 0x%08x", sum, r.e.CRC32))
		}
	} else if !errors.Is(err, ErrIO) && err != errClosed {
		err = r.corrupt(err)
	}
	r.err = err
	return n, err
}

func (r *entryReader) corrupt(err error) error {
	return newError(ErrCorruptData, "read", r.e.Name, err)
}

// Close implements io.ReadCloser
func (r *entryReader) Close() error { return r.rc.Close() }
