package reader

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/alec-rabold/zipspy/pkg/source"
)

// readDirectoryEnd locates the end of central directory record. It looks for
// the signature in the last 1k, then in the last 64k plus the record length,
// which is as far as a trailing comment can push it.
func readDirectoryEnd(r io.ReaderAt, size int64) (*directoryEnd, error) {
	if size < directoryEndLen {
		return nil, malformed("read directory end", "", "archive too small (%d bytes)", size)
	}

	var buf []byte
	var endOffset int64
	for i, bLen := range []int64{directoryEndSearchSmall, directoryEndSearchLarge} {
		if bLen > size {
			bLen = size
		}
		buf = make([]byte, int(bLen))
		if _, err := r.ReadAt(buf, size-bLen); err != nil && err != io.EOF {
			return nil, newError(ErrIO, "read directory end", "", err)
		}
		if p := findEOCDSignatureInBlock(buf); p >= 0 {
			buf = buf[p:]
			endOffset = size - bLen + int64(p)
			break
		}
		if i == 1 || bLen == size {
			return nil, malformed("read directory end", "", "end of central directory signature not found")
		}
	}

	b := readBuf(buf[4:]) // skip signature
	diskNumber := b.uint16()
	directoryDisk := b.uint16()
	b.skip(2) // records on this disk
	d := &directoryEnd{
		directoryRecords: uint64(b.uint16()),
		directorySize:    uint64(b.uint32()),
		directoryOffset:  uint64(b.uint32()),
		endOffset:        endOffset,
		commentLen:       b.uint16(),
	}
	d.comment = string(b[:d.commentLen])

	if diskNumber != 0 || directoryDisk != 0 {
		return nil, malformed("read directory end", "", "multi-volume archives are not supported")
	}

	if d.directoryRecords == 0xffff || d.directorySize == 0xffffffff || d.directoryOffset == 0xffffffff {
		if err := readDirectory64End(r, d); err != nil {
			return nil, err
		}
	}

	// Make sure the directory lies between the start of the file and the
	// end record.
	if d.directoryOffset > uint64(d.endOffset) || d.directorySize > uint64(d.endOffset)-d.directoryOffset {
		return nil, malformed("read directory end", "",
			"central directory (offset %d, size %d) outside archive bounds", d.directoryOffset, d.directorySize)
	}
	if d.directoryRecords > d.directorySize/directoryHeaderLen {
		return nil, malformed("read directory end", "",
			"%d records do not fit in a %d byte central directory", d.directoryRecords, d.directorySize)
	}
	return d, nil
}

// readDirectory64End replaces the saturated values in d with those of the
// zip64 end of central directory record. Without a zip64 locator the values
// are taken at face value.
func readDirectory64End(r io.ReaderAt, d *directoryEnd) error {
	locOffset := d.endOffset - directory64LocLen
	if locOffset < 0 {
		return nil
	}
	var loc [directory64LocLen]byte
	if _, err := r.ReadAt(loc[:], locOffset); err != nil {
		return newError(ErrIO, "read zip64 locator", "", err)
	}
	b := readBuf(loc[:])
	if sig := b.uint32(); sig != directory64LocSignature {
		return nil
	}
	if b.uint32() != 0 {
		return malformed("read zip64 locator", "", "multi-volume archives are not supported")
	}
	endOffset := b.uint64()
	if endOffset > uint64(locOffset) || uint64(locOffset)-endOffset < directory64EndLen {
		return malformed("read zip64 locator", "", "zip64 end record offset %d out of bounds", endOffset)
	}

	var end [directory64EndLen]byte
	if _, err := r.ReadAt(end[:], int64(endOffset)); err != nil {
		return newError(ErrIO, "read zip64 directory end", "", err)
	}
	b = readBuf(end[:])
	if sig := b.uint32(); sig != directory64EndSignature {
		return malformed("read zip64 directory end", "", "bad signature 0x%08x", sig)
	}
	b.skip(12) // record size, versions
	if b.uint32() != 0 || b.uint32() != 0 {
		return malformed("read zip64 directory end", "", "multi-volume archives are not supported")
	}
	b.skip(8) // records on this disk
	d.directoryRecords = b.uint64()
	d.directorySize = b.uint64()
	d.directoryOffset = b.uint64()
	// The directory ends where the zip64 record begins.
	d.endOffset = int64(endOffset)
	return nil
}

// readDirectory reads the central directory described by d with a single
// range read and parses every declared record.
func readDirectory(ctx context.Context, src source.ByteSource, d *directoryEnd) ([]Entry, error) {
	buf := make([]byte, int(d.directorySize))
	if _, err := src.ReadAt(buf, int64(d.directoryOffset)); err != nil && err != io.EOF {
		return nil, newError(ErrIO, "read central directory", "", err)
	}

	size := src.Size()
	b := readBuf(buf)
	entries := make([]Entry, 0, int(d.directoryRecords))
	for i := uint64(0); i < d.directoryRecords; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := readDirectoryHeader(&b)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if e.HeaderOffset < 0 || e.HeaderOffset > size-fileHeaderLen {
			return nil, malformed("read central directory", e.Name, "local header offset %d out of bounds", e.HeaderOffset)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// readDirectoryHeader parses one central directory record from b and
// advances b past it.
func readDirectoryHeader(b *readBuf) (Entry, error) {
	var e Entry
	if len(*b) < directoryHeaderLen {
		return e, malformed("read directory header", "", "record truncated")
	}
	if sig := b.uint32(); sig != directoryHeaderSignature {
		return e, malformed("read directory header", "", "bad signature 0x%08x", sig)
	}

	e.CreatorVersion = b.uint16()
	b.skip(2) // reader version
	e.Flags = b.uint16()
	e.Method = b.uint16()
	modTime := b.uint16()
	modDate := b.uint16()
	e.Modified = msDosTimeToTime(modDate, modTime)
	e.CRC32 = b.uint32()
	compressedSize := b.uint32()
	uncompressedSize := b.uint32()
	e.CompressedSize = uint64(compressedSize)
	e.UncompressedSize = uint64(uncompressedSize)
	filenameLen := int(b.uint16())
	extraLen := int(b.uint16())
	commentLen := int(b.uint16())
	b.skip(4) // disk number start, internal attributes
	e.ExternalAttrs = b.uint32()
	headerOffset := b.uint32()
	e.HeaderOffset = int64(headerOffset)

	if filenameLen+extraLen+commentLen > len(*b) {
		return e, malformed("read directory header", "",
			"name/extra/comment lengths (%d/%d/%d) overrun the central directory", filenameLen, extraLen, commentLen)
	}
	e.Name = string(b.sub(filenameLen))
	e.Extra = append([]byte(nil), b.sub(extraLen)...)
	e.Comment = string(b.sub(commentLen))

	needUSize := uncompressedSize == ^uint32(0)
	needCSize := compressedSize == ^uint32(0)
	needHeaderOffset := headerOffset == ^uint32(0)

	for extra := readBuf(e.Extra); len(extra) >= 4; {
		fieldTag := extra.uint16()
		fieldSize := int(extra.uint16())
		if len(extra) < fieldSize {
			break
		}
		fieldBuf := extra.sub(fieldSize)

		switch fieldTag {
		case zip64ExtraID:
			// update directory values from the zip64 extra block.
			// They should only be consulted if the sizes read earlier
			// are maxed out.
			if needUSize {
				needUSize = false
				if len(fieldBuf) < 8 {
					return e, malformed("read directory header", e.Name, "short zip64 extra field")
				}
				e.UncompressedSize = fieldBuf.uint64()
			}
			if needCSize {
				needCSize = false
				if len(fieldBuf) < 8 {
					return e, malformed("read directory header", e.Name, "short zip64 extra field")
				}
				e.CompressedSize = fieldBuf.uint64()
			}
			if needHeaderOffset {
				needHeaderOffset = false
				if len(fieldBuf) < 8 {
					return e, malformed("read directory header", e.Name, "short zip64 extra field")
				}
				e.HeaderOffset = int64(fieldBuf.uint64())
			}
		}
	}
	return e, nil
}

func findEOCDSignatureInBlock(b []byte) int {
	for i := len(b) - directoryEndLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(b[i:i+4]) == directoryEndSignature {
			commentLength := int(b[i+directoryEndLen-2]) | int(b[i+directoryEndLen-1])<<8
			if commentLength+directoryEndLen+i <= len(b) {
				return i
			}
		}
	}
	return -1
}

type readBuf []byte

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

func (b *readBuf) sub(n int) readBuf {
	b2 := (*b)[:n]
	*b = (*b)[n:]
	return b2
}

func (b *readBuf) skip(n int) *readBuf {
	*b = (*b)[n:]
	return b
}
