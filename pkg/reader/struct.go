package reader

import (
	"os"
	"strings"
	"time"
)

const (
	directoryEndLen         = 22
	directory64LocLen       = 20
	directory64EndLen       = 56
	directoryHeaderLen      = 46
	fileHeaderLen           = 30 // + filename + extra
	maxCommentLen           = 0xffff
	directoryEndSearchSmall = 1024
	directoryEndSearchLarge = directoryEndLen + maxCommentLen

	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	directoryHeaderSignature = 0x02014b50
	fileHeaderSignature      = 0x04034b50

	zip64ExtraID = 0x0001 // Zip64 extended information

	flagEncrypted      = 0x1
	flagDataDescriptor = 0x8

	creatorUnix = 3
)

// Compression methods.
const (
	Store   uint16 = 0 // no compression
	Deflate uint16 = 8 // DEFLATE compressed
)

// Entry describes a file or directory record within a zip archive, as stored
// in the central directory.
type Entry struct {
	// Name is the byte-exact name of the entry. Slashes separate path
	// elements; a trailing slash marks a directory.
	Name string

	// Comment is any arbitrary user-defined string shorter than 64KiB.
	Comment string

	Flags          uint16
	CreatorVersion uint16

	// Method is the compression method. If zero, Store is used.
	Method uint16

	Modified time.Time

	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64

	// HeaderOffset is the offset of the entry's local header in the source.
	HeaderOffset int64

	Extra         []byte
	ExternalAttrs uint32
}

// IsDir reports whether the entry is a directory marker.
func (e Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

// Mode returns the permission bits recorded for the entry, falling back to
// 0644 for files and 0755 for directories.
func (e Entry) Mode() os.FileMode {
	var mode os.FileMode
	if e.CreatorVersion>>8 == creatorUnix {
		mode = os.FileMode(e.ExternalAttrs>>16) & os.ModePerm
	}
	if mode == 0 {
		if e.IsDir() {
			return 0755
		}
		return 0644
	}
	return mode
}

// directoryEnd describes an end of central directory record, with ZIP64
// values merged in when present.
type directoryEnd struct {
	directoryRecords uint64
	directorySize    uint64
	directoryOffset  uint64 // relative to file
	endOffset        int64
	commentLen       uint16
	comment          string
}

// msDosTimeToTime converts an MS-DOS date and time into a time.Time.
// The resolution is 2s.
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	if dosDate == 0 && dosTime == 0 {
		return time.Time{}
	}
	return time.Date(
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0,
		time.UTC,
	)
}
