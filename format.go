package otadump

import "bytes"

// Compression formats that can appear in an operation's data blob.
const (
	RAW = iota
	XZ
	LZMA
	BZIP2
)

type format_t int

const (
	XZ_MAGIC   = "\xfd7zXZ"
	BZIP_MAGIC = "BZh"
)

// CheckFmt sniffs the compression format from leading magic bytes.
// REPLACE_XZ blobs show up both as xz containers and as classic lzma
// streams, so the lzma check looks at the header layout instead of a
// magic string: properties byte, dict size, then an uncompressed size
// whose 8th byte is 0xff (unknown) or 0x00.
func CheckFmt(buf []byte) format_t {
	CHECKED_MATCH := func(p string) bool {
		return len(buf) >= len(p) && bytes.Equal([]byte(p), buf[:len(p)])
	}

	if CHECKED_MATCH(XZ_MAGIC) {
		return XZ
	} else if (len(buf) >= 13 && bytes.Equal([]byte("\x5d\x00\x00"), buf[:3])) && (buf[12] == '\xff' || buf[12] == '\x00') {
		return LZMA
	} else if CHECKED_MATCH(BZIP_MAGIC) {
		return BZIP2
	}
	return RAW
}

func Fmt2Name(fmt format_t) string {
	switch fmt {
	case XZ:
		return "xz"
	case LZMA:
		return "lzma"
	case BZIP2:
		return "bzip2"
	default:
		return "raw"
	}
}
