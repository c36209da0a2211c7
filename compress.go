package otadump

import (
	"bytes"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Unxz inflates a REPLACE_XZ blob. The format is sniffed because OTA
// tooling emits either an xz container or a bare lzma stream for the
// same operation kind.
func Unxz(data []byte) ([]byte, error) {
	if CheckFmt(data) == XZ {
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(r)
	}
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Unbz2 inflates a REPLACE_BZ blob.
func Unbz2(data []byte) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, err
	}
	d, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return d, r.Close()
}
