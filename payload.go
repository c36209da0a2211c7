package otadump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

const PAYLOAD_MAGIC string = "CrAU"

// Fixed header: 4 byte magic, big-endian u64 version, big-endian u64
// manifest length, big-endian u32 signature block length.
const headerLen = 24

// Only major version 2 payloads exist in the wild since Nougat.
const payloadVersion = 2

const defaultBlockSize = 4096

func badPayload(msg string) error {
	return fmt.Errorf("%w: %s", ErrMalformedContainer, msg)
}

// OpKind is an install operation type tag from the update_engine schema.
// Unrecognized tags survive parsing and are refused when executed, so a
// payload carrying them can still be listed.
type OpKind uint64

const (
	OpReplace      OpKind = 0
	OpReplaceBz    OpKind = 1
	OpSourceCopy   OpKind = 4
	OpSourceBsdiff OpKind = 5
	OpZero         OpKind = 6
	OpReplaceXz    OpKind = 8
	OpPuffdiff     OpKind = 9
	OpZstd         OpKind = 14
	OpLz4          OpKind = 15
)

func (k OpKind) String() string {
	switch k {
	case OpReplace:
		return "REPLACE"
	case OpReplaceBz:
		return "REPLACE_BZ"
	case OpSourceCopy:
		return "SOURCE_COPY"
	case OpSourceBsdiff:
		return "SOURCE_BSDIFF"
	case OpZero:
		return "ZERO"
	case OpReplaceXz:
		return "REPLACE_XZ"
	case OpPuffdiff:
		return "PUFFDIFF"
	case OpZstd:
		return "ZSTD"
	case OpLz4:
		return "LZ4"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint64(k))
}

// Extent is a contiguous destination range of whole blocks.
type Extent struct {
	StartBlock uint64
	NumBlocks  uint64
}

// Operation is one reconstruction step for a partition. DataOffset and
// DataLength address the operation's blob relative to the payload's data
// region. Sha256 is empty when the manifest carries no digest, which
// means the blob is not verified.
type Operation struct {
	Kind       OpKind
	DataOffset uint64
	DataLength uint64
	DstExtents []Extent
	Sha256     []byte
}

// Partition is a named image assembled by replaying Operations strictly
// in manifest order. Later operations may overwrite ranges written by
// earlier ones. Size is the declared size from the manifest,
// informational only.
type Partition struct {
	Name       string
	Size       uint64
	Operations []*Operation
}

// Payload is a fully parsed payload.bin. It is immutable after Open and
// safe for concurrent readers; operation blobs are served as positioned
// slices of a read-only mapping, so there is no shared cursor.
type Payload struct {
	Path       string
	BlockSize  uint32
	DataOffset uint64
	Partitions []*Partition

	file   *os.File
	data   mmap.MMap
	byName map[string]*Partition
}

// Open maps the payload file read-only and parses the header and
// manifest. A parse error closes the file and returns no Payload.
func Open(path string) (*Payload, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}
	if st.Size() < headerLen {
		fd.Close()
		return nil, badPayload("file shorter than fixed header")
	}
	m, err := mmap.Map(fd, mmap.RDONLY, 0)
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	p := &Payload{Path: path, BlockSize: defaultBlockSize, file: fd, data: m}
	if err := p.parse(); err != nil {
		m.Unmap()
		fd.Close()
		return nil, err
	}
	return p, nil
}

// Close unmaps and closes the payload file.
func (p *Payload) Close() error {
	if p.data != nil {
		p.data.Unmap()
		p.data = nil
	}
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// Partition returns the named partition, if the manifest declares it.
func (p *Payload) Partition(name string) (*Partition, bool) {
	part, ok := p.byName[name]
	return part, ok
}

func (p *Payload) parse() error {
	buf := []byte(p.data)
	if !bytes.Equal(buf[:4], []byte(PAYLOAD_MAGIC)) {
		return badPayload("invalid magic")
	}
	version := binary.BigEndian.Uint64(buf[4:12])
	if version != payloadVersion {
		return badPayload(fmt.Sprintf("unsupported version %d", version))
	}
	manifestLen := binary.BigEndian.Uint64(buf[12:20])
	if manifestLen == 0 {
		return badPayload("manifest length is zero")
	}
	sigLen := binary.BigEndian.Uint32(buf[20:headerLen])
	if manifestLen > uint64(len(buf)-headerLen) {
		return fmt.Errorf("%w: %d byte manifest runs past end of file",
			ErrTruncatedInput, manifestLen)
	}

	// Everything after the signature block is operation data, addressed
	// by each operation's DataOffset. The signature block itself is
	// opaque here.
	p.DataOffset = headerLen + manifestLen + uint64(sigLen)

	return p.parseManifest(buf[headerLen : headerLen+manifestLen])
}

// dataWindow slices one operation's blob out of the data region.
func (p *Payload) dataWindow(op *Operation) ([]byte, error) {
	off := p.DataOffset + op.DataOffset
	end := off + op.DataLength
	if end < off || end > uint64(len(p.data)) {
		return nil, fmt.Errorf("%w: operation data [%d, %d) outside payload",
			ErrTruncatedInput, off, end)
	}
	return p.data[off:end], nil
}
