package otadump

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// PartitionInfo is one row of the listing view.
type PartitionInfo struct {
	Name string
	Size uint64
	Ops  int
}

// List reports every partition in manifest order. It reads nothing and
// writes nothing, so it is safe on payloads whose operations would be
// refused during extraction.
func (p *Payload) List() []PartitionInfo {
	infos := make([]PartitionInfo, 0, len(p.Partitions))
	for _, part := range p.Partitions {
		infos = append(infos, PartitionInfo{
			Name: part.Name,
			Size: part.Size,
			Ops:  len(part.Operations),
		})
	}
	return infos
}

// Extract writes <name>.img under dir for each requested partition, in
// the given order. Every name is validated up front; an unknown name
// fails the whole request before any file is created. Extraction is
// fail-fast: the first failing partition aborts the request, its partial
// image file is removed, and partitions after it are not attempted.
// Images completed earlier in the same request are kept.
func (p *Payload) Extract(names []string, dir string) error {
	parts := make([]*Partition, 0, len(names))
	for _, name := range names {
		part, ok := p.byName[name]
		if !ok {
			return &UnknownPartitionError{Name: name, Available: p.names()}
		}
		parts = append(parts, part)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, part := range parts {
		out := filepath.Join(dir, part.Name+".img")
		if err := p.extractPartition(part, out); err != nil {
			os.Remove(out)
			return fmt.Errorf("partition %s: %w", part.Name, err)
		}
	}
	return nil
}

// ExtractAll extracts every partition in manifest order.
func (p *Payload) ExtractAll(dir string) error {
	names := make([]string, 0, len(p.Partitions))
	for _, part := range p.Partitions {
		names = append(names, part.Name)
	}
	return p.Extract(names, dir)
}

func (p *Payload) names() []string {
	names := make([]string, 0, len(p.Partitions))
	for _, part := range p.Partitions {
		names = append(names, part.Name)
	}
	sort.Strings(names)
	return names
}

func (p *Payload) extractPartition(part *Partition, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	// Pre-size to the highest extent end so every addressed byte exists
	// even when the last operations fail to reach it.
	if size := part.sizeOnDisk(uint64(p.BlockSize)); size > 0 {
		if err := out.Truncate(int64(size)); err != nil {
			out.Close()
			return err
		}
	}
	for i, op := range part.Operations {
		if err := p.runOp(out, op); err != nil {
			out.Close()
			return fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
		}
	}
	return out.Close()
}

// sizeOnDisk is the largest extent end across all operations, in bytes.
func (part *Partition) sizeOnDisk(blockSize uint64) uint64 {
	var max uint64
	for _, op := range part.Operations {
		for _, ext := range op.DstExtents {
			if end := (ext.StartBlock + ext.NumBlocks) * blockSize; end > max {
				max = end
			}
		}
	}
	return max
}

func (p *Payload) runOp(out *os.File, op *Operation) error {
	switch op.Kind {
	case OpZero:
		return p.writeZeros(out, op)
	case OpReplace, OpReplaceXz, OpReplaceBz:
		return p.writeReplace(out, op)
	}
	// Everything else needs the previous image or a codec outside this
	// extractor's scope. Refused here, not at parse time, so listing a
	// payload that carries such operations still works.
	return &UnsupportedOperationError{Kind: op.Kind}
}

var zeroBuf [64 << 10]byte

func (p *Payload) writeZeros(out *os.File, op *Operation) error {
	bs := uint64(p.BlockSize)
	for _, ext := range op.DstExtents {
		if _, err := out.Seek(int64(ext.StartBlock*bs), io.SeekStart); err != nil {
			return err
		}
		left := int64(ext.NumBlocks * bs)
		for left > 0 {
			n := int64(len(zeroBuf))
			if left < n {
				n = left
			}
			if _, err := out.Write(zeroBuf[:n]); err != nil {
				return err
			}
			left -= n
		}
	}
	return nil
}

func (p *Payload) writeReplace(out *os.File, op *Operation) error {
	if len(op.DstExtents) == 0 {
		return badPayload("data operation without destination extents")
	}
	data, err := p.dataWindow(op)
	if err != nil {
		return err
	}

	// Verify before trusting the bytes: the digest covers the blob as
	// stored, so a mismatch means nothing gets decompressed.
	if len(op.Sha256) > 0 {
		sum := sha256.Sum256(data)
		if !bytes.Equal(sum[:], op.Sha256) {
			return &IntegrityError{Expected: op.Sha256, Actual: sum[:]}
		}
	}

	var raw []byte
	switch op.Kind {
	case OpReplace:
		raw = data
	case OpReplaceXz:
		raw, err = Unxz(data)
	case OpReplaceBz:
		raw, err = Unbz2(data)
	}
	if err != nil {
		return &CodecError{Kind: op.Kind, Err: err}
	}

	bs := uint64(p.BlockSize)
	if want := op.extentBytes(bs); uint64(len(raw)) != want {
		return badPayload(fmt.Sprintf("operation inflates to %d bytes, extents cover %d",
			len(raw), want))
	}

	// The extents partition the inflated buffer by position, in declared
	// order. A buffer never maps 1:1 to a single extent in general.
	pos := uint64(0)
	for _, ext := range op.DstExtents {
		n := ext.NumBlocks * bs
		if _, err := out.Seek(int64(ext.StartBlock*bs), io.SeekStart); err != nil {
			return err
		}
		if _, err := out.Write(raw[pos : pos+n]); err != nil {
			return err
		}
		pos += n
	}
	return nil
}

// extentBytes is the summed destination size in bytes.
func (op *Operation) extentBytes(blockSize uint64) uint64 {
	var n uint64
	for _, ext := range op.DstExtents {
		n += ext.NumBlocks * blockSize
	}
	return n
}
