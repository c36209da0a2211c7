package otadump

import (
	"crypto/sha256"
	"fmt"
	"unicode/utf8"
)

// Field numbers from the update_engine DeltaArchiveManifest schema. Only
// what is needed to enumerate partitions and their install operations is
// read; unknown fields are skipped, which keeps the parser compatible
// with manifests from newer OTA tooling.
const (
	fieldBlockSize = 3
	fieldPartition = 13

	fieldPartName = 1
	fieldPartInfo = 7
	fieldPartOp   = 8

	fieldInfoSize = 1

	fieldOpKind      = 1
	fieldOpDataOff   = 2
	fieldOpDataLen   = 3
	fieldOpDstExtent = 6
	fieldOpSha256    = 8

	fieldExtentStart = 1
	fieldExtentNum   = 2
)

func (p *Payload) parseManifest(buf []byte) error {
	p.byName = make(map[string]*Partition)
	r := newFieldReader(buf)
	for f, ok := r.next(); ok; f, ok = r.next() {
		switch f.Num {
		case fieldBlockSize:
			if f.Type == wireVarint {
				p.BlockSize = uint32(f.Uint)
			}
		case fieldPartition:
			if f.Type != wireBytes {
				continue
			}
			part, err := parsePartition(f.Bytes)
			if err != nil {
				return fmt.Errorf("partition %d: %w", len(p.Partitions), err)
			}
			if _, dup := p.byName[part.Name]; dup {
				return badPayload("duplicate partition name " + part.Name)
			}
			p.Partitions = append(p.Partitions, part)
			p.byName[part.Name] = part
		}
	}
	if r.err != nil {
		return fmt.Errorf("manifest: %w", r.err)
	}
	if p.BlockSize == 0 {
		return badPayload("block size is zero")
	}
	return nil
}

func parsePartition(buf []byte) (*Partition, error) {
	part := &Partition{}
	r := newFieldReader(buf)
	for f, ok := r.next(); ok; f, ok = r.next() {
		switch f.Num {
		case fieldPartName:
			if f.Type != wireBytes || !utf8.Valid(f.Bytes) {
				return nil, badPayload("partition name is not utf-8")
			}
			part.Name = string(f.Bytes)
		case fieldPartInfo:
			if f.Type != wireBytes {
				continue
			}
			ir := newFieldReader(f.Bytes)
			for inf, iok := ir.next(); iok; inf, iok = ir.next() {
				if inf.Num == fieldInfoSize && inf.Type == wireVarint {
					part.Size = inf.Uint
				}
			}
			if ir.err != nil {
				return nil, ir.err
			}
		case fieldPartOp:
			if f.Type != wireBytes {
				continue
			}
			op, err := parseOperation(f.Bytes)
			if err != nil {
				return nil, fmt.Errorf("op %d: %w", len(part.Operations), err)
			}
			part.Operations = append(part.Operations, op)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if part.Name == "" {
		return nil, badPayload("partition without a name")
	}
	return part, nil
}

func parseOperation(buf []byte) (*Operation, error) {
	op := &Operation{}
	r := newFieldReader(buf)
	for f, ok := r.next(); ok; f, ok = r.next() {
		switch f.Num {
		case fieldOpKind:
			op.Kind = OpKind(f.Uint)
		case fieldOpDataOff:
			op.DataOffset = f.Uint
		case fieldOpDataLen:
			op.DataLength = f.Uint
		case fieldOpDstExtent:
			if f.Type != wireBytes {
				continue
			}
			ext, err := parseExtent(f.Bytes)
			if err != nil {
				return nil, err
			}
			op.DstExtents = append(op.DstExtents, ext)
		case fieldOpSha256:
			if f.Type != wireBytes {
				continue
			}
			if len(f.Bytes) != sha256.Size {
				return nil, badPayload(fmt.Sprintf("digest is %d bytes, want %d",
					len(f.Bytes), sha256.Size))
			}
			// Copied so the model never aliases the file mapping.
			op.Sha256 = append([]byte(nil), f.Bytes...)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return op, nil
}

func parseExtent(buf []byte) (Extent, error) {
	var ext Extent
	r := newFieldReader(buf)
	for f, ok := r.next(); ok; f, ok = r.next() {
		switch f.Num {
		case fieldExtentStart:
			ext.StartBlock = f.Uint
		case fieldExtentNum:
			ext.NumBlocks = f.Uint
		}
	}
	return ext, r.err
}
