package otadump

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedContainer covers bad magic, bad version and structural
	// problems in the header or manifest.
	ErrMalformedContainer = errors.New("malformed payload container")

	// ErrTruncatedInput means a decode ran past the end of the buffer.
	ErrTruncatedInput = errors.New("truncated input")

	// ErrMalformedField means the wire decoder hit an entry it cannot
	// represent, such as an unknown wire type.
	ErrMalformedField = errors.New("malformed field")
)

// UnknownPartitionError reports a requested partition name that is not in
// the manifest, along with the names that are.
type UnknownPartitionError struct {
	Name      string
	Available []string
}

func (e *UnknownPartitionError) Error() string {
	return fmt.Sprintf("unknown partition %q, available: %s",
		e.Name, strings.Join(e.Available, ", "))
}

// UnsupportedOperationError reports an operation kind this extractor
// refuses to execute. Incremental kinds need the previous partition image,
// which a standalone payload does not carry.
type UnsupportedOperationError struct {
	Kind OpKind
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation %s", e.Kind)
}

// IntegrityError reports a sha256 mismatch on an operation's payload blob.
// The blob is discarded before any decompression is attempted.
type IntegrityError struct {
	Expected []byte
	Actual   []byte
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("sha256 mismatch: expected %x, got %x", e.Expected, e.Actual)
}

// CodecError wraps a decompression failure.
type CodecError struct {
	Kind OpKind
	Err  error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%s decompression failed: %v", e.Kind, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }
