// Package wire implements the worker wire protocol named in spec §6: a
// length-prefixed frame format, plus the Codec contract used to serialize
// and deserialize the values carried inside each frame.
//
// Framing is grounded on the length-prefixed record pattern used by
// smux's session/stream code in the reference pack, generalized from
// smux's multiplexed-stream framing down to this package's simpler
// request/response framing: one uint32 little-endian length followed by
// that many bytes of payload, nothing else.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload, guarding a worker pipe
// against an unbounded allocation from a corrupt or adversarial length
// prefix.
const MaxFrameSize = 64 << 20 // 64 MiB

var ErrFrameTooLarge = errors.New("wire: frame exceeds MaxFrameSize")

// WriteFrame writes payload to w as a length-prefixed frame: a uint32
// little-endian length followed by payload itself.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, returning its payload.
// io.EOF is returned unwrapped when r is exhausted exactly at a frame
// boundary (the worker's clean end-of-input case); any other read failure,
// including a short read mid-frame, is wrapped.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: read frame header: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if n == 0 {
		return nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return payload, nil
}

// Codec is the byte-exact encode/decode pair spec §6 requires of
// serialization: external to the core, expected to preserve nested
// mappings, ordered sequences, and cycles within one process pair.
// Values that cannot be encoded (live file descriptors, closures) must
// fail Encode before any frame is written.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// ResultTag is the one-character tag prefixing a worker's reply record,
// per spec §6: 'r' for a successful return, 'e' for an error.
type ResultTag byte

const (
	TagReturn ResultTag = 'r'
	TagError  ResultTag = 'e'
)

// Result is the decoded shape of a worker's reply record: a tag plus
// either the return values (TagReturn) or a single error message
// (TagError).
type Result struct {
	Tag     ResultTag
	Values  []any
	Message string
}
