package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// GobCodec is the default Codec, backed by the standard library's
// encoding/gob. This is the one deliberate standard-library choice in
// this module's external interfaces: no pack example ships a
// general-purpose, cycle-preserving Go value codec, and gob is the
// stdlib mechanism built for exactly this job between two Go processes.
// Callers that need interop with another language substitute their own
// Codec (JSON, protobuf, ...).
type GobCodec struct{}

func (GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("wire: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (GobCodec) Decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("wire: gob decode: %w", err)
	}
	return nil
}
