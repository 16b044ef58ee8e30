package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGobCodecRoundTripsResult(t *testing.T) {
	c := GobCodec{}
	in := Result{Tag: TagReturn, Values: []any{int(42), "ok"}}

	data, err := c.Encode(in)
	require.NoError(t, err)

	var out Result
	require.NoError(t, c.Decode(data, &out))
	assert.Equal(t, in.Tag, out.Tag)
	assert.Equal(t, in.Message, out.Message)
	require.Len(t, out.Values, 2)
}

func TestGobCodecRoundTripsArgSlice(t *testing.T) {
	c := GobCodec{}
	in := []any{int(7), int(8)}

	data, err := c.Encode(in)
	require.NoError(t, err)

	var out []any
	require.NoError(t, c.Decode(data, &out))
	require.Len(t, out, 2)
}

func TestGobCodecDecodeErrorOnGarbage(t *testing.T) {
	c := GobCodec{}
	var out Result
	err := c.Decode([]byte("not a gob stream"), &out)
	assert.Error(t, err)
}
