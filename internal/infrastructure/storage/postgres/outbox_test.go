package postgres

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadCodec_SmallPayloadStaysRaw(t *testing.T) {
	codec, err := newPayloadCodec(0)
	require.NoError(t, err)

	raw := []byte(`{"type":"boq.approved"}`)
	payload, compressed := codec.encode(raw)

	assert.False(t, compressed)
	assert.Equal(t, raw, payload)
}

func TestPayloadCodec_LargePayloadCompressed(t *testing.T) {
	codec, err := newPayloadCodec(0)
	require.NoError(t, err)

	raw := bytes.Repeat([]byte(`{"itemId":"a","qty":"1.0000"},`), 1024)
	payload, compressed := codec.encode(raw)
	require.True(t, compressed)
	assert.Less(t, len(payload), len(raw))

	decoded, err := codec.decode(payload, compressed)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestPayloadCodec_CorruptPayload(t *testing.T) {
	codec, err := newPayloadCodec(0)
	require.NoError(t, err)

	_, err = codec.decode([]byte("not zstd"), true)
	assert.Error(t, err)
}
