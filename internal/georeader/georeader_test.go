package georeader

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIdentity(t *testing.T) {
	topID := "top-1"
	assert.Equal(t, &topID, resolveIdentity(&topID, nil))

	props := map[string]any{"id": "prop-1"}
	got := resolveIdentity(nil, props)
	require.NotNil(t, got)
	assert.Equal(t, "prop-1", *got)

	props = map[string]any{"feature_id": "feat-1"}
	got = resolveIdentity(nil, props)
	require.NotNil(t, got)
	assert.Equal(t, "feat-1", *got)

	assert.Nil(t, resolveIdentity(nil, map[string]any{"other": "x"}))
}

func TestDecodeGpkgGeometryNoEnvelope(t *testing.T) {
	point := orb.Point{139.767, 35.681}
	body, err := wkb.Marshal(point)
	require.NoError(t, err)

	// magic, version 0, flags: little-endian, no envelope, then srs_id 4326 (int32 LE)
	header := []byte{'G', 'P', 0x00, 0x01, 0xE6, 0x10, 0x00, 0x00}
	blob := append(header, body...)

	got, err := decodeGpkgGeometry(blob)
	require.NoError(t, err)
	assert.Equal(t, point, got)
}

func TestDecodeGpkgGeometryBadMagic(t *testing.T) {
	_, err := decodeGpkgGeometry([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	require.Error(t, err)
}

func TestDecodeGpkgGeometryTruncated(t *testing.T) {
	_, err := decodeGpkgGeometry([]byte{'G', 'P', 0, 1})
	require.Error(t, err)
}
