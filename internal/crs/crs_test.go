package crs_test

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/crs"
)

func TestTransformGeometryIdentity(t *testing.T) {
	p := orb.Point{139.767, 35.681}
	got, err := crs.TransformGeometry(p, string(crs.CodeWGS84))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestTransformGeometryWebMercator(t *testing.T) {
	// Origin of Web Mercator is (0,0) in both systems.
	got, err := crs.TransformGeometry(orb.Point{0, 0}, string(crs.CodeWebMercator))
	require.NoError(t, err)
	p, ok := got.(orb.Point)
	require.True(t, ok)
	assert.InDelta(t, 0, p.X(), 1e-9)
	assert.InDelta(t, 0, p.Y(), 1e-9)
}

func TestTransformGeometryUnsupportedCRS(t *testing.T) {
	_, err := crs.TransformGeometry(orb.Point{0, 0}, "EPSG:99999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrUnsupportedCRS))
}

func TestTransformGeometryLineString(t *testing.T) {
	ls := orb.LineString{{0, 0}, {100, 100}}
	got, err := crs.TransformGeometry(ls, string(crs.CodeWebMercator))
	require.NoError(t, err)
	out, ok := got.(orb.LineString)
	require.True(t, ok)
	require.Len(t, out, 2)
	assert.InDelta(t, 0, out[0].X(), 1e-9)
}

func TestRecognized(t *testing.T) {
	assert.True(t, crs.Recognized(string(crs.CodeWGS84)))
	assert.True(t, crs.Recognized(string(crs.CodeJGD2011Zone9)))
	assert.False(t, crs.Recognized("EPSG:0"))
}
