package wards_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/wards"
)

const sampleGazetteer = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "riverside"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[0,1],[1,1],[1,0],[0,0]]]}}
  ]
}`

func TestLoadAndResolve(t *testing.T) {
	g, err := wards.Load([]byte(sampleGazetteer))
	require.NoError(t, err)

	box, err := g.Resolve("riverside")
	require.NoError(t, err)
	assert.Equal(t, 0.0, box.MinLng)
	assert.Equal(t, 1.0, box.MaxLat)

	assert.Equal(t, []string{"riverside"}, g.Names())
}

func TestResolveUnknownWard(t *testing.T) {
	g, err := wards.Load([]byte(sampleGazetteer))
	require.NoError(t, err)

	_, err = g.Resolve("nowhere")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrInvalidScope))
}

func TestLoadInvalidJSON(t *testing.T) {
	_, err := wards.Load([]byte("not json"))
	require.Error(t, err)
}
