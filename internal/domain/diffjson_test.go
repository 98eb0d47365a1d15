package domain

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffFeatureJSONRoundTrip(t *testing.T) {
	ds := DataSourceOfficialLedger
	after := AttributeBag{DataSource: &ds, Passthrough: map[string]any{"surface": "asphalt"}}
	in := DiffFeature{
		Identity: "R1",
		Geometry: orb.LineString{{139.7, 35.6}, {139.71, 35.61}},
		Before:   nil,
		After:    &after,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"LineString"`)

	var out DiffFeature
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "R1", out.Identity)
	require.IsType(t, orb.LineString{}, out.Geometry)
	assert.Equal(t, in.Geometry, out.Geometry)
	require.NotNil(t, out.After)
	require.NotNil(t, out.After.DataSource)
	assert.Equal(t, DataSourceOfficialLedger, *out.After.DataSource)
	assert.Nil(t, out.Before)
}

func TestDiffResultJSONKeepsDeactivatedLean(t *testing.T) {
	diff := DiffResult{
		Scope:           "full",
		RegionalRefresh: true,
		ComparisonMode:  ComparisonModePrecise,
		Deactivated: []DiffFeature{
			{Identity: "gone", Geometry: orb.LineString{{0, 0}, {1, 1}}},
		},
		UnchangedCount: 4,
	}

	data, err := json.Marshal(diff)
	require.NoError(t, err)

	var decoded DiffResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Deactivated, 1)
	assert.Nil(t, decoded.Deactivated[0].After)
	assert.Equal(t, 4, decoded.UnchangedCount)
}
