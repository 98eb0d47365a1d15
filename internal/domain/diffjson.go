package domain

import (
	"encoding/json"

	"github.com/paulmach/orb/geojson"
)

// diffFeatureJSON is the persisted/API wire form of a DiffFeature. The
// geometry is wrapped in a GeoJSON geometry object so the stored
// historical diff is self-describing and decodable without knowing the
// concrete orb type up front.
type diffFeatureJSON struct {
	Identity string            `json:"identity"`
	Geometry *geojson.Geometry `json:"geometry"`
	Before   *AttributeBag     `json:"before,omitempty"`
	After    *AttributeBag     `json:"after,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (f DiffFeature) MarshalJSON() ([]byte, error) {
	out := diffFeatureJSON{
		Identity: f.Identity,
		Geometry: nil,
		Before:   f.Before,
		After:    f.After,
	}
	if f.Geometry != nil {
		out.Geometry = geojson.NewGeometry(f.Geometry)
	}

	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *DiffFeature) UnmarshalJSON(data []byte) error {
	var in diffFeatureJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	f.Identity = in.Identity
	f.Before = in.Before
	f.After = in.After
	f.Geometry = nil
	if in.Geometry != nil {
		f.Geometry = in.Geometry.Geometry()
	}

	return nil
}
