// Package wards is the ward gazetteer: a minimal name -> bounding
// geometry lookup that resolves `ward:<name>` scopes to a bbox the diff
// engine can query against. It is loaded once at startup from a Blob
// Store handle containing a small GeoJSON FeatureCollection of ward
// boundaries.
package wards

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

// Gazetteer resolves ward names to bounding boxes.
type Gazetteer struct {
	byName map[string]orb.Bound
}

// Load parses a GeoJSON FeatureCollection whose features each carry a
// `name` (or `ward`) property identifying the ward.
func Load(data []byte) (*Gazetteer, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("wards: invalid gazetteer file: %w", err)
	}

	byName := make(map[string]orb.Bound, len(fc.Features))
	for _, f := range fc.Features {
		name := wardName(f.Properties)
		if name == "" || f.Geometry == nil {
			continue
		}
		byName[name] = f.Geometry.Bound()
	}

	return &Gazetteer{byName: byName}, nil
}

func wardName(props map[string]any) string {
	for _, key := range []string{"name", "ward"} {
		if v, ok := props[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}

	return ""
}

// Resolve looks up name's bounding box. It returns
// apierror.ErrInvalidScope if the ward is not in the gazetteer: an
// unresolvable scope is a client error, not an empty result.
func (g *Gazetteer) Resolve(name string) (domain.Bbox, error) {
	b, ok := g.byName[name]
	if !ok {
		return domain.Bbox{}, fmt.Errorf("%w: unknown ward %q", apierror.ErrInvalidScope, name)
	}

	return domain.BboxFromOrb(b), nil
}

// Names lists every ward the gazetteer knows, for diagnostics/listing UIs.
func (g *Gazetteer) Names() []string {
	names := make([]string, 0, len(g.byName))
	for n := range g.byName {
		names = append(names, n)
	}

	return names
}
