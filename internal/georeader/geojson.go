package georeader

import (
	"context"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

// geoJSONReader holds a fully-parsed FeatureCollection; GeoJSON files in
// this pipeline's size range (a municipality's road network) fit in
// memory comfortably, unlike GeoPackage which is read off SQLite.
type geoJSONReader struct {
	fc *geojson.FeatureCollection
}

func openGeoJSON(path string) (Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierror.New(apierror.CodeInvalidFile, "could not read upload"), err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		// Accept a bare Feature or FeatureCollection with accepted quirks;
		// anything else is a corrupted/unsupported file.
		feature, featureErr := geojson.UnmarshalFeature(data)
		if featureErr != nil {
			return nil, fmt.Errorf("%w: %v", apierror.New(apierror.CodeCorruptedGeometry, "invalid GeoJSON"), err)
		}
		fc = geojson.NewFeatureCollection()
		fc.Append(feature)
	}

	return &geoJSONReader{fc: fc}, nil
}

func (r *geoJSONReader) Probe(_ context.Context) (domain.ProbeResult, error) {
	var bound orb.Bound
	first := true
	geomTypes := map[string]struct{}{}

	for _, f := range r.fc.Features {
		if f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()
		if first {
			bound = b
			first = false
		} else {
			bound = bound.Union(b)
		}
		geomTypes[f.Geometry.GeoJSONType()] = struct{}{}
	}

	gt := make([]string, 0, len(geomTypes))
	for t := range geomTypes {
		gt = append(gt, t)
	}

	result := domain.ProbeResult{
		FeatureCount: len(r.fc.Features),
		Layers: []domain.LayerInfo{
			{Name: "default", FeatureCount: len(r.fc.Features), GeometryType: joinTypes(gt)},
		},
		Bbox: nil,
	}
	if !first {
		result.Bbox = boundToInfo(bound)
	}

	return result, nil
}

func joinTypes(types []string) string {
	switch len(types) {
	case 0:
		return ""
	case 1:
		return types[0]
	default:
		return "mixed"
	}
}

func (r *geoJSONReader) Stream(_ context.Context, layer string, fn func(domain.RawFeature) error) error {
	if layer != "" && layer != "default" {
		return fmt.Errorf("%w: %q", apierror.ErrLayerNotFound, layer)
	}

	for i, f := range r.fc.Features {
		var topID *string
		if f.ID != nil {
			switch v := f.ID.(type) {
			case string:
				topID = &v
			default:
				s := fmt.Sprintf("%v", v)
				topID = &s
			}
		}

		raw := domain.RawFeature{
			Index:      i,
			ID:         resolveIdentity(topID, f.Properties),
			Geometry:   f.Geometry,
			Properties: map[string]any(f.Properties),
		}
		if err := fn(raw); err != nil {
			return err
		}
	}

	return nil
}

func (r *geoJSONReader) Close() error { return nil }
