// Package georeader probes an uploaded file for its layers/bbox/feature
// count, then streams raw features out of it. GeoJSON is decoded with
// paulmach/orb/geojson; GeoPackage is read as SQLite (mattn/go-sqlite3 +
// jmoiron/sqlx) with the geometry column's GeoPackage binary envelope
// stripped and the embedded WKB body handed to orb's WKB decoder.
package georeader

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

// Reader is implemented by each supported file format.
type Reader interface {
	// Probe reports layers, feature count and bbox without fully
	// materializing features.
	Probe(ctx context.Context) (domain.ProbeResult, error)
	// Stream calls fn once per feature in file order, stopping at the
	// first error fn returns.
	Stream(ctx context.Context, layer string, fn func(domain.RawFeature) error) error
	// Close releases any file handles/connections the reader holds.
	Close() error
}

// Open picks a Reader for fileType and opens path (a local temp file the
// caller materialized from the uploaded blob).
func Open(fileType domain.FileType, path string) (Reader, error) {
	switch fileType {
	case domain.FileTypeGeoJSON:
		return openGeoJSON(path)
	case domain.FileTypeGeoPackage:
		return openGeoPackage(path)
	default:
		return nil, fmt.Errorf("%w: file type %q", apierror.New(apierror.CodeUnsupportedFormat, "unrecognized file type"), fileType)
	}
}

// resolveIdentity resolves the identity field in priority order: `id`
// (GeoJSON Feature.ID) wins, then properties.id, then
// properties.feature_id; nil means the validator must auto-generate one.
func resolveIdentity(topLevelID *string, props map[string]any) *string {
	if topLevelID != nil && *topLevelID != "" {
		return topLevelID
	}
	if v, ok := stringProp(props, "id"); ok {
		return &v
	}
	if v, ok := stringProp(props, "feature_id"); ok {
		return &v
	}

	return nil
}

func stringProp(props map[string]any, key string) (string, bool) {
	raw, ok := props[key]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", false
		}

		return v, true
	case float64:
		return fmt.Sprintf("%v", v), true
	default:
		return "", false
	}
}

func boundToInfo(b orb.Bound) *domain.Bbox {
	box := domain.BboxFromOrb(b)

	return &box
}
