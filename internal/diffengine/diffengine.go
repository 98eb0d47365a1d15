// Package diffengine classifies an imported, normalized feature set
// against a comparison baseline within a scope, producing added/updated/
// deactivated sets and an unchanged count. In bbox mode the baseline is
// the live road set intersecting the spatial scope; in precise mode the
// baseline is the decoded prior export the uploader started from, while
// deactivation candidates are still drawn from the live set (a road that
// exists live but not in the import is a removal regardless of which
// baseline judged the rest).
package diffengine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"

	"github.com/paulmach/orb"

	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/metrics"
)

// epsGeom is the per-ordinate tolerance (degrees) below which two
// geometries are considered identical for diff purposes.
const epsGeom = 1e-7

// CurrentRoadSource streams the store's current roads within scope. It
// is kept narrow so the diff engine never imports the roadstore package
// directly and a fake can stand in for tests.
type CurrentRoadSource interface {
	StreamCurrent(ctx context.Context, scope domain.Scope, mode domain.ComparisonMode, fn func(domain.Road) error) error
}

// ExportBaseline adapts a decoded prior export into a CurrentRoadSource,
// the comparison baseline for precise mode.
type ExportBaseline struct {
	features []domain.NormalizedFeature
}

func NewExportBaseline(features []domain.NormalizedFeature) ExportBaseline {
	return ExportBaseline{features: features}
}

// StreamCurrent implements CurrentRoadSource over the export's features.
// The scope and mode arguments are ignored: an export is already the
// exact record set the uploader downloaded.
func (b ExportBaseline) StreamCurrent(
	_ context.Context, _ domain.Scope, _ domain.ComparisonMode, fn func(domain.Road) error,
) error {
	for _, f := range b.features {
		road := domain.Road{
			ID:         f.Identity,
			Identity:   f.Identity,
			Geometry:   f.Geometry,
			Attributes: f.Attributes,
			DataSource: dataSourceOrEmpty(f.Attributes.DataSource),
			Status:     domain.RoadStatusActive,
		}
		if err := fn(road); err != nil {
			return err
		}
	}

	return nil
}

func dataSourceOrEmpty(ds *domain.DataSource) domain.DataSource {
	if ds != nil {
		return *ds
	}

	return ""
}

// Classify compares imported (already normalized) against the current
// roads in scope, returning a DiffResult. baseline selects precise mode:
// when non-nil (the decoded prior export), unchanged/updated are judged
// against it instead of against current, and current contributes only the
// deactivation candidates and the scope count. regionalRefresh controls
// whether Deactivated is advisory (false) or will actually be applied by
// the publisher (true). Duplicate import identities resolve last-wins
// with a warning.
func Classify(
	ctx context.Context,
	current CurrentRoadSource,
	baseline CurrentRoadSource,
	scope domain.Scope,
	mode domain.ComparisonMode,
	regionalRefresh bool,
	sourceExportID *string,
	imported []domain.NormalizedFeature,
) (domain.DiffResult, error) {
	byIdentity := make(map[string]domain.NormalizedFeature, len(imported))
	var dupWarnings int
	for _, f := range imported {
		if _, exists := byIdentity[f.Identity]; exists {
			dupWarnings++
		}
		byIdentity[f.Identity] = f // last occurrence wins
	}
	if dupWarnings > 0 {
		slog.WarnContext(ctx, "diffengine: duplicate feature identities in import, last occurrence wins",
			"count", dupWarnings)
	}

	result := domain.DiffResult{
		Scope:                   scope.String(),
		RegionalRefresh:         regionalRefresh,
		ComparisonMode:          mode,
		SourceExportID:          sourceExportID,
		Added:                   nil,
		Updated:                 nil,
		Deactivated:             nil,
		UnchangedCount:          0,
		Stats:                   domain.DiffStats{},
		PreviewOnlyDeactivation: !regionalRefresh,
	}

	singlePass := baseline == nil
	equalitySource := baseline
	if singlePass {
		equalitySource = current
	}

	// Identities judged unchanged or updated against the baseline; the
	// rest of the import becomes "added".
	matched := make(map[string]struct{}, len(imported))

	err := equalitySource.StreamCurrent(ctx, scope, mode, func(road domain.Road) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if singlePass {
			result.Stats.ScopeCurrentCount++
		}

		imp, ok := byIdentity[road.Identity]
		if !ok {
			if singlePass {
				appendDeactivated(&result, road)
			}
			// In precise mode, deactivation candidates come from the live
			// pass below, not from the export.

			return nil
		}
		matched[road.Identity] = struct{}{}

		if featuresEqual(road, imp) {
			result.UnchangedCount++

			return nil
		}

		before := road.Attributes
		after := imp.Attributes
		result.Updated = append(result.Updated, domain.DiffFeature{
			Identity: road.Identity,
			Geometry: imp.Geometry,
			Before:   &before,
			After:    &after,
		})
		result.Stats.UpdatedCount++

		return nil
	})
	if err != nil {
		return domain.DiffResult{}, fmt.Errorf("diffengine: streaming comparison baseline: %w", err)
	}

	if !singlePass {
		err := current.StreamCurrent(ctx, scope, mode, func(road domain.Road) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			result.Stats.ScopeCurrentCount++
			if _, ok := byIdentity[road.Identity]; !ok {
				appendDeactivated(&result, road)
			}

			return nil
		})
		if err != nil {
			return domain.DiffResult{}, fmt.Errorf("diffengine: streaming current roads: %w", err)
		}
	}

	result.Stats.ImportCount = len(byIdentity)
	for identity, f := range byIdentity {
		if _, ok := matched[identity]; ok {
			continue
		}
		after := f.Attributes
		result.Added = append(result.Added, domain.DiffFeature{
			Identity: identity,
			Geometry: f.Geometry,
			Before:   nil,
			After:    &after,
		})
		result.Stats.AddedCount++
	}

	metrics.DiffFeaturesTotal.WithLabelValues("added").Add(float64(result.Stats.AddedCount))
	metrics.DiffFeaturesTotal.WithLabelValues("updated").Add(float64(result.Stats.UpdatedCount))
	metrics.DiffFeaturesTotal.WithLabelValues("deactivated").Add(float64(result.Stats.DeactivatedCount))
	metrics.DiffFeaturesTotal.WithLabelValues("unchanged").Add(float64(result.UnchangedCount))

	return result, nil
}

// appendDeactivated records a removal candidate. Removed features retain
// only identity and geometry, in memory and in the persisted diff alike.
func appendDeactivated(result *domain.DiffResult, road domain.Road) {
	result.Deactivated = append(result.Deactivated, domain.DiffFeature{
		Identity: road.Identity,
		Geometry: road.Geometry,
		Before:   nil,
		After:    nil,
	})
	result.Stats.DeactivatedCount++
}

func featuresEqual(road domain.Road, imported domain.NormalizedFeature) bool {
	if !attributesEqual(road.Attributes, imported.Attributes) {
		return false
	}

	return geometryEqual(road.Geometry, imported.Geometry)
}

func attributesEqual(a, b domain.AttributeBag) bool {
	if !dataSourcePtrEqual(a.DataSource, b.DataSource) {
		return false
	}
	if !intPtrEqual(a.LaneCount, b.LaneCount) {
		return false
	}
	if !stringPtrEqual(a.Ward, b.Ward) {
		return false
	}

	return reflect.DeepEqual(a.Passthrough, b.Passthrough)
}

func dataSourcePtrEqual(a, b *domain.DataSource) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

func geometryEqual(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.GeoJSONType() != b.GeoJSONType() {
		return false
	}

	pa, oka := orbCoords(a)
	pb, okb := orbCoords(b)
	if !oka || !okb || len(pa) != len(pb) {
		return false
	}
	for i := range pa {
		if math.Abs(pa[i].X()-pb[i].X()) > epsGeom || math.Abs(pa[i].Y()-pb[i].Y()) > epsGeom {
			return false
		}
	}

	return true
}

// orbCoords flattens the common geometry kinds this pipeline deals with
// (roads are lines, occasionally points) into an ordered point slice.
func orbCoords(g orb.Geometry) ([]orb.Point, bool) {
	switch v := g.(type) {
	case orb.Point:
		return []orb.Point{v}, true
	case orb.LineString:
		return []orb.Point(v), true
	case orb.MultiPoint:
		return []orb.Point(v), true
	default:
		return nil, false
	}
}
