// Package validator runs per-feature checks over a streamed upload,
// accumulating counts, errors and warnings without materializing the
// whole feature set in memory.
package validator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/cityworks/roadimport/internal/crs"
	"github.com/cityworks/roadimport/internal/domain"
)

// Options configures one validation run.
type Options struct {
	SourceCRS         string
	DefaultDataSource domain.DataSource
	// IdentitySeed anchors auto-generated feature identities. Callers pass
	// the upload's content-addressed blob handle, so the same file bytes
	// yield the same ids on every run and across re-imports.
	IdentitySeed string
	// ProgressEvery controls how many features are processed between
	// progress callback invocations; the job runner further coalesces
	// these, so this just bounds the per-feature cost of checking
	// whether to report.
	ProgressEvery int
}

// ProgressFunc receives (featuresSeen, totalHint) so callers can report
// coarse percentages; totalHint may be 0 if the caller doesn't know it.
type ProgressFunc func(seen, totalHint int)

// Run consumes every feature produced by next, returning a ValidationResult
// and the normalized features (in original order) for the Diff Engine.
// It returns a non-nil error only for fatal configuration problems (e.g.
// an unrecognized source CRS); per-feature problems accumulate into the
// result's Errors/Warnings instead of aborting the run.
func Run(
	ctx context.Context,
	opts Options,
	totalHint int,
	onProgress ProgressFunc,
	next func(yield func(domain.RawFeature) bool),
) (domain.ValidationResult, []domain.NormalizedFeature, error) {
	if !crs.Recognized(opts.SourceCRS) {
		return domain.ValidationResult{}, nil, fmt.Errorf("unsupported source CRS %q", opts.SourceCRS)
	}

	result := domain.ValidationResult{
		FeatureCount:           0,
		Errors:                 nil,
		Warnings:               nil,
		MissingIDCount:         0,
		MissingDataSourceCount: 0,
		GeometryTypes:          nil,
	}
	geomTypes := map[string]struct{}{}
	normalized := make([]domain.NormalizedFeature, 0, totalHint)

	progressEvery := opts.ProgressEvery
	if progressEvery <= 0 {
		progressEvery = 500
	}

	seen := 0
	aborted := false
	next(func(raw domain.RawFeature) bool {
		select {
		case <-ctx.Done():
			aborted = true

			return false
		default:
		}

		nf, verr, vwarn := validateOne(raw, opts)
		result.FeatureCount++
		if verr != nil {
			result.Errors = append(result.Errors, *verr)
		}
		for _, w := range vwarn {
			result.Warnings = append(result.Warnings, w)
		}
		if nf != nil {
			if nf.AutoGeneratedID {
				result.MissingIDCount++
			}
			if nf.SourceDataSource == nil {
				result.MissingDataSourceCount++
			}
			geomTypes[geometryTypeName(nf.Geometry)] = struct{}{}
			normalized = append(normalized, *nf)
		}

		seen++
		if onProgress != nil && seen%progressEvery == 0 {
			onProgress(seen, totalHint)
		}

		return true
	})

	if aborted {
		return domain.ValidationResult{}, nil, ctx.Err()
	}

	if onProgress != nil {
		onProgress(seen, totalHint)
	}

	for t := range geomTypes {
		result.GeometryTypes = append(result.GeometryTypes, t)
	}

	return result, normalized, nil
}

// validateOne checks a single feature. A non-nil *domain.ValidationError
// return means the feature is fatally malformed (missing/invalid
// geometry) and is excluded from the normalized set entirely; anything
// else is recoverable and yields warnings plus a best-effort normalized
// feature.
func validateOne(raw domain.RawFeature, opts Options) (*domain.NormalizedFeature, *domain.ValidationError, []domain.ValidationWarning) {
	var warnings []domain.ValidationWarning

	if raw.Geometry == nil || raw.Geometry.GeoJSONType() == "" {
		return nil, &domain.ValidationError{
			FeatureIndex: raw.Index,
			FeatureID:    raw.ID,
			Field:        "geometry",
			Error:        "missing or empty geometry",
			Hint:         "every feature must carry a non-empty geometry",
		}, nil
	}

	transformed, err := crs.TransformGeometry(raw.Geometry, opts.SourceCRS)
	if err != nil {
		return nil, &domain.ValidationError{
			FeatureIndex: raw.Index,
			FeatureID:    raw.ID,
			Field:        "geometry",
			Error:        err.Error(),
			Hint:         "reproject the source file to a recognized CRS before upload",
		}, nil
	}

	identity := raw.ID
	autoGenerated := false
	if identity == nil {
		id := autoIdentity(opts.IdentitySeed, raw.Index)
		identity = &id
		autoGenerated = true
		warnings = append(warnings, domain.ValidationWarning{
			FeatureIndex: raw.Index,
			FeatureID:    nil,
			Field:        "id",
			Warning:      "feature had no identity; one was auto-generated",
			Hint:         "set `id`, `properties.id`, or `properties.feature_id` to keep identities stable across imports",
		})
	}

	attrs, sourceDS := buildAttributeBag(raw.Properties)
	if sourceDS == nil {
		attrs.DataSource = &opts.DefaultDataSource
		warnings = append(warnings, domain.ValidationWarning{
			FeatureIndex: raw.Index,
			FeatureID:    identity,
			Field:        "dataSource",
			Warning:      fmt.Sprintf("no dataSource attribute; defaulted to %q", opts.DefaultDataSource),
			Hint:         "set a `dataSource` property to avoid relying on the default",
		})
	}

	nf := domain.NormalizedFeature{
		Identity:         *identity,
		AutoGeneratedID:  autoGenerated,
		Geometry:         transformed,
		Attributes:       attrs,
		SourceDataSource: sourceDS,
	}

	return &nf, nil, warnings
}

// autoIdentity derives a stable id for a feature that carried none: the
// same (seed, index) pair yields the same id on every run, keeping
// re-validation idempotent and identities aligned across re-imports of
// the same file.
func autoIdentity(seed string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", seed, index)))

	return "auto-" + hex.EncodeToString(sum[:8])
}

func buildAttributeBag(props map[string]any) (domain.AttributeBag, *domain.DataSource) {
	bag := domain.AttributeBag{
		DataSource:  nil,
		LaneCount:   nil,
		Ward:        nil,
		Passthrough: map[string]any{},
	}

	var sourceDS *domain.DataSource
	for k, v := range props {
		switch k {
		case "dataSource", "data_source":
			if s, ok := v.(string); ok {
				ds := domain.DataSource(s)
				bag.DataSource = &ds
				sourceDS = &ds
			}
		case "laneCount", "lane_count":
			if f, ok := v.(float64); ok {
				n := int(f)
				bag.LaneCount = &n
			}
		case "ward":
			if s, ok := v.(string); ok {
				bag.Ward = &s
			}
		default:
			bag.Passthrough[k] = v
		}
	}

	return bag, sourceDS
}

func geometryTypeName(g orb.Geometry) string {
	if g == nil {
		return ""
	}

	return string(g.GeoJSONType())
}
