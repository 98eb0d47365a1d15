package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/diffengine"
	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/georeader"
	"github.com/cityworks/roadimport/internal/publisher"
	"github.com/cityworks/roadimport/internal/rollback"
	"github.com/cityworks/roadimport/internal/validator"
	"github.com/cityworks/roadimport/internal/versionstore"
	"github.com/cityworks/roadimport/internal/wards"
)

// TaskDeps wires the stores and engines a Task needs to run a job outside
// an HTTP request: the same publisher.Deps the Publisher/Rollback Engine
// already take, plus the ward gazetteer the Diff Engine's scope
// resolution needs for `ward:<name>` imports.
type TaskDeps struct {
	publisher.Deps
	Wards       *wards.Gazetteer
	PublishOpts publisher.Options
}

var errIterationStopped = errors.New("jobrunner: iteration stopped early")

// loadAndNormalize materializes a draft's uploaded blob to a local temp
// file (georeader.Open takes a path, not a reader), streams it through
// the Geo Reader and Validator, and returns the accumulated result plus
// the normalized feature set the Diff Engine needs. Both the validation
// task and the publish task call this: publish always recomputes from the
// upload rather than trusting a cached normalized set (publisher.Publish's
// own doc comment: "the caller... owns re-reading and re-validating").
func loadAndNormalize(
	ctx context.Context, deps TaskDeps, version versionstore.ImportVersion, onProgress validator.ProgressFunc,
) (domain.ValidationResult, []domain.NormalizedFeature, error) {
	blob, err := deps.Blobs.Open(ctx, version.UploadHandle)
	if err != nil {
		return domain.ValidationResult{}, nil, apierror.Wrap(apierror.CodeInvalidFile, "opening uploaded file", err)
	}

	ext := ".geojson"
	if domain.FileType(version.FileType) == domain.FileTypeGeoPackage {
		ext = ".gpkg"
	}
	tmp, err := os.CreateTemp("", "roadimport-upload-*"+ext)
	if err != nil {
		return domain.ValidationResult{}, nil, fmt.Errorf("jobrunner: creating temp file for upload: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(blob.Data); err != nil {
		tmp.Close()

		return domain.ValidationResult{}, nil, fmt.Errorf("jobrunner: writing upload to temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.ValidationResult{}, nil, fmt.Errorf("jobrunner: closing temp file: %w", err)
	}

	reader, err := georeader.Open(domain.FileType(version.FileType), tmpPath)
	if err != nil {
		return domain.ValidationResult{}, nil, err
	}
	defer reader.Close()

	var streamErr error
	next := func(yield func(domain.RawFeature) bool) {
		streamErr = reader.Stream(ctx, version.LayerName, func(f domain.RawFeature) error {
			if !yield(f) {
				return errIterationStopped
			}

			return nil
		})
		if errors.Is(streamErr, errIterationStopped) {
			streamErr = nil
		}
	}

	opts := validator.Options{
		SourceCRS:         version.SourceCRS,
		DefaultDataSource: domain.DataSource(version.DefaultDataSrc),
		IdentitySeed:      version.UploadHandle,
		ProgressEvery:     500,
	}

	result, normalized, err := validator.Run(ctx, opts, int(version.FeatureCount), onProgress, next)
	if err != nil {
		return domain.ValidationResult{}, nil, apierror.Wrap(apierror.CodeUnsupportedCRS, "running validator", err)
	}
	if streamErr != nil {
		return domain.ValidationResult{}, nil, apierror.Wrap(apierror.CodeCorruptedGeometry, "streaming upload", streamErr)
	}

	return result, normalized, nil
}

// resolveScope parses an ImportVersion's persisted importScope string,
// validating a ward:<name> scope against the gazetteer so an unresolvable
// ward surfaces as InvalidScope rather than silently diffing against an
// empty set.
func resolveScope(deps TaskDeps, version versionstore.ImportVersion) (domain.Scope, error) {
	scope, err := domain.ParseScope(version.ImportScope)
	if err != nil {
		return domain.Scope{}, err
	}
	if scope.Kind == domain.ScopeKindWard && deps.Wards != nil {
		if _, err := deps.Wards.Resolve(scope.Ward); err != nil {
			return domain.Scope{}, err
		}
	}

	return scope, nil
}

func comparisonMode(sourceExportID *string) domain.ComparisonMode {
	if sourceExportID != nil {
		return domain.ComparisonModePrecise
	}

	return domain.ComparisonModeBbox
}

// NewValidationTask builds the validation job: it re-derives the
// ValidationResult from the uploaded file under the draft's current
// configuration and persists it. Running it again on an unchanged
// (fileRef, config) yields an equivalent result.
func NewValidationTask(deps TaskDeps) Task {
	return func(ctx context.Context, job versionstore.ImportJob, progress ProgressFunc) error {
		version, err := deps.Versions.GetVersion(ctx, job.VersionID)
		if err != nil {
			return err
		}

		onProgress := func(seen, totalHint int) {
			pct := 0
			if totalHint > 0 {
				pct = (seen * 100) / totalHint
			}
			progress(pct, "validating features")
		}

		result, _, err := loadAndNormalize(ctx, deps, version, onProgress)
		if err != nil {
			return err
		}

		if err := deps.Versions.PutValidationResult(ctx, job.VersionID, result); err != nil {
			return err
		}

		progress(100, "validation complete")

		return nil
	}
}

// NewPublishTask builds the publish job: re-normalize the draft's upload,
// resolve its persisted scope, and hand both to the Publisher.
func NewPublishTask(deps TaskDeps) Task {
	return func(ctx context.Context, job versionstore.ImportJob, progress ProgressFunc) error {
		version, err := deps.Versions.GetVersion(ctx, job.VersionID)
		if err != nil {
			return err
		}

		onProgress := func(seen, totalHint int) {
			pct := 0
			if totalHint > 0 {
				pct = (seen * 50) / totalHint // reading/normalizing is roughly the first half of a publish
			}
			progress(pct, "re-validating upload")
		}

		_, normalized, err := loadAndNormalize(ctx, deps, version, onProgress)
		if err != nil {
			return err
		}

		scope, err := resolveScope(deps, version)
		if err != nil {
			return err
		}

		progress(60, "computing diff and applying to road store")

		opts := deps.PublishOpts
		opts.HolderID = job.ID
		if _, err := publisher.Publish(
			ctx, deps.Deps, version, scope, comparisonMode(version.SourceExportID),
			version.RegionalRefresh, normalized, opts,
		); err != nil {
			return err
		}

		progress(100, "published")

		return nil
	}
}

// Previewer computes the advisory diff a draft's publish would apply,
// synchronously, for the preview endpoint. The result is ephemeral: the
// publish job recomputes an authoritative diff under the advisory lock,
// so nothing here is persisted.
type Previewer struct {
	Deps TaskDeps
}

// Preview normalizes the draft's upload under its current configuration
// and classifies it against the live road set in the draft's scope.
func (p Previewer) Preview(ctx context.Context, version versionstore.ImportVersion) (domain.DiffResult, error) {
	_, normalized, err := loadAndNormalize(ctx, p.Deps, version, nil)
	if err != nil {
		return domain.DiffResult{}, err
	}

	scope, err := resolveScope(p.Deps, version)
	if err != nil {
		return domain.DiffResult{}, err
	}

	mode := comparisonMode(version.SourceExportID)
	baseline, err := publisher.DiffSource(ctx, p.Deps.Deps, version, mode)
	if err != nil {
		return domain.DiffResult{}, err
	}

	return diffengine.Classify(
		ctx, p.Deps.Roads, baseline, scope, mode,
		version.RegionalRefresh, version.SourceExportID, normalized,
	)
}

// NewRollbackTask builds the rollback job: job.VersionID is the archived
// version being restored from (the target the caller named in
// POST .../{id}/rollback), not the new version the restore creates.
func NewRollbackTask(deps TaskDeps) Task {
	return func(ctx context.Context, job versionstore.ImportJob, progress ProgressFunc) error {
		target, err := deps.Versions.GetVersion(ctx, job.VersionID)
		if err != nil {
			return err
		}

		progress(10, "restoring snapshot")

		// Rollback always reconciles the full live state against the restored
		// snapshot; the target's sourceExportId is irrelevant here.
		opts := deps.PublishOpts
		opts.HolderID = job.ID
		if _, _, err := rollback.Rollback(
			ctx, deps.Deps, target, domain.Scope{Kind: domain.ScopeKindFull}, domain.ComparisonModeBbox, opts,
		); err != nil {
			return err
		}

		progress(100, "rolled back")

		return nil
	}
}
