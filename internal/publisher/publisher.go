// Package publisher runs the publish procedure: snapshot the current
// live state, recompute an authoritative diff, apply it to the Road
// store, archive the previous published version, and promote the draft —
// all serialized behind an advisory lock so two publishes never
// interleave their asset writes.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/blobstore"
	"github.com/cityworks/roadimport/internal/blobtypes"
	"github.com/cityworks/roadimport/internal/diffengine"
	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/metrics"
	"github.com/cityworks/roadimport/internal/versionstore"
)

const lockKeyPublish = "publish"

// Clock is swappable in tests; defaults to time.Now.
type Clock func() time.Time

// VersionStore is the subset of versionstore.Client the publish and
// rollback procedures drive. It is an interface so an in-memory fake can
// exercise the full publish/rollback round trip without a live Spanner.
type VersionStore interface {
	CreateDraft(ctx context.Context, fileName string, fileType domain.FileType, uploadHandle string, featureCount int) (versionstore.ImportVersion, error)
	GetVersion(ctx context.Context, id string) (versionstore.ImportVersion, error)
	ListVersions(ctx context.Context, filter versionstore.ListVersionsFilter, pageSize int, pageToken string) ([]versionstore.ImportVersion, string, error)
	MarkPublished(ctx context.Context, id, snapshotHandle, diffHandle string, stats domain.DiffStats) (versionstore.ImportVersion, error)
	MarkArchived(ctx context.Context, id string) (versionstore.ImportVersion, error)
	MarkRolledBack(ctx context.Context, newVersionID, fromArchivedID string) (versionstore.ImportVersion, error)
	MarkSupersededByRollback(ctx context.Context, id string) (versionstore.ImportVersion, error)
	RecordBlobHandle(ctx context.Context, versionID string, kind blobstore.Kind, handle string) error
	PutValidationResult(ctx context.Context, versionID string, result domain.ValidationResult) error
}

// BlobStore is the subset of blobstore.Client the publish and rollback
// procedures drive.
type BlobStore interface {
	Put(ctx context.Context, kind blobstore.Kind, data []byte, opts ...blobtypes.WriteOption) (string, error)
	Open(ctx context.Context, handle string, opts ...blobtypes.ReadOption) (*blobtypes.Blob, error)
}

// Deps wires the stores a publish touches. Everything is typed narrowly
// so fakes can stand in for tests without a live Spanner or GCS.
type Deps struct {
	Versions VersionStore
	Roads    interface {
		diffengine.CurrentRoadSource
		ApplyDiff(ctx context.Context, asOf time.Time, diff domain.DiffResult) error
	}
	Locker interface {
		AcquireLock(ctx context.Context, key, holder string, leaseDuration time.Duration) error
		ReleaseLock(ctx context.Context, key, holder string) error
	}
	Blobs BlobStore
	Now   Clock
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}

	return time.Now()
}

// Options tunes the lock-acquisition retry loop.
type Options struct {
	LockTimeout time.Duration
	LockLease   time.Duration
	HolderID    string // opaque identifier, typically the job ID
}

func (o Options) withDefaults() Options {
	if o.LockTimeout <= 0 {
		o.LockTimeout = 30 * time.Second
	}
	if o.LockLease <= 0 {
		o.LockLease = 2 * time.Minute
	}
	if o.HolderID == "" {
		o.HolderID = "publisher"
	}

	return o
}

// Publish runs the full publish procedure for a draft version and returns
// the authoritative DiffResult it applied. imported is the already
// validated, normalized feature set for the draft (the caller — the Job
// Runner — owns re-reading and re-validating the upload before calling
// this, since recomputation here is about the *live* state, not the
// import file).
func Publish(
	ctx context.Context,
	deps Deps,
	version versionstore.ImportVersion,
	scope domain.Scope,
	mode domain.ComparisonMode,
	regionalRefresh bool,
	imported []domain.NormalizedFeature,
	opts Options,
) (domain.DiffResult, error) {
	opts = opts.withDefaults()
	timer := metrics.NewTimer()
	outcome := "error"
	defer func() { metrics.PublishesTotal.WithLabelValues(outcome).Inc() }()

	if domain.VersionStatus(version.Status) != domain.VersionStatusDraft {
		return domain.DiffResult{}, fmt.Errorf("%w: version %q is %q, not draft",
			apierror.ErrInvalidTransition, version.ID, version.Status)
	}

	lockTimer := metrics.NewTimer()
	if err := acquireLockWithRetry(ctx, deps, opts); err != nil {
		return domain.DiffResult{}, err
	}
	lockTimer.ObserveDuration(metrics.PublishLockWaitDuration)
	defer func() {
		// Best-effort release; the lease's TTL bounds any leak if this fails.
		_ = deps.Locker.ReleaseLock(context.WithoutCancel(ctx), lockKeyPublish, opts.HolderID)
	}()

	asOf := deps.now()

	snapshotBytes, err := buildSnapshot(ctx, deps.Roads, scope)
	if err != nil {
		return domain.DiffResult{}, apierror.Wrap(apierror.CodeSnapshotFailed, "building pre-publish snapshot", err)
	}
	snapshotHandle, err := deps.Blobs.Put(ctx, blobstore.KindSnapshot, snapshotBytes)
	if err != nil {
		return domain.DiffResult{}, apierror.Wrap(apierror.CodeSnapshotFailed, "writing snapshot to blob store", err)
	}
	if err := deps.Versions.RecordBlobHandle(ctx, version.ID, blobstore.KindSnapshot, snapshotHandle); err != nil {
		return domain.DiffResult{}, apierror.Wrap(apierror.CodeInternal, "indexing snapshot blob handle", err)
	}

	baseline, err := DiffSource(ctx, deps, version, mode)
	if err != nil {
		return domain.DiffResult{}, err
	}
	diff, err := diffengine.Classify(ctx, deps.Roads, baseline, scope, mode, regionalRefresh, version.SourceExportID, imported)
	if err != nil {
		return domain.DiffResult{}, apierror.Wrap(apierror.CodeIntegrityViolation, "recomputing authoritative diff", err)
	}

	if err := deps.Roads.ApplyDiff(ctx, asOf, diff); err != nil {
		return domain.DiffResult{}, apierror.Wrap(apierror.CodeAssetWriteFailed, "applying diff to road store", err)
	}

	diffBytes, err := encodeDiff(diff)
	if err != nil {
		return domain.DiffResult{}, apierror.Wrap(apierror.CodeIntegrityViolation, "encoding diff for blob store", err)
	}
	diffHandle, err := deps.Blobs.Put(ctx, blobstore.KindDiff, diffBytes)
	if err != nil {
		return domain.DiffResult{}, apierror.Wrap(apierror.CodeAssetWriteFailed, "writing diff to blob store", err)
	}
	if err := deps.Versions.RecordBlobHandle(ctx, version.ID, blobstore.KindDiff, diffHandle); err != nil {
		return domain.DiffResult{}, apierror.Wrap(apierror.CodeInternal, "indexing diff blob handle", err)
	}

	if prev, ok, err := CurrentlyPublished(ctx, deps.Versions); err != nil {
		return domain.DiffResult{}, apierror.Wrap(apierror.CodeInternal, "looking up currently published version", err)
	} else if ok && prev.ID != version.ID {
		if _, err := deps.Versions.MarkArchived(ctx, prev.ID); err != nil {
			return domain.DiffResult{}, apierror.Wrap(apierror.CodeInternal, "archiving previous published version", err)
		}
	}

	if _, err := deps.Versions.MarkPublished(ctx, version.ID, snapshotHandle, diffHandle, diff.Stats); err != nil {
		return domain.DiffResult{}, apierror.Wrap(apierror.CodeInternal, "transitioning version to published", err)
	}

	outcome = "success"
	timer.ObserveDuration(metrics.PublishDuration)

	return diff, nil
}

// acquireLockWithRetry retries lock acquisition with exponential backoff
// until opts.LockTimeout elapses, translating persistent contention into
// ConflictingPublish.
func acquireLockWithRetry(ctx context.Context, deps Deps, opts Options) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 0 // our own deadline check below governs the retry window
	b := backoff.WithContext(expBackoff, ctx)

	deadline := deps.now().Add(opts.LockTimeout)

	operation := func() error {
		if deps.now().After(deadline) {
			return backoff.Permanent(apierror.New(apierror.CodeConflictingPublish,
				"timed out waiting for the publish lock"))
		}

		err := deps.Locker.AcquireLock(ctx, lockKeyPublish, opts.HolderID, opts.LockLease)
		if err == nil {
			return nil
		}

		var apiErr *apierror.Error
		if errors.As(err, &apiErr) && apiErr.Code == apierror.CodeConflictingPublish {
			return err // retryable
		}

		return backoff.Permanent(err)
	}

	// backoff.Retry unwraps a backoff.Permanent error and returns its cause
	// directly, so the caller sees the plain apierror, not a wrapper type.
	return backoff.Retry(operation, b)
}

// DiffSource resolves the comparison baseline for a draft: nil for bbox
// mode (the live state is its own baseline), or the decoded prior export
// for precise mode.
func DiffSource(
	ctx context.Context, deps Deps, version versionstore.ImportVersion, mode domain.ComparisonMode,
) (diffengine.CurrentRoadSource, error) {
	if mode != domain.ComparisonModePrecise || version.SourceExportID == nil {
		return nil, nil
	}

	blob, err := deps.Blobs.Open(ctx, *version.SourceExportID)
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeNotFound,
			fmt.Sprintf("opening source export %q", *version.SourceExportID), err)
	}
	features, err := DecodeSnapshot(blob.Data)
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeIntegrityViolation, "decoding source export", err)
	}

	return diffengine.NewExportBaseline(features), nil
}

// CurrentlyPublished returns the version currently holding the published
// pointer, if any.
func CurrentlyPublished(ctx context.Context, versions VersionStore) (versionstore.ImportVersion, bool, error) {
	published := domain.VersionStatusPublished
	page, _, err := versions.ListVersions(ctx, versionstore.ListVersionsFilter{Status: &published}, 2, "")
	if err != nil {
		return versionstore.ImportVersion{}, false, err
	}
	if len(page) == 0 {
		return versionstore.ImportVersion{}, false, nil
	}

	// There should only ever be one; pick the highest versionNumber if a
	// race briefly leaves two (the state machine prevents steady-state
	// duplicates, but a reader mid-transition could still observe one).
	best := page[0]
	for _, v := range page[1:] {
		if v.VersionNumber > best.VersionNumber {
			best = v
		}
	}

	return best, true, nil
}

func encodeDiff(diff domain.DiffResult) ([]byte, error) {
	return json.Marshal(diff)
}
