// Package rollback restores an archived version's snapshot as a
// brand-new published version. The version the rollback displaces (the
// one published until the rollback ran) is closed into the terminal
// rolledBack state so the abandoned line of history cannot be restored.
package rollback

import (
	"context"
	"fmt"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/metrics"
	"github.com/cityworks/roadimport/internal/publisher"
	"github.com/cityworks/roadimport/internal/versionstore"
)

// Deps mirrors publisher.Deps; rollback reuses the same Publish machinery
// for the reconciliation/apply/transition steps once it has decoded the
// target snapshot into a feature set to publish against.
type Deps = publisher.Deps

// Rollback restores target (must be archived, with a non-empty
// SnapshotHandle) as a new published draft. scope and mode govern the
// reconciliation exactly as a normal publish would.
func Rollback(
	ctx context.Context,
	deps Deps,
	target versionstore.ImportVersion,
	scope domain.Scope,
	mode domain.ComparisonMode,
	opts publisher.Options,
) (versionstore.ImportVersion, domain.DiffResult, error) {
	outcome := "error"
	defer func() { metrics.RollbacksTotal.WithLabelValues(outcome).Inc() }()

	if domain.VersionStatus(target.Status) != domain.VersionStatusArchived {
		return versionstore.ImportVersion{}, domain.DiffResult{}, fmt.Errorf(
			"%w: version %q is %q, not archived", apierror.ErrInvalidTransition, target.ID, target.Status)
	}
	if target.SnapshotHandle == "" {
		return versionstore.ImportVersion{}, domain.DiffResult{}, apierror.New(
			apierror.CodeNotFound, fmt.Sprintf("archived version %q has no snapshot to restore", target.ID))
	}

	snapshotBlob, err := deps.Blobs.Open(ctx, target.SnapshotHandle)
	if err != nil {
		return versionstore.ImportVersion{}, domain.DiffResult{}, apierror.Wrap(
			apierror.CodeSnapshotFailed, "opening snapshot to restore", err)
	}

	restoredFeatures, err := publisher.DecodeSnapshot(snapshotBlob.Data)
	if err != nil {
		return versionstore.ImportVersion{}, domain.DiffResult{}, apierror.Wrap(
			apierror.CodeIntegrityViolation, "decoding snapshot to restore", err)
	}

	// Captured before Publish swaps the pointer: this is the version the
	// rollback displaces, and the one that becomes terminal below.
	prev, hadPrev, err := publisher.CurrentlyPublished(ctx, deps.Versions)
	if err != nil {
		return versionstore.ImportVersion{}, domain.DiffResult{}, err
	}

	draft, err := deps.Versions.CreateDraft(ctx, target.FileName, domain.FileType(target.FileType), target.UploadHandle, len(restoredFeatures))
	if err != nil {
		return versionstore.ImportVersion{}, domain.DiffResult{}, err
	}

	// The restored snapshot is published under regional refresh within the
	// caller's scope. The rollback job passes the full scope: partial-scope
	// rollback would leave roads outside scope silently diverging from both
	// the target and current state.
	diff, err := publisher.Publish(ctx, deps, draft, scope, mode, true, restoredFeatures, opts)
	if err != nil {
		return versionstore.ImportVersion{}, domain.DiffResult{}, err
	}

	published, err := deps.Versions.MarkRolledBack(ctx, draft.ID, target.ID)
	if err != nil {
		return versionstore.ImportVersion{}, domain.DiffResult{}, err
	}
	// The displaced version (archived by Publish a moment ago) becomes
	// terminal: its line of history was abandoned by this rollback and may
	// not be restored again. The restoration target stays archived and
	// remains a valid target for future rollbacks.
	if hadPrev {
		if _, err := deps.Versions.MarkSupersededByRollback(ctx, prev.ID); err != nil {
			return versionstore.ImportVersion{}, domain.DiffResult{}, err
		}
	}

	outcome = "success"

	return published, diff, nil
}
