package versionstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/spanner"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

// allowedVersionTransitions enumerates the ImportVersion state machine: a
// transition not listed here is rejected with apierror.ErrInvalidTransition
// rather than applied.
var allowedVersionTransitions = map[domain.VersionStatus][]domain.VersionStatus{
	domain.VersionStatusDraft:     {domain.VersionStatusPublished},
	domain.VersionStatusPublished: {domain.VersionStatusArchived},
	domain.VersionStatusArchived: {
		domain.VersionStatusPublished,  // permitted; Rollback publishes a new draft instead
		domain.VersionStatusRolledBack, // terminal: the version a rollback displaced
	},
}

// CreateDraft allocates the next versionNumber from a single sequence and
// inserts a new draft ImportVersion row referencing uploadHandle.
func (c *Client) CreateDraft(
	ctx context.Context, fileName string, fileType domain.FileType, uploadHandle string, featureCount int,
) (ImportVersion, error) {
	var out ImportVersion
	_, err := c.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		versionNumber, err := nextVersionNumber(ctx, txn)
		if err != nil {
			return err
		}

		out = ImportVersion{
			ID:              uuid.NewString(),
			VersionNumber:   versionNumber,
			Status:          string(domain.VersionStatusDraft),
			FileName:        fileName,
			FileType:        string(fileType),
			SourceCRS:       "",
			LayerName:       "",
			DefaultDataSrc:  string(domain.DataSourceManual),
			RegionalRefresh: false,
			ImportScope:     string(domain.ScopeKindFull),
			FeatureCount:    int64(featureCount),
			SourceExportID:  nil,
			UploadHandle:    uploadHandle,
			SnapshotHandle:  "",
			CreatedAt:       spanner.CommitTimestamp,
			PublishedAt:     nil,
			ArchivedAt:      nil,
			RolledBackAt:    nil,
			RolledBackFrom:  nil,
		}

		m, err := spanner.InsertStruct(importVersionsTable, out)
		if err != nil {
			return errors.Join(ErrInternalQueryFailure, err)
		}

		return txn.BufferWrite([]*spanner.Mutation{m})
	})
	if err != nil {
		return ImportVersion{}, err
	}

	return out, nil
}

// nextVersionNumber allocates a monotonically increasing versionNumber off
// a single counter row, read and bumped inside the caller's transaction so
// two concurrent uploads can never draw the same number.
func nextVersionNumber(ctx context.Context, txn *spanner.ReadWriteTransaction) (int64, error) {
	const counterTable = "VersionNumberSequence"
	row, err := txn.ReadRow(ctx, counterTable, spanner.Key{"singleton"}, []string{"NextValue"})
	if err != nil {
		if spanner.ErrCode(err) == codes.NotFound {
			if err := txn.BufferWrite([]*spanner.Mutation{
				spanner.InsertOrUpdate(counterTable, []string{"Id", "NextValue"}, []interface{}{"singleton", int64(2)}),
			}); err != nil {
				return 0, errors.Join(ErrInternalQueryFailure, err)
			}

			return 1, nil
		}

		return 0, errors.Join(ErrInternalQueryFailure, err)
	}

	var next int64
	if err := row.Column(0, &next); err != nil {
		return 0, errors.Join(ErrInternalQueryFailure, err)
	}

	if err := txn.BufferWrite([]*spanner.Mutation{
		spanner.InsertOrUpdate(counterTable, []string{"Id", "NextValue"}, []interface{}{"singleton", next + 1}),
	}); err != nil {
		return 0, errors.Join(ErrInternalQueryFailure, err)
	}

	return next, nil
}

// GetVersion fetches a single ImportVersion by id.
func (c *Client) GetVersion(ctx context.Context, id string) (ImportVersion, error) {
	stmt := spanner.Statement{
		SQL: `SELECT Id, VersionNumber, Status, FileName, FileType, SourceCrs, LayerName, DefaultDataSource,
		             RegionalRefresh, ImportScope, FeatureCount, SourceExportId,
		             UploadHandle, SnapshotHandle, DiffHandle, AddedCount, UpdatedCount, DeactivatedCount,
		             CreatedAt, PublishedAt, ArchivedAt, RolledBackAt, RolledBackFrom
		      FROM ImportVersions WHERE Id = @id`,
		Params: map[string]interface{}{"id": id},
	}

	row, err := c.Single().Query(ctx, stmt).Next()
	if err != nil {
		if errors.Is(err, iterator.Done) {
			return ImportVersion{}, apiErrNotFound(fmt.Sprintf("import version %q not found", id))
		}

		return ImportVersion{}, errors.Join(ErrInternalQueryFailure, err)
	}

	var v ImportVersion
	if err := row.ToStruct(&v); err != nil {
		return ImportVersion{}, errors.Join(ErrInternalQueryFailure, err)
	}

	return v, nil
}

// ListVersionsFilter narrows ListVersions; zero-value fields are ignored.
type ListVersionsFilter struct {
	Status *domain.VersionStatus
}

// ListVersions returns a page of versions matching filter. It performs no
// over-fetching heuristics for "drafts worth displaying" — that is a UI
// concern, not a store contract.
func (c *Client) ListVersions(ctx context.Context, filter ListVersionsFilter, pageSize int, pageToken string) ([]ImportVersion, string, error) {
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	var afterVersion int64
	if pageToken != "" {
		cursor, err := decodeCursor[versionsCursor](pageToken)
		if err != nil {
			return nil, "", err
		}
		afterVersion = cursor.LastVersionNumber
	}

	sql := `SELECT Id, VersionNumber, Status, FileName, FileType, SourceCrs, LayerName, DefaultDataSource,
	               RegionalRefresh, ImportScope, FeatureCount, SourceExportId,
	               UploadHandle, SnapshotHandle, DiffHandle, AddedCount, UpdatedCount, DeactivatedCount,
		             CreatedAt, PublishedAt, ArchivedAt, RolledBackAt, RolledBackFrom
	        FROM ImportVersions
	        WHERE VersionNumber > @after`
	params := map[string]interface{}{"after": afterVersion}
	if filter.Status != nil {
		sql += " AND Status = @status"
		params["status"] = string(*filter.Status)
	}
	sql += " ORDER BY VersionNumber ASC LIMIT @limit"
	params["limit"] = int64(pageSize)

	it := c.Single().Query(ctx, spanner.Statement{SQL: sql, Params: params})
	defer it.Stop()

	var out []ImportVersion
	var lastVersion int64
	for {
		row, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, "", errors.Join(ErrInternalQueryFailure, err)
		}
		var v ImportVersion
		if err := row.ToStruct(&v); err != nil {
			return nil, "", errors.Join(ErrInternalQueryFailure, err)
		}
		out = append(out, v)
		lastVersion = v.VersionNumber
	}

	nextToken := ""
	if len(out) == pageSize {
		nextToken = encodeCursor(versionsCursor{LastVersionNumber: lastVersion})
	}

	return out, nextToken, nil
}

// CountVersions returns the total number of versions matching filter,
// for the list endpoint's total field.
func (c *Client) CountVersions(ctx context.Context, filter ListVersionsFilter) (int64, error) {
	sql := `SELECT COUNT(*) FROM ImportVersions`
	params := map[string]interface{}{}
	if filter.Status != nil {
		sql += " WHERE Status = @status"
		params["status"] = string(*filter.Status)
	}

	row, err := c.Single().Query(ctx, spanner.Statement{SQL: sql, Params: params}).Next()
	if err != nil {
		return 0, errors.Join(ErrInternalQueryFailure, err)
	}

	var total int64
	if err := row.Column(0, &total); err != nil {
		return 0, errors.Join(ErrInternalQueryFailure, err)
	}

	return total, nil
}

// ConfigureDraft applies only the fields the caller explicitly set,
// rejecting the call outright if the version is no longer a draft.
func (c *Client) ConfigureDraft(ctx context.Context, id string, input ConfigureDraftInput) (ImportVersion, error) {
	var out ImportVersion
	_, err := c.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		v, err := readVersionForUpdate(ctx, txn, id)
		if err != nil {
			return err
		}
		if domain.VersionStatus(v.Status) != domain.VersionStatusDraft {
			return fmt.Errorf("%w: version %q is %q, not draft", apierror.ErrInvalidTransition, id, v.Status)
		}

		if input.LayerName.IsSet {
			v.LayerName = input.LayerName.Value
		}
		if input.SourceCRS.IsSet {
			v.SourceCRS = input.SourceCRS.Value
		}
		if input.DefaultDataSource.IsSet {
			v.DefaultDataSrc = string(input.DefaultDataSource.Value)
		}
		if input.RegionalRefresh.IsSet {
			v.RegionalRefresh = input.RegionalRefresh.Value
		}
		if input.ImportScope.IsSet {
			v.ImportScope = input.ImportScope.Value
		}
		if input.SourceExportID.IsSet {
			v.SourceExportID = input.SourceExportID.Value
		}

		m, err := spanner.InsertOrUpdateStruct(importVersionsTable, v)
		if err != nil {
			return errors.Join(ErrInternalQueryFailure, err)
		}
		if err := txn.BufferWrite([]*spanner.Mutation{m}); err != nil {
			return err
		}
		out = v

		return nil
	})
	if err != nil {
		return ImportVersion{}, err
	}

	return out, nil
}

// transitionStatus moves an ImportVersion to newStatus inside a
// transaction, rejecting transitions the state machine doesn't allow.
func (c *Client) transitionStatus(ctx context.Context, id string, newStatus domain.VersionStatus, mutate func(*ImportVersion)) (ImportVersion, error) {
	var out ImportVersion
	_, err := c.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		v, err := readVersionForUpdate(ctx, txn, id)
		if err != nil {
			return err
		}

		current := domain.VersionStatus(v.Status)
		if !transitionAllowed(current, newStatus) {
			return fmt.Errorf("%w: cannot move version %q from %q to %q", apierror.ErrInvalidTransition, id, current, newStatus)
		}

		v.Status = string(newStatus)
		if mutate != nil {
			mutate(&v)
		}

		m, err := spanner.InsertOrUpdateStruct(importVersionsTable, v)
		if err != nil {
			return errors.Join(ErrInternalQueryFailure, err)
		}
		if err := txn.BufferWrite([]*spanner.Mutation{m}); err != nil {
			return err
		}
		out = v

		return nil
	})
	if err != nil {
		return ImportVersion{}, err
	}

	return out, nil
}

func transitionAllowed(from, to domain.VersionStatus) bool {
	for _, candidate := range allowedVersionTransitions[from] {
		if candidate == to {
			return true
		}
	}

	return false
}

// MarkPublished transitions a draft (or an archive, which the state
// machine also permits) to published, stamping the snapshot/diff refs,
// the applied diff's counts, and PublishedAt.
func (c *Client) MarkPublished(ctx context.Context, id, snapshotHandle, diffHandle string, stats domain.DiffStats) (ImportVersion, error) {
	return c.transitionStatus(ctx, id, domain.VersionStatusPublished, func(v *ImportVersion) {
		v.SnapshotHandle = snapshotHandle
		v.DiffHandle = diffHandle
		v.AddedCount = int64(stats.AddedCount)
		v.UpdatedCount = int64(stats.UpdatedCount)
		v.DeactivatedCount = int64(stats.DeactivatedCount)
		now := spanner.CommitTimestamp
		v.PublishedAt = &now
		v.ArchivedAt = nil
	})
}

// MarkArchived transitions a published version to archived (superseded by
// a later publish).
func (c *Client) MarkArchived(ctx context.Context, id string) (ImportVersion, error) {
	return c.transitionStatus(ctx, id, domain.VersionStatusArchived, func(v *ImportVersion) {
		now := spanner.CommitTimestamp
		v.ArchivedAt = &now
	})
}

// MarkRolledBack stamps the version being restored from onto the newly
// published version created by the rollback engine, keeping the history
// chain auditable in one direction.
func (c *Client) MarkRolledBack(ctx context.Context, newVersionID, fromArchivedID string) (ImportVersion, error) {
	var out ImportVersion
	_, err := c.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		v, err := readVersionForUpdate(ctx, txn, newVersionID)
		if err != nil {
			return err
		}
		v.RolledBackFrom = &fromArchivedID

		m, err := spanner.InsertOrUpdateStruct(importVersionsTable, v)
		if err != nil {
			return errors.Join(ErrInternalQueryFailure, err)
		}
		if err := txn.BufferWrite([]*spanner.Mutation{m}); err != nil {
			return err
		}
		out = v

		return nil
	})
	if err != nil {
		return ImportVersion{}, err
	}

	return out, nil
}

// MarkSupersededByRollback transitions the version a rollback displaced
// (published until that rollback, archived during it) to the terminal
// rolledBack state, so the abandoned line of history can never be
// restored and the chain stays linear.
func (c *Client) MarkSupersededByRollback(ctx context.Context, id string) (ImportVersion, error) {
	return c.transitionStatus(ctx, id, domain.VersionStatusRolledBack, func(v *ImportVersion) {
		now := spanner.CommitTimestamp
		v.RolledBackAt = &now
	})
}

// DeleteDraft removes a draft ImportVersion row, rejecting any other
// status.
func (c *Client) DeleteDraft(ctx context.Context, id string) error {
	_, err := c.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		v, err := readVersionForUpdate(ctx, txn, id)
		if err != nil {
			return err
		}
		if domain.VersionStatus(v.Status) != domain.VersionStatusDraft {
			return fmt.Errorf("%w: version %q is %q, not draft", apierror.ErrInvalidTransition, id, v.Status)
		}

		return txn.BufferWrite([]*spanner.Mutation{spanner.Delete(importVersionsTable, spanner.Key{id})})
	})

	return err
}

func readVersionForUpdate(ctx context.Context, txn *spanner.ReadWriteTransaction, id string) (ImportVersion, error) {
	row, err := txn.ReadRow(ctx, importVersionsTable, spanner.Key{id}, []string{
		"Id", "VersionNumber", "Status", "FileName", "FileType", "SourceCrs", "LayerName", "DefaultDataSource",
		"RegionalRefresh", "ImportScope", "FeatureCount", "SourceExportId",
		"UploadHandle", "SnapshotHandle", "DiffHandle", "AddedCount", "UpdatedCount", "DeactivatedCount",
		"CreatedAt", "PublishedAt", "ArchivedAt", "RolledBackAt", "RolledBackFrom",
	})
	if err != nil {
		if spanner.ErrCode(err) == codes.NotFound {
			return ImportVersion{}, apiErrNotFound(fmt.Sprintf("import version %q not found", id))
		}

		return ImportVersion{}, errors.Join(ErrInternalQueryFailure, err)
	}

	var v ImportVersion
	if err := row.ToStruct(&v); err != nil {
		return ImportVersion{}, errors.Join(ErrInternalQueryFailure, err)
	}

	return v, nil
}

type versionsCursor struct {
	LastVersionNumber int64 `json:"last_version_number"`
}
