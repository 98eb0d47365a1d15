package versionstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/spanner"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

// CreateJob inserts a pending ImportJob for versionID, rejecting the
// call with apierror.ErrConflictingJob if a non-terminal job already
// exists for that version.
func (c *Client) CreateJob(ctx context.Context, versionID string, jobType domain.JobType) (ImportJob, error) {
	var out ImportJob
	_, err := c.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		existing, err := activeJobForVersion(ctx, txn, versionID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: version %q already has job %q in status %q",
				apierror.ErrConflictingJob, versionID, existing.ID, existing.Status)
		}

		now := spanner.CommitTimestamp
		out = ImportJob{
			ID:              uuid.NewString(),
			VersionID:       versionID,
			Type:            string(jobType),
			Status:          string(domain.JobStatusPending),
			ProgressPercent: 0,
			Message:         "",
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		m, err := spanner.InsertStruct(importJobsTable, out)
		if err != nil {
			return errors.Join(ErrInternalQueryFailure, err)
		}

		return txn.BufferWrite([]*spanner.Mutation{m})
	})
	if err != nil {
		return ImportJob{}, err
	}

	return out, nil
}

func activeJobForVersion(ctx context.Context, txn *spanner.ReadWriteTransaction, versionID string) (*ImportJob, error) {
	stmt := spanner.Statement{
		SQL: `SELECT Id, VersionId, Type, Status, ProgressPercent, Message, CreatedAt, UpdatedAt
		      FROM ImportJobs
		      WHERE VersionId = @versionId AND Status IN ("pending", "running")
		      LIMIT 1`,
		Params: map[string]interface{}{"versionId": versionID},
	}

	it := txn.Query(ctx, stmt)
	defer it.Stop()

	row, err := it.Next()
	if err != nil {
		if errors.Is(err, iterator.Done) {
			return nil, nil
		}

		return nil, errors.Join(ErrInternalQueryFailure, err)
	}

	var j ImportJob
	if err := row.ToStruct(&j); err != nil {
		return nil, errors.Join(ErrInternalQueryFailure, err)
	}

	return &j, nil
}

// GetJob fetches a single ImportJob by id.
func (c *Client) GetJob(ctx context.Context, id string) (ImportJob, error) {
	stmt := spanner.Statement{
		SQL: `SELECT Id, VersionId, Type, Status, ProgressPercent, Message, CreatedAt, UpdatedAt
		      FROM ImportJobs WHERE Id = @id`,
		Params: map[string]interface{}{"id": id},
	}

	row, err := c.Single().Query(ctx, stmt).Next()
	if err != nil {
		if errors.Is(err, iterator.Done) {
			return ImportJob{}, apiErrNotFound(fmt.Sprintf("import job %q not found", id))
		}

		return ImportJob{}, errors.Join(ErrInternalQueryFailure, err)
	}

	var j ImportJob
	if err := row.ToStruct(&j); err != nil {
		return ImportJob{}, errors.Join(ErrInternalQueryFailure, err)
	}

	return j, nil
}

// UpdateJobProgress writes a coalesced progress update (the job runner
// throttles calls before this ever reaches Spanner). It silently no-ops
// on a job that has already
// reached a terminal status, since a late progress tick racing a
// finalize must never resurrect a finished job.
func (c *Client) UpdateJobProgress(ctx context.Context, id string, percent int, message string) error {
	_, err := c.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		j, err := readJobForUpdate(ctx, txn, id)
		if err != nil {
			return err
		}
		if j.isTerminal() {
			return nil
		}

		j.Status = string(domain.JobStatusRunning)
		j.ProgressPercent = int64(percent)
		j.Message = message
		j.UpdatedAt = spanner.CommitTimestamp

		m, err := spanner.InsertOrUpdateStruct(importJobsTable, j)
		if err != nil {
			return errors.Join(ErrInternalQueryFailure, err)
		}

		return txn.BufferWrite([]*spanner.Mutation{m})
	})

	return err
}

// FinalizeJob transitions a job to completed or failed. Calling it twice
// on the same job is a no-op on the second call, since the first already
// made the job terminal.
func (c *Client) FinalizeJob(ctx context.Context, id string, status domain.JobStatus, message string) error {
	if status != domain.JobStatusCompleted && status != domain.JobStatusFailed {
		return fmt.Errorf("%w: %q is not a terminal job status", apierror.ErrInvalidTransition, status)
	}

	_, err := c.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		j, err := readJobForUpdate(ctx, txn, id)
		if err != nil {
			return err
		}
		if j.isTerminal() {
			return nil
		}

		j.Status = string(status)
		j.Message = message
		if status == domain.JobStatusCompleted {
			j.ProgressPercent = 100
		}
		j.UpdatedAt = spanner.CommitTimestamp

		m, err := spanner.InsertOrUpdateStruct(importJobsTable, j)
		if err != nil {
			return errors.Join(ErrInternalQueryFailure, err)
		}

		return txn.BufferWrite([]*spanner.Mutation{m})
	})

	return err
}

func readJobForUpdate(ctx context.Context, txn *spanner.ReadWriteTransaction, id string) (ImportJob, error) {
	row, err := txn.ReadRow(ctx, importJobsTable, spanner.Key{id},
		[]string{"Id", "VersionId", "Type", "Status", "ProgressPercent", "Message", "CreatedAt", "UpdatedAt"})
	if err != nil {
		return ImportJob{}, errors.Join(ErrInternalQueryFailure, err)
	}

	var j ImportJob
	if err := row.ToStruct(&j); err != nil {
		return ImportJob{}, errors.Join(ErrInternalQueryFailure, err)
	}

	return j, nil
}
