package roadstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/grpc/codes"

	"github.com/cityworks/roadimport/internal/apierror"
)

const advisoryLocksTable = "AdvisoryLocks"

// advisoryLockRow is one row of a single-row-per-key mutex table: the
// publisher and rollback engine both acquire the publish lock before
// touching the Road store, so two concurrent publishes never interleave
// their writes.
type advisoryLockRow struct {
	Key       string    `spanner:"Key"`
	Holder    string    `spanner:"Holder"`
	ExpiresAt time.Time `spanner:"ExpiresAt"`
}

// AcquireLock takes the named lock for leaseDuration, returning
// apierror.ErrConflictingPublish if another holder's lease hasn't expired.
// holder is an opaque identifier (a job ID) used only for diagnostics.
func (c *Client) AcquireLock(ctx context.Context, key, holder string, leaseDuration time.Duration) error {
	now := time.Now()
	expires := now.Add(leaseDuration)

	_, err := c.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		row, err := txn.ReadRow(ctx, advisoryLocksTable, spanner.Key{key}, []string{"Key", "Holder", "ExpiresAt"})
		switch {
		case spanner.ErrCode(err) == codes.NotFound:
			// no lock held, fall through to insert
		case err != nil:
			return errors.Join(ErrInternalQueryFailure, err)
		default:
			var existing advisoryLockRow
			if err := row.ToStruct(&existing); err != nil {
				return errors.Join(ErrInternalQueryFailure, err)
			}
			if existing.ExpiresAt.After(now) && existing.Holder != holder {
				return apierror.New(apierror.CodeConflictingPublish,
					fmt.Sprintf("lock %q held by %q until %s", key, existing.Holder, existing.ExpiresAt))
			}
		}

		m, err := spanner.InsertOrUpdateStruct(advisoryLocksTable, advisoryLockRow{
			Key: key, Holder: holder, ExpiresAt: expires,
		})
		if err != nil {
			return errors.Join(ErrInternalQueryFailure, err)
		}

		return txn.BufferWrite([]*spanner.Mutation{m})
	})
	if err != nil {
		var apiErr *apierror.Error
		if errors.As(err, &apiErr) {
			return err
		}

		return errors.Join(ErrInternalQueryFailure, err)
	}

	return nil
}

// ReleaseLock drops the lock early if still held by holder; releasing a
// lock you don't hold (already expired and reclaimed by someone else) is
// a silent no-op.
func (c *Client) ReleaseLock(ctx context.Context, key, holder string) error {
	_, err := c.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		row, err := txn.ReadRow(ctx, advisoryLocksTable, spanner.Key{key}, []string{"Key", "Holder", "ExpiresAt"})
		if spanner.ErrCode(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return errors.Join(ErrInternalQueryFailure, err)
		}

		var existing advisoryLockRow
		if err := row.ToStruct(&existing); err != nil {
			return errors.Join(ErrInternalQueryFailure, err)
		}
		if existing.Holder != holder {
			return nil
		}

		return txn.BufferWrite([]*spanner.Mutation{
			spanner.Delete(advisoryLocksTable, spanner.Key{key}),
		})
	})
	if err != nil {
		return errors.Join(ErrInternalQueryFailure, err)
	}

	return nil
}
