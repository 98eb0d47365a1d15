package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityworks/roadimport/internal/apierror"
)

type fakeLocker struct {
	acquireErrs []error // consumed in order, then nil forever
	calls       int
}

func (f *fakeLocker) AcquireLock(ctx context.Context, key, holder string, lease time.Duration) error {
	var err error
	if f.calls < len(f.acquireErrs) {
		err = f.acquireErrs[f.calls]
	}
	f.calls++

	return err
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, key, holder string) error { return nil }

func TestAcquireLockWithRetrySucceedsAfterContention(t *testing.T) {
	locker := &fakeLocker{acquireErrs: []error{
		apierror.New(apierror.CodeConflictingPublish, "held"),
		apierror.New(apierror.CodeConflictingPublish, "held"),
		nil,
	}}
	deps := Deps{Locker: locker}

	err := acquireLockWithRetry(context.Background(), deps, Options{LockTimeout: time.Minute}.withDefaults())
	require.NoError(t, err)
	assert.Equal(t, 3, locker.calls)
}

func TestAcquireLockWithRetryTimesOut(t *testing.T) {
	locker := &fakeLocker{} // one queued ConflictingPublish below, nil after that
	locker.acquireErrs = []error{
		apierror.New(apierror.CodeConflictingPublish, "held"),
	}
	// A clock that jumps well past any reasonable deadline on the second
	// read, so the loop's own deadline check fires instead of actually
	// waiting out a real backoff interval.
	calls := 0
	start := time.Now()
	deps := Deps{
		Locker: locker,
		Now: func() time.Time {
			calls++
			if calls == 1 {
				return start
			}

			return start.Add(time.Hour)
		},
	}

	err := acquireLockWithRetry(context.Background(), deps, Options{LockTimeout: time.Second}.withDefaults())
	require.Error(t, err)

	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.CodeConflictingPublish, apiErr.Code)
}

func TestAcquireLockWithRetryPermanentErrorStopsImmediately(t *testing.T) {
	locker := &fakeLocker{acquireErrs: []error{
		apierror.New(apierror.CodeInternal, "spanner is down"),
	}}
	deps := Deps{Locker: locker}

	err := acquireLockWithRetry(context.Background(), deps, Options{LockTimeout: time.Minute}.withDefaults())
	require.Error(t, err)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.CodeInternal, apiErr.Code)
	assert.Equal(t, 1, locker.calls)
}
