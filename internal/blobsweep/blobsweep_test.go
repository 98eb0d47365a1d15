package blobsweep

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityworks/roadimport/internal/blobstore"
)

type fakeStore struct {
	byKind  map[blobstore.Kind][]string
	deleted []string
}

func (f *fakeStore) List(_ context.Context, kind blobstore.Kind) ([]string, error) {
	return f.byKind[kind], nil
}

func (f *fakeStore) Delete(_ context.Context, handle string) error {
	f.deleted = append(f.deleted, handle)

	return nil
}

type fakeIndex struct {
	referenced map[string]struct{}
	dropped    []string
}

func (f *fakeIndex) ReferencedHandles(_ context.Context) (map[string]struct{}, error) {
	return f.referenced, nil
}

func (f *fakeIndex) DeleteBlobIndexEntry(_ context.Context, handle string) error {
	f.dropped = append(f.dropped, handle)

	return nil
}

func TestSweepDeletesUnreferencedBlobs(t *testing.T) {
	store := &fakeStore{byKind: map[blobstore.Kind][]string{
		blobstore.KindSnapshot: {"snapshots/a", "snapshots/b"},
		blobstore.KindDiff:     {"diffs/a"},
	}}
	index := &fakeIndex{referenced: map[string]struct{}{
		"snapshots/a": {},
		"diffs/a":     {},
	}}

	s := &Sweeper{Blobs: store, Index: index}
	res, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, []string{"snapshots/b"}, store.deleted)
}

func TestSweepDropsStaleIndexEntries(t *testing.T) {
	store := &fakeStore{byKind: map[blobstore.Kind][]string{
		blobstore.KindSnapshot: {"snapshots/a"},
		blobstore.KindDiff:     nil,
	}}
	index := &fakeIndex{referenced: map[string]struct{}{
		"snapshots/a":       {},
		"snapshots/missing": {}, // indexed, but never landed in the bucket
	}}

	s := &Sweeper{Blobs: store, Index: index}
	res, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Deleted)
	assert.Equal(t, []string{"snapshots/missing"}, index.dropped)
}

func TestSweepDefaultsToSnapshotAndDiffKinds(t *testing.T) {
	store := &fakeStore{byKind: map[blobstore.Kind][]string{
		blobstore.KindUpload:   {"uploads/x"},
		blobstore.KindSnapshot: nil,
		blobstore.KindDiff:     nil,
	}}
	index := &fakeIndex{referenced: map[string]struct{}{}}

	s := &Sweeper{Blobs: store, Index: index}
	res, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Scanned, "uploads must never be swept")
	assert.Empty(t, store.deleted)
}
