package versionstore

import (
	"context"
	"errors"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"

	"github.com/cityworks/roadimport/internal/blobstore"
)

// BlobIndexEntry records that handle was written for versionID/kind, so
// the sweeper (internal/blobsweep) can tell indexed handles apart from
// blobs whose write was never indexed.
type BlobIndexEntry struct {
	Handle    string `spanner:"Handle"`
	VersionID string `spanner:"VersionId"`
	Kind      string `spanner:"Kind"`
}

// RecordBlobHandle indexes handle in its own single-mutation Apply,
// separate from any version-row write; the publisher and the upload
// handler call it right after each blob write.
func (c *Client) RecordBlobHandle(ctx context.Context, versionID string, kind blobstore.Kind, handle string) error {
	_, err := c.Apply(ctx, []*spanner.Mutation{
		spanner.InsertOrUpdate(blobIndexTable, []string{"Handle", "VersionId", "Kind"},
			[]interface{}{handle, versionID, string(kind)}),
	})
	if err != nil {
		return errors.Join(ErrInternalQueryFailure, err)
	}

	return nil
}

// ReferencedHandles returns every blob handle recorded in the blob index,
// whether or not a version row names it, for the sweeper to diff against
// what the Blob Store holds.
func (c *Client) ReferencedHandles(ctx context.Context) (map[string]struct{}, error) {
	stmt := spanner.Statement{SQL: `SELECT Handle FROM BlobIndex`}
	it := c.Single().Query(ctx, stmt)
	defer it.Stop()

	out := map[string]struct{}{}
	for {
		row, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errors.Join(ErrInternalQueryFailure, err)
		}
		var handle string
		if err := row.Column(0, &handle); err != nil {
			return nil, errors.Join(ErrInternalQueryFailure, err)
		}
		out[handle] = struct{}{}
	}

	return out, nil
}

// DeleteBlobIndexEntry removes handle's index row once the sweeper has
// reclaimed the underlying blob.
func (c *Client) DeleteBlobIndexEntry(ctx context.Context, handle string) error {
	_, err := c.Apply(ctx, []*spanner.Mutation{
		spanner.Delete(blobIndexTable, spanner.Key{handle}),
	})
	if err != nil {
		return errors.Join(ErrInternalQueryFailure, err)
	}

	return nil
}
