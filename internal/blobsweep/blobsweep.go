// Package blobsweep reclaims snapshot and diff blobs that have no entry
// in the Version Store's blob index (a publish that stopped between a
// blob write and indexing it leaves one behind). Blobs a failed publish
// had already indexed stay indexed and are not reclaimed. It
// never touches upload blobs still awaiting a first CreateDraft call —
// those are identified by kind, not by age, so a slow uploader is never
// mistaken for garbage.
package blobsweep

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cityworks/roadimport/internal/blobstore"
	"github.com/cityworks/roadimport/internal/metrics"
)

// Lister and Deleter narrow blobstore.Client to what the sweeper needs,
// so a fake store can stand in for tests without a live bucket.
type Lister interface {
	List(ctx context.Context, kind blobstore.Kind) ([]string, error)
}

type Deleter interface {
	Delete(ctx context.Context, handle string) error
}

// Index narrows versionstore.Client to the blob-index operations the
// sweeper needs.
type Index interface {
	ReferencedHandles(ctx context.Context) (map[string]struct{}, error)
	DeleteBlobIndexEntry(ctx context.Context, handle string) error
}

// Sweeper reclaims snapshot and diff blobs the Version Store's blob
// index no longer references.
type Sweeper struct {
	Blobs interface {
		Lister
		Deleter
	}
	Index Index

	// Kinds is the set of blob namespaces eligible for reclaiming.
	// Defaults to snapshots and diffs if left empty; KindUpload is
	// deliberately never included here.
	Kinds []blobstore.Kind
}

// Result tallies one sweep pass, for logging and metrics.
type Result struct {
	Scanned int
	Deleted int
	Errors  int
}

// Sweep lists every blob under Kinds, deletes any handle absent from the
// Version Store's referenced set, and removes the now-stale index entry
// for handles Index still lists but the bucket no longer holds (a
// mutation that landed after the blob write failed or was rolled back).
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)

	kinds := s.Kinds
	if len(kinds) == 0 {
		kinds = []blobstore.Kind{blobstore.KindSnapshot, blobstore.KindDiff}
	}

	referenced, err := s.Index.ReferencedHandles(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("blobsweep: loading referenced handles: %w", err)
	}

	var res Result
	seen := make(map[string]struct{}, len(referenced))

	for _, kind := range kinds {
		handles, err := s.Blobs.List(ctx, kind)
		if err != nil {
			return res, fmt.Errorf("blobsweep: listing %q blobs: %w", kind, err)
		}

		for _, handle := range handles {
			res.Scanned++
			seen[handle] = struct{}{}

			if _, ok := referenced[handle]; ok {
				continue
			}

			if err := s.Blobs.Delete(ctx, handle); err != nil {
				res.Errors++
				metrics.BlobsSweptTotal.WithLabelValues("error").Inc()
				slog.ErrorContext(ctx, "blobsweep: failed to delete unreferenced blob", "handle", handle, "error", err)

				continue
			}
			res.Deleted++
			metrics.BlobsSweptTotal.WithLabelValues("deleted").Inc()
			slog.InfoContext(ctx, "blobsweep: reclaimed unreferenced blob", "handle", handle)
		}
	}

	for handle := range referenced {
		if _, ok := seen[handle]; ok {
			continue
		}
		// Only handles under the swept kinds were listed; index entries of
		// other kinds (uploads) are left alone.
		listed := false
		for _, kind := range kinds {
			prefix := string(kind) + "/"
			if len(handle) > len(prefix) && handle[:len(prefix)] == prefix {
				listed = true
			}
		}
		if !listed {
			continue
		}
		// The index points at a blob the bucket no longer has (the write
		// that produced it never landed, or the object was already
		// reclaimed by a previous sweep that crashed before updating the
		// index) — drop the stale entry so it doesn't pin nothing forever.
		if err := s.Index.DeleteBlobIndexEntry(ctx, handle); err != nil {
			res.Errors++
			slog.ErrorContext(ctx, "blobsweep: failed to drop stale index entry", "handle", handle, "error", err)
		}
	}

	return res, nil
}
