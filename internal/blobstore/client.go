// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blobstore stores uploads, snapshots and diffs as
// content-addressed GCS objects with atomic, precondition-guarded writes.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/cityworks/roadimport/internal/blobtypes"
)

// Kind is the handle namespace a blob belongs to — it becomes the object
// path prefix, keeping uploads, snapshots and diffs from colliding and
// letting the sweeper (internal/blobsweep) list by kind cheaply.
type Kind string

const (
	KindUpload   Kind = "uploads"
	KindSnapshot Kind = "snapshots"
	KindDiff     Kind = "diffs"
)

type Client struct {
	client *storage.Client
	bucket string
}

// NewClient creates a new GCP GCS client.
// It automatically respects STORAGE_EMULATOR_HOST if set in the environment.
func NewClient(ctx context.Context, bucket string) (*Client, error) {
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	return &Client{client: storageClient, bucket: bucket}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Put writes data under its content-addressed handle of the given kind and
// returns that handle. The handle is the SHA-256 of the content, so two
// Puts of identical bytes under the same kind converge on the same object:
// a precondition-failed write is treated as success rather than as a
// conflict, since the generation that already exists holds these exact
// bytes.
func (c *Client) Put(ctx context.Context, kind Kind, data []byte, opts ...blobtypes.WriteOption) (string, error) {
	handle := contentHandle(kind, data)

	allOpts := append([]blobtypes.WriteOption{blobtypes.WithExpectedGeneration(0)}, opts...)
	if err := c.writeBlob(ctx, handle, data, allOpts...); err != nil {
		if errors.Is(err, blobtypes.ErrPreconditionFailed) {
			return handle, nil
		}

		return "", err
	}

	return handle, nil
}

// Open reads back the blob stored at handle.
func (c *Client) Open(ctx context.Context, handle string, opts ...blobtypes.ReadOption) (*blobtypes.Blob, error) {
	return c.readBlob(ctx, handle, opts...)
}

// Delete removes the blob at handle. Used only by the sweeper
// (internal/blobsweep) to reclaim unreferenced snapshots/diffs.
func (c *Client) Delete(ctx context.Context, handle string) error {
	obj := c.client.Bucket(c.bucket).Object(handle)
	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		slog.ErrorContext(ctx, "blobstore: failed to delete blob", "handle", handle, "error", err)

		return err
	}

	return nil
}

// List returns every handle currently stored under kind, for the sweeper
// (internal/blobsweep) to diff against the Version Store's blob index.
func (c *Client) List(ctx context.Context, kind Kind) ([]string, error) {
	// nolint:exhaustruct // WONTFIX: external struct
	it := c.client.Bucket(c.bucket).Objects(ctx, &storage.Query{Prefix: string(kind) + "/"})

	var handles []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		handles = append(handles, attrs.Name)
	}

	return handles, nil
}

// Stat reports whether handle exists without reading its body.
func (c *Client) Stat(ctx context.Context, handle string) (bool, error) {
	obj := c.client.Bucket(c.bucket).Object(handle)
	if _, err := obj.Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// contentHandle is the SHA-256 content-address for data within kind's
// namespace. It is a pure function so the naming scheme can be unit
// tested without a live bucket.
func contentHandle(kind Kind, data []byte) string {
	sum := sha256.Sum256(data)

	return fmt.Sprintf("%s/%s", kind, hex.EncodeToString(sum[:]))
}

func (c *Client) writeBlob(ctx context.Context, path string, data []byte, opts ...blobtypes.WriteOption) error {
	config := blobtypes.WriteSettings{
		ContentType:        nil,
		Metadata:           nil,
		ExpectedGeneration: nil,
	}
	for _, opt := range opts {
		opt(&config)
	}

	obj := c.client.Bucket(c.bucket).Object(path)
	if config.ExpectedGeneration != nil {
		switch *config.ExpectedGeneration {
		case 0:
			// nolint:exhaustruct // WONTFIX: external struct
			obj = obj.If(storage.Conditions{DoesNotExist: true})
		case -1:
			// Ignore generation; always overwrite.
		default:
			// nolint:exhaustruct // WONTFIX: external struct
			obj = obj.If(storage.Conditions{GenerationMatch: *config.ExpectedGeneration})
		}
	}

	wc := obj.NewWriter(ctx)

	if config.ContentType != nil {
		wc.ContentType = *config.ContentType
	}
	if config.Metadata != nil {
		wc.Metadata = *config.Metadata
	}

	if _, err := wc.Write(data); err != nil {
		if isPreconditionFailedError(err) {
			slog.WarnContext(ctx, "blobstore: precondition failed", "path", path, "error", err)

			return blobtypes.ErrPreconditionFailed
		}
		slog.ErrorContext(ctx, "blobstore: failed to write blob", "path", path, "error", err)

		return err
	}

	if err := wc.Close(); err != nil {
		if isPreconditionFailedError(err) {
			slog.WarnContext(ctx, "blobstore: precondition failed while closing", "path", path, "error", err)

			return blobtypes.ErrPreconditionFailed
		}
		slog.ErrorContext(ctx, "blobstore: failed to close after writing blob", "path", path, "error", err)

		return err
	}

	return nil
}

func isPreconditionFailedError(err error) bool {
	var e *googleapi.Error
	if errors.As(err, &e) && e.Code == http.StatusPreconditionFailed {
		return true
	}

	return false
}

func (c *Client) readBlob(ctx context.Context, path string, opts ...blobtypes.ReadOption) (*blobtypes.Blob, error) {
	config := blobtypes.ReadSettings{
		Generation: nil,
	}
	for _, opt := range opts {
		opt(&config)
	}

	obj := c.client.Bucket(c.bucket).Object(path)
	if config.Generation != nil {
		obj = obj.Generation(*config.Generation)
	}

	rc, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			slog.InfoContext(ctx, "blobstore: blob not found", "path", path)

			return nil, blobtypes.ErrBlobNotFound
		}
		slog.ErrorContext(ctx, "blobstore: failed to create reader for blob", "path", path, "error", err)

		return nil, err
	}

	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		slog.ErrorContext(ctx, "blobstore: failed to read blob data", "path", path, "error", err)

		return nil, err
	}

	return &blobtypes.Blob{
		Data:        data,
		Generation:  rc.Attrs.Generation,
		ContentType: rc.Attrs.ContentType,
		Metadata:    rc.Metadata(),
	}, nil
}
