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

// Package versionstore persists ImportVersion and ImportJob rows over
// Cloud Spanner, with every status transition guarded by a transactional
// read-then-write so blind status overwrites are impossible.
package versionstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/spanner"

	"github.com/cityworks/roadimport/internal/apierror"
)

// ErrQueryReturnedNoResults indicates no results were returned.
var ErrQueryReturnedNoResults = errors.New("versionstore: query returned no results")

// ErrInternalQueryFailure is a catch-all wrapping error for Spanner failures.
var ErrInternalQueryFailure = errors.New("versionstore: internal spanner query failure")

// ErrBadClientConfig indicates the config used to build a Client is invalid.
var ErrBadClientConfig = errors.New("versionstore: projectID, instanceID and databaseID must not be empty")

// ErrFailedToEstablishClient indicates the spanner client failed to create.
var ErrFailedToEstablishClient = errors.New("versionstore: failed to establish spanner client")

const (
	importVersionsTable = "ImportVersions"
	importJobsTable     = "ImportJobs"
	blobIndexTable      = "BlobIndex"
)

// Client wraps a Spanner client scoped to the import pipeline's database.
type Client struct {
	*spanner.Client
}

// NewClient returns a Client for the Google Spanner service. It
// respects SPANNER_EMULATOR_HOST when set in the environment.
func NewClient(ctx context.Context, projectID, instanceID, databaseID string) (*Client, error) {
	if projectID == "" || instanceID == "" || databaseID == "" {
		return nil, ErrBadClientConfig
	}

	client, err := spanner.NewClient(ctx, fmt.Sprintf(
		"projects/%s/instances/%s/databases/%s", projectID, instanceID, databaseID))
	if err != nil {
		return nil, errors.Join(ErrFailedToEstablishClient, err)
	}

	return &Client{client}, nil
}

func apiErrNotFound(msg string) error {
	return apierror.Wrap(apierror.CodeNotFound, msg, ErrQueryReturnedNoResults)
}
