package versionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/spanner"
	"google.golang.org/grpc/codes"

	"github.com/cityworks/roadimport/internal/domain"
)

const validationResultsTable = "ValidationResults"

type validationResultRow struct {
	VersionID string `spanner:"VersionId"`
	Result    string `spanner:"Result"` // JSON-encoded domain.ValidationResult
}

// PutValidationResult stores result for versionID, overwriting any
// prior result. Re-validation is idempotent, so the latest run is always
// the authoritative one.
func (c *Client) PutValidationResult(ctx context.Context, versionID string, result domain.ValidationResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("versionstore: encoding validation result: %w", err)
	}

	_, err = c.Apply(ctx, []*spanner.Mutation{
		spanner.InsertOrUpdate(validationResultsTable, []string{"VersionId", "Result"},
			[]interface{}{versionID, string(encoded)}),
	})
	if err != nil {
		return errors.Join(ErrInternalQueryFailure, err)
	}

	return nil
}

// GetValidationResult returns the cached ValidationResult for versionID.
func (c *Client) GetValidationResult(ctx context.Context, versionID string) (domain.ValidationResult, error) {
	row, err := c.Single().ReadRow(ctx, validationResultsTable, spanner.Key{versionID}, []string{"VersionId", "Result"})
	if err != nil {
		if spanner.ErrCode(err) == codes.NotFound {
			return domain.ValidationResult{}, apiErrNotFound(fmt.Sprintf("no validation result for version %q", versionID))
		}

		return domain.ValidationResult{}, errors.Join(ErrInternalQueryFailure, err)
	}

	var stored validationResultRow
	if err := row.ToStruct(&stored); err != nil {
		return domain.ValidationResult{}, errors.Join(ErrInternalQueryFailure, err)
	}

	var result domain.ValidationResult
	if err := json.Unmarshal([]byte(stored.Result), &result); err != nil {
		return domain.ValidationResult{}, fmt.Errorf("versionstore: decoding validation result: %w", err)
	}

	return result, nil
}
