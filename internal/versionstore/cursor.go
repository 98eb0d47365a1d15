package versionstore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// ErrInvalidCursorFormat indicates the pageToken isn't the correct format.
var ErrInvalidCursorFormat = errors.New("versionstore: invalid cursor format")

// decodeCursor parses a pageToken: a base64url-encoded JSON blob,
// opaque to callers.
func decodeCursor[T any](cursor string) (*T, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, errors.Join(ErrInvalidCursorFormat, err)
	}

	var decoded T
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, errors.Join(ErrInvalidCursorFormat, err)
	}

	return &decoded, nil
}

func encodeCursor[T any](in T) string {
	data, err := json.Marshal(in)
	if err != nil {
		return ""
	}

	return base64.RawURLEncoding.EncodeToString(data)
}
