package versionstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	in := versionsCursor{LastVersionNumber: 42}
	token := encodeCursor(in)
	require.NotEmpty(t, token)

	out, err := decodeCursor[versionsCursor](token)
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestDecodeCursorInvalid(t *testing.T) {
	_, err := decodeCursor[versionsCursor]("not-base64url-json!!")
	require.Error(t, err)
}
