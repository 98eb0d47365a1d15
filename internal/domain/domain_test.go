package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    domain.Scope
		wantErr bool
	}{
		{
			name: "full",
			in:   "full",
			want: domain.Scope{Kind: domain.ScopeKindFull},
		},
		{
			name: "ward",
			in:   "ward:riverside",
			want: domain.Scope{Kind: domain.ScopeKindWard, Ward: "riverside"},
		},
		{
			name: "bbox",
			in:   "bbox:-122.5,37.7,-122.3,37.9",
			want: domain.Scope{
				Kind: domain.ScopeKindBbox,
				Box:  domain.Bbox{MinLng: -122.5, MinLat: 37.7, MaxLng: -122.3, MaxLat: 37.9},
			},
		},
		{
			name:    "empty ward",
			in:      "ward:",
			wantErr: true,
		},
		{
			name:    "bbox wrong arity",
			in:      "bbox:1,2,3",
			wantErr: true,
		},
		{
			name:    "bbox non numeric",
			in:      "bbox:a,b,c,d",
			wantErr: true,
		},
		{
			name:    "garbage",
			in:      "something-else",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := domain.ParseScope(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apierror.ErrInvalidScope))

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScopeStringRoundTrip(t *testing.T) {
	for _, in := range []string{"full", "ward:riverside", "bbox:-122.5,37.7,-122.3,37.9"} {
		scope, err := domain.ParseScope(in)
		require.NoError(t, err)
		assert.Equal(t, in, scope.String())
	}
}

func TestValidationResultBlocking(t *testing.T) {
	assert.False(t, domain.ValidationResult{}.Blocking())
	assert.True(t, domain.ValidationResult{
		Errors: []domain.ValidationError{{Field: "geometry", Error: "missing"}},
	}.Blocking())
}
