package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityworks/roadimport/internal/domain"
)

func TestConfigureVersion(t *testing.T) {
	t.Run("scope is auto-derived from the file bbox when omitted", func(t *testing.T) {
		env := newTestEnv(t)
		env.versions.versions["v1"] = draftVersion("v1")
		env.blobs.blobs["uploads/stored"] = []byte(sampleFeatureCollection)

		body := `{"sourceCRS": "EPSG:4326", "defaultDataSource": "official_ledger", "regionalRefresh": true}`
		req := httptest.NewRequest(http.MethodPost, "/import/versions/v1/configure", strings.NewReader(body))
		rec := env.do(t, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, env.versions.configuredInputs, 1)
		input := env.versions.configuredInputs[0]
		require.True(t, input.ImportScope.IsSet)
		scope, err := domain.ParseScope(input.ImportScope.Value)
		require.NoError(t, err)
		assert.Equal(t, domain.ScopeKindBbox, scope.Kind)
		assert.InDelta(t, 139.7, scope.Box.MinLng, 1e-9)
		assert.InDelta(t, 35.63, scope.Box.MaxLat, 1e-9)
		require.True(t, input.RegionalRefresh.IsSet)
		assert.True(t, input.RegionalRefresh.Value)
	})

	t.Run("explicit scope is validated and passed through untouched", func(t *testing.T) {
		env := newTestEnv(t)
		env.versions.versions["v1"] = draftVersion("v1")

		body := `{"importScope": "ward:Chiyoda", "defaultDataSource": "manual"}`
		req := httptest.NewRequest(http.MethodPost, "/import/versions/v1/configure", strings.NewReader(body))
		rec := env.do(t, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, env.versions.configuredInputs, 1)
		input := env.versions.configuredInputs[0]
		require.True(t, input.ImportScope.IsSet)
		assert.Equal(t, "ward:Chiyoda", input.ImportScope.Value)
	})

	t.Run("unrecognized sourceCRS yields 400 UnsupportedCRS", func(t *testing.T) {
		env := newTestEnv(t)
		env.versions.versions["v1"] = draftVersion("v1")

		body := `{"sourceCRS": "EPSG:9999"}`
		req := httptest.NewRequest(http.MethodPost, "/import/versions/v1/configure", strings.NewReader(body))
		rec := env.do(t, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var errResp errorModel
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
		assert.Equal(t, "UnsupportedCRS", errResp.Code)
		assert.Empty(t, env.versions.configuredInputs)
	})

	t.Run("malformed scope yields 400 InvalidScope", func(t *testing.T) {
		env := newTestEnv(t)
		env.versions.versions["v1"] = draftVersion("v1")

		body := `{"importScope": "bbox:1,2,3"}`
		req := httptest.NewRequest(http.MethodPost, "/import/versions/v1/configure", strings.NewReader(body))
		rec := env.do(t, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var errResp errorModel
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
		assert.Equal(t, "InvalidScope", errResp.Code)
	})

	t.Run("configuring a published version yields 400 InvalidTransition", func(t *testing.T) {
		env := newTestEnv(t)
		v := draftVersion("v1")
		v.Status = string(domain.VersionStatusPublished)
		env.versions.versions["v1"] = v

		body := `{"defaultDataSource": "manual"}`
		req := httptest.NewRequest(http.MethodPost, "/import/versions/v1/configure", strings.NewReader(body))
		rec := env.do(t, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var errResp errorModel
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
		assert.Equal(t, "InvalidTransition", errResp.Code)
	})
}
