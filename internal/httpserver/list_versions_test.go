package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/versionstore"
)

func TestListVersions(t *testing.T) {
	t.Run("returns page and total", func(t *testing.T) {
		env := newTestEnv(t)
		v1 := draftVersion("v1")
		v2 := draftVersion("v2")
		v2.VersionNumber = 2
		env.versions.listResult = []versionstore.ImportVersion{v1, v2}
		env.versions.listTotal = 7

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/import/versions/?status=draft", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp listVersionsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(7), resp.Total)
		require.Len(t, resp.Data, 2)
		assert.Equal(t, "v1", resp.Data[0].ID)
	})

	t.Run("unknown status filter yields 400", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/import/versions/?status=bogus", nil))

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-numeric pageSize yields 400", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/import/versions/?pageSize=lots", nil))

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDeleteVersion(t *testing.T) {
	t.Run("draft delete succeeds", func(t *testing.T) {
		env := newTestEnv(t)
		env.versions.versions["v1"] = draftVersion("v1")

		rec := env.do(t, httptest.NewRequest(http.MethodDelete, "/import/versions/v1", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success": true}`, rec.Body.String())
		assert.Equal(t, []string{"v1"}, env.versions.deletedIDs)
	})
}

func TestGetVersion(t *testing.T) {
	t.Run("published version exposes refs and counts", func(t *testing.T) {
		env := newTestEnv(t)
		v := draftVersion("v1")
		v.Status = string(domain.VersionStatusPublished)
		v.SnapshotHandle = "snapshots/abc"
		v.DiffHandle = "diffs/def"
		v.AddedCount = 3
		v.UpdatedCount = 2
		v.DeactivatedCount = 1
		env.versions.versions["v1"] = v

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/import/versions/v1", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var got importVersionJSON
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.NotNil(t, got.SnapshotRef)
		assert.Equal(t, "snapshots/abc", *got.SnapshotRef)
		require.NotNil(t, got.AddedCount)
		assert.Equal(t, int64(3), *got.AddedCount)
	})

	t.Run("draft hides unset refs", func(t *testing.T) {
		env := newTestEnv(t)
		env.versions.versions["v1"] = draftVersion("v1")

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/import/versions/v1", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var got importVersionJSON
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Nil(t, got.SnapshotRef)
		assert.Nil(t, got.DiffRef)
		assert.Nil(t, got.AddedCount)
	})
}
