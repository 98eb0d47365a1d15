package httpserver

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeatureCollection = `{
	"type": "FeatureCollection",
	"features": [
		{"type": "Feature", "id": "R1", "geometry": {"type": "LineString", "coordinates": [[139.7, 35.6], [139.71, 35.61]]}, "properties": {"dataSource": "official_ledger"}},
		{"type": "Feature", "id": "R2", "geometry": {"type": "LineString", "coordinates": [[139.72, 35.62], [139.73, 35.63]]}, "properties": {}}
	]
}`

func multipartUpload(t *testing.T, fieldName, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return &body, mw.FormDataContentType()
}

func TestUploadVersion(t *testing.T) {
	t.Run("geojson upload creates a probed draft", func(t *testing.T) {
		env := newTestEnv(t)
		body, contentType := multipartUpload(t, "file", "roads.geojson", sampleFeatureCollection)

		req := httptest.NewRequest(http.MethodPost, "/import/versions/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := env.do(t, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var version importVersionJSON
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
		assert.Equal(t, "draft", version.Status)
		assert.Equal(t, "roads.geojson", version.FileName)
		assert.Equal(t, "geojson", version.FileType)
		assert.Equal(t, int64(2), version.FeatureCount)
		assert.NotEmpty(t, version.FileRef)
		assert.Contains(t, env.blobs.blobs, version.FileRef)
	})

	t.Run("unsupported extension yields 400 UnsupportedFormat", func(t *testing.T) {
		env := newTestEnv(t)
		body, contentType := multipartUpload(t, "file", "roads.shp", "not really a shapefile")

		req := httptest.NewRequest(http.MethodPost, "/import/versions/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := env.do(t, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var errResp errorModel
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
		assert.Equal(t, "UnsupportedFormat", errResp.Code)
		assert.Empty(t, env.versions.createdDrafts)
	})

	t.Run("corrupt geojson yields 400 and no draft", func(t *testing.T) {
		env := newTestEnv(t)
		body, contentType := multipartUpload(t, "file", "roads.geojson", "{not json")

		req := httptest.NewRequest(http.MethodPost, "/import/versions/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := env.do(t, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, env.versions.createdDrafts)
	})

	t.Run("missing file field yields 400 InvalidFile", func(t *testing.T) {
		env := newTestEnv(t)
		body, contentType := multipartUpload(t, "wrongfield", "roads.geojson", sampleFeatureCollection)

		req := httptest.NewRequest(http.MethodPost, "/import/versions/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := env.do(t, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var errResp errorModel
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
		assert.Equal(t, "InvalidFile", errResp.Code)
	})
}
