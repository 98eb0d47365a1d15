package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/blobstore"
	"github.com/cityworks/roadimport/internal/blobtypes"
	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/versionstore"
)

type mockVersionStore struct {
	t *testing.T

	versions   map[string]versionstore.ImportVersion
	validation map[string]domain.ValidationResult

	createdDrafts    []versionstore.ImportVersion
	configuredInputs []versionstore.ConfigureDraftInput
	deletedIDs       []string

	listResult []versionstore.ImportVersion
	listTotal  int64
	listErr    error
	deleteErr  error
}

func (m *mockVersionStore) CreateDraft(
	_ context.Context, fileName string, fileType domain.FileType, uploadHandle string, featureCount int,
) (versionstore.ImportVersion, error) {
	v := versionstore.ImportVersion{
		ID:             "draft-1",
		VersionNumber:  int64(len(m.createdDrafts) + 1),
		Status:         string(domain.VersionStatusDraft),
		FileName:       fileName,
		FileType:       string(fileType),
		DefaultDataSrc: string(domain.DataSourceManual),
		ImportScope:    string(domain.ScopeKindFull),
		FeatureCount:   int64(featureCount),
		UploadHandle:   uploadHandle,
	}
	m.createdDrafts = append(m.createdDrafts, v)
	if m.versions == nil {
		m.versions = map[string]versionstore.ImportVersion{}
	}
	m.versions[v.ID] = v

	return v, nil
}

func (m *mockVersionStore) GetVersion(_ context.Context, id string) (versionstore.ImportVersion, error) {
	v, ok := m.versions[id]
	if !ok {
		return versionstore.ImportVersion{}, apierror.New(apierror.CodeNotFound, "import version not found")
	}

	return v, nil
}

func (m *mockVersionStore) ListVersions(
	_ context.Context, _ versionstore.ListVersionsFilter, _ int, _ string,
) ([]versionstore.ImportVersion, string, error) {
	return m.listResult, "", m.listErr
}

func (m *mockVersionStore) CountVersions(_ context.Context, _ versionstore.ListVersionsFilter) (int64, error) {
	return m.listTotal, nil
}

func (m *mockVersionStore) ConfigureDraft(
	_ context.Context, id string, input versionstore.ConfigureDraftInput,
) (versionstore.ImportVersion, error) {
	m.configuredInputs = append(m.configuredInputs, input)
	v := m.versions[id]
	if input.LayerName.IsSet {
		v.LayerName = input.LayerName.Value
	}
	if input.SourceCRS.IsSet {
		v.SourceCRS = input.SourceCRS.Value
	}
	if input.DefaultDataSource.IsSet {
		v.DefaultDataSrc = string(input.DefaultDataSource.Value)
	}
	if input.RegionalRefresh.IsSet {
		v.RegionalRefresh = input.RegionalRefresh.Value
	}
	if input.ImportScope.IsSet {
		v.ImportScope = input.ImportScope.Value
	}
	m.versions[id] = v

	return v, nil
}

func (m *mockVersionStore) DeleteDraft(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedIDs = append(m.deletedIDs, id)

	return nil
}

func (m *mockVersionStore) RecordBlobHandle(_ context.Context, _ string, _ blobstore.Kind, _ string) error {
	return nil
}

func (m *mockVersionStore) GetValidationResult(_ context.Context, versionID string) (domain.ValidationResult, error) {
	result, ok := m.validation[versionID]
	if !ok {
		return domain.ValidationResult{}, apierror.New(apierror.CodeNotFound, "no validation result")
	}

	return result, nil
}

type mockJobStore struct {
	jobs      map[string]versionstore.ImportJob
	created   []versionstore.ImportJob
	createErr error
}

func (m *mockJobStore) CreateJob(
	_ context.Context, versionID string, jobType domain.JobType,
) (versionstore.ImportJob, error) {
	if m.createErr != nil {
		return versionstore.ImportJob{}, m.createErr
	}
	j := versionstore.ImportJob{
		ID:        "job-1",
		VersionID: versionID,
		Type:      string(jobType),
		Status:    string(domain.JobStatusPending),
	}
	m.created = append(m.created, j)

	return j, nil
}

func (m *mockJobStore) GetJob(_ context.Context, id string) (versionstore.ImportJob, error) {
	j, ok := m.jobs[id]
	if !ok {
		return versionstore.ImportJob{}, apierror.New(apierror.CodeNotFound, "import job not found")
	}

	return j, nil
}

type mockBlobStore struct {
	blobs map[string][]byte
}

func (m *mockBlobStore) Put(_ context.Context, kind blobstore.Kind, data []byte, _ ...blobtypes.WriteOption) (string, error) {
	if m.blobs == nil {
		m.blobs = map[string][]byte{}
	}
	handle := string(kind) + "/stored"
	m.blobs[handle] = data

	return handle, nil
}

func (m *mockBlobStore) Open(_ context.Context, handle string, _ ...blobtypes.ReadOption) (*blobtypes.Blob, error) {
	data, ok := m.blobs[handle]
	if !ok {
		return nil, blobtypes.ErrBlobNotFound
	}

	return &blobtypes.Blob{Data: data}, nil
}

type mockPreviewer struct {
	diff domain.DiffResult
	err  error
}

func (m *mockPreviewer) Preview(_ context.Context, _ versionstore.ImportVersion) (domain.DiffResult, error) {
	return m.diff, m.err
}

type mockDispatcher struct {
	enqueued  []string
	cancelled []string
}

func (m *mockDispatcher) Enqueue(jobID string) {
	m.enqueued = append(m.enqueued, jobID)
}

func (m *mockDispatcher) Cancel(jobID string) {
	m.cancelled = append(m.cancelled, jobID)
}

type testEnv struct {
	server     *Server
	versions   *mockVersionStore
	jobs       *mockJobStore
	blobs      *mockBlobStore
	previewer  *mockPreviewer
	dispatcher *mockDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		versions:   &mockVersionStore{t: t, versions: map[string]versionstore.ImportVersion{}, validation: map[string]domain.ValidationResult{}},
		jobs:       &mockJobStore{jobs: map[string]versionstore.ImportJob{}},
		blobs:      &mockBlobStore{blobs: map[string][]byte{}},
		previewer:  &mockPreviewer{},
		dispatcher: &mockDispatcher{},
	}
	env.server = &Server{
		versions:   env.versions,
		jobs:       env.jobs,
		blobs:      env.blobs,
		previewer:  env.previewer,
		dispatcher: env.dispatcher,
	}

	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	e.server.Router(nil).ServeHTTP(rec, req)

	return rec
}

func draftVersion(id string) versionstore.ImportVersion {
	return versionstore.ImportVersion{
		ID:             id,
		VersionNumber:  1,
		Status:         string(domain.VersionStatusDraft),
		FileName:       "roads.geojson",
		FileType:       string(domain.FileTypeGeoJSON),
		SourceCRS:      "EPSG:4326",
		DefaultDataSrc: string(domain.DataSourceOfficialLedger),
		ImportScope:    "full",
		FeatureCount:   2,
		UploadHandle:   "uploads/stored",
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
