// Package httpserver exposes the import pipeline's REST surface. Each
// operation lives in its own file; the Server itself only holds the
// narrow storer interfaces the handlers need, so tests can swap in fakes
// without a live Spanner or GCS.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/blobstore"
	"github.com/cityworks/roadimport/internal/blobtypes"
	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/metrics"
	"github.com/cityworks/roadimport/internal/versionstore"
)

// VersionStorer is the subset of versionstore.Client the version
// handlers touch.
type VersionStorer interface {
	CreateDraft(ctx context.Context, fileName string, fileType domain.FileType, uploadHandle string, featureCount int) (versionstore.ImportVersion, error)
	GetVersion(ctx context.Context, id string) (versionstore.ImportVersion, error)
	ListVersions(ctx context.Context, filter versionstore.ListVersionsFilter, pageSize int, pageToken string) ([]versionstore.ImportVersion, string, error)
	CountVersions(ctx context.Context, filter versionstore.ListVersionsFilter) (int64, error)
	ConfigureDraft(ctx context.Context, id string, input versionstore.ConfigureDraftInput) (versionstore.ImportVersion, error)
	DeleteDraft(ctx context.Context, id string) error
	RecordBlobHandle(ctx context.Context, versionID string, kind blobstore.Kind, handle string) error
	GetValidationResult(ctx context.Context, versionID string) (domain.ValidationResult, error)
}

// JobStorer is the subset of versionstore.Client the job handlers touch.
type JobStorer interface {
	CreateJob(ctx context.Context, versionID string, jobType domain.JobType) (versionstore.ImportJob, error)
	GetJob(ctx context.Context, id string) (versionstore.ImportJob, error)
}

// BlobStorer is the subset of blobstore.Client the handlers touch.
type BlobStorer interface {
	Put(ctx context.Context, kind blobstore.Kind, data []byte, opts ...blobtypes.WriteOption) (string, error)
	Open(ctx context.Context, handle string, opts ...blobtypes.ReadOption) (*blobtypes.Blob, error)
}

// DiffPreviewer computes the on-demand advisory diff for a draft.
type DiffPreviewer interface {
	Preview(ctx context.Context, version versionstore.ImportVersion) (domain.DiffResult, error)
}

// JobDispatcher hands a freshly created job row to the background runner
// and relays cooperative cancellation requests to it.
type JobDispatcher interface {
	Enqueue(jobID string)
	Cancel(jobID string)
}

// Server implements every route; handlers hang off it in per-operation
// files.
type Server struct {
	versions   VersionStorer
	jobs       JobStorer
	blobs      BlobStorer
	previewer  DiffPreviewer
	dispatcher JobDispatcher
}

// NewHTTPServer wires the router and returns a configured *http.Server
// listening on port.
func NewHTTPServer(
	port string,
	versions VersionStorer,
	jobs JobStorer,
	blobs BlobStorer,
	previewer DiffPreviewer,
	dispatcher JobDispatcher,
	preRequestMiddlewares []func(http.Handler) http.Handler,
) *http.Server {
	srv := &Server{
		versions:   versions,
		jobs:       jobs,
		blobs:      blobs,
		previewer:  previewer,
		dispatcher: dispatcher,
	}

	// nolint:exhaustruct // No need to populate 3rd party struct
	return &http.Server{
		Handler:           srv.Router(preRequestMiddlewares),
		Addr:              net.JoinHostPort("0.0.0.0", port),
		ReadHeaderTimeout: 30 * time.Second,
	}
}

// Router builds the chi route tree, exposed separately so tests can mount
// it on an httptest server.
func (s *Server) Router(preRequestMiddlewares []func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	for _, mw := range preRequestMiddlewares {
		r.Use(mw)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/import/versions", func(r chi.Router) {
		r.Post("/upload", s.uploadVersion)
		r.Get("/", s.listVersions)
		r.Get("/jobs/{jobId}", s.getJob)
		r.Post("/jobs/{jobId}/cancel", s.cancelJob)
		r.Route("/{versionId}", func(r chi.Router) {
			r.Get("/", s.getVersion)
			r.Delete("/", s.deleteVersion)
			r.Get("/layers", s.getLayers)
			r.Post("/configure", s.configureVersion)
			r.Post("/validate", s.validateVersion)
			r.Get("/validation", s.getValidation)
			r.Get("/preview", s.previewDiff)
			r.Get("/history", s.getHistory)
			r.Post("/publish", s.publishVersion)
			r.Post("/rollback", s.rollbackVersion)
			r.Get("/snapshot", s.getSnapshot)
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Readiness is a cheap store round trip: if the Version Store answers,
	// the pipeline can serve.
	if _, err := s.versions.CountVersions(r.Context(), versionstore.ListVersionsFilter{Status: nil}); err != nil {
		writeError(r.Context(), w, apierror.Wrap(apierror.CodeInternal, "version store unavailable", err))

		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// errorModel is the JSON error envelope every failed request returns.
type errorModel struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError renders err as the error envelope, mapping its stable code
// to a status; anything without a code is a 500 Internal.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := apierror.CodeInternal
	message := "internal error"

	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		code = apiErr.Code
		message = apiErr.Error()
	} else if err != nil {
		message = err.Error()
	}

	status := apierror.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "httpserver: request failed", "code", code, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(errorModel{Code: string(code), Message: message}); encodeErr != nil {
		slog.WarnContext(ctx, "httpserver: unable to write error response", "error", encodeErr)
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.WarnContext(ctx, "httpserver: unable to write response", "error", err)
	}
}
