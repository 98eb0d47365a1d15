package httpserver

import (
	"fmt"
	"net/http"

	"github.com/cityworks/roadimport/internal/apierror"
)

// getHistory serves the stored historical diff of a version that was
// published at some point. The blob is streamed back verbatim: it was
// written as the API's own JSON shape.
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, err := s.versions.GetVersion(ctx, versionIDParam(r))
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	if version.DiffHandle == "" {
		writeError(ctx, w, fmt.Errorf("%w: version %q has no stored diff",
			apierror.ErrNotFound, version.ID))

		return
	}

	blob, err := s.blobs.Open(ctx, version.DiffHandle)
	if err != nil {
		writeError(ctx, w, apierror.Wrap(apierror.CodeInternal, "opening stored diff", err))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob.Data)
}

// getSnapshot serves the raw snapshot blob of a published or archived
// version, for audit tooling.
func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, err := s.versions.GetVersion(ctx, versionIDParam(r))
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	if version.SnapshotHandle == "" {
		writeError(ctx, w, fmt.Errorf("%w: version %q has no snapshot",
			apierror.ErrNotFound, version.ID))

		return
	}

	blob, err := s.blobs.Open(ctx, version.SnapshotHandle)
	if err != nil {
		writeError(ctx, w, apierror.Wrap(apierror.CodeInternal, "opening snapshot", err))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob.Data)
}
