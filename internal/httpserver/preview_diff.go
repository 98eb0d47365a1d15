package httpserver

import (
	"fmt"
	"net/http"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

// previewDiff computes the advisory diff for a draft on demand. The
// result is ephemeral; a publish recomputes its own authoritative diff
// under the advisory lock.
func (s *Server) previewDiff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, err := s.versions.GetVersion(ctx, versionIDParam(r))
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	if domain.VersionStatus(version.Status) != domain.VersionStatusDraft {
		writeError(ctx, w, fmt.Errorf("%w: preview is only available for drafts; version %q is %q",
			apierror.ErrInvalidTransition, version.ID, version.Status))

		return
	}

	diff, err := s.previewer.Preview(ctx, version)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	writeJSON(ctx, w, http.StatusOK, diff)
}
