package httpserver

import (
	"fmt"
	"net/http"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

// rollbackVersion enqueues an asynchronous rollback job restoring the
// named archived version's snapshot as a new published version.
func (s *Server) rollbackVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	target, err := s.versions.GetVersion(ctx, versionIDParam(r))
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	if domain.VersionStatus(target.Status) != domain.VersionStatusArchived {
		writeError(ctx, w, fmt.Errorf("%w: cannot roll back to version %q in status %q",
			apierror.ErrInvalidTransition, target.ID, target.Status))

		return
	}
	if target.SnapshotHandle == "" {
		writeError(ctx, w, fmt.Errorf("%w: version %q has no snapshot to restore",
			apierror.ErrInvalidTransition, target.ID))

		return
	}

	job, err := s.jobs.CreateJob(ctx, target.ID, domain.JobTypeRollback)
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	s.dispatcher.Enqueue(job.ID)

	writeJSON(ctx, w, http.StatusAccepted, fromJobRow(job))
}
