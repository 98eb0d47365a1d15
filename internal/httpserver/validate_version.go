package httpserver

import (
	"fmt"
	"net/http"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

// validateVersion enqueues an asynchronous validation job for a draft.
func (s *Server) validateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, err := s.versions.GetVersion(ctx, versionIDParam(r))
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	if domain.VersionStatus(version.Status) != domain.VersionStatusDraft {
		writeError(ctx, w, fmt.Errorf("%w: cannot validate version %q in status %q",
			apierror.ErrInvalidTransition, version.ID, version.Status))

		return
	}

	job, err := s.jobs.CreateJob(ctx, version.ID, domain.JobTypeValidation)
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	s.dispatcher.Enqueue(job.ID)

	writeJSON(ctx, w, http.StatusAccepted, fromJobRow(job))
}

// getValidation serves the cached ValidationResult for a version.
func (s *Server) getValidation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := s.versions.GetValidationResult(ctx, versionIDParam(r))
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	writeJSON(ctx, w, http.StatusOK, result)
}
