package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

// publishVersion enqueues an asynchronous publish job for a validated
// draft. The blocking checks happen synchronously so a client gets an
// immediate 400 instead of a failed job.
func (s *Server) publishVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, err := s.versions.GetVersion(ctx, versionIDParam(r))
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	if domain.VersionStatus(version.Status) != domain.VersionStatusDraft {
		writeError(ctx, w, fmt.Errorf("%w: cannot publish version %q in status %q",
			apierror.ErrInvalidTransition, version.ID, version.Status))

		return
	}

	result, err := s.versions.GetValidationResult(ctx, version.ID)
	if err != nil {
		if errors.Is(err, apierror.ErrNotFound) {
			writeError(ctx, w, apierror.New(apierror.CodeValidationBlocked,
				"version has not been validated under its current configuration"))

			return
		}
		writeError(ctx, w, err)

		return
	}
	if result.Blocking() {
		writeError(ctx, w, apierror.New(apierror.CodeValidationBlocked,
			fmt.Sprintf("validation found %d blocking errors", len(result.Errors))))

		return
	}

	job, err := s.jobs.CreateJob(ctx, version.ID, domain.JobTypePublish)
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	s.dispatcher.Enqueue(job.ID)

	writeJSON(ctx, w, http.StatusAccepted, fromJobRow(job))
}
