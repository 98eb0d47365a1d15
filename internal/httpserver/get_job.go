package httpserver

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

// getJob is the polling endpoint clients watch while a background job
// runs; the job row is the only observation channel.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	job, err := s.jobs.GetJob(ctx, chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	writeJSON(ctx, w, http.StatusOK, fromJobRow(job))
}

// cancelJob requests cooperative cancellation of a running job. The
// worker notices between feature batches and finalizes the job as failed
// with a Cancelled message; this call only delivers the request.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	job, err := s.jobs.GetJob(ctx, chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	switch domain.JobStatus(job.Status) {
	case domain.JobStatusCompleted, domain.JobStatusFailed:
		writeError(ctx, w, fmt.Errorf("%w: job %q is already %q",
			apierror.ErrInvalidTransition, job.ID, job.Status))

		return
	case domain.JobStatusPending, domain.JobStatusRunning:
	}

	s.dispatcher.Cancel(job.ID)

	writeJSON(ctx, w, http.StatusAccepted, fromJobRow(job))
}
