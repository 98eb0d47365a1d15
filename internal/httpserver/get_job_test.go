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

func TestGetJob(t *testing.T) {
	t.Run("failed job carries its error message", func(t *testing.T) {
		env := newTestEnv(t)
		env.jobs.jobs["job-9"] = versionstore.ImportJob{
			ID:              "job-9",
			VersionID:       "v1",
			Type:            string(domain.JobTypePublish),
			Status:          string(domain.JobStatusFailed),
			ProgressPercent: 60,
			Message:         "ConflictingPublish: timed out waiting for the publish lock",
		}

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/import/versions/jobs/job-9", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var job importJobJSON
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		assert.Equal(t, "failed", job.Status)
		require.NotNil(t, job.ErrorMessage)
		assert.Contains(t, *job.ErrorMessage, "ConflictingPublish")
		assert.NotNil(t, job.CompletedAt)
	})

	t.Run("running job has no completion fields", func(t *testing.T) {
		env := newTestEnv(t)
		env.jobs.jobs["job-9"] = versionstore.ImportJob{
			ID:              "job-9",
			VersionID:       "v1",
			Type:            string(domain.JobTypeValidation),
			Status:          string(domain.JobStatusRunning),
			ProgressPercent: 40,
		}

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/import/versions/jobs/job-9", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var job importJobJSON
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		assert.Equal(t, int64(40), job.Progress)
		assert.Nil(t, job.ErrorMessage)
		assert.Nil(t, job.CompletedAt)
	})

	t.Run("cancel of a running job reaches the dispatcher", func(t *testing.T) {
		env := newTestEnv(t)
		env.jobs.jobs["job-9"] = versionstore.ImportJob{
			ID:        "job-9",
			VersionID: "v1",
			Type:      string(domain.JobTypePublish),
			Status:    string(domain.JobStatusRunning),
		}

		rec := env.do(t, httptest.NewRequest(http.MethodPost, "/import/versions/jobs/job-9/cancel", nil))

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, []string{"job-9"}, env.dispatcher.cancelled)
	})

	t.Run("cancel of a terminal job yields 400 InvalidTransition", func(t *testing.T) {
		env := newTestEnv(t)
		env.jobs.jobs["job-9"] = versionstore.ImportJob{
			ID:     "job-9",
			Type:   string(domain.JobTypeValidation),
			Status: string(domain.JobStatusCompleted),
		}

		rec := env.do(t, httptest.NewRequest(http.MethodPost, "/import/versions/jobs/job-9/cancel", nil))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, env.dispatcher.cancelled)
	})

	t.Run("unknown job yields 404", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/import/versions/jobs/nope", nil))

		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}
