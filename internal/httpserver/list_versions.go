package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/versionstore"
)

type listVersionsResponse struct {
	Data          []importVersionJSON `json:"data"`
	Total         int64               `json:"total"`
	NextPageToken *string             `json:"nextPageToken,omitempty"`
}

// listVersions serves a filtered, paged listing of versions.
func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := versionstore.ListVersionsFilter{Status: nil}
	if raw := q.Get("status"); raw != "" {
		status := domain.VersionStatus(raw)
		switch status {
		case domain.VersionStatusDraft, domain.VersionStatusPublished,
			domain.VersionStatusArchived, domain.VersionStatusRolledBack:
			filter.Status = &status
		default:
			writeError(ctx, w, apierror.New(apierror.CodeInvalidScope,
				fmt.Sprintf("unknown status filter %q", raw)))

			return
		}
	}

	pageSize := 0
	if raw := q.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(ctx, w, apierror.Wrap(apierror.CodeInvalidScope, "pageSize must be an integer", err))

			return
		}
		pageSize = n
	}

	versions, nextToken, err := s.versions.ListVersions(ctx, filter, pageSize, q.Get("pageToken"))
	if err != nil {
		if errors.Is(err, versionstore.ErrInvalidCursorFormat) {
			writeError(ctx, w, apierror.Wrap(apierror.CodeInvalidScope, "invalid page token", err))

			return
		}
		writeError(ctx, w, err)

		return
	}

	total, err := s.versions.CountVersions(ctx, filter)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	resp := listVersionsResponse{
		Data:          make([]importVersionJSON, 0, len(versions)),
		Total:         total,
		NextPageToken: nil,
	}
	for _, v := range versions {
		resp.Data = append(resp.Data, fromVersionRow(v))
	}
	if nextToken != "" {
		resp.NextPageToken = &nextToken
	}

	writeJSON(ctx, w, http.StatusOK, resp)
}
