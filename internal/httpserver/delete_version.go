package httpserver

import "net/http"

type deleteVersionResponse struct {
	Success bool `json:"success"`
}

// deleteVersion removes a draft. Non-draft versions are immutable
// history and cannot be deleted.
func (s *Server) deleteVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.versions.DeleteDraft(ctx, versionIDParam(r)); err != nil {
		writeError(ctx, w, err)

		return
	}

	writeJSON(ctx, w, http.StatusOK, deleteVersionResponse{Success: true})
}
