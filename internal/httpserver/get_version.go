package httpserver

import "net/http"

// getVersion serves a single version by id.
func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, err := s.versions.GetVersion(ctx, versionIDParam(r))
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	writeJSON(ctx, w, http.StatusOK, fromVersionRow(version))
}
