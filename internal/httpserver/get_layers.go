package httpserver

import (
	"net/http"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

// getLayers lists the feature layers of a GeoPackage upload.
func (s *Server) getLayers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, err := s.versions.GetVersion(ctx, versionIDParam(r))
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	if domain.FileType(version.FileType) != domain.FileTypeGeoPackage {
		writeError(ctx, w, apierror.New(apierror.CodeUnsupportedFormat,
			"layer listing is only available for GeoPackage uploads"))

		return
	}

	blob, err := s.blobs.Open(ctx, version.UploadHandle)
	if err != nil {
		writeError(ctx, w, apierror.Wrap(apierror.CodeInvalidFile, "opening uploaded file", err))

		return
	}

	probe, err := probeBytes(ctx, domain.FileType(version.FileType), blob.Data)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	layers := make([]layerInfoJSON, 0, len(probe.Layers))
	for _, l := range probe.Layers {
		layers = append(layers, layerInfoJSON{Name: l.Name, FeatureCount: l.FeatureCount, GeometryType: l.GeometryType})
	}

	writeJSON(ctx, w, http.StatusOK, layers)
}
