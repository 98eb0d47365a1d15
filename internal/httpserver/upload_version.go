package httpserver

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/blobstore"
	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/generic"
	"github.com/cityworks/roadimport/internal/versionstore"
)

const maxUploadMemory = 64 << 20

// uploadVersion accepts a multipart file, probes it, stores the bytes in
// the blob store and creates a draft ImportVersion.
func (s *Server) uploadVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(ctx, w, apierror.Wrap(apierror.CodeInvalidFile, "malformed multipart request", err))

		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(ctx, w, apierror.Wrap(apierror.CodeInvalidFile, `missing "file" form field`, err))

		return
	}
	defer file.Close()

	fileType, err := fileTypeFromName(header.Filename)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(ctx, w, apierror.Wrap(apierror.CodeInvalidFile, "reading upload body", err))

		return
	}

	probe, err := probeBytes(ctx, fileType, data)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	handle, err := s.blobs.Put(ctx, blobstore.KindUpload, data)
	if err != nil {
		writeError(ctx, w, apierror.Wrap(apierror.CodeInternal, "storing upload", err))

		return
	}

	version, err := s.versions.CreateDraft(ctx, header.Filename, fileType, handle, probe.FeatureCount)
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	if err := s.versions.RecordBlobHandle(ctx, version.ID, blobstore.KindUpload, handle); err != nil {
		writeError(ctx, w, err)

		return
	}

	// A single-layer GeoPackage auto-selects its only layer.
	if fileType == domain.FileTypeGeoPackage && len(probe.Layers) == 1 {
		configured, err := s.versions.ConfigureDraft(ctx, version.ID, versionstore.ConfigureDraftInput{
			LayerName:         generic.SetOpt(probe.Layers[0].Name),
			SourceCRS:         generic.UnsetOpt[string](),
			DefaultDataSource: generic.UnsetOpt[domain.DataSource](),
			RegionalRefresh:   generic.UnsetOpt[bool](),
			ImportScope:       generic.UnsetOpt[string](),
			SourceExportID:    generic.UnsetOpt[*string](),
		})
		if err != nil {
			writeError(ctx, w, err)

			return
		}
		version = configured
	}

	writeJSON(ctx, w, http.StatusOK, fromVersionRow(version))
}

func fileTypeFromName(name string) (domain.FileType, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".geojson", ".json":
		return domain.FileTypeGeoJSON, nil
	case ".gpkg", ".geopackage":
		return domain.FileTypeGeoPackage, nil
	default:
		return "", apierror.New(apierror.CodeUnsupportedFormat,
			"only GeoJSON (.geojson/.json) and GeoPackage (.gpkg) uploads are supported")
	}
}

func versionIDParam(r *http.Request) string {
	return chi.URLParam(r, "versionId")
}
