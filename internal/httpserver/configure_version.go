package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/paulmach/orb"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/crs"
	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/generic"
	"github.com/cityworks/roadimport/internal/versionstore"
)

type configureRequest struct {
	LayerName         generic.OptionallySet[string]  `json:"layerName"`
	SourceCRS         generic.OptionallySet[string]  `json:"sourceCRS"`
	DefaultDataSource generic.OptionallySet[string]  `json:"defaultDataSource"`
	RegionalRefresh   generic.OptionallySet[bool]    `json:"regionalRefresh"`
	ImportScope       generic.OptionallySet[string]  `json:"importScope"`
	SourceExportID    generic.OptionallySet[*string] `json:"sourceExportId"`
}

// configureVersion mutates a draft's configuration. When the request does
// not name an importScope explicitly, the scope is auto-derived from the
// file's bounding box, transformed into storage coordinates.
func (s *Server) configureVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, err := s.versions.GetVersion(ctx, versionIDParam(r))
	if err != nil {
		writeError(ctx, w, err)

		return
	}
	if domain.VersionStatus(version.Status) != domain.VersionStatusDraft {
		writeError(ctx, w, fmt.Errorf("%w: version %q is %q, not draft",
			apierror.ErrInvalidTransition, version.ID, version.Status))

		return
	}

	var req configureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, apierror.Wrap(apierror.CodeInvalidFile, "malformed request body", err))

		return
	}

	input, err := s.buildConfigureInput(r, version, req)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	configured, err := s.versions.ConfigureDraft(ctx, version.ID, input)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	writeJSON(ctx, w, http.StatusOK, fromVersionRow(configured))
}

func (s *Server) buildConfigureInput(
	r *http.Request, version versionstore.ImportVersion, req configureRequest,
) (versionstore.ConfigureDraftInput, error) {
	ctx := r.Context()

	input := versionstore.ConfigureDraftInput{
		LayerName:         req.LayerName,
		SourceCRS:         req.SourceCRS,
		DefaultDataSource: generic.UnsetOpt[domain.DataSource](),
		RegionalRefresh:   req.RegionalRefresh,
		ImportScope:       req.ImportScope,
		SourceExportID:    req.SourceExportID,
	}

	if req.SourceCRS.IsSet && !crs.Recognized(req.SourceCRS.Value) {
		return versionstore.ConfigureDraftInput{}, fmt.Errorf("%w: %q",
			apierror.ErrUnsupportedCRS, req.SourceCRS.Value)
	}

	if req.DefaultDataSource.IsSet {
		ds := domain.DataSource(req.DefaultDataSource.Value)
		switch ds {
		case domain.DataSourceOfficialLedger, domain.DataSourceManual, domain.DataSourceOSMTest:
			input.DefaultDataSource = generic.SetOpt(ds)
		default:
			return versionstore.ConfigureDraftInput{}, apierror.New(apierror.CodeInvalidFile,
				fmt.Sprintf("unknown defaultDataSource %q", req.DefaultDataSource.Value))
		}
	}

	if req.ImportScope.IsSet {
		if _, err := domain.ParseScope(req.ImportScope.Value); err != nil {
			return versionstore.ConfigureDraftInput{}, err
		}
	}

	needProbe := req.LayerName.IsSet && domain.FileType(version.FileType) == domain.FileTypeGeoPackage
	deriveScope := !req.ImportScope.IsSet
	if !needProbe && !deriveScope {
		return input, nil
	}

	blob, err := s.blobs.Open(ctx, version.UploadHandle)
	if err != nil {
		return versionstore.ConfigureDraftInput{}, apierror.Wrap(apierror.CodeInvalidFile, "opening uploaded file", err)
	}
	probe, err := probeBytes(ctx, domain.FileType(version.FileType), blob.Data)
	if err != nil {
		return versionstore.ConfigureDraftInput{}, err
	}

	if needProbe && !layerExists(probe.Layers, req.LayerName.Value) {
		return versionstore.ConfigureDraftInput{}, fmt.Errorf("%w: %q",
			apierror.ErrLayerNotFound, req.LayerName.Value)
	}

	if deriveScope && probe.Bbox != nil {
		sourceCRS := version.SourceCRS
		if req.SourceCRS.IsSet {
			sourceCRS = req.SourceCRS.Value
		}
		scope, err := scopeFromBbox(*probe.Bbox, sourceCRS)
		if err != nil {
			return versionstore.ConfigureDraftInput{}, err
		}
		input.ImportScope = generic.SetOpt(scope.String())
	}

	return input, nil
}

func layerExists(layers []domain.LayerInfo, name string) bool {
	for _, l := range layers {
		if l.Name == name {
			return true
		}
	}

	return false
}

// scopeFromBbox converts a probed bbox (in the upload's source CRS) into
// a bbox-kind scope in storage coordinates.
func scopeFromBbox(box domain.Bbox, sourceCRS string) (domain.Scope, error) {
	if sourceCRS == "" {
		sourceCRS = string(crs.CodeWGS84)
	}

	bound := orb.Bound{
		Min: orb.Point{box.MinLng, box.MinLat},
		Max: orb.Point{box.MaxLng, box.MaxLat},
	}
	transformed, err := crs.TransformBbox(bound, sourceCRS)
	if err != nil {
		return domain.Scope{}, err
	}

	return domain.Scope{
		Kind: domain.ScopeKindBbox,
		Ward: "",
		Box:  domain.BboxFromOrb(transformed),
	}, nil
}
