// Package domain holds the value types shared across the import
// pipeline: the wire shape of a feature as read off disk, the normalized
// shape used for diffing, and the pipeline's closed enums.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/cityworks/roadimport/internal/apierror"
)

// FileType is the uploaded file's format.
type FileType string

const (
	FileTypeGeoJSON    FileType = "geojson"
	FileTypeGeoPackage FileType = "geopackage"
)

// DataSource is the provenance tag carried on every road.
type DataSource string

const (
	DataSourceOfficialLedger DataSource = "official_ledger"
	DataSourceManual         DataSource = "manual"
	DataSourceOSMTest        DataSource = "osm_test"
)

// VersionStatus is the ImportVersion lifecycle state.
type VersionStatus string

const (
	VersionStatusDraft      VersionStatus = "draft"
	VersionStatusPublished  VersionStatus = "published"
	VersionStatusArchived   VersionStatus = "archived"
	VersionStatusRolledBack VersionStatus = "rolledBack"
)

// JobType identifies which pipeline stage an ImportJob runs.
type JobType string

const (
	JobTypeValidation JobType = "validation"
	JobTypePublish    JobType = "publish"
	JobTypeRollback   JobType = "rollback"
)

// JobStatus is the ImportJob lifecycle state.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// RoadStatus mirrors the external Road table's status column.
type RoadStatus string

const (
	RoadStatusActive   RoadStatus = "active"
	RoadStatusInactive RoadStatus = "inactive"
)

// ComparisonMode is how the Diff Engine derived its "current" set.
type ComparisonMode string

const (
	ComparisonModePrecise ComparisonMode = "precise"
	ComparisonModeBbox    ComparisonMode = "bbox"
)

// ScopeKind distinguishes the three importScope string shapes.
type ScopeKind string

const (
	ScopeKindFull ScopeKind = "full"
	ScopeKindWard ScopeKind = "ward"
	ScopeKindBbox ScopeKind = "bbox"
)

// Bbox is a WGS84 axis-aligned bounding box, lon/lat, degrees.
type Bbox struct {
	MinLng, MinLat, MaxLng, MaxLat float64
}

// Scope is the parsed form of the importScope string.
type Scope struct {
	Kind ScopeKind
	Ward string
	Box  Bbox
}

// ParseScope parses the canonical importScope string format.
func ParseScope(s string) (Scope, error) {
	switch {
	case s == string(ScopeKindFull):
		return Scope{Kind: ScopeKindFull}, nil
	case strings.HasPrefix(s, "ward:"):
		name := strings.TrimPrefix(s, "ward:")
		if name == "" {
			return Scope{}, fmt.Errorf("%w: empty ward name", apierror.ErrInvalidScope)
		}

		return Scope{Kind: ScopeKindWard, Ward: name}, nil
	case strings.HasPrefix(s, "bbox:"):
		box, err := parseBboxLiteral(strings.TrimPrefix(s, "bbox:"))
		if err != nil {
			return Scope{}, err
		}

		return Scope{Kind: ScopeKindBbox, Box: box}, nil
	default:
		return Scope{}, fmt.Errorf("%w: %q", apierror.ErrInvalidScope, s)
	}
}

func parseBboxLiteral(s string) (Bbox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bbox{}, fmt.Errorf("%w: bbox requires 4 values, got %d", apierror.ErrInvalidScope, len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return Bbox{}, fmt.Errorf("%w: bbox value %q: %v", apierror.ErrInvalidScope, p, err)
		}
		vals[i] = v
	}

	return Bbox{MinLng: vals[0], MinLat: vals[1], MaxLng: vals[2], MaxLat: vals[3]}, nil
}

// String renders the scope back into the canonical persisted/API form.
func (s Scope) String() string {
	switch s.Kind {
	case ScopeKindFull:
		return "full"
	case ScopeKindWard:
		return "ward:" + s.Ward
	case ScopeKindBbox:
		return fmt.Sprintf("bbox:%s,%s,%s,%s",
			trimFloat(s.Box.MinLng), trimFloat(s.Box.MinLat), trimFloat(s.Box.MaxLng), trimFloat(s.Box.MaxLat))
	default:
		return ""
	}
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// BboxFromOrb converts an orb.Bound into our wire Bbox type.
func BboxFromOrb(b orb.Bound) Bbox {
	return Bbox{MinLng: b.Min.X(), MinLat: b.Min.Y(), MaxLng: b.Max.X(), MaxLat: b.Max.Y()}
}

// RawFeature is what the Geo Reader streams: geometry in source CRS,
// properties verbatim, identity not yet resolved against the store.
type RawFeature struct {
	Index      int
	ID         *string
	Geometry   orb.Geometry
	Properties map[string]any
}

// AttributeBag is the recognized attributes plus a passthrough map; diff
// equality only consults the recognized keys and the passthrough bag.
type AttributeBag struct {
	DataSource  *DataSource
	LaneCount   *int
	Ward        *string
	Passthrough map[string]any
}

// NormalizedFeature is a RawFeature after identity resolution, CRS
// transform to storage SRID, and attribute typing.
type NormalizedFeature struct {
	Identity         string
	AutoGeneratedID  bool
	Geometry         orb.Geometry // storage SRID (4326)
	Attributes       AttributeBag
	SourceDataSource *DataSource // nil if the feature carried none
}

// LayerInfo describes one layer found by Geo Reader.probe.
type LayerInfo struct {
	Name         string
	FeatureCount int
	GeometryType string
}

// ProbeResult is what Geo Reader.probe returns.
type ProbeResult struct {
	FeatureCount int
	Bbox         *Bbox
	Layers       []LayerInfo
}

// ValidationError (and the identically-shaped Warning) records one
// per-feature problem found by the Validator.
type ValidationError struct {
	FeatureIndex int
	FeatureID    *string
	Field        string
	Error        string
	Hint         string
}

type ValidationWarning struct {
	FeatureIndex int
	FeatureID    *string
	Field        string
	Warning      string
	Hint         string
}

// ValidationResult is persisted per version.
type ValidationResult struct {
	FeatureCount           int
	Errors                 []ValidationError
	Warnings               []ValidationWarning
	MissingIDCount         int
	MissingDataSourceCount int
	GeometryTypes          []string
}

// Blocking reports whether this result blocks a publish.
func (v ValidationResult) Blocking() bool {
	return len(v.Errors) > 0
}

// DiffFeature is one added/updated entry in a DiffResult; deactivated
// entries persist only identity + geometry.
type DiffFeature struct {
	Identity string
	Geometry orb.Geometry
	Before   *AttributeBag // set only for "updated"
	After    *AttributeBag // nil for "deactivated"
}

// DiffStats is the numeric summary of a DiffResult.
type DiffStats struct {
	ScopeCurrentCount int
	ImportCount       int
	AddedCount        int
	UpdatedCount      int
	DeactivatedCount  int
}

// DiffResult is the change set a publish would apply (or did apply).
type DiffResult struct {
	Scope           string
	RegionalRefresh bool
	ComparisonMode  ComparisonMode
	SourceExportID  *string
	Added           []DiffFeature
	Updated         []DiffFeature
	Deactivated     []DiffFeature
	UnchangedCount  int
	Stats           DiffStats
	// PreviewOnlyDeactivation marks that Deactivated is advisory only
	// (regionalRefresh=false): the publisher will not apply it.
	PreviewOnlyDeactivation bool
}

// Road is the asset this pipeline reads and writes. ID is the storage
// row's own key (one per revision); Identity is the stable external key
// carried across revisions. Only one row per Identity is ever
// Status=active at a time.
type Road struct {
	ID         string
	Identity   string
	Geometry   orb.Geometry
	Attributes AttributeBag
	DataSource DataSource
	ValidFrom  time.Time
	ValidTo    *time.Time
	Status     RoadStatus
	ReplacedBy *string
}
