package versionstore

import (
	"time"

	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/generic"
)

// ImportVersion is the Spanner row shape for one uploaded dataset version.
type ImportVersion struct {
	ID               string     `spanner:"Id"`
	VersionNumber    int64      `spanner:"VersionNumber"`
	Status           string     `spanner:"Status"`
	FileName         string     `spanner:"FileName"`
	FileType         string     `spanner:"FileType"`
	SourceCRS        string     `spanner:"SourceCrs"`
	LayerName        string     `spanner:"LayerName"`
	DefaultDataSrc   string     `spanner:"DefaultDataSource"`
	RegionalRefresh  bool       `spanner:"RegionalRefresh"`
	ImportScope      string     `spanner:"ImportScope"`
	FeatureCount     int64      `spanner:"FeatureCount"`
	SourceExportID   *string    `spanner:"SourceExportId"`
	UploadHandle     string     `spanner:"UploadHandle"`
	SnapshotHandle   string     `spanner:"SnapshotHandle"`
	DiffHandle       string     `spanner:"DiffHandle"`
	AddedCount       int64      `spanner:"AddedCount"`
	UpdatedCount     int64      `spanner:"UpdatedCount"`
	DeactivatedCount int64      `spanner:"DeactivatedCount"`
	CreatedAt        time.Time  `spanner:"CreatedAt"`
	PublishedAt      *time.Time `spanner:"PublishedAt"`
	ArchivedAt       *time.Time `spanner:"ArchivedAt"`
	RolledBackAt     *time.Time `spanner:"RolledBackAt"`
	RolledBackFrom   *string    `spanner:"RolledBackFrom"`
}

// ImportJob is the Spanner row shape for one asynchronous operation.
type ImportJob struct {
	ID              string    `spanner:"Id"`
	VersionID       string    `spanner:"VersionId"`
	Type            string    `spanner:"Type"`
	Status          string    `spanner:"Status"`
	ProgressPercent int64     `spanner:"ProgressPercent"`
	Message         string    `spanner:"Message"`
	CreatedAt       time.Time `spanner:"CreatedAt"`
	UpdatedAt       time.Time `spanner:"UpdatedAt"`
}

func (j ImportJob) isTerminal() bool {
	return domain.JobStatus(j.Status) == domain.JobStatusCompleted || domain.JobStatus(j.Status) == domain.JobStatusFailed
}

// ConfigureDraftInput carries the optionally-set fields of a configure
// request; generic.OptionallySet lets the handler distinguish "omitted"
// from "explicit zero value".
type ConfigureDraftInput struct {
	LayerName         generic.OptionallySet[string]
	SourceCRS         generic.OptionallySet[string]
	DefaultDataSource generic.OptionallySet[domain.DataSource]
	RegionalRefresh   generic.OptionallySet[bool]
	ImportScope       generic.OptionallySet[string]
	SourceExportID    generic.OptionallySet[*string]
}
