package httpserver

import (
	"time"

	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/versionstore"
)

// importVersionJSON is the API shape of an ImportVersion row.
type importVersionJSON struct {
	ID                string     `json:"id"`
	VersionNumber     int64      `json:"versionNumber"`
	Status            string     `json:"status"`
	FileName          string     `json:"fileName"`
	FileType          string     `json:"fileType"`
	FileRef           string     `json:"fileRef"`
	LayerName         *string    `json:"layerName,omitempty"`
	SourceCRS         *string    `json:"sourceCRS,omitempty"`
	DefaultDataSource string     `json:"defaultDataSource"`
	RegionalRefresh   bool       `json:"regionalRefresh"`
	ImportScope       string     `json:"importScope"`
	FeatureCount      int64      `json:"featureCount"`
	SourceExportID    *string    `json:"sourceExportId,omitempty"`
	SnapshotRef       *string    `json:"snapshotRef,omitempty"`
	DiffRef           *string    `json:"diffRef,omitempty"`
	AddedCount        *int64     `json:"addedCount,omitempty"`
	UpdatedCount      *int64     `json:"updatedCount,omitempty"`
	DeactivatedCount  *int64     `json:"deactivatedCount,omitempty"`
	UploadedAt        time.Time  `json:"uploadedAt"`
	PublishedAt       *time.Time `json:"publishedAt,omitempty"`
	ArchivedAt        *time.Time `json:"archivedAt,omitempty"`
	RolledBackAt      *time.Time `json:"rolledBackAt,omitempty"`
	RolledBackFrom    *string    `json:"rolledBackFrom,omitempty"`
}

func fromVersionRow(v versionstore.ImportVersion) importVersionJSON {
	out := importVersionJSON{
		ID:                v.ID,
		VersionNumber:     v.VersionNumber,
		Status:            v.Status,
		FileName:          v.FileName,
		FileType:          v.FileType,
		FileRef:           v.UploadHandle,
		LayerName:         nil,
		SourceCRS:         nil,
		DefaultDataSource: v.DefaultDataSrc,
		RegionalRefresh:   v.RegionalRefresh,
		ImportScope:       v.ImportScope,
		FeatureCount:      v.FeatureCount,
		SourceExportID:    v.SourceExportID,
		SnapshotRef:       nil,
		DiffRef:           nil,
		AddedCount:        nil,
		UpdatedCount:      nil,
		DeactivatedCount:  nil,
		UploadedAt:        v.CreatedAt,
		PublishedAt:       v.PublishedAt,
		ArchivedAt:        v.ArchivedAt,
		RolledBackAt:      v.RolledBackAt,
		RolledBackFrom:    v.RolledBackFrom,
	}
	if v.LayerName != "" {
		out.LayerName = &v.LayerName
	}
	if v.SourceCRS != "" {
		out.SourceCRS = &v.SourceCRS
	}
	if v.SnapshotHandle != "" {
		out.SnapshotRef = &v.SnapshotHandle
	}
	if v.DiffHandle != "" {
		out.DiffRef = &v.DiffHandle
		added, updated, deactivated := v.AddedCount, v.UpdatedCount, v.DeactivatedCount
		out.AddedCount = &added
		out.UpdatedCount = &updated
		out.DeactivatedCount = &deactivated
	}

	return out
}

// importJobJSON is the API shape of an ImportJob row, the polling
// contract clients observe.
type importJobJSON struct {
	ID           string     `json:"id"`
	VersionID    string     `json:"versionId"`
	JobType      string     `json:"jobType"`
	Status       string     `json:"status"`
	Progress     int64      `json:"progress"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

func fromJobRow(j versionstore.ImportJob) importJobJSON {
	out := importJobJSON{
		ID:           j.ID,
		VersionID:    j.VersionID,
		JobType:      j.Type,
		Status:       j.Status,
		Progress:     j.ProgressPercent,
		ErrorMessage: nil,
		StartedAt:    j.CreatedAt,
		CompletedAt:  nil,
	}
	switch domain.JobStatus(j.Status) {
	case domain.JobStatusCompleted:
		completed := j.UpdatedAt
		out.CompletedAt = &completed
	case domain.JobStatusFailed:
		completed := j.UpdatedAt
		out.CompletedAt = &completed
		if j.Message != "" {
			msg := j.Message
			out.ErrorMessage = &msg
		}
	case domain.JobStatusPending, domain.JobStatusRunning:
	}

	return out
}

// layerInfoJSON is the API shape of one GeoPackage layer.
type layerInfoJSON struct {
	Name         string `json:"name"`
	FeatureCount int    `json:"featureCount"`
	GeometryType string `json:"geometryType"`
}
