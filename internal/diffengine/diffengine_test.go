package diffengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityworks/roadimport/internal/diffengine"
	"github.com/cityworks/roadimport/internal/domain"
)

type fakeSource struct {
	roads []domain.Road
}

func (f fakeSource) StreamCurrent(ctx context.Context, _ domain.Scope, _ domain.ComparisonMode, fn func(domain.Road) error) error {
	for _, r := range f.roads {
		if err := fn(r); err != nil {
			return err
		}
	}

	return nil
}

func dsPtr(d domain.DataSource) *domain.DataSource { return &d }

func TestClassifyAddedUpdatedDeactivatedUnchanged(t *testing.T) {
	now := time.Now()
	current := []domain.Road{
		{
			ID:         "row-unchanged-1",
			Identity:   "unchanged-1",
			Geometry:   orb.LineString{{0, 0}, {1, 1}},
			Attributes: domain.AttributeBag{DataSource: dsPtr(domain.DataSourceManual), Passthrough: map[string]any{}},
			DataSource: domain.DataSourceManual,
			ValidFrom:  now,
			Status:     domain.RoadStatusActive,
		},
		{
			ID:         "row-updated-1",
			Identity:   "updated-1",
			Geometry:   orb.LineString{{2, 2}, {3, 3}},
			Attributes: domain.AttributeBag{DataSource: dsPtr(domain.DataSourceManual), Passthrough: map[string]any{}},
			DataSource: domain.DataSourceManual,
			ValidFrom:  now,
			Status:     domain.RoadStatusActive,
		},
		{
			ID:         "row-deactivated-1",
			Identity:   "deactivated-1",
			Geometry:   orb.LineString{{4, 4}, {5, 5}},
			Attributes: domain.AttributeBag{DataSource: dsPtr(domain.DataSourceManual), Passthrough: map[string]any{}},
			DataSource: domain.DataSourceManual,
			ValidFrom:  now,
			Status:     domain.RoadStatusActive,
		},
	}

	imported := []domain.NormalizedFeature{
		{
			Identity:   "unchanged-1",
			Geometry:   orb.LineString{{0, 0}, {1, 1}},
			Attributes: domain.AttributeBag{DataSource: dsPtr(domain.DataSourceManual), Passthrough: map[string]any{}},
		},
		{
			Identity:   "updated-1",
			Geometry:   orb.LineString{{2, 2}, {3, 3.5}},
			Attributes: domain.AttributeBag{DataSource: dsPtr(domain.DataSourceManual), Passthrough: map[string]any{}},
		},
		{
			Identity:   "added-1",
			Geometry:   orb.LineString{{6, 6}, {7, 7}},
			Attributes: domain.AttributeBag{DataSource: dsPtr(domain.DataSourceManual), Passthrough: map[string]any{}},
		},
	}

	scope := domain.Scope{Kind: domain.ScopeKindFull}
	result, err := diffengine.Classify(context.Background(), fakeSource{roads: current}, nil, scope,
		domain.ComparisonModeBbox, true, nil, imported)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Stats.AddedCount)
	assert.Equal(t, 1, result.Stats.UpdatedCount)
	assert.Equal(t, 1, result.Stats.DeactivatedCount)
	assert.Equal(t, 1, result.UnchangedCount)
	assert.False(t, result.PreviewOnlyDeactivation)

	require.Len(t, result.Added, 1)
	assert.Equal(t, "added-1", result.Added[0].Identity)
	require.Len(t, result.Updated, 1)
	assert.Equal(t, "updated-1", result.Updated[0].Identity)
	require.Len(t, result.Deactivated, 1)
	assert.Equal(t, "deactivated-1", result.Deactivated[0].Identity)
	assert.Nil(t, result.Deactivated[0].Before) // removed features keep identity + geometry only
	assert.Nil(t, result.Deactivated[0].After)
}

func TestClassifyPreviewOnlyDeactivationWhenNoRegionalRefresh(t *testing.T) {
	current := []domain.Road{
		{ID: "row-r1", Identity: "r1", Geometry: orb.LineString{{0, 0}, {1, 1}}, Attributes: domain.AttributeBag{Passthrough: map[string]any{}}},
	}
	result, err := diffengine.Classify(context.Background(), fakeSource{roads: current}, nil,
		domain.Scope{Kind: domain.ScopeKindFull}, domain.ComparisonModeBbox, false, nil, nil)
	require.NoError(t, err)
	assert.True(t, result.PreviewOnlyDeactivation)
	assert.Len(t, result.Deactivated, 1)
}

func TestClassifyDuplicateIdentityLastWins(t *testing.T) {
	imported := []domain.NormalizedFeature{
		{Identity: "dup", Geometry: orb.Point{0, 0}, Attributes: domain.AttributeBag{Passthrough: map[string]any{}}},
		{Identity: "dup", Geometry: orb.Point{1, 1}, Attributes: domain.AttributeBag{Passthrough: map[string]any{}}},
	}
	result, err := diffengine.Classify(context.Background(), fakeSource{}, nil, domain.Scope{Kind: domain.ScopeKindFull},
		domain.ComparisonModeBbox, true, nil, imported)
	require.NoError(t, err)
	require.Len(t, result.Added, 1)
	assert.Equal(t, orb.Point{1, 1}, result.Added[0].Geometry)
}

func TestClassifyPreciseModeComparesAgainstExportNotDriftedLive(t *testing.T) {
	// The export the uploader downloaded.
	export := []domain.NormalizedFeature{
		{Identity: "r1", Geometry: orb.LineString{{0, 0}, {1, 1}}, Attributes: domain.AttributeBag{DataSource: dsPtr(domain.DataSourceManual), Passthrough: map[string]any{}}},
		{Identity: "r2", Geometry: orb.LineString{{2, 2}, {3, 3}}, Attributes: domain.AttributeBag{DataSource: dsPtr(domain.DataSourceManual), Passthrough: map[string]any{}}},
	}
	// Live has drifted since that export: r1 moved, r4 appeared.
	live := []domain.Road{
		{ID: "row-r1", Identity: "r1", Geometry: orb.LineString{{0, 0.5}, {1, 1.5}}, Attributes: domain.AttributeBag{DataSource: dsPtr(domain.DataSourceManual), Passthrough: map[string]any{}}, Status: domain.RoadStatusActive},
		{ID: "row-r4", Identity: "r4", Geometry: orb.LineString{{9, 9}, {10, 10}}, Attributes: domain.AttributeBag{DataSource: dsPtr(domain.DataSourceManual), Passthrough: map[string]any{}}, Status: domain.RoadStatusActive},
	}
	// The import is identical to the export.
	imported := []domain.NormalizedFeature{export[0], export[1]}

	exportID := "exports/e1"
	result, err := diffengine.Classify(context.Background(),
		fakeSource{roads: live}, diffengine.NewExportBaseline(export),
		domain.Scope{Kind: domain.ScopeKindFull}, domain.ComparisonModePrecise, true, &exportID, imported)
	require.NoError(t, err)

	// Live drift must not reclassify anything the uploader didn't touch.
	assert.Equal(t, 2, result.UnchangedCount)
	assert.Empty(t, result.Updated)
	assert.Empty(t, result.Added)
	// But a live road absent from the import is still a removal candidate.
	require.Len(t, result.Deactivated, 1)
	assert.Equal(t, "r4", result.Deactivated[0].Identity)
	assert.Equal(t, 2, result.Stats.ScopeCurrentCount)
}
