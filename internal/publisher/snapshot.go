package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/cityworks/roadimport/internal/domain"
)

// snapshotRoad is the canonical, stable-sorted serialization of one
// active road: identity, geometry in 4326, attributes, ward tag. It
// deliberately omits the row ID: a snapshot restores identities, not
// specific row revisions.
type snapshotRoad struct {
	Identity    string              `json:"identity"`
	GeometryWKT string              `json:"geometryWkt"`
	Attributes  domain.AttributeBag `json:"attributes"`
	Ward        *string             `json:"ward,omitempty"`
}

// RoadStreamer is the subset of roadstore.Client the snapshot step needs.
type RoadStreamer interface {
	StreamCurrent(ctx context.Context, scope domain.Scope, mode domain.ComparisonMode, fn func(domain.Road) error) error
}

// buildSnapshot serializes every active road in scope into the canonical
// snapshot form, sorted by identity for a deterministic, content-addressed
// byte sequence (two snapshots of the same live state hash identically).
func buildSnapshot(ctx context.Context, roads RoadStreamer, scope domain.Scope) ([]byte, error) {
	var rows []snapshotRoad
	err := roads.StreamCurrent(ctx, scope, domain.ComparisonModePrecise, func(r domain.Road) error {
		rows = append(rows, snapshotRoad{
			Identity:    r.Identity,
			GeometryWKT: wkt.MarshalString(r.Geometry),
			Attributes:  r.Attributes,
			Ward:        r.Attributes.Ward,
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("publisher: streaming current roads for snapshot: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Identity < rows[j].Identity })

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(rows); err != nil {
		return nil, fmt.Errorf("publisher: encoding snapshot: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeSnapshot parses a snapshot blob back into its rows, used by the
// Rollback Engine to reconcile a restored snapshot against live state.
func DecodeSnapshot(data []byte) ([]domain.NormalizedFeature, error) {
	var rows []snapshotRoad
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("publisher: decoding snapshot: %w", err)
	}

	out := make([]domain.NormalizedFeature, 0, len(rows))
	for _, row := range rows {
		geom, err := wkt.Unmarshal(row.GeometryWKT)
		if err != nil {
			return nil, fmt.Errorf("publisher: decoding snapshot geometry for %q: %w", row.Identity, err)
		}
		out = append(out, domain.NormalizedFeature{
			Identity:   row.Identity,
			Geometry:   geom,
			Attributes: row.Attributes,
		})
	}

	return out, nil
}
