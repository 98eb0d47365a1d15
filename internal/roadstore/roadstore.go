// Package roadstore is the Road asset store: a single primary store of
// currently and historically valid roads, queried by the diff engine and
// written only by the publisher and rollback engine.
package roadstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/google/uuid"
	"github.com/paulmach/orb/encoding/wkt"
	"google.golang.org/api/iterator"

	"github.com/cityworks/roadimport/internal/domain"
)

// ErrInternalQueryFailure wraps unexpected Spanner failures.
var ErrInternalQueryFailure = errors.New("roadstore: internal spanner query failure")

const roadsTable = "Roads"

type Client struct {
	*spanner.Client
}

func NewClient(spannerClient *spanner.Client) *Client {
	return &Client{spannerClient}
}

// roadRow is the Spanner row shape. Geometry is stored as WKT text (no
// Spanner GEOGRAPHY support is assumed here, matching a portable schema);
// attributes are stored as a JSON blob since AttributeBag has an open
// passthrough map that doesn't fit fixed columns well.
type roadRow struct {
	ID             string     `spanner:"Id"`
	Identity       string     `spanner:"Identity"`
	GeometryWKT    string     `spanner:"GeometryWkt"`
	AttributesJSON string     `spanner:"AttributesJson"`
	DataSource     string     `spanner:"DataSource"`
	ValidFrom      time.Time  `spanner:"ValidFrom"`
	ValidTo        *time.Time `spanner:"ValidTo"`
	Status         string     `spanner:"Status"`
	ReplacedBy     *string    `spanner:"ReplacedBy"`
	MinX           float64    `spanner:"MinX"`
	MinY           float64    `spanner:"MinY"`
	MaxX           float64    `spanner:"MaxX"`
	MaxY           float64    `spanner:"MaxY"`
}

func toRow(r domain.Road) (roadRow, error) {
	attrsJSON, err := json.Marshal(r.Attributes)
	if err != nil {
		return roadRow{}, fmt.Errorf("roadstore: marshal attributes: %w", err)
	}
	bound := r.Geometry.Bound()

	return roadRow{
		ID:             r.ID,
		Identity:       r.Identity,
		GeometryWKT:    wkt.MarshalString(r.Geometry),
		AttributesJSON: string(attrsJSON),
		DataSource:     string(r.DataSource),
		ValidFrom:      r.ValidFrom,
		ValidTo:        r.ValidTo,
		Status:         string(r.Status),
		ReplacedBy:     r.ReplacedBy,
		MinX:           bound.Min.X(),
		MinY:           bound.Min.Y(),
		MaxX:           bound.Max.X(),
		MaxY:           bound.Max.Y(),
	}, nil
}

func fromRow(row roadRow) (domain.Road, error) {
	geom, err := wkt.Unmarshal(row.GeometryWKT)
	if err != nil {
		return domain.Road{}, fmt.Errorf("roadstore: unmarshal geometry: %w", err)
	}

	var attrs domain.AttributeBag
	if err := json.Unmarshal([]byte(row.AttributesJSON), &attrs); err != nil {
		return domain.Road{}, fmt.Errorf("roadstore: unmarshal attributes: %w", err)
	}

	return domain.Road{
		ID:         row.ID,
		Identity:   row.Identity,
		Geometry:   geom,
		Attributes: attrs,
		DataSource: domain.DataSource(row.DataSource),
		ValidFrom:  row.ValidFrom,
		ValidTo:    row.ValidTo,
		Status:     domain.RoadStatus(row.Status),
		ReplacedBy: row.ReplacedBy,
	}, nil
}

// StreamCurrent implements diffengine.CurrentRoadSource: it always
// streams the live active roads within scope, using the bbox index
// columns for spatial scopes. In precise mode the diff engine compares
// equality against an export baseline supplied by the caller; this stream
// then only feeds deactivation candidates and the scope count.
func (c *Client) StreamCurrent(ctx context.Context, scope domain.Scope, _ domain.ComparisonMode, fn func(domain.Road) error) error {
	sql := `SELECT Id, Identity, GeometryWkt, AttributesJson, DataSource, ValidFrom, ValidTo, Status, ReplacedBy,
	               MinX, MinY, MaxX, MaxY
	        FROM Roads WHERE Status = "active"`
	params := map[string]interface{}{}

	if scope.Kind == domain.ScopeKindBbox {
		sql += ` AND MaxX >= @minX AND MinX <= @maxX AND MaxY >= @minY AND MinY <= @maxY`
		params["minX"] = scope.Box.MinLng
		params["maxX"] = scope.Box.MaxLng
		params["minY"] = scope.Box.MinLat
		params["maxY"] = scope.Box.MaxLat
	}
	if scope.Kind == domain.ScopeKindWard {
		sql += ` AND JSON_VALUE(AttributesJson, "$.Ward") = @ward`
		params["ward"] = scope.Ward
	}

	it := c.Single().Query(ctx, spanner.Statement{SQL: sql, Params: params})
	defer it.Stop()

	for {
		row, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return errors.Join(ErrInternalQueryFailure, err)
		}

		var rr roadRow
		if err := row.ToStruct(&rr); err != nil {
			return errors.Join(ErrInternalQueryFailure, err)
		}
		road, err := fromRow(rr)
		if err != nil {
			return err
		}
		if err := fn(road); err != nil {
			return err
		}
	}
}

// ApplyDiff writes added/updated/deactivated roads from a DiffResult in
// a single transaction, the apply step of a publish: added rows are
// inserted fresh; updated identities get a soft-update
// (the prior active row is closed out with validTo/replacedBy, a new row
// takes over as active); deactivated identities are closed out in place
// only when regionalRefresh is set, otherwise left untouched (advisory).
func (c *Client) ApplyDiff(ctx context.Context, asOf time.Time, diff domain.DiffResult) error {
	_, err := c.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		var muts []*spanner.Mutation

		for _, f := range diff.Added {
			newID := uuid.NewString()

			// A precise-mode diff can add an identity that some other
			// publish already created live; close that row out first so an
			// identity never holds two active rows.
			closeMut, err := closeActiveRow(ctx, txn, f.Identity, asOf, newID)
			if err != nil {
				return err
			}
			if closeMut != nil {
				muts = append(muts, closeMut)
			}

			row, err := toRow(domain.Road{
				ID: newID, Identity: f.Identity, Geometry: f.Geometry, Attributes: *f.After,
				DataSource: dataSourceOf(f.After), ValidFrom: asOf, ValidTo: nil,
				Status: domain.RoadStatusActive, ReplacedBy: nil,
			})
			if err != nil {
				return err
			}
			m, err := spanner.InsertStruct(roadsTable, row)
			if err != nil {
				return errors.Join(ErrInternalQueryFailure, err)
			}
			muts = append(muts, m)
		}

		for _, f := range diff.Updated {
			newID := uuid.NewString()

			closeMut, err := closeActiveRow(ctx, txn, f.Identity, asOf, newID)
			if err != nil {
				return err
			}

			newRow, err := toRow(domain.Road{
				ID: newID, Identity: f.Identity, Geometry: f.Geometry, Attributes: *f.After,
				DataSource: dataSourceOf(f.After), ValidFrom: asOf, ValidTo: nil,
				Status: domain.RoadStatusActive, ReplacedBy: nil,
			})
			if err != nil {
				return err
			}
			if closeMut != nil {
				muts = append(muts, closeMut)
			}

			insertMut, err := spanner.InsertStruct(roadsTable, newRow)
			if err != nil {
				return errors.Join(ErrInternalQueryFailure, err)
			}
			muts = append(muts, insertMut)
		}

		if diff.RegionalRefresh {
			for _, f := range diff.Deactivated {
				closeMut, err := closeActiveRow(ctx, txn, f.Identity, asOf, "")
				if err != nil {
					return err
				}
				if closeMut != nil {
					muts = append(muts, closeMut)
				}
			}
		}

		return txn.BufferWrite(muts)
	})
	if err != nil {
		return errors.Join(ErrInternalQueryFailure, err)
	}

	return nil
}

// closeActiveRow finds the current active row for identity and returns a
// mutation closing it out (validTo=asOf, status=inactive, replacedBy).
// Returns a nil mutation if no active row exists (the identity is new, or
// was already closed by an earlier step in the same diff).
func closeActiveRow(ctx context.Context, txn *spanner.ReadWriteTransaction, identity string, asOf time.Time, replacedBy string) (*spanner.Mutation, error) {
	stmt := spanner.Statement{
		SQL: `SELECT Id, Identity, GeometryWkt, AttributesJson, DataSource, ValidFrom, ValidTo, Status, ReplacedBy,
		             MinX, MinY, MaxX, MaxY
		      FROM Roads WHERE Identity = @identity AND Status = "active" LIMIT 1`,
		Params: map[string]interface{}{"identity": identity},
	}
	it := txn.Query(ctx, stmt)
	defer it.Stop()

	row, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrInternalQueryFailure, err)
	}

	var existing roadRow
	if err := row.ToStruct(&existing); err != nil {
		return nil, errors.Join(ErrInternalQueryFailure, err)
	}

	existing.ValidTo = &asOf
	existing.Status = string(domain.RoadStatusInactive)
	if replacedBy != "" {
		existing.ReplacedBy = &replacedBy
	}

	m, err := spanner.InsertOrUpdateStruct(roadsTable, existing)
	if err != nil {
		return nil, errors.Join(ErrInternalQueryFailure, err)
	}

	return m, nil
}

func dataSourceOf(bag *domain.AttributeBag) domain.DataSource {
	if bag != nil && bag.DataSource != nil {
		return *bag.DataSource
	}

	return domain.DataSourceManual
}
