package georeader

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver, side-effect import
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
)

// gpkgMagic is the two-byte "GP" that opens every GeoPackageBinary blob
// (OGC GeoPackage spec §2.1.3).
var gpkgMagic = [2]byte{0x47, 0x50}

type geoPackageReader struct {
	db     *sqlx.DB
	tables map[string]gpkgContentsRow
}

type gpkgContentsRow struct {
	TableName    string   `db:"table_name"`
	GeometryCol  string   `db:"column_name"`
	GeometryType string   `db:"geometry_type_name"`
	MinX         *float64 `db:"min_x"`
	MinY         *float64 `db:"min_y"`
	MaxX         *float64 `db:"max_x"`
	MaxY         *float64 `db:"max_y"`
}

func openGeoPackage(path string) (Reader, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierror.New(apierror.CodeInvalidFile, "could not open GeoPackage"), err)
	}

	tables, err := readContents(db)
	if err != nil {
		db.Close()

		return nil, err
	}

	return &geoPackageReader{db: db, tables: tables}, nil
}

func readContents(db *sqlx.DB) (map[string]gpkgContentsRow, error) {
	const query = `
SELECT gc.table_name, gc.min_x, gc.min_y, gc.max_x, gc.max_y,
       gcg.column_name, gcg.geometry_type_name
FROM gpkg_contents gc
JOIN gpkg_geometry_columns gcg ON gcg.table_name = gc.table_name
WHERE gc.data_type = 'features'`

	rows := []gpkgContentsRow{}
	if err := db.Select(&rows, query); err != nil {
		return nil, fmt.Errorf("%w: %v", apierror.New(apierror.CodeCorruptedGeometry, "GeoPackage missing required metadata tables"), err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no feature layers found in GeoPackage", apierror.New(apierror.CodeLayerNotFound, ""))
	}

	out := make(map[string]gpkgContentsRow, len(rows))
	for _, r := range rows {
		out[r.TableName] = r
	}

	return out, nil
}

func (r *geoPackageReader) Probe(ctx context.Context) (domain.ProbeResult, error) {
	layers := make([]domain.LayerInfo, 0, len(r.tables))
	total := 0
	var overall orb.Bound
	haveBound := false

	for name, table := range r.tables {
		var count int
		// nolint:gosec // table name comes from the file's own sqlite_master/gpkg_contents catalog, not user input
		if err := r.db.GetContext(ctx, &count, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, name)); err != nil {
			return domain.ProbeResult{}, fmt.Errorf("%w: %v", apierror.New(apierror.CodeCorruptedGeometry, "failed to count features"), err)
		}
		total += count
		layers = append(layers, domain.LayerInfo{Name: name, FeatureCount: count, GeometryType: table.GeometryType})

		if table.MinX != nil && table.MinY != nil && table.MaxX != nil && table.MaxY != nil {
			b := orb.Bound{Min: orb.Point{*table.MinX, *table.MinY}, Max: orb.Point{*table.MaxX, *table.MaxY}}
			if !haveBound {
				overall = b
				haveBound = true
			} else {
				overall = overall.Union(b)
			}
		}
	}

	result := domain.ProbeResult{FeatureCount: total, Layers: layers, Bbox: nil}
	if haveBound {
		result.Bbox = boundToInfo(overall)
	}

	return result, nil
}

func (r *geoPackageReader) Stream(ctx context.Context, layer string, fn func(domain.RawFeature) error) error {
	table, ok := r.tables[layer]
	if !ok {
		return fmt.Errorf("%w: %q", apierror.ErrLayerNotFound, layer)
	}

	// nolint:gosec // table/column names come from the file's own catalog tables, not user input
	query := fmt.Sprintf(`SELECT * FROM "%s"`, table.TableName)
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: %v", apierror.New(apierror.CodeCorruptedGeometry, "failed to query feature table"), err)
	}
	defer rows.Close()

	idx := 0
	for rows.Next() {
		cols, err := rows.SliceScan()
		if err != nil {
			return fmt.Errorf("%w: %v", apierror.New(apierror.CodeCorruptedGeometry, "failed to scan row"), err)
		}
		colNames, err := rows.Columns()
		if err != nil {
			return err
		}

		raw, err := rowToFeature(idx, colNames, cols, table.GeometryCol)
		if err != nil {
			return err
		}

		if err := fn(raw); err != nil {
			return err
		}
		idx++
	}

	return rows.Err()
}

func rowToFeature(idx int, colNames []string, cols []any, geomCol string) (domain.RawFeature, error) {
	props := make(map[string]any, len(colNames))
	var geomBytes []byte

	for i, name := range colNames {
		if name == geomCol {
			if b, ok := cols[i].([]byte); ok {
				geomBytes = b
			}

			continue
		}
		props[name] = cols[i]
	}

	geom, err := decodeGpkgGeometry(geomBytes)
	if err != nil {
		return domain.RawFeature{}, err
	}

	var topID *string
	if v, ok := stringProp(props, "fid"); ok {
		topID = &v
	}

	return domain.RawFeature{
		Index:      idx,
		ID:         resolveIdentity(topID, props),
		Geometry:   geom,
		Properties: props,
	}, nil
}

// decodeGpkgGeometry strips the GeoPackageBinary envelope (magic, version,
// flags, optional SRS-aware envelope, each per the OGC GeoPackage spec)
// and decodes the remaining WKB body with orb's WKB decoder.
func decodeGpkgGeometry(b []byte) (orb.Geometry, error) {
	if len(b) < 8 || b[0] != gpkgMagic[0] || b[1] != gpkgMagic[1] {
		return nil, fmt.Errorf("%w: missing GeoPackage binary magic", apierror.New(apierror.CodeCorruptedGeometry, ""))
	}

	flags := b[3]
	envelopeCode := (flags >> 1) & 0x07

	envelopeLen, err := envelopeByteLength(envelopeCode)
	if err != nil {
		return nil, err
	}

	wkbStart := 8 + envelopeLen
	if len(b) < wkbStart {
		return nil, fmt.Errorf("%w: truncated GeoPackage binary header", apierror.New(apierror.CodeCorruptedGeometry, ""))
	}

	geom, err := wkb.Unmarshal(b[wkbStart:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierror.New(apierror.CodeCorruptedGeometry, "invalid WKB geometry"), err)
	}

	return geom, nil
}

func envelopeByteLength(code byte) (int, error) {
	switch code {
	case 0:
		return 0, nil
	case 1:
		return 32, nil // minx,maxx,miny,maxy
	case 2, 3:
		return 48, nil // + z (code 2) or + m (code 3)
	case 4:
		return 64, nil // + z + m
	default:
		return 0, fmt.Errorf("%w: unknown envelope indicator %d", apierror.New(apierror.CodeCorruptedGeometry, ""), code)
	}
}

func (r *geoPackageReader) Close() error {
	return r.db.Close()
}
