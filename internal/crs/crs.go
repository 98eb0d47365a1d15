// Package crs transforms geometry between the small, closed set of
// coordinate reference systems this pipeline recognizes and the storage
// SRID (WGS84 / EPSG:4326). EPSG:4326 is treated as lon/lat throughout,
// matching the GeoJSON/CRS84 convention rather than the registry's formal
// lat/lon axis order.
//
// The transforms are hand-rolled: a PROJ binding would drag cgo into the
// build for a handful of fixed, well-known projections.
package crs

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/cityworks/roadimport/internal/apierror"
)

// Code identifies one of the recognized input CRSes.
type Code string

const (
	// CodeWGS84 is EPSG:4326 / OGC CRS84 (lon, lat degrees) — the storage CRS.
	CodeWGS84 Code = "EPSG:4326"
	// CodeCRS84 is the axis-order alias OGC:CRS84 (lon, lat order, same datum
	// as EPSG:4326 which GeoJSON almost always uses).
	CodeCRS84 Code = "OGC:CRS84"
	// CodeWebMercator is EPSG:3857, commonly produced by map-authoring tools.
	CodeWebMercator Code = "EPSG:3857"
	// CodeJGD2011Zone9 is EPSG:6677, a representative JGD2011 plane
	// rectangular coordinate zone (Tokyo area, zone IX) some municipal
	// exports use.
	CodeJGD2011Zone9 Code = "EPSG:6677"
)

// StorageSRID is the CRS every NormalizedFeature is transformed into.
const StorageSRID = CodeWGS84

const earthRadiusMeters = 6378137.0

// jgd2011Zone9Origin is the false origin of EPSG:6677 (Japan Plane
// Rectangular CS IX), lon/lat degrees.
var jgd2011Zone9Origin = orb.Point{139.8333333333, 36.0}

// Recognized reports whether code is one of the codes this package handles.
func Recognized(code string) bool {
	switch Code(code) {
	case CodeWGS84, CodeCRS84, CodeWebMercator, CodeJGD2011Zone9:
		return true
	default:
		return false
	}
}

// TransformGeometry converts g, expressed in the CRS named by from, into
// the storage CRS (EPSG:4326). It returns apierror.ErrUnsupportedCRS if
// from is not recognized.
func TransformGeometry(g orb.Geometry, from string) (orb.Geometry, error) {
	fn, err := pointTransformer(from)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return g, nil // identity: already WGS84/CRS84
	}

	return mapPoints(g, fn), nil
}

// TransformBbox converts a bounding box in the same manner as
// TransformGeometry, by transforming its two corners.
func TransformBbox(b orb.Bound, from string) (orb.Bound, error) {
	fn, err := pointTransformer(from)
	if err != nil {
		return orb.Bound{}, err
	}
	if fn == nil {
		return b, nil
	}

	min := fn(b.Min)
	max := fn(b.Max)

	return orb.MultiPoint{min, max}.Bound(), nil
}

func pointTransformer(from string) (func(orb.Point) orb.Point, error) {
	switch Code(from) {
	case CodeWGS84, CodeCRS84:
		return nil, nil
	case CodeWebMercator:
		return webMercatorToWGS84, nil
	case CodeJGD2011Zone9:
		return jgd2011Zone9ToWGS84, nil
	default:
		return nil, fmt.Errorf("%w: %q", apierror.ErrUnsupportedCRS, from)
	}
}

// webMercatorToWGS84 inverts the spherical Web Mercator projection.
func webMercatorToWGS84(p orb.Point) orb.Point {
	lon := (p.X() / earthRadiusMeters) * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(p.Y()/earthRadiusMeters)) - math.Pi/2) * 180 / math.Pi

	return orb.Point{lon, lat}
}

// jgd2011Zone9ToWGS84 applies a small-angle equirectangular approximation
// around the zone's false origin. This is adequate for a municipal-scale
// zone (tens of km across) but is not a geodetically exact JGD2011
// inverse; callers needing survey-grade accuracy should reproject upstream.
func jgd2011Zone9ToWGS84(p orb.Point) orb.Point {
	const metersPerDegreeLat = 111320.0

	lat := jgd2011Zone9Origin.Lat() + p.Y()/metersPerDegreeLat
	metersPerDegreeLon := metersPerDegreeLat * math.Cos(jgd2011Zone9Origin.Lat()*math.Pi/180)
	lon := jgd2011Zone9Origin.Lon() + p.X()/metersPerDegreeLon

	return orb.Point{lon, lat}
}

// mapPoints applies fn to every coordinate in g, preserving structure.
func mapPoints(g orb.Geometry, fn func(orb.Point) orb.Point) orb.Geometry {
	switch v := g.(type) {
	case orb.Point:
		return fn(v)
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(v))
		for i, p := range v {
			out[i] = fn(p)
		}

		return out
	case orb.LineString:
		out := make(orb.LineString, len(v))
		for i, p := range v {
			out[i] = fn(p)
		}

		return out
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(v))
		for i, ls := range v {
			out[i] = mapPoints(ls, fn).(orb.LineString)
		}

		return out
	case orb.Ring:
		out := make(orb.Ring, len(v))
		for i, p := range v {
			out[i] = fn(p)
		}

		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(v))
		for i, r := range v {
			out[i] = mapPoints(r, fn).(orb.Ring)
		}

		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, poly := range v {
			out[i] = mapPoints(poly, fn).(orb.Polygon)
		}

		return out
	case orb.Collection:
		out := make(orb.Collection, len(v))
		for i, geom := range v {
			out[i] = mapPoints(geom, fn)
		}

		return out
	default:
		return g
	}
}
