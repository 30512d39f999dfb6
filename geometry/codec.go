// Package geometry bridges the three encodings a geometry value crosses
// in geoquery: hex-encoded WKB as returned by the data connection, WKT
// for embedding in ST_GeomFromText parameters, and GeoJSON for request
// arguments and response features. Every function here is pure; failures
// are returned to the caller, never logged or swallowed.
package geometry

import (
	"encoding/hex"
	"encoding/json"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/go-spatial/geom/encoding/wkb"
	"github.com/go-spatial/geom/encoding/wkt"
)

// DecodeWKBHex decodes a hex-encoded WKB string, the form the data
// connection returns for a geometry column, into an in-memory geometry.
func DecodeWKBHex(hexWKB string) (geom.Geometry, error) {
	raw, err := hex.DecodeString(hexWKB)
	if err != nil {
		return nil, err
	}
	return wkb.DecodeBytes(raw)
}

// EncodeWKT renders a geometry as WKT, the form bound into
// ST_GeomFromText(%s, srid) parameters for literal geometry arguments.
func EncodeWKT(g geom.Geometry) (string, error) {
	return wkt.EncodeString(g)
}

// rawGeoJSON mirrors the shape of a literal geometry argument as it
// arrives in a filter: a JSON object carrying `type` and `coordinates`.
type rawGeoJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// LooksLikeGeoJSON reports whether v has the shape of a decoded JSON
// object carrying both `type` and `coordinates` keys, without fully
// decoding it. Used by the compiler to distinguish a literal geometry
// argument from a plain literal value before committing to a full
// decode.
func LooksLikeGeoJSON(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	_, hasType := m["type"]
	_, hasCoords := m["coordinates"]
	return hasType && hasCoords
}

// DecodeGeoJSON decodes a JSON object carrying `type` and `coordinates`
// into an in-memory geometry, the form incoming filter arguments use.
func DecodeGeoJSON(v interface{}) (geom.Geometry, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var g geojson.Geometry
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, err
	}
	return g.Geometry, nil
}

// EncodeGeoJSON wraps a decoded geometry for inclusion in a GeoJSON
// response feature.
func EncodeGeoJSON(g geom.Geometry) geojson.Geometry {
	return geojson.Geometry{Geometry: g}
}
