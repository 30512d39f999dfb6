package geometry

import (
	"testing"

	"github.com/go-spatial/geom"
)

// wkbPoint12Hex is the hex-encoded WKB for POINT(1 2), little-endian,
// the wire shape a PostGIS geometry column returns.
const wkbPoint12Hex = "0101000000000000000000f03f0000000000000040"

func TestDecodeWKBHex(t *testing.T) {
	g, err := DecodeWKBHex(wkbPoint12Hex)
	if err != nil {
		t.Fatalf("DecodeWKBHex: %v", err)
	}
	pt, ok := g.(geom.Point)
	if !ok {
		t.Fatalf("expected geom.Point, got %T", g)
	}
	if pt.X() != 1 || pt.Y() != 2 {
		t.Fatalf("expected (1,2), got (%v,%v)", pt.X(), pt.Y())
	}
}

func TestDecodeWKBHex_BadHex(t *testing.T) {
	if _, err := DecodeWKBHex("not-hex"); err == nil {
		t.Fatal("expected error decoding invalid hex")
	}
}

func TestEncodeWKT(t *testing.T) {
	g, err := DecodeWKBHex(wkbPoint12Hex)
	if err != nil {
		t.Fatalf("DecodeWKBHex: %v", err)
	}
	wkt, err := EncodeWKT(g)
	if err != nil {
		t.Fatalf("EncodeWKT: %v", err)
	}
	if wkt == "" {
		t.Fatal("expected non-empty WKT")
	}
}

func TestLooksLikeGeoJSON(t *testing.T) {
	cases := []struct {
		name string
		v    interface{}
		want bool
	}{
		{"geometry object", map[string]interface{}{"type": "Point", "coordinates": []interface{}{1.0, 2.0}}, true},
		{"missing coordinates", map[string]interface{}{"type": "Point"}, false},
		{"plain number", 7.0, false},
		{"plain string", "abc", false},
		{"field ref shape", map[string]interface{}{"name": "geom"}, false},
	}
	for _, c := range cases {
		if got := LooksLikeGeoJSON(c.v); got != c.want {
			t.Errorf("%s: LooksLikeGeoJSON() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestDecodeGeoJSON_Point(t *testing.T) {
	v := map[string]interface{}{
		"type":        "Point",
		"coordinates": []interface{}{1.0, 2.0},
	}
	g, err := DecodeGeoJSON(v)
	if err != nil {
		t.Fatalf("DecodeGeoJSON: %v", err)
	}
	pt, ok := g.(geom.Point)
	if !ok {
		t.Fatalf("expected geom.Point, got %T", g)
	}
	if pt.X() != 1 || pt.Y() != 2 {
		t.Fatalf("expected (1,2), got (%v,%v)", pt.X(), pt.Y())
	}
}

func TestEncodeGeoJSON_RoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"type":        "Point",
		"coordinates": []interface{}{1.0, 2.0},
	}
	g, err := DecodeGeoJSON(in)
	if err != nil {
		t.Fatalf("DecodeGeoJSON: %v", err)
	}
	wrapped := EncodeGeoJSON(g)
	if wrapped.Geometry == nil {
		t.Fatal("expected wrapped geometry to be set")
	}
}
