package query

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/publicamundi/geoquery/catalog"
	"github.com/publicamundi/geoquery/errs"
	"github.com/publicamundi/geoquery/registry"
)

// newTestContext builds a Context whose resources are already introspected
// (inserted directly into the metadata store), so Compile never needs a
// live data connection.
func newTestContext(descs map[string]catalog.ResourceDescriptor) *Context {
	stubs := make(map[string]catalog.ResourceStub, len(descs))
	store := NewMetadataStore()
	for name, desc := range descs {
		stubs[name] = desc.ResourceStub
		store.Insert(name, desc)
	}
	return &Context{
		Resources:    stubs,
		Metadata:     store,
		TargetSRID:   registry.DefaultOutputSRID,
		OutputFormat: registry.FormatJSON,
	}
}

func roadsDescriptor(geomSRID int) catalog.ResourceDescriptor {
	return catalog.ResourceDescriptor{
		ResourceStub: catalog.ResourceStub{DBResourceID: "roads", Table: "roads"},
		Fields: []catalog.Field{
			{Name: "geom", Type: "geometry"},
			{Name: "name", Type: "varchar"},
			{Name: "code", Type: "varchar"},
			{Name: "label", Type: "varchar"},
		},
		FieldsByName: map[string]catalog.Field{
			"geom":  {Name: "geom", Type: "geometry"},
			"name":  {Name: "name", Type: "varchar"},
			"code":  {Name: "code", Type: "varchar"},
			"label": {Name: "label", Type: "varchar"},
		},
		GeometryColumn: "geom",
		SRID:           geomSRID,
	}
}

func TestCompile_BasicProjection(t *testing.T) {
	ctx := newTestContext(map[string]catalog.ResourceDescriptor{
		"roads": roadsDescriptor(2100),
	})

	query := []byte(`{"resources":["roads"],"fields":["geom","name"]}`)
	cq, err := Compile(ctx, query)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	want := `select distinct ST_Transform(t1."geom", 3857) as "geom",t1."name" as "name" from "roads" as t1 limit 10000 offset 0;`
	if cq.SQL != want {
		t.Fatalf("SQL mismatch:\n got: %s\nwant: %s", cq.SQL, want)
	}
	if len(cq.Args) != 0 {
		t.Fatalf("expected no bound args, got %v", cq.Args)
	}
}

func TestCompile_EqualityWithIntCast(t *testing.T) {
	ctx := newTestContext(map[string]catalog.ResourceDescriptor{
		"roads": roadsDescriptor(2100),
	})

	query := []byte(`{
		"resources":["roads"],
		"fields":["name"],
		"filters":[{"operator":"EQUAL","arguments":[{"name":"code"},123]}]
	}`)
	cq, err := Compile(ctx, query)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cq.SQL, `(t1."code"::int = $1)`) {
		t.Fatalf("expected cast comparison fragment in SQL, got: %s", cq.SQL)
	}
	if len(cq.Args) != 1 || cq.Args[0].(float64) != 123 {
		t.Fatalf("expected single bound arg 123, got %v", cq.Args)
	}
}

func TestCompile_LikeWrapsLiteralInWildcards(t *testing.T) {
	ctx := newTestContext(map[string]catalog.ResourceDescriptor{
		"roads": roadsDescriptor(2100),
	})

	query := []byte(`{
		"resources":["roads"],
		"fields":["name"],
		"filters":[{"operator":"LIKE","arguments":[{"name":"label"},"main"]}]
	}`)
	cq, err := Compile(ctx, query)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cq.SQL, `(t1."label" like $1)`) {
		t.Fatalf("expected like fragment in SQL, got: %s", cq.SQL)
	}
	if len(cq.Args) != 1 || cq.Args[0] != "%main%" {
		t.Fatalf("expected bound arg %%main%%, got %v", cq.Args)
	}
}

func TestCompile_SortFieldAmbiguousAcrossResources(t *testing.T) {
	a := catalog.ResourceDescriptor{
		ResourceStub: catalog.ResourceStub{DBResourceID: "a", Table: "a"},
		Fields:       []catalog.Field{{Name: "name", Type: "varchar"}},
		FieldsByName: map[string]catalog.Field{"name": {Name: "name", Type: "varchar"}},
	}
	b := catalog.ResourceDescriptor{
		ResourceStub: catalog.ResourceStub{DBResourceID: "b", Table: "b"},
		Fields:       []catalog.Field{{Name: "name", Type: "varchar"}},
		FieldsByName: map[string]catalog.Field{"name": {Name: "name", Type: "varchar"}},
	}
	ctx := newTestContext(map[string]catalog.ResourceDescriptor{"a": a, "b": b})

	query := []byte(`{
		"resources":["a","b"],
		"fields":[{"name":"name","resource":"a"}],
		"sort":["name"]
	}`)
	_, err := Compile(ctx, query)
	if err == nil {
		t.Fatal("expected ambiguous sort field error, got nil")
	}
	de, ok := err.(*errs.DataError)
	if !ok {
		t.Fatalf("expected *errs.DataError, got %T", err)
	}
	if de.Kind != errs.KindField {
		t.Fatalf("expected KindField, got %v", de.Kind)
	}
	if !strings.Contains(de.Message, "is ambiguous for resources") {
		t.Fatalf("unexpected message: %s", de.Message)
	}
}

func TestCompile_ContainsWithLiteralPolygon(t *testing.T) {
	ctx := newTestContext(map[string]catalog.ResourceDescriptor{
		"roads": roadsDescriptor(3857),
	})

	polygon := `{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[1,0],[0,0]]]}`
	query := []byte(`{
		"resources":["roads"],
		"fields":["name"],
		"filters":[{"operator":"CONTAINS","arguments":[{"name":"geom"},` + polygon + `]}]
	}`)
	cq, err := Compile(ctx, query)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	want := `(ST_Contains(ST_Transform(t1."geom", 2100),ST_Transform(ST_GeomFromText($1, 3857), 2100)) = TRUE)`
	if !strings.Contains(cq.SQL, want) {
		t.Fatalf("expected contains fragment:\n got: %s\nwant substring: %s", cq.SQL, want)
	}
	if len(cq.Args) != 1 {
		t.Fatalf("expected exactly one bound arg (the literal geometry WKT), got %v", cq.Args)
	}
	if _, ok := cq.Args[0].(string); !ok {
		t.Fatalf("expected bound arg to be the WKT string, got %T", cq.Args[0])
	}
}

// TestCompile_LiteralsNeverInlined is an adversarial check that hostile
// literal values (quotes, semicolons, SQL comment markers) never appear
// verbatim inside the emitted SQL string, only behind a $N placeholder.
func TestCompile_LiteralsNeverInlined(t *testing.T) {
	ctx := newTestContext(map[string]catalog.ResourceDescriptor{
		"roads": roadsDescriptor(2100),
	})

	adversarial := []string{
		`'); DROP TABLE roads; --`,
		`" OR "1"="1`,
		`x' ; --`,
	}

	for _, payload := range adversarial {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		query := []byte(`{
			"resources":["roads"],
			"fields":["name"],
			"filters":[{"operator":"EQUAL","arguments":[{"name":"name"},` + string(raw) + `]}]
		}`)

		cq, err := Compile(ctx, query)
		if err != nil {
			t.Fatalf("Compile(%q): %v", payload, err)
		}
		if strings.Contains(cq.SQL, payload) {
			t.Fatalf("payload %q leaked verbatim into SQL: %s", payload, cq.SQL)
		}
		if len(cq.Args) != 1 || cq.Args[0] != payload {
			t.Fatalf("expected payload bound as single arg, got %v", cq.Args)
		}
	}
}

func TestCompile_NoResourcesSelected(t *testing.T) {
	ctx := newTestContext(map[string]catalog.ResourceDescriptor{
		"roads": roadsDescriptor(2100),
	})

	_, err := Compile(ctx, []byte(`{}`))
	if err == nil {
		t.Fatal("expected error for missing resources, got nil")
	}
	de, ok := err.(*errs.DataError)
	if !ok || de.Kind != errs.KindEnvelope {
		t.Fatalf("expected KindEnvelope error, got %#v", err)
	}
}

func TestCompile_UnknownResource(t *testing.T) {
	ctx := newTestContext(map[string]catalog.ResourceDescriptor{
		"roads": roadsDescriptor(2100),
	})

	_, err := Compile(ctx, []byte(`{"resources":["missing"]}`))
	if err == nil {
		t.Fatal("expected error for unknown resource, got nil")
	}
	de, ok := err.(*errs.DataError)
	if !ok || de.Kind != errs.KindResource {
		t.Fatalf("expected KindResource error, got %#v", err)
	}
	if de.Message != "Resource missing does not exist." {
		t.Fatalf("unexpected message: %s", de.Message)
	}
}

func TestCompile_ContainsArityMessageOmitsArgumentsWord(t *testing.T) {
	ctx := newTestContext(map[string]catalog.ResourceDescriptor{
		"roads": roadsDescriptor(2100),
	})

	query := []byte(`{
		"resources":["roads"],
		"fields":["name"],
		"filters":[{"operator":"CONTAINS","arguments":[{"name":"geom"}]}]
	}`)
	_, err := Compile(ctx, query)
	if err == nil {
		t.Fatal("expected arity error, got nil")
	}
	de, ok := err.(*errs.DataError)
	if !ok {
		t.Fatalf("expected *errs.DataError, got %T", err)
	}
	if de.Message != "Operator CONTAINS expects two." {
		t.Fatalf("expected verbatim-preserved arity message, got: %q", de.Message)
	}
}
