package engine

import (
	"errors"
	"testing"

	"github.com/jackc/pgx"

	"github.com/publicamundi/geoquery/errs"
	"github.com/publicamundi/geoquery/registry"
)

func TestSridFromCRSCode(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{"EPSG:3857", 3857},
		{"EPSG:2100", 2100},
		{"EPSG:4326", 4326},
		{"EPSG:900913", 900913},
	}
	for _, c := range cases {
		if got := sridFromCRSCode(c.code); got != c.want {
			t.Errorf("sridFromCRSCode(%q) = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestMapExecutionError_QueryCanceled(t *testing.T) {
	cause := pgx.PgError{Code: registry.PGQueryCanceledSQLState, Message: "canceling statement due to statement timeout"}
	mapped := mapExecutionError(cause)

	de, ok := mapped.(*errs.DataError)
	if !ok {
		t.Fatalf("expected *errs.DataError, got %T", mapped)
	}
	if de.Kind != errs.KindTimeout {
		t.Fatalf("expected KindTimeout, got %v", de.Kind)
	}
	if de.Message != "Execution exceeded timeout." {
		t.Fatalf("unexpected message: %s", de.Message)
	}
}

func TestMapExecutionError_OtherDatabaseError(t *testing.T) {
	cause := pgx.PgError{Code: "42601", Message: "syntax error"}
	mapped := mapExecutionError(cause)

	de, ok := mapped.(*errs.DataError)
	if !ok {
		t.Fatalf("expected *errs.DataError, got %T", mapped)
	}
	if de.Kind != errs.KindExecution {
		t.Fatalf("expected KindExecution, got %v", de.Kind)
	}
	if de.Message != "Unhandled exception has occurred." {
		t.Fatalf("unexpected message: %s", de.Message)
	}
}

func TestMapExecutionError_NonPgError(t *testing.T) {
	mapped := mapExecutionError(errors.New("connection reset by peer"))

	de, ok := mapped.(*errs.DataError)
	if !ok {
		t.Fatalf("expected *errs.DataError, got %T", mapped)
	}
	if de.Kind != errs.KindExecution {
		t.Fatalf("expected KindExecution, got %v", de.Kind)
	}
}

func TestDecodeGeomValue(t *testing.T) {
	if g, err := decodeGeomValue(nil); err != nil || g != nil {
		t.Fatalf("decodeGeomValue(nil) = (%v, %v), want (nil, nil)", g, err)
	}

	// A single point (1 2) as hex-encoded WKB, little-endian.
	const pointHex = "0101000000000000000000F03F0000000000000040"
	g, err := decodeGeomValue(pointHex)
	if err != nil {
		t.Fatalf("decodeGeomValue(%q): %v", pointHex, err)
	}
	if g == nil {
		t.Fatal("expected a decoded geometry, got nil")
	}

	if _, err := decodeGeomValue(42); err == nil {
		t.Fatal("expected an error decoding a non-string/[]byte geometry value")
	}
}
