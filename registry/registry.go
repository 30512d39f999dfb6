// Package registry holds the closed, static vocabularies the rest of
// geoquery is built against: supported CRSes, output formats, default
// SRIDs and the comparison/spatial operator tables. Nothing here touches
// a database or the network; it exists so the compiler and engine never
// have to special-case a wire value inline.
package registry

// Output formats a query or batch may request.
const (
	FormatJSON    = "JSON"
	FormatGeoJSON = "GeoJSON"
)

// Default SRIDs.
const (
	DefaultDatabaseSRID = 2100
	DefaultOutputSRID   = 3857
	// LiteralGeometrySRID is the SRID every literal (GeoJSON-encoded)
	// geometry argument is assumed to arrive in, regardless of the
	// request's declared CRS. See DESIGN.md "Literal geometry CRS
	// assumption".
	LiteralGeometrySRID = 3857
)

// MaxResultRows is the hard ceiling on `limit`, regardless of what the
// caller asks for.
const MaxResultRows = 10000

// DefaultStatementTimeoutMS is the total batch timeout used when the
// configuration doesn't set `timeout`.
const DefaultStatementTimeoutMS = 30000

// MinStatementTimeoutMS is the floor applied to the remaining budget
// before issuing SET LOCAL statement_timeout.
const MinStatementTimeoutMS = 1000

// PGQueryCanceledSQLState is the PostgreSQL SQLSTATE reported when the
// server aborts a statement because it ran past statement_timeout.
const PGQueryCanceledSQLState = "57014"

// supportedCRS is the closed set of coordinate reference systems a query
// or batch may declare.
var supportedCRS = map[string]bool{
	"EPSG:900913": true,
	"EPSG:3857":   true,
	"EPSG:4326":   true,
	"EPSG:2100":   true,
	"EPSG:4258":   true,
}

// IsSupportedCRS reports whether code (e.g. "EPSG:3857") is one of the
// closed set of CRSes geoquery knows how to transform into.
func IsSupportedCRS(code string) bool {
	return supportedCRS[code]
}

// supportedFormats is the closed set of output formats.
var supportedFormats = map[string]bool{
	FormatJSON:    true,
	FormatGeoJSON: true,
}

// IsSupportedFormat reports whether format is a format geoquery can emit.
func IsSupportedFormat(format string) bool {
	return supportedFormats[format]
}

// Comparison operators.
const (
	OpEqual          = "EQUAL"
	OpNotEqual       = "NOT_EQUAL"
	OpGreater        = "GREATER"
	OpGreaterOrEqual = "GREATER_OR_EQUAL"
	OpLess           = "LESS"
	OpLessOrEqual    = "LESS_OR_EQUAL"
	OpLike           = "LIKE"
)

// Spatial operators.
const (
	OpArea       = "AREA"
	OpDistance   = "DISTANCE"
	OpContains   = "CONTAINS"
	OpIntersects = "INTERSECTS"
)

// compareExpressions maps a comparison operator name to its SQL
// expression, folding the original `COMPARE_OPERATORS`/
// `COMPARE_EXPRESSIONS` pair into a single map.
var compareExpressions = map[string]string{
	OpEqual:          "=",
	OpNotEqual:       "<>",
	OpGreater:        ">",
	OpGreaterOrEqual: ">=",
	OpLess:           "<",
	OpLessOrEqual:    "<=",
	OpLike:           "like",
}

// CompareExpression returns the SQL expression for a comparison operator
// and whether it is a known comparison operator at all.
func CompareExpression(op string) (string, bool) {
	expr, ok := compareExpressions[op]
	return expr, ok
}

// IsComparisonOperator reports whether op is one of the comparison-set
// operators (EQUAL, NOT_EQUAL, GREATER, GREATER_OR_EQUAL, LESS,
// LESS_OR_EQUAL, LIKE).
func IsComparisonOperator(op string) bool {
	_, ok := compareExpressions[op]
	return ok
}

// spatialCompareOperators is the comparison set minus NOT_EQUAL and LIKE,
// the only operators valid as the relational verb inside AREA/DISTANCE.
var spatialCompareOperators = map[string]bool{
	OpEqual:          true,
	OpGreater:        true,
	OpGreaterOrEqual: true,
	OpLess:           true,
	OpLessOrEqual:    true,
}

// IsSpatialCompareToken reports whether op may be used as the relational
// verb inside AREA/DISTANCE.
func IsSpatialCompareToken(op string) bool {
	return spatialCompareOperators[op]
}

var spatialOperators = map[string]bool{
	OpArea:       true,
	OpDistance:   true,
	OpContains:   true,
	OpIntersects: true,
}

// IsSpatialOperator reports whether op is one of AREA, DISTANCE,
// CONTAINS, INTERSECTS.
func IsSpatialOperator(op string) bool {
	return spatialOperators[op]
}

// IsKnownOperator reports whether op is any operator geoquery recognizes,
// comparison or spatial.
func IsKnownOperator(op string) bool {
	return IsComparisonOperator(op) || IsSpatialOperator(op)
}
