package query

import (
	"encoding/json"

	"github.com/go-spatial/geom"

	"github.com/publicamundi/geoquery/errs"
	"github.com/publicamundi/geoquery/geometry"
	"github.com/publicamundi/geoquery/registry"
)

// ResourceRef is a decoded `resources[]` entry: either a bare name (name
// == alias) or `{name, alias?}`.
type ResourceRef struct {
	Name  string
	Alias string
}

// FieldRef is a decoded `fields[]` or filter field-argument entry:
// either a bare name or `{name, resource?, alias?}`.
type FieldRef struct {
	Name     string
	Resource string // empty means "not specified, infer by containment"
	Alias    string
}

// SortRef is a decoded `sort[]` entry: either a bare name or
// `{name, resource?, desc?}`.
type SortRef struct {
	Name     string
	Resource string
	Desc     bool
}

// ArgKind discriminates the shape of a filter argument: a field
// reference, a number, a string, a literal geometry, or a comparison
// token used as a spatial relational verb.
type ArgKind int

const (
	ArgField ArgKind = iota
	ArgNumber
	ArgString
	ArgGeometry
	ArgCompareToken
)

// Argument is one decoded element of a filter's `arguments` list.
type Argument struct {
	Kind     ArgKind
	Field    FieldRef
	Number   float64
	String   string
	Geometry geom.Geometry
	Token    string
}

// Filter is a decoded filter node: an operator plus its raw arguments
// (parsed lazily, since arity and shape depend on the operator).
type Filter struct {
	Operator  string
	Arguments []json.RawMessage
}

// asGenericValue decodes raw into one of nil, bool, float64, string,
// map[string]interface{} or []interface{} — the same dynamic-typing
// surface the original Python implementation worked against directly.
func asGenericValue(raw json.RawMessage) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// parseResourceRef accepts a bare string or `{name, alias?}` object.
func parseResourceRef(raw json.RawMessage) (ResourceRef, error) {
	v, err := asGenericValue(raw)
	if err != nil {
		return ResourceRef{}, errs.New(errs.KindResource, "Resource parameter is malformed. Instance of string or dictionary is expected.")
	}

	switch vv := v.(type) {
	case string:
		return ResourceRef{Name: vv, Alias: vv}, nil
	case map[string]interface{}:
		name, ok := vv["name"].(string)
		if !ok {
			return ResourceRef{}, errs.New(errs.KindResource, "Resource name is missing.")
		}
		alias := name
		if a, ok := vv["alias"].(string); ok {
			alias = a
		}
		return ResourceRef{Name: name, Alias: alias}, nil
	default:
		return ResourceRef{}, errs.New(errs.KindResource, "Resource parameter is malformed. Instance of string or dictionary is expected.")
	}
}

// parseFieldRef accepts a bare string or `{name, resource?, alias?}`.
func parseFieldRef(raw json.RawMessage) (FieldRef, error) {
	v, err := asGenericValue(raw)
	if err != nil {
		return FieldRef{}, errs.New(errs.KindField, "Field is malformed. Instance of string or dictionary is expected.")
	}

	switch vv := v.(type) {
	case string:
		return FieldRef{Name: vv, Alias: vv}, nil
	case map[string]interface{}:
		name, ok := vv["name"].(string)
		if !ok {
			return FieldRef{}, errs.New(errs.KindField, "Field name is missing.")
		}
		alias := name
		if a, ok := vv["alias"].(string); ok {
			alias = a
		}
		resource := ""
		if r, ok := vv["resource"].(string); ok {
			resource = r
		}
		return FieldRef{Name: name, Alias: alias, Resource: resource}, nil
	default:
		return FieldRef{}, errs.New(errs.KindField, "Field is malformed. Instance of string or dictionary is expected.")
	}
}

// parseSortRef accepts a bare string or `{name, resource?, desc?}`.
func parseSortRef(raw json.RawMessage) (SortRef, error) {
	v, err := asGenericValue(raw)
	if err != nil {
		return SortRef{}, errs.New(errs.KindField, "Sorting field is malformed. Instance of string or dictionary is expected.")
	}

	switch vv := v.(type) {
	case string:
		return SortRef{Name: vv}, nil
	case map[string]interface{}:
		name, ok := vv["name"].(string)
		if !ok {
			return SortRef{}, errs.New(errs.KindField, "Sorting field name is missing.")
		}
		resource := ""
		if r, ok := vv["resource"].(string); ok {
			resource = r
		}
		desc := false
		if d, ok := vv["desc"].(bool); ok {
			desc = d
		}
		return SortRef{Name: name, Resource: resource, Desc: desc}, nil
	default:
		return SortRef{}, errs.New(errs.KindField, "Sorting field is malformed. Instance of string or dictionary is expected.")
	}
}

// parseArgument classifies a single filter argument: a field reference,
// a numeric/string literal, a literal geometry (GeoJSON object), or a
// comparison-operator token used as a spatial relational verb.
func parseArgument(raw json.RawMessage) (Argument, error) {
	v, err := asGenericValue(raw)
	if err != nil {
		return Argument{}, errs.New(errs.KindOperator, "Failed to parse argument value.")
	}

	switch vv := v.(type) {
	case float64:
		return Argument{Kind: ArgNumber, Number: vv}, nil
	case string:
		if registry.IsComparisonOperator(vv) {
			return Argument{Kind: ArgCompareToken, Token: vv}, nil
		}
		return Argument{Kind: ArgString, String: vv}, nil
	case map[string]interface{}:
		if geometry.LooksLikeGeoJSON(vv) {
			g, err := geometry.DecodeGeoJSON(vv)
			if err != nil {
				return Argument{}, errs.New(errs.KindOperator, "Failed to parse argument value.")
			}
			return Argument{Kind: ArgGeometry, Geometry: g}, nil
		}
		fr, err := parseFieldRef(raw)
		if err != nil {
			return Argument{}, err
		}
		return Argument{Kind: ArgField, Field: fr}, nil
	default:
		return Argument{}, errs.New(errs.KindOperator, "Failed to parse argument value.")
	}
}
