package catalog

import (
	"strings"

	"github.com/publicamundi/geoquery/errs"
)

// describeResourceSQL introspects a physical table's columns, flagging
// the one that carries a geometry_columns SRID, if any. The resource
// name is bound positionally as $1.
const describeResourceSQL = `
SELECT  attname::varchar as "name",
        pg_type.typname::varchar as "type",
        pg_attribute.attnum as "position",
        geometry_columns.srid as srid
FROM    pg_class
            inner join pg_attribute
                on pg_attribute.attrelid = pg_class.oid
            inner join pg_type
                on pg_attribute.atttypid = pg_type.oid
            left outer join geometry_columns
                on geometry_columns.f_table_name = pg_class.relname and
                   pg_type.typname = 'geometry'
WHERE   pg_attribute.attisdropped = False and
        pg_class.relname = $1 and
        pg_attribute.attnum > 0
`

// DescribeResource introspects resourceID's physical table on conn,
// dropping columns whose name starts with `_`. It fails if more than one
// column carries a geometry SRID: a resource may have at most one
// geometry column.
func DescribeResource(conn Queryer, stub ResourceStub) (ResourceDescriptor, error) {
	rows, err := conn.Query(describeResourceSQL, stub.DBResourceID)
	if err != nil {
		return ResourceDescriptor{}, errs.Wrap(errs.KindResource, err,
			"failed to describe resource %s", stub.DBResourceID)
	}
	defer rows.Close()

	desc := ResourceDescriptor{
		ResourceStub: stub,
		FieldsByName: make(map[string]Field),
	}

	for rows.Next() {
		var (
			name, typ string
			position  int32
			srid      *int32
		)
		if err := rows.Scan(&name, &typ, &position, &srid); err != nil {
			return ResourceDescriptor{}, errs.Wrap(errs.KindResource, err,
				"failed to read column metadata for resource %s", stub.DBResourceID)
		}

		if strings.HasPrefix(name, "_") {
			continue
		}

		field := Field{Name: name, Type: typ}
		desc.Fields = append(desc.Fields, field)
		desc.FieldsByName[name] = field

		if srid != nil {
			if desc.GeometryColumn != "" {
				return ResourceDescriptor{}, errs.New(errs.KindResource,
					"More than 1 geometry columns found in resource %s", stub.DBResourceID)
			}
			desc.GeometryColumn = name
			desc.SRID = int(*srid)
		}
	}
	if err := rows.Err(); err != nil {
		return ResourceDescriptor{}, errs.Wrap(errs.KindResource, err,
			"error reading column metadata for resource %s", stub.DBResourceID)
	}

	return desc, nil
}
