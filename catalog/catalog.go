// Package catalog discovers vector-storer resources from the catalog
// database and introspects their columns, geometry column and SRID from
// the data database.
package catalog

import (
	"fmt"

	"github.com/jackc/pgx"

	"github.com/publicamundi/geoquery/errs"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ResourceStub is a catalog entry as discovered by ListResources, before
// introspection. Its identity is DBResourceID, which also names the
// physical data table.
type ResourceStub struct {
	DBResourceID  string
	Table         string
	ResourceName  string
	PackageTitle  string
	PackageNotes  string
	WMSResourceID string
	WMSServer     string
	WMSLayer      string
	GeometryType  string
}

// Field describes one column of an introspected resource.
type Field struct {
	Name string
	Type string
}

// ResourceDescriptor augments a ResourceStub with the result of
// DescribeResource: an ordered set of fields, the name of the resource's
// single geometry column (empty if none), and that column's SRID.
type ResourceDescriptor struct {
	ResourceStub

	// Alias is the per-batch table alias (`t{k}`) assigned on first
	// reference within a batch. It is reset for every batch and is not
	// part of the resource's durable identity.
	Alias string

	Fields          []Field
	FieldsByName    map[string]Field
	GeometryColumn  string
	SRID            int
}

// listResourcesSQL is the catalog discovery query: all active, current
// vector-storer resources, left-joined to an optional WMS sibling within
// the same resource group, then to package metadata.
const listResourcesSQL = `
select  resource_db.resource_id as db_resource_id,
        package_revision.title as package_title,
        package_revision.notes as package_notes,
        resource_db.resource_name as resource_name,
        resource_wms.resource_id as wms_resource_id,
        resource_db.geometry_type as geometry_type,
        resource_wms.wms_server as wms_server,
        resource_wms.wms_layer as wms_layer
from
    (
    select  id as resource_id,
            json_extract_path_text((extras::json),'vectorstorer_resource') as vector_storer,
            json_extract_path_text((extras::json),'geometry') as geometry_type,
            json_extract_path_text((extras::json),'parent_resource_id') as resource_parent_id,
            resource_group_id as group_id,
            name as resource_name
    from    resource_revision
    where   format = 'data_table'
            and current = True
            and state = 'active'
            and json_extract_path_text((extras::json),'vectorstorer_resource') = 'True'
    ) as resource_db
    left outer join
        (
        select  id as resource_id,
                json_extract_path_text((extras::json),'vectorstorer_resource') as vector_storer,
                json_extract_path_text((extras::json),'geometry') as geometry_type,
                json_extract_path_text((extras::json),'parent_resource_id') as resource_parent_id,
                resource_group_id as group_id,
                json_extract_path_text((extras::json),'wms_server') as wms_server,
                json_extract_path_text((extras::json),'wms_layer') as wms_layer
        from    resource_revision
        where   format = 'wms'
                and current = True
                and state = 'active'
                and json_extract_path_text((extras::json),'vectorstorer_resource') = 'True'
        ) as resource_wms
            on  resource_db.group_id = resource_wms.group_id
                and resource_db.resource_id = resource_wms.resource_parent_id
    left outer join resource_group_revision
            on  resource_group_revision.id = resource_db.group_id
                and resource_group_revision.state = 'active'
                and resource_group_revision.current = True
    left outer join package_revision
            on  resource_group_revision.package_id = package_revision.id
                and package_revision.state = 'active'
                and package_revision.current = True;
`

// Queryer is satisfied by both *pgx.Conn and *pgx.ConnPool; the catalog
// resolver is agnostic to which one backs a given connection.
type Queryer interface {
	Query(sql string, args ...interface{}) (*pgx.Rows, error)
}

// ListResources executes the catalog discovery query against conn and
// returns the current vector-storer resources keyed by db_resource_id.
func ListResources(conn Queryer) (map[string]ResourceStub, error) {
	rows, err := conn.Query(listResourcesSQL)
	if err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "failed to list catalog resources")
	}
	defer rows.Close()

	result := make(map[string]ResourceStub)
	for rows.Next() {
		var (
			dbResourceID, resourceName, geometryType    string
			packageTitle, packageNotes                  *string
			wmsResourceID, wmsServer, wmsLayer          *string
		)
		if err := rows.Scan(&dbResourceID, &packageTitle, &packageNotes, &resourceName,
			&wmsResourceID, &geometryType, &wmsServer, &wmsLayer); err != nil {
			return nil, errs.Wrap(errs.KindResource, err, "failed to read catalog resource row")
		}

		stub := ResourceStub{
			DBResourceID: dbResourceID,
			Table:        dbResourceID,
			ResourceName: resourceName,
			GeometryType: geometryType,
		}
		if packageTitle != nil {
			stub.PackageTitle = *packageTitle
		}
		if packageNotes != nil {
			stub.PackageNotes = *packageNotes
		}
		if wmsResourceID != nil {
			stub.WMSResourceID = *wmsResourceID
		}
		if wmsServer != nil {
			stub.WMSServer = *wmsServer
		}
		if wmsLayer != nil {
			stub.WMSLayer = *wmsLayer
		}

		result[dbResourceID] = stub
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "error reading catalog resources")
	}

	return result, nil
}

// DescribeCache is a bounded, cross-batch cache of ResourceDescriptor
// introspections, keyed by db_resource_id. It shortcuts repeat
// DescribeResource round-trips across independent batches; it plays no
// part in a single batch's per-batch metadata/alias bookkeeping, which
// stays local to that batch's query.Context and is never cached.
type DescribeCache struct {
	cache *lru.Cache[string, ResourceDescriptor]
}

// NewDescribeCache builds a DescribeCache holding at most size entries.
// A non-positive size disables caching: every lookup reports a miss.
func NewDescribeCache(size int) (*DescribeCache, error) {
	if size <= 0 {
		return &DescribeCache{}, nil
	}
	c, err := lru.New[string, ResourceDescriptor](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create describe cache: %w", err)
	}
	return &DescribeCache{cache: c}, nil
}

// Get returns a cached descriptor for resourceID, if present. The
// returned descriptor's Alias field is always zeroed: aliases are
// assigned per-batch and never cached.
func (c *DescribeCache) Get(resourceID string) (ResourceDescriptor, bool) {
	if c == nil || c.cache == nil {
		return ResourceDescriptor{}, false
	}
	desc, ok := c.cache.Get(resourceID)
	if !ok {
		return ResourceDescriptor{}, false
	}
	desc.Alias = ""
	return desc, true
}

// Put stores desc under resourceID for future batches.
func (c *DescribeCache) Put(resourceID string, desc ResourceDescriptor) {
	if c == nil || c.cache == nil {
		return
	}
	stored := desc
	stored.Alias = ""
	c.cache.Add(resourceID, stored)
}
