package query

import (
	"strconv"

	"github.com/publicamundi/geoquery/catalog"
)

// MetadataStore is the insertion-ordered map of introspected resources
// for one batch. The assigned `t{k}` alias is a pure function of
// insertion order, so iteration order over referenced resources must be
// deterministic.
type MetadataStore struct {
	order  []string
	byName map[string]*catalog.ResourceDescriptor
}

// NewMetadataStore returns an empty, ready-to-use store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{byName: make(map[string]*catalog.ResourceDescriptor)}
}

// Get returns the descriptor for resourceID, if already introspected in
// this batch.
func (m *MetadataStore) Get(resourceID string) (*catalog.ResourceDescriptor, bool) {
	d, ok := m.byName[resourceID]
	return d, ok
}

// Insert adds desc under resourceID, assigning its per-batch table alias
// as t{k} where k = 1 + the number of resources already in the store at
// insertion time. Calling Insert for an already-present resourceID is a
// no-op that returns the existing descriptor (metadata is monotonic: it
// is never re-assigned once inserted).
func (m *MetadataStore) Insert(resourceID string, desc catalog.ResourceDescriptor) *catalog.ResourceDescriptor {
	if existing, ok := m.byName[resourceID]; ok {
		return existing
	}
	desc.Alias = aliasFor(len(m.order) + 1)
	stored := desc
	m.byName[resourceID] = &stored
	m.order = append(m.order, resourceID)
	return &stored
}

// Names returns the resource ids in insertion order.
func (m *MetadataStore) Names() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Len reports how many resources have been introspected so far in this
// batch.
func (m *MetadataStore) Len() int {
	return len(m.order)
}

// Snapshot returns a plain map suitable for inclusion in the batch
// response envelope's `metadata` field.
func (m *MetadataStore) Snapshot() map[string]catalog.ResourceDescriptor {
	out := make(map[string]catalog.ResourceDescriptor, len(m.order))
	for _, id := range m.order {
		out[id] = *m.byName[id]
	}
	return out
}

func aliasFor(k int) string {
	return "t" + strconv.Itoa(k)
}

// Context is the per-batch execution context the compiler reads from and
// mutates. The engine owns and constructs it; the compiler only mutates
// the Metadata store (and, indirectly, the resource-by-name map it
// holds).
type Context struct {
	// Resources is the full catalog, discovered once per batch.
	Resources map[string]catalog.ResourceStub

	// Metadata is the monotonic, insertion-ordered store of resources
	// introspected so far in this batch.
	Metadata *MetadataStore

	// DataConn runs DescribeResource against the data database on first
	// reference to a resource within the batch.
	DataConn catalog.Queryer

	// DescribeCache optionally shortcuts DescribeResource round-trips
	// across independent batches. May be nil.
	DescribeCache *catalog.DescribeCache

	// TargetSRID is the batch's requested output CRS (default 3857).
	TargetSRID int

	// OutputFormat is either registry.FormatJSON or registry.FormatGeoJSON.
	OutputFormat string
}

// resolveResource returns the descriptor for resourceID, introspecting
// it (via DescribeCache then DataConn) and inserting it into Metadata on
// first reference within this batch.
func (c *Context) resolveResource(resourceID string) (*catalog.ResourceDescriptor, error) {
	if existing, ok := c.Metadata.Get(resourceID); ok {
		return existing, nil
	}

	stub, ok := c.Resources[resourceID]
	if !ok {
		return nil, nil // caller reports "does not exist"
	}

	if c.DescribeCache != nil {
		if cached, ok := c.DescribeCache.Get(resourceID); ok {
			cached.ResourceStub = stub
			return c.Metadata.Insert(resourceID, cached), nil
		}
	}

	desc, err := catalog.DescribeResource(c.DataConn, stub)
	if err != nil {
		return nil, err
	}

	if c.DescribeCache != nil {
		c.DescribeCache.Put(resourceID, desc)
	}

	return c.Metadata.Insert(resourceID, desc), nil
}
