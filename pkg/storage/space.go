package storage

// Space is a logical namespace identified by a short string. The engine
// uses exactly catalog, data, kv, and one index_<name> per declared index.
type Space string

const (
	SpaceCatalog Space = "catalog"
	SpaceData    Space = "data"
	SpaceKV      Space = "kv"
)

// IndexSpace returns the space backing the secondary index named
// "<table>.<column>".
func IndexSpace(indexName string) Space {
	return Space("index_" + indexName)
}
