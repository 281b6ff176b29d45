// Package catalog tracks the engine's schema: declared tables, document
// collections and secondary indexes. It is the engine's single source of
// truth for DDL — the engine, the SQL evaluator and backup ask the Catalog
// before touching a table or index by name.
package catalog

import (
	"encoding/json"
	"sync"

	"github.com/tonledb/tonle/pkg/errors"
	"github.com/tonledb/tonle/pkg/storage"
	"github.com/tonledb/tonle/pkg/types"
)

// IndexType names the physical structure backing a declared index.
// BTree is the only one actually implemented today (by pkg/index over
// prefix scans); Hash is declarable for forward-compatibility but behaves
// identically, since Storage has no native hash-bucket primitive.
type IndexType int

const (
	BTree IndexType = iota
	Hash
)

func (t IndexType) String() string {
	if t == Hash {
		return "Hash"
	}
	return "BTree"
}

// Constraint names one of the column-level constraints the data model
// allows: NotNull, Unique, PrimaryKey, ForeignKey, Check. NotNull and
// Unique are enforced by Engine.InsertRow against every write; PrimaryKey
// is implicit in TableSchema.PrimaryKey rather than declared here.
// ForeignKey and Check are declarable (so a restored catalog round-trips)
// but not validated on write.
type Constraint struct {
	Kind            string `json:"kind"` // "NotNull" | "Unique" | "PrimaryKey" | "ForeignKey" | "Check"
	RefTable        string `json:"ref_table,omitempty"`
	RefColumn       string `json:"ref_column,omitempty"`
	CheckExpression string `json:"check_expression,omitempty"`
}

// Column describes one table column.
type Column struct {
	Name        string           `json:"name"`
	Type        types.DataType   `json:"type"`
	Constraints []Constraint     `json:"constraints,omitempty"`
}

func (c Column) hasConstraint(kind string) bool {
	for _, con := range c.Constraints {
		if con.Kind == kind {
			return true
		}
	}
	return false
}

// NotNull reports whether the column carries a NotNull constraint.
func (c Column) NotNull() bool { return c.hasConstraint("NotNull") }

// Unique reports whether the column carries a Unique constraint.
func (c Column) Unique() bool { return c.hasConstraint("Unique") }

// IndexDef describes a declared secondary (or primary) index on one column
// of one table.
type IndexDef struct {
	Table  string    `json:"table"`
	Column string    `json:"column"`
	Type   IndexType `json:"type"`
	Unique bool      `json:"unique"`
}

// Name returns the "<table>.<column>" index name used to derive the
// index's storage Space.
func (d IndexDef) Name() string { return d.Table + "." + d.Column }

// TableSchema describes one declared relational table.
type TableSchema struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	PrimaryKey string   `json:"primary_key"`
}

// ColumnNames returns just the declared column names, in declaration order.
func (t TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t TableSchema) hasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Catalog is the engine's schema registry: a single readers/writer lock over
// tables, collections and indexes, mirrored into the catalog Space so it
// survives a snapshot/restore cycle.
type Catalog struct {
	mu          sync.RWMutex
	tables      map[string]*TableSchema
	collections map[string]struct{}
	indexes     map[string]*IndexDef // keyed by "<table>.<column>"

	store storage.Storage
}

// New creates an empty Catalog backed by store for persistence of DDL
// entries into the catalog space.
func New(store storage.Storage) *Catalog {
	return &Catalog{
		tables:      make(map[string]*TableSchema),
		collections: make(map[string]struct{}),
		indexes:     make(map[string]*IndexDef),
		store:       store,
	}
}

// catalog-space key layouts.
const (
	tablePrefix = "tbl_schema/"
	colPrefix   = "col/"
	idxPrefix   = "idx/"
)

// CreateTable registers schema, persisting it into the catalog space. A
// table must declare a primary key column and must not already exist.
func (c *Catalog) CreateTable(schema TableSchema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[schema.Name]; exists {
		return &errors.TableAlreadyExistsError{Name: schema.Name}
	}
	if schema.PrimaryKey == "" || !schema.hasColumn(schema.PrimaryKey) {
		return &errors.PrimaryKeyNotDefinedError{TableName: schema.Name}
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return errors.InvalidWrap("failed to encode table schema", err)
	}
	if err := c.store.Put(storage.SpaceCatalog, []byte(tablePrefix+schema.Name), raw); err != nil {
		return err
	}

	cp := schema
	c.tables[schema.Name] = &cp
	return nil
}

// CreateCollection registers a document collection by name, persisting a
// "col/<name>" entry per spec.md's external key layout.
func (c *Catalog) CreateCollection(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.collections[name]; exists {
		return nil // idempotent: creating an existing collection is a no-op
	}

	raw, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return errors.InvalidWrap("failed to encode collection entry", err)
	}
	if err := c.store.Put(storage.SpaceCatalog, []byte(colPrefix+name), raw); err != nil {
		return err
	}

	c.collections[name] = struct{}{}
	return nil
}

// CreateIndex declares a secondary index on table.column. Fails if the
// table doesn't exist, the column isn't declared, or the index already
// exists.
func (c *Catalog) CreateIndex(def IndexDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	table, ok := c.tables[def.Table]
	if !ok {
		return &errors.TableNotFoundError{Name: def.Table}
	}
	if !table.hasColumn(def.Column) {
		return &errors.ColumnNotFoundError{Table: def.Table, Column: def.Column}
	}
	if _, exists := c.indexes[def.Name()]; exists {
		return &errors.IndexAlreadyExistsError{Name: def.Name()}
	}

	raw, err := json.Marshal(def)
	if err != nil {
		return errors.InvalidWrap("failed to encode index definition", err)
	}
	if err := c.store.Put(storage.SpaceCatalog, []byte(idxPrefix+def.Name()), raw); err != nil {
		return err
	}

	cp := def
	c.indexes[def.Name()] = &cp
	return nil
}

// DropIndex removes a declared index. The caller (the index layer) is
// responsible for also clearing the index's storage space; Catalog only
// tracks the declaration.
func (c *Catalog) DropIndex(table, column string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := table + "." + column
	if _, exists := c.indexes[name]; !exists {
		return &errors.IndexNotFoundError{Name: name}
	}
	if err := c.store.Del(storage.SpaceCatalog, []byte(idxPrefix+name)); err != nil {
		return err
	}
	delete(c.indexes, name)
	return nil
}

// GetIndex returns the declaration for table.column.
func (c *Catalog) GetIndex(table, column string) (IndexDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.indexes[table+"."+column]
	if !ok {
		return IndexDef{}, false
	}
	return *def, true
}

// IndexesForTable returns every index declared on table.
func (c *Catalog) IndexesForTable(table string) []IndexDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []IndexDef
	for _, def := range c.indexes {
		if def.Table == table {
			out = append(out, *def)
		}
	}
	return out
}

// GetTable returns the declared schema for name.
func (c *Catalog) GetTable(name string) (TableSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return TableSchema{}, false
	}
	return *t, true
}

// HasCollection reports whether name was declared via CreateCollection.
func (c *Catalog) HasCollection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.collections[name]
	return ok
}

// Tables returns every declared table schema.
func (c *Catalog) Tables() []TableSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TableSchema, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, *t)
	}
	return out
}

// Indexes returns every declared index definition.
func (c *Catalog) Indexes() []IndexDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]IndexDef, 0, len(c.indexes))
	for _, d := range c.indexes {
		out = append(out, *d)
	}
	return out
}

// Load repopulates the in-memory catalog from the catalog space, used after
// a restore to rebuild table/collection/index declarations from persisted
// entries before indexes are rebuilt from row data.
func (c *Catalog) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tableEntries, err := c.store.ScanPrefix(storage.SpaceCatalog, []byte(tablePrefix))
	if err != nil {
		return err
	}
	for _, e := range tableEntries {
		var schema TableSchema
		if err := json.Unmarshal(e.Value, &schema); err != nil {
			return errors.InvalidWrap("failed to decode persisted table schema", err)
		}
		cp := schema
		c.tables[schema.Name] = &cp
	}

	colEntries, err := c.store.ScanPrefix(storage.SpaceCatalog, []byte(colPrefix))
	if err != nil {
		return err
	}
	for _, e := range colEntries {
		var m map[string]string
		if err := json.Unmarshal(e.Value, &m); err != nil {
			return errors.InvalidWrap("failed to decode persisted collection entry", err)
		}
		c.collections[m["name"]] = struct{}{}
	}

	idxEntries, err := c.store.ScanPrefix(storage.SpaceCatalog, []byte(idxPrefix))
	if err != nil {
		return err
	}
	for _, e := range idxEntries {
		var def IndexDef
		if err := json.Unmarshal(e.Value, &def); err != nil {
			return errors.InvalidWrap("failed to decode persisted index definition", err)
		}
		cp := def
		c.indexes[def.Name()] = &cp
	}

	return nil
}
