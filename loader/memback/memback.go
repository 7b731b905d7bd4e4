// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package memback is an in-memory implementation of loader.Manager
// and friends, used by the loader package's own tests and by anyone
// who wants to exercise the protocol without a real storage engine.
package memback

import (
	"context"
	"fmt"

	"github.com/columnarhq/genload/loader"
	"github.com/columnarhq/genload/wire"
)

var (
	_ loader.Manager      = (*Manager)(nil)
	_ loader.Database     = (*Database)(nil)
	_ loader.Table        = (*Table)(nil)
	_ loader.Cursor       = (*Cursor)(nil)
	_ loader.MetadataTree = (*metaTree)(nil)
)

// Manager is an in-memory loader.Manager: each database it creates
// lives only as long as the Manager itself.
type Manager struct {
	roots map[string]*Database

	IncludePaths []string
	ParsedFiles  []string

	// FailSchemaFiles, when non-nil, names schema file paths that
	// ParseSchemaFile should report as failed, letting tests exercise
	// the "at least one schema parses" fallback.
	FailSchemaFiles map[string]bool
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{roots: make(map[string]*Database)}
}

func (m *Manager) CreateDatabase(ctx context.Context, name string) (loader.Database, error) {
	if _, ok := m.roots[name]; ok {
		return nil, fmt.Errorf("memback: database %q already exists", name)
	}
	db := newDatabase(name)
	m.roots[name] = db
	return db, nil
}

func (m *Manager) AddSchemaIncludePath(ctx context.Context, path string) error {
	m.IncludePaths = append(m.IncludePaths, path)
	return nil
}

func (m *Manager) ParseSchemaFile(ctx context.Context, path string) error {
	if m.FailSchemaFiles[path] {
		return fmt.Errorf("memback: simulated parse failure for %q", path)
	}
	m.ParsedFiles = append(m.ParsedFiles, path)
	return nil
}

func (m *Manager) RemoveDatabase(ctx context.Context, name string) error {
	delete(m.roots, name)
	return nil
}

// Database looks up a root database created by CreateDatabase, for
// use by tests inspecting the result of a load.
func (m *Manager) Database(name string) (*Database, bool) {
	d, ok := m.roots[name]
	return d, ok
}

// Database is an in-memory database node, root or nested.
type Database struct {
	name     string
	subdbs   map[string]*Database
	tables   map[string]*Table
	metadata map[string]string
	attrs    map[string]map[string]string
}

func newDatabase(name string) *Database {
	return &Database{
		name:     name,
		subdbs:   make(map[string]*Database),
		tables:   make(map[string]*Table),
		metadata: make(map[string]string),
		attrs:    make(map[string]map[string]string),
	}
}

func (d *Database) Name() string { return d.name }

func (d *Database) CreateSubDatabase(ctx context.Context, member, storage string, mode wire.CreateMode) (loader.Database, error) {
	if existing, ok := d.subdbs[member]; ok {
		if mode.Base() == wire.ModeCreate {
			return nil, fmt.Errorf("memback: sub-database %q already exists", member)
		}
		return existing, nil
	}
	if mode.Base() == wire.ModeOpen {
		return nil, fmt.Errorf("memback: sub-database %q does not exist", member)
	}
	child := newDatabase(storage)
	d.subdbs[member] = child
	return child, nil
}

func (d *Database) CreateTable(ctx context.Context, member, storage string) (loader.Table, error) {
	if _, ok := d.tables[member]; ok {
		return nil, fmt.Errorf("memback: table %q already exists", member)
	}
	t := &Table{member: member, storage: storage}
	d.tables[member] = t
	return t, nil
}

func (d *Database) OpenMetadata(ctx context.Context) (loader.MetadataTree, error) {
	return &metaTree{nodes: d.metadata, attrs: d.attrs}, nil
}

func (d *Database) Release(ctx context.Context) error { return nil }

// SubDatabase looks up a child database by its member name.
func (d *Database) SubDatabase(member string) (*Database, bool) {
	sub, ok := d.subdbs[member]
	return sub, ok
}

// Table looks up a table by its member name.
func (d *Database) Table(member string) (*Table, bool) {
	t, ok := d.tables[member]
	return t, ok
}

// Metadata returns the node-value metadata attached to d.
func (d *Database) Metadata() map[string]string { return d.metadata }

// Table is an in-memory table: an ordered set of columns and the rows
// committed against them.
type Table struct {
	member, storage string
	columns         []*Column
	byName          map[string]*Column
	rowCount        int
	reindexed       bool
	metadata        map[string]string
	attrs           map[string]map[string]string
}

func (t *Table) CreateWriteCursor(ctx context.Context) (loader.Cursor, error) {
	return &Cursor{table: t, current: make(map[*Column][]byte)}, nil
}

func (t *Table) Reindex(ctx context.Context) error {
	t.reindexed = true
	return nil
}

func (t *Table) OpenMetadata(ctx context.Context) (loader.MetadataTree, error) {
	if t.metadata == nil {
		t.metadata = make(map[string]string)
		t.attrs = make(map[string]map[string]string)
	}
	return &metaTree{nodes: t.metadata, attrs: t.attrs}, nil
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// RowCount returns the number of committed rows.
func (t *Table) RowCount() int { return t.rowCount }

// Reindexed reports whether Reindex was called.
func (t *Table) Reindexed() bool { return t.reindexed }

// Column is an in-memory column: its committed row values plus any
// persistent default.
type Column struct {
	name       string
	elemBits   uint8
	flags      uint8
	defaultVal []byte
	hasDefault bool
	rows       [][]byte
	metadata   map[string]string
	attrs      map[string]map[string]string
}

func (c *Column) Name() string                          { return c.name }
func (c *Column) ElemBits() uint8                       { return c.elemBits }
func (c *Column) Flags() uint8                          { return c.flags }
func (c *Column) HasDefault() bool                      { return c.hasDefault }
func (c *Column) Default() []byte                       { return c.defaultVal }
func (c *Column) Metadata() map[string]string           { return c.metadata }
func (c *Column) Attrs() map[string]map[string]string   { return c.attrs }

// Row returns the committed value for the 0-indexed row i.
func (c *Column) Row(i int) ([]byte, bool) {
	if i < 0 || i >= len(c.rows) {
		return nil, false
	}
	return c.rows[i], true
}

// Cursor is an in-memory write cursor over one table.
type Cursor struct {
	table   *Table
	current map[*Column][]byte
	written map[*Column]bool
}

func (cu *Cursor) AddColumn(ctx context.Context, name string, elemBits, flags uint8) (loader.ColumnHandle, error) {
	if cu.table.byName == nil {
		cu.table.byName = make(map[string]*Column)
	}
	c := &Column{
		name: name, elemBits: elemBits, flags: flags,
		metadata: make(map[string]string),
		attrs:    make(map[string]map[string]string),
	}
	cu.table.columns = append(cu.table.columns, c)
	cu.table.byName[name] = c
	return c, nil
}

func (cu *Cursor) Open(ctx context.Context) error {
	cu.written = make(map[*Column]bool)
	return nil
}

func (cu *Cursor) OpenRow(ctx context.Context) error {
	cu.current = make(map[*Column][]byte)
	cu.written = make(map[*Column]bool)
	return nil
}

func (cu *Cursor) Write(ctx context.Context, col loader.ColumnHandle, data []byte) error {
	c := col.(*Column)
	cu.current[c] = append(cu.current[c], data...)
	cu.written[c] = true
	return nil
}

func (cu *Cursor) Default(ctx context.Context, col loader.ColumnHandle, data []byte) error {
	c := col.(*Column)
	c.defaultVal = append([]byte(nil), data...)
	c.hasDefault = true
	return nil
}

func (cu *Cursor) CloseRow(ctx context.Context) error { return nil }

func (cu *Cursor) Commit(ctx context.Context) error { return nil }

func (cu *Cursor) CommitRow(ctx context.Context) error {
	for _, c := range cu.table.columns {
		var v []byte
		if cu.written[c] {
			v = cu.current[c]
		} else if c.hasDefault {
			v = c.defaultVal
		}
		c.rows = append(c.rows, v)
	}
	cu.table.rowCount++
	return nil
}

func (cu *Cursor) OpenColumnMetadata(ctx context.Context, col loader.ColumnHandle) (loader.MetadataTree, error) {
	c := col.(*Column)
	return &metaTree{nodes: c.metadata, attrs: c.attrs}, nil
}

func (cu *Cursor) Release(ctx context.Context) error { return nil }

// metaTree is the shared loader.MetadataTree implementation backing
// databases, tables, and columns alike: they all reduce to the same
// path-value and path-attr-value maps.
type metaTree struct {
	nodes map[string]string
	attrs map[string]map[string]string
}

func (m *metaTree) OpenNodeUpdate(ctx context.Context, path string) error { return nil }

func (m *metaTree) WriteValue(ctx context.Context, path, value string) error {
	m.nodes[path] = value
	return nil
}

func (m *metaTree) WriteAttr(ctx context.Context, path, attr, value string) error {
	a, ok := m.attrs[path]
	if !ok {
		a = make(map[string]string)
		m.attrs[path] = a
	}
	a[attr] = value
	return nil
}
