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

package loader

import (
	"context"

	"github.com/columnarhq/genload/wire"
)

// ColumnHandle is an opaque per-column handle a Cursor hands back from
// AddColumn; the loader never inspects it, only passes it back into
// later Cursor calls for that column.
type ColumnHandle any

// Manager is the top-level storage-backend handle: it owns schema
// parsing and creates the single root Database. Every method that can
// fail returns a plain error; the loader treats any non-nil error as
// fatal and propagates it upstream unchanged.
type Manager interface {
	// CreateDatabase materializes the root database under the given
	// effective name.
	CreateDatabase(ctx context.Context, name string) (Database, error)
	// AddSchemaIncludePath registers a directory to search for
	// included schema fragments. A missing path is a caller-level
	// warning, not a Manager-level error; implementations should
	// still report genuine I/O failures.
	AddSchemaIncludePath(ctx context.Context, path string) error
	// ParseSchemaFile parses one schema file by path.
	ParseSchemaFile(ctx context.Context, path string) error
	// RemoveDatabase deletes a database created by CreateDatabase,
	// used to unwind a partially loaded root after a fatal error.
	RemoveDatabase(ctx context.Context, name string) error
}

// Database is a single database node, root or nested. Databases form
// a rooted forest; tables and columns do not nest.
type Database interface {
	// CreateSubDatabase creates a child database as a member of this
	// one under the given create mode.
	CreateSubDatabase(ctx context.Context, member, storage string, mode wire.CreateMode) (Database, error)
	// CreateTable creates a table as a member of this database. member
	// is the public name used in the object graph; storage is the
	// name used for on-disk placement (the two differ for
	// add-member-table events; new-table events pass the same string
	// for both).
	CreateTable(ctx context.Context, member, storage string) (Table, error)
	// OpenMetadata opens this database's metadata tree for writing.
	OpenMetadata(ctx context.Context) (MetadataTree, error)
	// Release detaches this database handle. Called once, in reverse
	// creation order, at close_stream.
	Release(ctx context.Context) error
}

// Table is a single table within a Database.
type Table interface {
	// CreateWriteCursor opens a cursor that will write rows into this
	// table.
	CreateWriteCursor(ctx context.Context) (Cursor, error)
	// Reindex asks the backend to rebuild any derived indices after
	// all rows have been committed.
	Reindex(ctx context.Context) error
	// OpenMetadata opens this table's metadata tree for writing,
	// backing the table-metadata-node/attr events.
	OpenMetadata(ctx context.Context) (MetadataTree, error)
}

// Cursor writes rows into one table, one column at a time.
type Cursor interface {
	// AddColumn declares a column on this cursor and returns a handle
	// used in later Write/Default calls.
	AddColumn(ctx context.Context, name string, elemBits, flags uint8) (ColumnHandle, error)
	// Open prepares the cursor for writing, after all of its columns
	// have been declared.
	Open(ctx context.Context) error
	// OpenRow begins a new row.
	OpenRow(ctx context.Context) error
	// Write appends data to col's cell in the currently open row;
	// oversized cells arrive as several consecutive Writes whose
	// concatenation is the full cell.
	Write(ctx context.Context, col ColumnHandle, data []byte) error
	// Default sets the persistent default value for col; it applies
	// to every row, current and future, that does not receive an
	// explicit Write.
	Default(ctx context.Context, col ColumnHandle, data []byte) error
	// CloseRow finalizes the currently open row's contents.
	CloseRow(ctx context.Context) error
	// CommitRow durably commits the closed row.
	CommitRow(ctx context.Context) error
	// Commit makes everything written through this cursor durable,
	// called once per cursor before Release.
	Commit(ctx context.Context) error
	// OpenColumnMetadata opens a metadata tree scoped to one physical
	// column, used by the deferred column-metadata flush at
	// end-of-stream.
	OpenColumnMetadata(ctx context.Context, col ColumnHandle) (MetadataTree, error)
	// Release detaches the cursor after its table's rows are fully
	// committed.
	Release(ctx context.Context) error
}

// MetadataTree writes path-keyed metadata values and path/attribute
// pairs onto a database, table, or column.
type MetadataTree interface {
	// OpenNodeUpdate opens path for writing before WriteValue/WriteAttr
	// are called against it. Implementations that don't need an
	// explicit open step may treat this as a no-op.
	OpenNodeUpdate(ctx context.Context, path string) error
	WriteValue(ctx context.Context, path, value string) error
	WriteAttr(ctx context.Context, path, attr, value string) error
}

// ManagerFactory lazily constructs a Manager. The loader calls it at
// most once, the first time a Manager is actually needed: either when
// a use-schema event is processed, or, if one never appears, when the
// root database is first materialized.
type ManagerFactory func(ctx context.Context) (Manager, error)
