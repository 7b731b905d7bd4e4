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

// Package loader implements the loader state machine: it consumes
// decoded events through the wire.EventSink interface and
// materializes them against an abstract storage backend (Manager,
// Database, Table, Cursor, MetadataTree). Databases, tables, and
// columns live in id-keyed maps and refer to one another by id.
package loader

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"github.com/columnarhq/genload/wire"
)

var _ wire.EventSink = (*Loader)(nil)

type dbEntry struct {
	id             uint32
	parentID       uint32
	member, storage string
	mode           wire.CreateMode
	handle         Database
}

type tableEntry struct {
	id              uint32
	dbID            uint32
	member, storage string
	cursorIdx       int
	handle          Table
}

type columnEntry struct {
	id       uint32
	tableID  uint32
	name     string
	elemBits uint8
	flags    uint8
	handle   ColumnHandle

	pendingNodes map[string]string
	pendingAttrs map[string]map[string]string
}

type rowCursor struct {
	table  *tableEntry
	cursor Cursor
	open   bool

	writtenThisRow map[uint32]bool
	defaultSet     map[uint32]bool
}

// Loader is a single-stream instance of the state machine. It
// implements wire.EventSink and is safe to drive from a single
// gparser.Parser; it shares nothing with any other Loader, so
// independent streams can load concurrently.
type Loader struct {
	Session uuid.UUID

	ctx        context.Context
	newManager ManagerFactory
	mgr        Manager
	logger     *log.Logger

	dbs     map[uint32]*dbEntry
	tables  map[uint32]*tableEntry
	columns map[uint32]*columnEntry
	cursors []*rowCursor

	includePaths []string
	schemaFiles  []string

	targetDB         string
	targetDBOverride bool

	softwareName    string
	softwareVersion version

	opened bool
	closed bool
}

// New creates a Loader that will lazily construct its Manager via
// newManager the first time one is actually needed.
func New(ctx context.Context, newManager ManagerFactory) *Loader {
	return &Loader{
		Session:    uuid.New(),
		ctx:        ctx,
		newManager: newManager,
		logger:     log.Default(),
		dbs:        map[uint32]*dbEntry{0: {id: 0}},
		tables:     make(map[uint32]*tableEntry),
		columns:    make(map[uint32]*columnEntry),
	}
}

// SetLogger overrides the destination for info/error/warning lines;
// nil restores log.Default().
func (l *Loader) SetLogger(logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	l.logger = logger
}

// AddIncludePath registers a schema include path, equivalent to one
// occurrence of the enclosing host's repeatable --include flag.
func (l *Loader) AddIncludePath(path string) { l.includePaths = append(l.includePaths, path) }

// AddSchemaFile registers an externally supplied schema file,
// equivalent to one occurrence of --schema.
func (l *Loader) AddSchemaFile(path string) { l.schemaFiles = append(l.schemaFiles, path) }

// SetTargetDatabase overrides the effective database name that would
// otherwise come from the stream's remote-path event, equivalent to
// --target.
func (l *Loader) SetTargetDatabase(name string) {
	l.targetDB = name
	l.targetDBOverride = true
}

func (l *Loader) ensureManager() error {
	if l.mgr != nil {
		return nil
	}
	mgr, err := l.newManager(l.ctx)
	if err != nil {
		return fmt.Errorf("loader: creating backend manager: %w", err)
	}
	l.mgr = mgr
	return nil
}

// materializeDB ensures e and every one of its ancestors has a live
// backend Database handle, creating the root handle (and the Manager
// itself, if needed) on first use.
func (l *Loader) materializeDB(id uint32) (*dbEntry, error) {
	e, ok := l.dbs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrDatabaseNotFound, id)
	}
	if e.handle != nil {
		return e, nil
	}
	if id == wire.RootID {
		if err := l.ensureManager(); err != nil {
			return nil, err
		}
		name := l.targetDB
		if name == "" {
			name = "db"
		}
		h, err := l.mgr.CreateDatabase(l.ctx, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseCreateFailed, err)
		}
		e.handle = h
		return e, nil
	}
	parent, err := l.materializeDB(e.parentID)
	if err != nil {
		return nil, err
	}
	h, err := parent.handle.CreateSubDatabase(l.ctx, e.member, e.storage, e.mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseCreateFailed, err)
	}
	e.handle = h
	return e, nil
}

func (l *Loader) rowCursorForTable(tableID uint32) (*tableEntry, *rowCursor, error) {
	te, ok := l.tables[tableID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrTableNotFound, tableID)
	}
	return te, l.cursors[te.cursorIdx], nil
}

// UseSchema implements wire.EventSink.
func (l *Loader) UseSchema(file, spec string) error {
	_ = spec // not stored or passed to the backend; only the schema files are parsed
	if err := l.ensureManager(); err != nil {
		return err
	}
	for _, p := range l.includePaths {
		if err := l.mgr.AddSchemaIncludePath(l.ctx, p); err != nil {
			l.logger.Printf("warning: schema include path %q: %v", p, err)
		}
	}
	parsedAny := false
	if err := l.mgr.ParseSchemaFile(l.ctx, file); err != nil {
		l.logger.Printf("warning: primary schema file %q: %v", file, err)
	} else {
		parsedAny = true
	}
	for _, f := range l.schemaFiles {
		if err := l.mgr.ParseSchemaFile(l.ctx, f); err != nil {
			l.logger.Printf("warning: schema file %q: %v", f, err)
		} else {
			parsedAny = true
		}
	}
	if !parsedAny {
		return ErrSchemaFailed
	}
	return nil
}

// RemotePath implements wire.EventSink.
func (l *Loader) RemotePath(path string) error {
	if l.targetDBOverride {
		l.logger.Printf("info: remote-path %q ignored, target database already set", path)
		return nil
	}
	l.targetDB = path
	return nil
}

// SoftwareName implements wire.EventSink.
func (l *Loader) SoftwareName(name, v string) error {
	ver, err := parseVersion(v)
	if err != nil {
		return err
	}
	l.softwareName = name
	l.softwareVersion = ver
	return nil
}

// NewTable implements wire.EventSink.
func (l *Loader) NewTable(id uint32, name string) error {
	return l.AddMemberTable(id, wire.RootID, name, name, wire.ModeCreate|wire.ModeMD5)
}

// AddMemberDB implements wire.EventSink.
func (l *Loader) AddMemberDB(id, parentID uint32, member, storage string, mode wire.CreateMode) error {
	if err := mode.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCreateMode, err)
	}
	parent, err := l.materializeDB(parentID)
	if err != nil {
		return err
	}
	sub, err := parent.handle.CreateSubDatabase(l.ctx, member, storage, mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseCreateFailed, err)
	}
	l.dbs[id] = &dbEntry{id: id, parentID: parentID, member: member, storage: storage, mode: mode, handle: sub}
	return nil
}

// AddMemberTable implements wire.EventSink.
func (l *Loader) AddMemberTable(id, parentDB uint32, member, storage string, mode wire.CreateMode) error {
	parent, err := l.materializeDB(parentDB)
	if err != nil {
		return err
	}
	tbl, err := parent.handle.CreateTable(l.ctx, member, storage)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTableExists, err)
	}
	cur, err := tbl.CreateWriteCursor(l.ctx)
	if err != nil {
		return err
	}
	idx := len(l.cursors)
	l.cursors = append(l.cursors, &rowCursor{
		writtenThisRow: make(map[uint32]bool),
		defaultSet:     make(map[uint32]bool),
	})
	te := &tableEntry{id: id, dbID: parentDB, member: member, storage: storage, cursorIdx: idx, handle: tbl}
	l.cursors[idx].table = te
	l.cursors[idx].cursor = cur
	l.tables[id] = te
	return nil
}

// NewColumn implements wire.EventSink.
func (l *Loader) NewColumn(id uint32, tableID uint32, elemBits, flags uint8, name string) error {
	_, rc, err := l.rowCursorForTable(tableID)
	if err != nil {
		return err
	}
	h, err := rc.cursor.AddColumn(l.ctx, name, elemBits, flags)
	if err != nil {
		return err
	}
	l.columns[id] = &columnEntry{
		id: id, tableID: tableID, name: name, elemBits: elemBits, flags: flags, handle: h,
		pendingNodes: make(map[string]string),
		pendingAttrs: make(map[string]map[string]string),
	}
	return nil
}

// OpenStream implements wire.EventSink.
func (l *Loader) OpenStream() error {
	if _, err := l.materializeDB(wire.RootID); err != nil {
		return err
	}
	for _, rc := range l.cursors {
		if err := rc.cursor.Open(l.ctx); err != nil {
			return err
		}
		if err := rc.cursor.OpenRow(l.ctx); err != nil {
			return err
		}
		rc.open = true
	}
	l.opened = true
	return nil
}

// CellDefault implements wire.EventSink.
func (l *Loader) CellDefault(colID uint32, data []byte) error {
	ce, ok := l.columns[colID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrColumnNotFound, colID)
	}
	rc := l.cursors[l.tables[ce.tableID].cursorIdx]
	if err := rc.cursor.Default(l.ctx, ce.handle, data); err != nil {
		return err
	}
	rc.defaultSet[colID] = true
	return nil
}

// CellData implements wire.EventSink.
func (l *Loader) CellData(colID uint32, data []byte) error {
	ce, ok := l.columns[colID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrColumnNotFound, colID)
	}
	rc := l.cursors[l.tables[ce.tableID].cursorIdx]
	if err := rc.cursor.Write(l.ctx, ce.handle, data); err != nil {
		return err
	}
	rc.writtenThisRow[colID] = true
	return nil
}

// EmptyDefault implements wire.EventSink.
func (l *Loader) EmptyDefault(colID uint32) error {
	ce, ok := l.columns[colID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrColumnNotFound, colID)
	}
	rc := l.cursors[l.tables[ce.tableID].cursorIdx]
	if err := rc.cursor.Default(l.ctx, ce.handle, nil); err != nil {
		return err
	}
	rc.defaultSet[colID] = true
	return nil
}

// commitRow enforces the "every column has an explicit write or a
// default" invariant, then closes, commits, and reopens rc's row.
func (l *Loader) commitRow(rc *rowCursor) error {
	for colID, ce := range l.columns {
		if ce.tableID != rc.table.id {
			continue
		}
		if !rc.writtenThisRow[colID] && !rc.defaultSet[colID] {
			return fmt.Errorf("%w: table %d column %d", ErrRowIncomplete, rc.table.id, colID)
		}
	}
	if err := rc.cursor.CloseRow(l.ctx); err != nil {
		return err
	}
	if err := rc.cursor.CommitRow(l.ctx); err != nil {
		return err
	}
	for colID := range rc.writtenThisRow {
		delete(rc.writtenThisRow, colID)
	}
	return rc.cursor.OpenRow(l.ctx)
}

// NextRow implements wire.EventSink.
func (l *Loader) NextRow(tableID uint32) error {
	_, rc, err := l.rowCursorForTable(tableID)
	if err != nil {
		return err
	}
	return l.commitRow(rc)
}

// MoveAhead implements wire.EventSink. It commits n rows in
// succession (not n+1): the row open when move-ahead arrives is the
// first of the n committed.
func (l *Loader) MoveAhead(tableID uint32, n uint64) error {
	_, rc, err := l.rowCursorForTable(tableID)
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		if err := l.commitRow(rc); err != nil {
			return err
		}
	}
	return nil
}

// DBMetadataNode implements wire.EventSink.
func (l *Loader) DBMetadataNode(id uint32, path, value string) error {
	e, err := l.materializeDB(id)
	if err != nil {
		return err
	}
	tree, err := e.handle.OpenMetadata(l.ctx)
	if err != nil {
		return err
	}
	if err := tree.OpenNodeUpdate(l.ctx, path); err != nil {
		return err
	}
	return tree.WriteValue(l.ctx, path, value)
}

// TableMetadataNode implements wire.EventSink.
func (l *Loader) TableMetadataNode(id uint32, path, value string) error {
	te, ok := l.tables[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrTableNotFound, id)
	}
	tree, err := te.handle.OpenMetadata(l.ctx)
	if err != nil {
		return err
	}
	if err := tree.OpenNodeUpdate(l.ctx, path); err != nil {
		return err
	}
	return tree.WriteValue(l.ctx, path, value)
}

// ColumnMetadataNode implements wire.EventSink. Column metadata is
// buffered and written only during end-of-stream finalization, so the
// physical column is opened once no matter how many nodes accumulate.
func (l *Loader) ColumnMetadataNode(id uint32, path, value string) error {
	ce, ok := l.columns[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrColumnNotFound, id)
	}
	ce.pendingNodes[path] = value
	return nil
}

// DBMetadataAttr implements wire.EventSink.
func (l *Loader) DBMetadataAttr(id uint32, path, attr, value string) error {
	e, err := l.materializeDB(id)
	if err != nil {
		return err
	}
	tree, err := e.handle.OpenMetadata(l.ctx)
	if err != nil {
		return err
	}
	if err := tree.OpenNodeUpdate(l.ctx, path); err != nil {
		return err
	}
	return tree.WriteAttr(l.ctx, path, attr, value)
}

// TableMetadataAttr implements wire.EventSink.
func (l *Loader) TableMetadataAttr(id uint32, path, attr, value string) error {
	te, ok := l.tables[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrTableNotFound, id)
	}
	tree, err := te.handle.OpenMetadata(l.ctx)
	if err != nil {
		return err
	}
	if err := tree.OpenNodeUpdate(l.ctx, path); err != nil {
		return err
	}
	return tree.WriteAttr(l.ctx, path, attr, value)
}

// ColumnMetadataAttr implements wire.EventSink. Deferred, like
// ColumnMetadataNode.
func (l *Loader) ColumnMetadataAttr(id uint32, path, attr, value string) error {
	ce, ok := l.columns[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrColumnNotFound, id)
	}
	attrs, ok := ce.pendingAttrs[path]
	if !ok {
		attrs = make(map[string]string)
		ce.pendingAttrs[path] = attrs
	}
	attrs[attr] = value
	return nil
}

// ErrorMessage implements wire.EventSink. A producer-signalled error
// always terminates the load with a deterministic fatal error,
// regardless of what came before it.
func (l *Loader) ErrorMessage(msg string) error {
	l.logger.Printf("error: %s", msg)
	return fmt.Errorf("%w: %s", ErrErrorSignalled, msg)
}

// LogMessage implements wire.EventSink. Never fails the run.
func (l *Loader) LogMessage(msg string) error {
	l.logger.Printf("info: %s", msg)
	return nil
}

// ProgressMessage implements wire.EventSink. Never fails the run
// except for a malformed percent/version/timestamp.
func (l *Loader) ProgressMessage(name string, pid, ver, timestamp uint32, percent uint8) error {
	if percent > 100 {
		return fmt.Errorf("%w: percent %d out of [0,100]", ErrBadProgress, percent)
	}
	if ver == 0 || timestamp == 0 {
		return fmt.Errorf("%w: version and timestamp must be nonzero", ErrBadProgress)
	}
	l.logger.Printf("info: progress %s pid=%d version=%d timestamp=%d percent=%d", name, pid, ver, timestamp, percent)
	return nil
}

// EndStream implements wire.EventSink. For each cursor it discards
// the trailing open row (rows only become durable through next-row or
// move-ahead), commits the cursor, releases it, and asks its table to
// reindex; then it flushes deferred column metadata and finally
// releases every database handle in reverse creation order.
func (l *Loader) EndStream() error {
	for _, rc := range l.cursors {
		if !rc.open {
			continue
		}
		if err := rc.cursor.CloseRow(l.ctx); err != nil {
			return err
		}
		if err := rc.cursor.Commit(l.ctx); err != nil {
			return err
		}
		if err := rc.cursor.Release(l.ctx); err != nil {
			return err
		}
		if err := rc.table.handle.Reindex(l.ctx); err != nil {
			return err
		}
		rc.open = false
	}

	for _, ce := range l.columns {
		if len(ce.pendingNodes) == 0 && len(ce.pendingAttrs) == 0 {
			continue
		}
		rc := l.cursors[l.tables[ce.tableID].cursorIdx]
		tree, err := rc.cursor.OpenColumnMetadata(l.ctx, ce.handle)
		if err != nil {
			return err
		}
		for path, value := range ce.pendingNodes {
			if err := tree.OpenNodeUpdate(l.ctx, path); err != nil {
				return err
			}
			if err := tree.WriteValue(l.ctx, path, value); err != nil {
				return err
			}
		}
		for path, attrs := range ce.pendingAttrs {
			if err := tree.OpenNodeUpdate(l.ctx, path); err != nil {
				return err
			}
			for attr, value := range attrs {
				if err := tree.WriteAttr(l.ctx, path, attr, value); err != nil {
					return err
				}
			}
		}
	}

	ids := make([]uint32, 0, len(l.dbs))
	for id := range l.dbs {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(uint32Slice(ids)))
	for _, id := range ids {
		e := l.dbs[id]
		if e.handle == nil {
			continue
		}
		if err := e.handle.Release(l.ctx); err != nil {
			return err
		}
	}
	l.closed = true
	return nil
}

type uint32Slice []uint32

func (s uint32Slice) Len() int           { return len(s) }
func (s uint32Slice) Less(i, j int) bool { return s[i] < s[j] }
func (s uint32Slice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Abandon removes the partially-created root database after a fatal
// error. It is a no-op if the root was never materialized.
func (l *Loader) Abandon() error {
	root, ok := l.dbs[wire.RootID]
	if !ok || root.handle == nil || l.mgr == nil {
		return nil
	}
	name := l.targetDB
	if name == "" {
		name = "db"
	}
	return l.mgr.RemoveDatabase(l.ctx, name)
}
