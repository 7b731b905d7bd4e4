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

package gwriter

import (
	"encoding/binary"
	"fmt"

	"github.com/columnarhq/genload/genc"
	"github.com/columnarhq/genload/wire"
)

type tableKey struct {
	parent uint32
	name   string
}

type columnKey struct {
	table uint32
	name  string
}

type columnMeta struct {
	tableID  uint32
	elemBits uint8
	flags    uint8
}

// Writer assembles a single well-formed event stream. It is not safe
// for concurrent use by multiple goroutines; independent streams each
// get their own Writer.
type Writer struct {
	sink    Sink
	packing wire.Packing

	headerWritten bool
	remoteSet     bool
	schemaSet     bool
	softwareSet   bool
	opened        bool
	closed        bool

	dbCount     uint32
	tableCount  uint32
	columnCount uint32

	tablesByKey  map[tableKey]uint32
	columnsByKey map[columnKey]uint32
	columns      map[uint32]columnMeta

	scratch []byte
}

// New creates a Writer targeting sink in the given framing and emits
// the stream header immediately rather than lazily on the first
// event.
func New(sink Sink, packing wire.Packing) (*Writer, error) {
	w := &Writer{
		sink:         sink,
		packing:      packing,
		tablesByKey:  make(map[tableKey]uint32),
		columnsByKey: make(map[columnKey]uint32),
		columns:      make(map[uint32]columnMeta),
	}
	hdr := wire.NewHeader(packing)
	buf := make([]byte, wire.HeaderSize)
	hdr.Encode(buf)
	if _, err := w.sink.Write(buf); err != nil {
		return nil, err
	}
	w.headerWritten = true
	return w, nil
}

// stringEvent picks the tag and length-field width for a
// string-family event whose longest string is maxStr bytes: the base
// tag with 32-bit lengths when unpacked, the narrow or wide form when
// packed.
func (w *Writer) stringEvent(base wire.Kind, maxStr int) (wire.Kind, wire.LenWidth) {
	if w.packing == wire.Unpacked {
		return base, wire.Len32
	}
	if maxStr > wire.MaxNarrowChunk {
		return base.Wide(), wire.Len16
	}
	return base, wire.Len8
}

func (w *Writer) emitEventHeader(kind wire.Kind, id uint32) error {
	if err := wire.CheckID(w.packing, kind, id); err != nil {
		return err
	}
	buf := make([]byte, wire.EventHeaderSize(w.packing))
	wire.EncodeEventHeader(buf, w.packing, kind, id)
	_, err := w.sink.Write(buf)
	return err
}

func (w *Writer) emitPadding(payloadLen int) error {
	if w.packing != wire.Unpacked {
		return nil
	}
	// the stream header and every unpacked event header are multiples
	// of 4 bytes, so padding the payload out keeps the next event
	// header aligned.
	pad := wire.Align4(payloadLen) - payloadLen
	if pad == 0 {
		return nil
	}
	var zero [4]byte
	_, err := w.sink.Write(zero[:pad])
	return err
}

func (w *Writer) emit(kind wire.Kind, id uint32, payload []byte) error {
	if err := w.emitEventHeader(kind, id); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.sink.Write(payload); err != nil {
			return err
		}
	}
	return w.emitPadding(len(payload))
}

func (w *Writer) requirePreamble() error {
	if w.closed {
		return ErrClosed
	}
	if w.opened {
		return ErrStreamOpened
	}
	return nil
}

func (w *Writer) requireOpened() error {
	if w.closed {
		return ErrClosed
	}
	if !w.opened {
		return ErrNotOpened
	}
	return nil
}

// RemotePath records the storage location the described database
// lives under. May be called at most once, only before OpenStream.
func (w *Writer) RemotePath(path string) error {
	if err := w.requirePreamble(); err != nil {
		return err
	}
	if w.remoteSet {
		return ErrAlreadySet
	}
	if len(path) > wire.MaxRemotePathLen {
		return wire.ErrTooLarge
	}
	kind, width := w.stringEvent(wire.KindRemotePathNarrow, len(path))
	payload, err := wire.OneString{S: path}.Encode(width)
	if err != nil {
		return err
	}
	if err := w.emit(kind, wire.RootID, payload); err != nil {
		return err
	}
	w.remoteSet = true
	return nil
}

// UseSchema records the schema file name and textual schema spec
// that the loaded database should be validated against.
func (w *Writer) UseSchema(file, spec string) error {
	if err := w.requirePreamble(); err != nil {
		return err
	}
	if w.schemaSet {
		return ErrAlreadySet
	}
	if len(file) > wire.MaxSchemaFileLen || len(spec) > wire.MaxSchemaSpecLen {
		return wire.ErrTooLarge
	}
	kind, width := w.stringEvent(wire.KindUseSchemaNarrow, max(len(file), len(spec)))
	payload, err := wire.TwoStrings{A: file, B: spec}.Encode(width)
	if err != nil {
		return err
	}
	if err := w.emit(kind, wire.RootID, payload); err != nil {
		return err
	}
	w.schemaSet = true
	return nil
}

// SoftwareName records the producer's name and version string. May be
// called at most once, only before OpenStream.
func (w *Writer) SoftwareName(name, version string) error {
	if err := w.requirePreamble(); err != nil {
		return err
	}
	if w.softwareSet {
		return ErrAlreadySet
	}
	if len(name) > wire.MaxSoftwareLen || len(version) > wire.MaxSoftwareLen {
		return wire.ErrTooLarge
	}
	_, width := w.stringEvent(wire.KindSoftwareName, 0)
	payload, err := wire.TwoStrings{A: name, B: version}.Encode(width)
	if err != nil {
		return err
	}
	if err := w.emit(wire.KindSoftwareName, wire.RootID, payload); err != nil {
		return err
	}
	w.softwareSet = true
	return nil
}

// AddDatabase allocates a new database id as a member of parentDBID
// (wire.RootID for a top-level database) and emits the corresponding
// add-member event.
func (w *Writer) AddDatabase(parentDBID uint32, member, storage string, mode wire.CreateMode) (uint32, error) {
	if err := w.requirePreamble(); err != nil {
		return 0, err
	}
	if parentDBID != wire.RootID && parentDBID > w.dbCount {
		return 0, ErrUnknownDatabase
	}
	if err := mode.Validate(); err != nil {
		return 0, err
	}
	id := w.dbCount + 1
	am := wire.AddMember{ParentID: parentDBID, Member: member, Storage: storage, Mode: mode}
	payload, err := am.Encode()
	if err != nil {
		return 0, err
	}
	if err := w.emit(wire.KindAddMemberDB, id, payload); err != nil {
		return 0, err
	}
	w.dbCount = id
	return id, nil
}

// AddTable allocates (or returns the existing) table id for name
// under parentDBID, deduplicating on (parent, name). When parentDBID
// is wire.RootID it emits the simple new-table event; otherwise it
// emits an add-member-table event with member == storage == name.
func (w *Writer) AddTable(parentDBID uint32, name string) (uint32, error) {
	if err := w.requirePreamble(); err != nil {
		return 0, err
	}
	key := tableKey{parent: parentDBID, name: name}
	if id, ok := w.tablesByKey[key]; ok {
		return id, nil
	}
	if parentDBID != wire.RootID && parentDBID > w.dbCount {
		return 0, ErrUnknownDatabase
	}
	if len(name) > wire.MaxMemberNameLen {
		return 0, wire.ErrTooLarge
	}
	id := w.tableCount + 1
	var err error
	if parentDBID == wire.RootID {
		kind, width := w.stringEvent(wire.KindNewTableNarrow, len(name))
		var payload []byte
		payload, err = wire.OneString{S: name}.Encode(width)
		if err != nil {
			return 0, err
		}
		err = w.emit(kind, id, payload)
	} else {
		am := wire.AddMember{
			ParentID: parentDBID,
			Member:   name,
			Storage:  name,
			Mode:     wire.ModeCreate | wire.ModeMD5,
		}
		var payload []byte
		payload, err = am.Encode()
		if err != nil {
			return 0, err
		}
		err = w.emit(wire.KindAddMemberTable, id, payload)
	}
	if err != nil {
		return 0, err
	}
	w.tableCount = id
	w.tablesByKey[key] = id
	return id, nil
}

// AddColumn allocates (or returns the existing) column id for name on
// tableID, deduplicating on (table, name). elemBits outside {1, 8,
// 16, 32, 64} is rejected; the integer-packing bit in flags is
// silently cleared when elemBits is not one of {16, 32, 64}, since
// packing is only meaningful for those widths.
func (w *Writer) AddColumn(tableID uint32, name string, elemBits uint8, flags uint8) (uint32, error) {
	if err := w.requirePreamble(); err != nil {
		return 0, err
	}
	if tableID == 0 || tableID > w.tableCount {
		return 0, ErrUnknownTable
	}
	if tableID > 0xFF {
		// the column declaration's owning-table field is one byte
		return 0, wire.ErrTooLarge
	}
	if !validElemBits(elemBits) {
		return 0, ErrBadElemBits
	}
	if elemBits != 16 && elemBits != 32 && elemBits != 64 {
		flags &^= wire.ColumnFlagPacked
	}
	key := columnKey{table: tableID, name: name}
	if id, ok := w.columnsByKey[key]; ok {
		return id, nil
	}
	id := w.columnCount + 1
	cd := wire.ColumnDecl{TableID: uint8(tableID), ElemBits: elemBits, Flags: flags, Name: name}
	payload, err := cd.Encode()
	if err != nil {
		return 0, err
	}
	if err := w.emit(wire.KindNewColumn, id, payload); err != nil {
		return 0, err
	}
	w.columnCount = id
	w.columnsByKey[key] = id
	w.columns[id] = columnMeta{tableID: tableID, elemBits: elemBits, flags: flags}
	return id, nil
}

func validElemBits(b uint8) bool {
	for _, v := range wire.ValidElemBits {
		if v == b {
			return true
		}
	}
	return false
}

// OpenStream closes the preamble and enters row-data mode. At least
// one column must have been declared. No further RemotePath/
// UseSchema/SoftwareName/AddDatabase/AddTable/AddColumn calls are
// permitted afterward.
func (w *Writer) OpenStream() error {
	if err := w.requirePreamble(); err != nil {
		return err
	}
	if w.columnCount == 0 {
		return ErrNoColumns
	}
	if err := w.emit(wire.KindOpenStream, wire.RootID, nil); err != nil {
		return err
	}
	w.opened = true
	return nil
}

// Write emits the element data for one cell on colID. data holds
// elemCount elements of elemBits width each, little-endian. When the
// column is integer-packed, each element is re-encoded through genc
// before chunking; otherwise the raw bytes are chunked directly.
// Oversized payloads are split across multiple cell-data events that
// the loader reassembles into a single cell.
func (w *Writer) Write(colID uint32, elemBits uint8, elemCount int, data []byte) error {
	if err := w.requireOpened(); err != nil {
		return err
	}
	cm, ok := w.columns[colID]
	if !ok {
		return ErrUnknownColumn
	}
	if elemBits != cm.elemBits {
		return ErrElemBitsMismatch
	}
	bytesPerElem := int(elemBits) / 8
	if bytesPerElem == 0 {
		bytesPerElem = 1 // 1-bit columns are bit-packed by the caller; treated as opaque bytes
	}
	if bytesPerElem > 1 && len(data) != elemCount*bytesPerElem {
		return ErrBadPayloadLen
	}

	if cm.flags&wire.ColumnFlagPacked != 0 && (elemBits == 16 || elemBits == 32 || elemBits == 64) {
		return w.writePacked(colID, elemBits, elemCount, data)
	}
	for _, chunk := range chunkPayload(data) {
		if err := w.emitCell(colID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) emitCell(colID uint32, chunk []byte) error {
	kind, width := w.stringEvent(wire.KindCellDataNarrow, len(chunk))
	enc, err := wire.CellPayload{Data: chunk}.Encode(width)
	if err != nil {
		return err
	}
	return w.emit(kind, colID, enc)
}

// writePacked re-encodes each element through genc and flushes a
// cell-data event whenever the scratch buffer would overflow the wide
// bound. Chunks always break between encoded elements, never inside
// one, so each event's payload decodes on its own.
func (w *Writer) writePacked(colID uint32, elemBits uint8, elemCount int, data []byte) error {
	out := w.scratch[:0]
	for i := 0; i < elemCount; i++ {
		off := i * int(elemBits) / 8
		var buf [genc.MaxSize64]byte
		var n int
		var err error
		switch elemBits {
		case 16:
			v := binary.LittleEndian.Uint16(data[off:])
			n, err = genc.Encode16(v, buf[:])
		case 32:
			v := binary.LittleEndian.Uint32(data[off:])
			n, err = genc.Encode32(v, buf[:])
		case 64:
			v := binary.LittleEndian.Uint64(data[off:])
			n, err = genc.Encode64(v, buf[:])
		default:
			return fmt.Errorf("%w: %d", ErrBadElemBits, elemBits)
		}
		if err != nil {
			return err
		}
		if len(out)+n > wire.MaxWideChunk {
			if err := w.emitCell(colID, out); err != nil {
				return err
			}
			out = out[:0]
		}
		out = append(out, buf[:n]...)
	}
	w.scratch = out[:0]
	if len(out) == 0 {
		return nil
	}
	return w.emitCell(colID, out)
}

// chunkPayload splits raw (non-integer-packed) cell data into chunks
// that each fit within the wide-event bound. When splitting is
// required, the bytes left after the full wide chunks are split once
// more if needed, so that the final chunk never exceeds the
// narrow-event bound.
func chunkPayload(data []byte) [][]byte {
	if len(data) <= wire.MaxWideChunk {
		return [][]byte{data}
	}
	var chunks [][]byte
	remaining := data
	for len(remaining) > wire.MaxWideChunk {
		chunks = append(chunks, remaining[:wire.MaxWideChunk])
		remaining = remaining[wire.MaxWideChunk:]
	}
	if len(remaining) > wire.MaxNarrowChunk {
		split := len(remaining) - wire.MaxNarrowChunk
		chunks = append(chunks, remaining[:split])
		remaining = remaining[split:]
	}
	chunks = append(chunks, remaining)
	return chunks
}

// ColumnDefault sets the default value used to fill every row that
// does not explicitly write colID, as a sequence of elemBits-wide
// little-endian elements (the same encoding Write accepts).
func (w *Writer) ColumnDefault(colID uint32, elemBits uint8, elemCount int, data []byte) error {
	if err := w.requireOpened(); err != nil {
		return err
	}
	cm, ok := w.columns[colID]
	if !ok {
		return ErrUnknownColumn
	}
	if elemBits != cm.elemBits {
		return ErrElemBitsMismatch
	}
	if len(data) > wire.MaxWideChunk {
		return wire.ErrTooLarge
	}
	kind, width := w.stringEvent(wire.KindCellDefaultNarrow, len(data))
	payload, err := wire.CellPayload{Data: data}.Encode(width)
	if err != nil {
		return err
	}
	return w.emit(kind, colID, payload)
}

// EmptyDefault sets an empty default for colID: rows that do not
// write it commit with an empty cell instead of failing the
// row-completeness check.
func (w *Writer) EmptyDefault(colID uint32) error {
	if err := w.requireOpened(); err != nil {
		return err
	}
	if _, ok := w.columns[colID]; !ok {
		return ErrUnknownColumn
	}
	return w.emit(wire.KindEmptyDefault, colID, nil)
}

// NextRow commits the current row on tableID and advances the cursor
// by one, filling any column that was not explicitly written with its
// default (if one is set).
func (w *Writer) NextRow(tableID uint32) error {
	if err := w.requireOpened(); err != nil {
		return err
	}
	if tableID == 0 || tableID > w.tableCount {
		return ErrUnknownTable
	}
	return w.emit(wire.KindNextRow, tableID, nil)
}

// MoveAhead commits n rows on tableID, starting with the currently
// open one.
func (w *Writer) MoveAhead(tableID uint32, n uint64) error {
	if err := w.requireOpened(); err != nil {
		return err
	}
	if tableID == 0 || tableID > w.tableCount {
		return ErrUnknownTable
	}
	return w.emit(wire.KindMoveAhead, tableID, wire.Count{N: n}.Encode())
}

func (w *Writer) metadataNode(base wire.Kind, id uint32, path, value string) error {
	if len(path) > wire.MaxMetadataLen || len(value) > wire.MaxMetadataLen {
		return wire.ErrTooLarge
	}
	kind, width := w.stringEvent(base, max(len(path), len(value)))
	payload, err := wire.TwoStrings{A: path, B: value}.Encode(width)
	if err != nil {
		return err
	}
	return w.emit(kind, id, payload)
}

func (w *Writer) metadataAttr(base wire.Kind, id uint32, path, attr, value string) error {
	if len(path) > wire.MaxMetadataLen || len(attr) > wire.MaxMetadataLen || len(value) > wire.MaxMetadataLen {
		return wire.ErrTooLarge
	}
	kind, width := w.stringEvent(base, max(len(path), max(len(attr), len(value))))
	payload, err := wire.ThreeStrings{A: path, B: attr, C: value}.Encode(width)
	if err != nil {
		return err
	}
	return w.emit(kind, id, payload)
}

// DBMetadataNode, TableMetadataNode, and ColumnMetadataNode attach a
// path/value metadata pair to a database, table, or column
// respectively. They may be issued at any point in the stream before
// EndStream.
func (w *Writer) DBMetadataNode(id uint32, path, value string) error {
	if w.closed {
		return ErrClosed
	}
	return w.metadataNode(wire.KindDBMetadataNodeNarrow, id, path, value)
}

func (w *Writer) TableMetadataNode(id uint32, path, value string) error {
	if w.closed {
		return ErrClosed
	}
	return w.metadataNode(wire.KindTableMetadataNodeNarrow, id, path, value)
}

func (w *Writer) ColumnMetadataNode(id uint32, path, value string) error {
	if w.closed {
		return ErrClosed
	}
	return w.metadataNode(wire.KindColumnMetadataNodeNarrow, id, path, value)
}

// DBMetadataAttr, TableMetadataAttr, and ColumnMetadataAttr attach a
// path/attr/value metadata triple to a database, table, or column
// respectively.
func (w *Writer) DBMetadataAttr(id uint32, path, attr, value string) error {
	if w.closed {
		return ErrClosed
	}
	return w.metadataAttr(wire.KindDBMetadataAttrNarrow, id, path, attr, value)
}

func (w *Writer) TableMetadataAttr(id uint32, path, attr, value string) error {
	if w.closed {
		return ErrClosed
	}
	return w.metadataAttr(wire.KindTableMetadataAttrNarrow, id, path, attr, value)
}

func (w *Writer) ColumnMetadataAttr(id uint32, path, attr, value string) error {
	if w.closed {
		return ErrClosed
	}
	return w.metadataAttr(wire.KindColumnMetadataAttrNarrow, id, path, attr, value)
}

// LogError emits a free-text error message. Tolerated in any state
// except after EndStream, mirroring a producer that wants to surface
// a late-discovered fault without losing whatever it already wrote.
func (w *Writer) LogError(msg string) error {
	if w.closed {
		return ErrClosed
	}
	if len(msg) > wire.MaxErrorLogMsgLen {
		return wire.ErrTooLarge
	}
	kind, width := w.stringEvent(wire.KindErrorMessageNarrow, len(msg))
	payload, err := wire.OneString{S: msg}.Encode(width)
	if err != nil {
		return err
	}
	return w.emit(kind, wire.RootID, payload)
}

// LogMessage emits a free-text informational log line.
func (w *Writer) LogMessage(msg string) error {
	if w.closed {
		return ErrClosed
	}
	if len(msg) > wire.MaxErrorLogMsgLen {
		return wire.ErrTooLarge
	}
	kind, width := w.stringEvent(wire.KindLogMessageNarrow, len(msg))
	payload, err := wire.OneString{S: msg}.Encode(width)
	if err != nil {
		return err
	}
	return w.emit(kind, wire.RootID, payload)
}

// ProgressMessage reports coarse-grained progress for a long-running
// load: pid/version/timestamp are producer-defined correlation
// fields, percent is 0-100, and name labels the unit of work.
func (w *Writer) ProgressMessage(name string, pid, version, timestamp uint32, percent uint8) error {
	if w.closed {
		return ErrClosed
	}
	pr := wire.Progress{PID: pid, Version: version, Timestamp: timestamp, Percent: percent, Name: name}
	payload, err := pr.Encode()
	if err != nil {
		return err
	}
	return w.emit(wire.KindProgressMessage, wire.RootID, payload)
}

// EndStream emits the terminal event and flushes the sink. The stream
// must have been opened; no further calls are permitted afterward.
func (w *Writer) EndStream() error {
	if err := w.requireOpened(); err != nil {
		return err
	}
	if err := w.emit(wire.KindEndStream, wire.RootID, nil); err != nil {
		return err
	}
	w.closed = true
	return w.sink.Flush()
}

// QuickTable is a convenience constructor that opens a writer, adds a
// single root-level table with the given columns, and returns the
// writer positioned after OpenStream, ready for row data. It is meant
// for small ad hoc streams (tests, tooling), not general production.
func QuickTable(sink Sink, packing wire.Packing, tableName string, columnNames []string, elemBits []uint8) (*Writer, uint32, []uint32, error) {
	w, err := New(sink, packing)
	if err != nil {
		return nil, 0, nil, err
	}
	tableID, err := w.AddTable(wire.RootID, tableName)
	if err != nil {
		return nil, 0, nil, err
	}
	colIDs := make([]uint32, len(columnNames))
	for i, name := range columnNames {
		id, err := w.AddColumn(tableID, name, elemBits[i], 0)
		if err != nil {
			return nil, 0, nil, err
		}
		colIDs[i] = id
	}
	if err := w.OpenStream(); err != nil {
		return nil, 0, nil, err
	}
	return w, tableID, colIDs, nil
}
