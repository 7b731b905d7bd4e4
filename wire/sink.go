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

package wire

// EventSink receives decoded events from a Parser in wire order. It
// factors the parser's dispatch away from any one consumer: the
// loader implements EventSink to materialize a database, and gwdump
// implements it to print a human-readable trace, without either
// consumer knowing how to read bytes off the wire.
//
// Every method corresponds 1:1 to one event family. Implementations
// return an error to abort the parse; the parser treats any non-nil
// error as fatal except where noted.
type EventSink interface {
	RemotePath(path string) error
	UseSchema(file, spec string) error
	SoftwareName(name, version string) error

	NewTable(id uint32, name string) error
	AddMemberDB(id, parentID uint32, member, storage string, mode CreateMode) error
	AddMemberTable(id, parentDB uint32, member, storage string, mode CreateMode) error
	NewColumn(id uint32, tableID uint32, elemBits, flags uint8, name string) error

	OpenStream() error

	CellDefault(colID uint32, data []byte) error
	CellData(colID uint32, data []byte) error
	EmptyDefault(colID uint32) error
	NextRow(tableID uint32) error
	MoveAhead(tableID uint32, n uint64) error

	DBMetadataNode(id uint32, path, value string) error
	TableMetadataNode(id uint32, path, value string) error
	ColumnMetadataNode(id uint32, path, value string) error
	DBMetadataAttr(id uint32, path, attr, value string) error
	TableMetadataAttr(id uint32, path, attr, value string) error
	ColumnMetadataAttr(id uint32, path, attr, value string) error

	// ErrorMessage must return a non-nil error so the parser always
	// treats a producer-signalled error as fatal.
	ErrorMessage(msg string) error
	// LogMessage and ProgressMessage never fail a run; they return
	// an error only to report a malformed progress payload.
	LogMessage(msg string) error
	ProgressMessage(name string, pid, version, timestamp uint32, percent uint8) error

	EndStream() error
}
