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

// Package gwdump implements a wire.EventSink that renders every event
// as one human-readable line, for tracing and debugging streams the
// way cmd/dump renders ion streams as JSON.
package gwdump

import (
	"bufio"
	"fmt"
	"io"

	"github.com/columnarhq/genload/wire"
)

// Dumper is a wire.EventSink that writes one line per event to an
// underlying io.Writer.
type Dumper struct {
	w       *bufio.Writer
	n       int
	Verbose bool // when set, cell payloads are hex-dumped instead of elided
}

var _ wire.EventSink = (*Dumper)(nil)

// New wraps dst in a buffered writer.
func New(dst io.Writer) *Dumper {
	return &Dumper{w: bufio.NewWriter(dst)}
}

// Flush flushes the underlying writer; callers should call it once
// after the parser returns.
func (d *Dumper) Flush() error { return d.w.Flush() }

func (d *Dumper) line(format string, args ...any) error {
	d.n++
	fmt.Fprintf(d.w, "%5d  ", d.n)
	fmt.Fprintf(d.w, format, args...)
	return d.w.WriteByte('\n')
}

func (d *Dumper) payload(data []byte) string {
	if d.Verbose {
		return fmt.Sprintf("% x", data)
	}
	if len(data) > 16 {
		return fmt.Sprintf("% x... (%d bytes)", data[:16], len(data))
	}
	return fmt.Sprintf("% x", data)
}

func (d *Dumper) RemotePath(path string) error {
	return d.line("remote-path %q", path)
}

func (d *Dumper) UseSchema(file, spec string) error {
	return d.line("use-schema file=%q spec=%q", file, spec)
}

func (d *Dumper) SoftwareName(name, version string) error {
	return d.line("software-name %q version=%q", name, version)
}

func (d *Dumper) NewTable(id uint32, name string) error {
	return d.line("new-table id=%d name=%q", id, name)
}

func (d *Dumper) AddMemberDB(id, parentID uint32, member, storage string, mode wire.CreateMode) error {
	return d.line("add-member-db id=%d parent=%d member=%q storage=%q mode=%02x", id, parentID, member, storage, uint8(mode))
}

func (d *Dumper) AddMemberTable(id, parentDB uint32, member, storage string, mode wire.CreateMode) error {
	return d.line("add-member-table id=%d parent-db=%d member=%q storage=%q mode=%02x", id, parentDB, member, storage, uint8(mode))
}

func (d *Dumper) NewColumn(id uint32, tableID uint32, elemBits, flags uint8, name string) error {
	return d.line("new-column id=%d table=%d elem-bits=%d flags=%02x name=%q", id, tableID, elemBits, flags, name)
}

func (d *Dumper) OpenStream() error {
	return d.line("open-stream")
}

func (d *Dumper) CellDefault(colID uint32, data []byte) error {
	return d.line("cell-default col=%d data=%s", colID, d.payload(data))
}

func (d *Dumper) CellData(colID uint32, data []byte) error {
	return d.line("cell-data col=%d data=%s", colID, d.payload(data))
}

func (d *Dumper) EmptyDefault(colID uint32) error {
	return d.line("empty-default col=%d", colID)
}

func (d *Dumper) NextRow(tableID uint32) error {
	return d.line("next-row table=%d", tableID)
}

func (d *Dumper) MoveAhead(tableID uint32, n uint64) error {
	return d.line("move-ahead table=%d n=%d", tableID, n)
}

func (d *Dumper) DBMetadataNode(id uint32, path, value string) error {
	return d.line("db-metadata-node id=%d path=%q value=%q", id, path, value)
}

func (d *Dumper) TableMetadataNode(id uint32, path, value string) error {
	return d.line("table-metadata-node id=%d path=%q value=%q", id, path, value)
}

func (d *Dumper) ColumnMetadataNode(id uint32, path, value string) error {
	return d.line("column-metadata-node id=%d path=%q value=%q", id, path, value)
}

func (d *Dumper) DBMetadataAttr(id uint32, path, attr, value string) error {
	return d.line("db-metadata-attr id=%d path=%q attr=%q value=%q", id, path, attr, value)
}

func (d *Dumper) TableMetadataAttr(id uint32, path, attr, value string) error {
	return d.line("table-metadata-attr id=%d path=%q attr=%q value=%q", id, path, attr, value)
}

func (d *Dumper) ColumnMetadataAttr(id uint32, path, attr, value string) error {
	return d.line("column-metadata-attr id=%d path=%q attr=%q value=%q", id, path, attr, value)
}

func (d *Dumper) ErrorMessage(msg string) error {
	if err := d.line("error-message %q", msg); err != nil {
		return err
	}
	return fmt.Errorf("gwdump: producer error: %s", msg)
}

func (d *Dumper) LogMessage(msg string) error {
	return d.line("log-message %q", msg)
}

func (d *Dumper) ProgressMessage(name string, pid, version, timestamp uint32, percent uint8) error {
	return d.line("progress-message %q pid=%d version=%d timestamp=%d percent=%d", name, pid, version, timestamp, percent)
}

func (d *Dumper) EndStream() error {
	return d.line("end-stream")
}
