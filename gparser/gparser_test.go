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

package gparser

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/columnarhq/genload/gwriter"
	"github.com/columnarhq/genload/wire"
)

// recordingSink logs every call as a string and never fails a run,
// except ErrorMessage, which always returns a wrapped error per the
// wire.EventSink contract.
type recordingSink struct {
	calls []string
}

func (s *recordingSink) log(format string, args ...any) error {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	return nil
}

func (s *recordingSink) RemotePath(path string) error { return s.log("remote-path %q", path) }
func (s *recordingSink) UseSchema(file, spec string) error {
	return s.log("use-schema %q %q", file, spec)
}
func (s *recordingSink) SoftwareName(name, version string) error {
	return s.log("software-name %q %q", name, version)
}
func (s *recordingSink) NewTable(id uint32, name string) error {
	return s.log("new-table %d %q", id, name)
}
func (s *recordingSink) AddMemberDB(id, parentID uint32, member, storage string, mode wire.CreateMode) error {
	return s.log("add-member-db %d %d %q %q %02x", id, parentID, member, storage, uint8(mode))
}
func (s *recordingSink) AddMemberTable(id, parentDB uint32, member, storage string, mode wire.CreateMode) error {
	return s.log("add-member-table %d %d %q %q %02x", id, parentDB, member, storage, uint8(mode))
}
func (s *recordingSink) NewColumn(id uint32, tableID uint32, elemBits, flags uint8, name string) error {
	return s.log("new-column %d %d %d %02x %q", id, tableID, elemBits, flags, name)
}
func (s *recordingSink) OpenStream() error { return s.log("open-stream") }
func (s *recordingSink) CellDefault(colID uint32, data []byte) error {
	return s.log("cell-default %d % x", colID, data)
}
func (s *recordingSink) CellData(colID uint32, data []byte) error {
	return s.log("cell-data %d % x", colID, data)
}
func (s *recordingSink) EmptyDefault(colID uint32) error { return s.log("empty-default %d", colID) }
func (s *recordingSink) NextRow(tableID uint32) error    { return s.log("next-row %d", tableID) }
func (s *recordingSink) MoveAhead(tableID uint32, n uint64) error {
	return s.log("move-ahead %d %d", tableID, n)
}
func (s *recordingSink) DBMetadataNode(id uint32, path, value string) error {
	return s.log("db-metadata-node %d %q %q", id, path, value)
}
func (s *recordingSink) TableMetadataNode(id uint32, path, value string) error {
	return s.log("table-metadata-node %d %q %q", id, path, value)
}
func (s *recordingSink) ColumnMetadataNode(id uint32, path, value string) error {
	return s.log("column-metadata-node %d %q %q", id, path, value)
}
func (s *recordingSink) DBMetadataAttr(id uint32, path, attr, value string) error {
	return s.log("db-metadata-attr %d %q %q %q", id, path, attr, value)
}
func (s *recordingSink) TableMetadataAttr(id uint32, path, attr, value string) error {
	return s.log("table-metadata-attr %d %q %q %q", id, path, attr, value)
}
func (s *recordingSink) ColumnMetadataAttr(id uint32, path, attr, value string) error {
	return s.log("column-metadata-attr %d %q %q %q", id, path, attr, value)
}
func (s *recordingSink) ErrorMessage(msg string) error {
	s.calls = append(s.calls, fmt.Sprintf("error-message %q", msg))
	return fmt.Errorf("producer error: %s", msg)
}
func (s *recordingSink) LogMessage(msg string) error { return s.log("log-message %q", msg) }
func (s *recordingSink) ProgressMessage(name string, pid, version, timestamp uint32, percent uint8) error {
	return s.log("progress-message %q %d %d %d %d", name, pid, version, timestamp, percent)
}
func (s *recordingSink) EndStream() error { return s.log("end-stream") }

var _ wire.EventSink = (*recordingSink)(nil)

func buildMinimalStream(t *testing.T, packing wire.Packing) []byte {
	t.Helper()
	sink := gwriter.NewMemorySink()
	w, err := gwriter.New(sink, packing)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tableID, err := w.AddTable(wire.RootID, "events")
	if err != nil {
		t.Fatalf("AddTable: %v", err)
	}
	colID, err := w.AddColumn(tableID, "id", 32, 0)
	if err != nil {
		t.Fatalf("AddColumn: %v", err)
	}
	if err := w.OpenStream(); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := w.Write(colID, 32, 1, []byte{1, 0, 0, 0}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.NextRow(tableID); err != nil {
		t.Fatalf("NextRow: %v", err)
	}
	if err := w.EndStream(); err != nil {
		t.Fatalf("EndStream: %v", err)
	}
	return sink.Bytes()
}

func TestRoundTripMinimalUnpacked(t *testing.T) {
	data := buildMinimalStream(t, wire.Unpacked)
	sink := &recordingSink{}
	p := New(bytes.NewReader(data), sink)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{
		`new-table 1 "events"`,
		`new-column 1 1 32 00 "id"`,
		"open-stream",
		`cell-data 1 01 00 00 00`,
		"next-row 1",
		"end-stream",
	}
	if len(sink.calls) != len(want) {
		t.Fatalf("got %d calls, want %d: %v", len(sink.calls), len(want), sink.calls)
	}
	for i, w := range want {
		if sink.calls[i] != w {
			t.Fatalf("call %d = %q, want %q", i, sink.calls[i], w)
		}
	}
}

func TestRoundTripMinimalPacked(t *testing.T) {
	data := buildMinimalStream(t, wire.Packed)
	sink := &recordingSink{}
	p := New(bytes.NewReader(data), sink)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.calls) != 6 {
		t.Fatalf("got %d calls, want 6: %v", len(sink.calls), sink.calls)
	}
}

func TestDefaultFallthrough(t *testing.T) {
	sink := gwriter.NewMemorySink()
	w, tableID, colIDs, err := gwriter.QuickTable(sink, wire.Unpacked, "t", []string{"a", "b"}, []uint8{32, 32})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.ColumnDefault(colIDs[1], 32, 1, []byte{9, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(colIDs[0], 32, 1, []byte{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := w.NextRow(tableID); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(colIDs[0], 32, 1, []byte{2, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := w.NextRow(tableID); err != nil {
		t.Fatal(err)
	}
	if err := w.EndStream(); err != nil {
		t.Fatal(err)
	}

	rs := &recordingSink{}
	p := New(bytes.NewReader(sink.Bytes()), rs)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	foundDefault := false
	for _, c := range rs.calls {
		if c == `cell-default 2 09 00 00 00` {
			foundDefault = true
		}
	}
	if !foundDefault {
		t.Fatalf("expected a cell-default call, got %v", rs.calls)
	}
}

func TestMoveAheadScenario(t *testing.T) {
	sink := gwriter.NewMemorySink()
	w, tableID, colIDs, err := gwriter.QuickTable(sink, wire.Unpacked, "t", []string{"a"}, []uint8{32})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.ColumnDefault(colIDs[0], 32, 1, []byte{0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := w.MoveAhead(tableID, 3); err != nil {
		t.Fatal(err)
	}
	if err := w.EndStream(); err != nil {
		t.Fatal(err)
	}

	rs := &recordingSink{}
	p := New(bytes.NewReader(sink.Bytes()), rs)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, c := range rs.calls {
		if c == "move-ahead 1 3" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected move-ahead call, got %v", rs.calls)
	}
}

func TestErrorMessagePropagates(t *testing.T) {
	sink := gwriter.NewMemorySink()
	w, _, _, err := gwriter.QuickTable(sink, wire.Unpacked, "t", []string{"a"}, []uint8{32})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.LogError("disk full"); err != nil {
		t.Fatal(err)
	}
	if err := w.EndStream(); err != nil {
		t.Fatal(err)
	}

	rs := &recordingSink{}
	p := New(bytes.NewReader(sink.Bytes()), rs)
	err = p.Run()
	if err == nil {
		t.Fatal("want error from error-message event")
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("want *ProtocolError, got %T: %v", err, err)
	}
}

func TestEmptyInput(t *testing.T) {
	p := New(bytes.NewReader(nil), &recordingSink{})
	err := p.Run()
	if !errors.Is(err, ErrTransferIncomplete) {
		t.Fatalf("want ErrTransferIncomplete, got %v", err)
	}
}

func TestTruncatedHeader(t *testing.T) {
	p := New(bytes.NewReader([]byte{'G', 'L', 'O', 'A', 'D', 'S', 'T', 'M'}), &recordingSink{})
	err := p.Run()
	if !errors.Is(err, ErrTransferIncomplete) {
		t.Fatalf("want ErrTransferIncomplete, got %v", err)
	}
}

func TestBadSignature(t *testing.T) {
	data := buildMinimalStream(t, wire.Unpacked)
	data[0] = 'X'
	p := New(bytes.NewReader(data), &recordingSink{})
	err := p.Run()
	if !errors.Is(err, wire.ErrBadSignature) {
		t.Fatalf("want ErrBadSignature, got %v", err)
	}
}

func TestNoEndStream(t *testing.T) {
	sink := gwriter.NewMemorySink()
	_, _, _, err := gwriter.QuickTable(sink, wire.Unpacked, "t", []string{"a"}, []uint8{32})
	if err != nil {
		t.Fatal(err)
	}
	// Deliberately omit EndStream: the raw bytes end after open-stream.
	p := New(bytes.NewReader(sink.Bytes()), &recordingSink{})
	err = p.Run()
	if !errors.Is(err, ErrTransferIncomplete) {
		t.Fatalf("want ErrTransferIncomplete, got %v", err)
	}
}

func TestEndStreamBeforeOpenStream(t *testing.T) {
	buf := make([]byte, wire.HeaderSize)
	h := wire.NewHeader(wire.Unpacked)
	h.Encode(buf)
	evt := make([]byte, 4)
	wire.EncodeEventHeader(evt, wire.Unpacked, wire.KindEndStream, wire.RootID)
	buf = append(buf, evt...)

	p := New(bytes.NewReader(buf), &recordingSink{})
	err := p.Run()
	if !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("want ErrOutOfSequence, got %v", err)
	}
}

func TestDuplicateTableID(t *testing.T) {
	buf := make([]byte, wire.HeaderSize)
	h := wire.NewHeader(wire.Unpacked)
	h.Encode(buf)

	addTable := func(id uint32, name string) []byte {
		os := wire.OneString{S: name}
		payload, err := os.Encode(wire.Len32)
		if err != nil {
			t.Fatal(err)
		}
		hdr := make([]byte, 4)
		wire.EncodeEventHeader(hdr, wire.Unpacked, wire.KindNewTableNarrow, id)
		evt := append(hdr, payload...)
		pad := wire.Align4(len(evt)) - len(evt)
		return append(evt, make([]byte, pad)...)
	}
	buf = append(buf, addTable(1, "a")...)
	buf = append(buf, addTable(1, "b")...) // duplicate id: should have been 2

	p := New(bytes.NewReader(buf), &recordingSink{})
	err := p.Run()
	if !errors.Is(err, ErrIDNotMonotone) {
		t.Fatalf("want ErrIDNotMonotone, got %v", err)
	}
}

func TestCellDataUnknownColumn(t *testing.T) {
	sink := gwriter.NewMemorySink()
	_, tableID, _, err := gwriter.QuickTable(sink, wire.Unpacked, "t", []string{"a"}, []uint8{32})
	if err != nil {
		t.Fatal(err)
	}
	_ = tableID
	raw := sink.Bytes()

	// Append a cell-data event for column id 2, which was never declared.
	cp := wire.CellPayload{Data: []byte{0, 0, 0, 0}}
	payload, err := cp.Encode(wire.Len32)
	if err != nil {
		t.Fatal(err)
	}
	hdr := make([]byte, 4)
	wire.EncodeEventHeader(hdr, wire.Unpacked, wire.KindCellDataNarrow, 2)
	evt := append(hdr, payload...)
	pad := wire.Align4(len(evt)) - len(evt)
	evt = append(evt, make([]byte, pad)...)
	raw = append(raw, evt...) // append after whatever QuickTable wrote (stream not yet ended)

	p := New(bytes.NewReader(raw), &recordingSink{})
	err = p.Run()
	if !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("want ErrOutOfSequence, got %v", err)
	}
}

func TestNextRowUnknownTable(t *testing.T) {
	buf := make([]byte, wire.HeaderSize)
	h := wire.NewHeader(wire.Unpacked)
	h.Encode(buf)
	openHdr := make([]byte, 4)
	wire.EncodeEventHeader(openHdr, wire.Unpacked, wire.KindOpenStream, wire.RootID)
	buf = append(buf, openHdr...)
	nextHdr := make([]byte, 4)
	wire.EncodeEventHeader(nextHdr, wire.Unpacked, wire.KindNextRow, 7)
	buf = append(buf, nextHdr...)

	p := New(bytes.NewReader(buf), &recordingSink{})
	err := p.Run()
	if !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("want ErrOutOfSequence, got %v", err)
	}
}

func TestUnknownKindRejected(t *testing.T) {
	buf := make([]byte, wire.HeaderSize)
	h := wire.NewHeader(wire.Unpacked)
	h.Encode(buf)
	evt := make([]byte, 4)
	wire.EncodeEventHeader(evt, wire.Unpacked, wire.Kind(250), wire.RootID)
	buf = append(buf, evt...)

	p := New(bytes.NewReader(buf), &recordingSink{})
	err := p.Run()
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("want ErrUnknownKind, got %v", err)
	}
}

func TestWideKindRejectedInUnpacked(t *testing.T) {
	buf := make([]byte, wire.HeaderSize)
	h := wire.NewHeader(wire.Unpacked)
	h.Encode(buf)
	evt := make([]byte, 4)
	wire.EncodeEventHeader(evt, wire.Unpacked, wire.KindCellDataWide, 1)
	buf = append(buf, evt...)

	p := New(bytes.NewReader(buf), &recordingSink{})
	err := p.Run()
	if !errors.Is(err, ErrWrongFraming) {
		t.Fatalf("want ErrWrongFraming, got %v", err)
	}
}

// A packed database-metadata event addressed to wire id 256 lands on
// the root database (id 0).
func TestPackedRootMetadataAlias(t *testing.T) {
	sink := gwriter.NewMemorySink()
	w, _, _, err := gwriter.QuickTable(sink, wire.Packed, "t", []string{"a"}, []uint8{32})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.DBMetadataNode(wire.RootID, "LOADER", "genload"); err != nil {
		t.Fatal(err)
	}
	if err := w.EndStream(); err != nil {
		t.Fatal(err)
	}

	rs := &recordingSink{}
	p := New(bytes.NewReader(sink.Bytes()), rs)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, c := range rs.calls {
		if c == `db-metadata-node 0 "LOADER" "genload"` {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected root metadata call, got %v", rs.calls)
	}
}

func TestProtocolErrorMessage(t *testing.T) {
	p := New(bytes.NewReader(nil), &recordingSink{})
	err := p.Run()
	var perr *ProtocolError
	if errors.As(err, &perr) {
		t.Fatalf("short-read before any event should not wrap a ProtocolError: %v", err)
	}
}
