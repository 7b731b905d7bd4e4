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
	"bytes"
	"errors"
	"testing"

	"github.com/columnarhq/genload/wire"
)

func TestHeaderEmittedAtConstruction(t *testing.T) {
	sink := NewMemorySink()
	if _, err := New(sink, wire.Packed); err != nil {
		t.Fatal(err)
	}
	h, err := wire.DecodeHeader(sink.Bytes())
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.Packing != wire.Packed {
		t.Fatalf("packing = %v, want packed", h.Packing)
	}
}

func TestOpenStreamRequiresColumn(t *testing.T) {
	w, err := New(NewMemorySink(), wire.Unpacked)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.AddTable(wire.RootID, "t"); err != nil {
		t.Fatal(err)
	}
	if err := w.OpenStream(); !errors.Is(err, ErrNoColumns) {
		t.Fatalf("want ErrNoColumns, got %v", err)
	}
}

func TestEndStreamRequiresOpen(t *testing.T) {
	w, err := New(NewMemorySink(), wire.Unpacked)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.EndStream(); !errors.Is(err, ErrNotOpened) {
		t.Fatalf("want ErrNotOpened, got %v", err)
	}
}

func TestStructuralCallsRejectedAfterOpen(t *testing.T) {
	w, _, _, err := QuickTable(NewMemorySink(), wire.Unpacked, "t", []string{"a"}, []uint8{32})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.AddTable(wire.RootID, "u"); !errors.Is(err, ErrStreamOpened) {
		t.Fatalf("want ErrStreamOpened, got %v", err)
	}
	if err := w.RemotePath("db"); !errors.Is(err, ErrStreamOpened) {
		t.Fatalf("want ErrStreamOpened, got %v", err)
	}
}

func TestPreambleAtMostOnce(t *testing.T) {
	w, err := New(NewMemorySink(), wire.Unpacked)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.RemotePath("db"); err != nil {
		t.Fatal(err)
	}
	if err := w.RemotePath("db2"); !errors.Is(err, ErrAlreadySet) {
		t.Fatalf("want ErrAlreadySet, got %v", err)
	}
}

func TestAddTableDeduplicates(t *testing.T) {
	w, err := New(NewMemorySink(), wire.Unpacked)
	if err != nil {
		t.Fatal(err)
	}
	id1, err := w.AddTable(wire.RootID, "t")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := w.AddTable(wire.RootID, "t")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("duplicate AddTable allocated a new id: %d vs %d", id1, id2)
	}
	id3, err := w.AddTable(wire.RootID, "u")
	if err != nil {
		t.Fatal(err)
	}
	if id3 != id1+1 {
		t.Fatalf("next table id = %d, want %d", id3, id1+1)
	}
}

func TestAddColumnClearsPackingBitForNarrowWidths(t *testing.T) {
	w, err := New(NewMemorySink(), wire.Unpacked)
	if err != nil {
		t.Fatal(err)
	}
	tid, err := w.AddTable(wire.RootID, "t")
	if err != nil {
		t.Fatal(err)
	}
	cid, err := w.AddColumn(tid, "c", 8, wire.ColumnFlagPacked)
	if err != nil {
		t.Fatal(err)
	}
	if w.columns[cid].flags&wire.ColumnFlagPacked != 0 {
		t.Fatal("packing bit should be cleared for an 8-bit column")
	}
	if _, err := w.AddColumn(tid, "d", 12, 0); !errors.Is(err, ErrBadElemBits) {
		t.Fatalf("want ErrBadElemBits, got %v", err)
	}
}

func TestElemBitsMismatchRejected(t *testing.T) {
	w, tid, cols, err := QuickTable(NewMemorySink(), wire.Unpacked, "t", []string{"a"}, []uint8{32})
	if err != nil {
		t.Fatal(err)
	}
	_ = tid
	if err := w.Write(cols[0], 16, 1, []byte{0, 0}); !errors.Is(err, ErrElemBitsMismatch) {
		t.Fatalf("want ErrElemBitsMismatch, got %v", err)
	}
}

func TestChunkPayloadTerminalNarrow(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, wire.MaxWideChunk+1000)
	chunks := chunkPayload(data)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	last := chunks[len(chunks)-1]
	if len(last) > wire.MaxNarrowChunk {
		t.Fatalf("terminal chunk is %d bytes, want <= %d", len(last), wire.MaxNarrowChunk)
	}
	var total []byte
	for _, c := range chunks {
		if len(c) > wire.MaxWideChunk {
			t.Fatalf("chunk of %d bytes exceeds the wide bound", len(c))
		}
		total = append(total, c...)
	}
	if !bytes.Equal(total, data) {
		t.Fatal("chunk concatenation does not reproduce the payload")
	}
}

func TestChunkPayloadSmallPassthrough(t *testing.T) {
	data := []byte("hello")
	chunks := chunkPayload(data)
	if len(chunks) != 1 || !bytes.Equal(chunks[0], data) {
		t.Fatalf("got %v", chunks)
	}
}

func TestPackedWriterRejectsOverflowingIDs(t *testing.T) {
	w, err := New(NewMemorySink(), wire.Packed)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 256; i++ {
		if _, err := w.AddTable(wire.RootID, "t"+string(rune('a'+i%26))+string(rune('a'+i/26))); err != nil {
			t.Fatalf("table %d: %v", i+1, err)
		}
	}
	if _, err := w.AddTable(wire.RootID, "overflow"); !errors.Is(err, wire.ErrPackedIDOverflow) {
		t.Fatalf("want ErrPackedIDOverflow for table 257, got %v", err)
	}
}
