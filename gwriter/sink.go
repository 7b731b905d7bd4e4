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

// Package gwriter implements the protocol writer: a stateful producer
// that emits a well-formed event stream, assigns monotonically
// increasing object identifiers, selects the narrowest event form
// that fits each payload, and optionally integer-packs column data.
package gwriter

import (
	"bufio"
	"bytes"
	"io"
)

// Sink is the output abstraction a Writer targets: a buffered
// in-memory sink for tests, or a buffered file descriptor for real
// output.
type Sink interface {
	io.Writer
	Flush() error
}

// MemorySink is a Sink backed by an in-memory buffer, for tests and
// for producers that want the whole stream before shipping it.
type MemorySink struct {
	buf bytes.Buffer
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Write(p []byte) (int, error) { return m.buf.Write(p) }
func (m *MemorySink) Flush() error                { return nil }
func (m *MemorySink) Bytes() []byte               { return m.buf.Bytes() }

// FileSink is a Sink backed by a buffered io.Writer (typically an
// *os.File), flushed explicitly or once its internal buffer fills.
type FileSink struct {
	w *bufio.Writer
}

// NewFileSink wraps dst in a buffered writer sized bufSize (0 selects
// bufio's default).
func NewFileSink(dst io.Writer, bufSize int) *FileSink {
	if bufSize <= 0 {
		return &FileSink{w: bufio.NewWriter(dst)}
	}
	return &FileSink{w: bufio.NewWriterSize(dst, bufSize)}
}

func (f *FileSink) Write(p []byte) (int, error) { return f.w.Write(p) }
func (f *FileSink) Flush() error                { return f.w.Flush() }
