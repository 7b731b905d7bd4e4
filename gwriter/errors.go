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

import "errors"

var (
	// ErrClosed is returned by any call made after EndStream.
	ErrClosed = errors.New("gwriter: writer already closed")

	// ErrStreamOpened is returned by preamble-only calls (RemotePath,
	// UseSchema, SoftwareName, AddDatabase, AddTable, AddColumn) made
	// after OpenStream.
	ErrStreamOpened = errors.New("gwriter: stream already opened")

	// ErrNotOpened is returned by row-data calls (Write, ColumnDefault,
	// EmptyDefault, NextRow, MoveAhead) made before OpenStream.
	ErrNotOpened = errors.New("gwriter: stream not yet opened")

	// ErrAlreadySet is returned when RemotePath, UseSchema, or
	// SoftwareName is called a second time.
	ErrAlreadySet = errors.New("gwriter: value already set")

	// ErrNoColumns is returned by OpenStream when no column has been
	// declared yet; a stream with nothing to write cells into is
	// malformed.
	ErrNoColumns = errors.New("gwriter: open-stream requires at least one column")

	// ErrUnknownDatabase, ErrUnknownTable, and ErrUnknownColumn are
	// returned when an operation references an id this Writer never
	// allocated.
	ErrUnknownDatabase = errors.New("gwriter: unknown database id")
	ErrUnknownTable    = errors.New("gwriter: unknown table id")
	ErrUnknownColumn   = errors.New("gwriter: unknown column id")

	// ErrBadElemBits is returned by AddColumn for an element width
	// outside {1, 8, 16, 32, 64}. Write reports any width that differs
	// from the column's declaration as ErrElemBitsMismatch.
	ErrBadElemBits = errors.New("gwriter: unsupported element width")

	// ErrElemBitsMismatch is returned by Write when the caller's
	// elemBits does not match the column's declared width.
	ErrElemBitsMismatch = errors.New("gwriter: element width does not match column declaration")

	// ErrBadPayloadLen is returned by Write when len(data) is not
	// elemCount times the element size in bytes; the check applies to
	// widths of 16 bits and up.
	ErrBadPayloadLen = errors.New("gwriter: payload length is not a multiple of the element width")
)
