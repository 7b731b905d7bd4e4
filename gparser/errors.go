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

// Package gparser implements the protocol parser: a single-pass,
// stateful reader that validates framing, decodes events, enforces
// the cross-event invariants (id monotonicity, structural ordering,
// known-object checks), and dispatches decoded events to a
// wire.EventSink.
package gparser

import (
	"errors"
	"fmt"
)

// ErrTransferIncomplete covers every premature-EOF / short-read /
// stream-closed condition: empty input, a truncated header, a
// truncated event, or a stream that ends before open-stream or
// end-stream.
var ErrTransferIncomplete = errors.New("gparser: transfer incomplete")

// ErrUnknownKind is returned for KindBadEvent or any tag beyond the
// last assigned Kind.
var ErrUnknownKind = errors.New("gparser: unknown or illegal event kind")

// ErrWrongFraming is returned when a tag that exists only in the
// other framing shows up, e.g. a wide (packed-only) tag in an
// unpacked stream.
var ErrWrongFraming = errors.New("gparser: event kind not legal in this framing")

// ErrOutOfSequence covers events that are individually well-formed
// but violate the stream's structural grammar: a structural event
// after open-stream, an event after end-stream, a cell event against
// an undeclared column, and so on.
var ErrOutOfSequence = errors.New("gparser: event out of sequence")

// ErrIDNotMonotone is returned when a newly declared id in the
// database, table, or column id space is not exactly one greater
// than the number of ids already declared in that space.
var ErrIDNotMonotone = errors.New("gparser: object id is not the next id in its space")

// ProtocolError is the single user-visible failure line: it names the
// byte offset, the 1-based event number, and the underlying failure.
type ProtocolError struct {
	Offset   int64
	EventNum int
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("gparser: at byte offset %d, event #%d: %v", e.Offset, e.EventNum, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (p *Parser) fail(err error) error {
	return &ProtocolError{Offset: p.offset, EventNum: p.eventNum, Err: err}
}
