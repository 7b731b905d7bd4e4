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
	"bufio"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/columnarhq/genload/wire"
)

// Parser is a single-pass, stateful reader over one event stream. A
// Parser shares nothing with any other Parser, so independent streams
// can be parsed concurrently without synchronization; the Session
// field exists purely to let log lines from concurrent parsers be
// told apart.
type Parser struct {
	Session uuid.UUID

	r        *bufio.Reader
	sink     wire.EventSink
	packing  wire.Packing
	offset   int64
	eventNum int

	opened bool
	ended  bool

	dbIDs     idSpace
	tableIDs  idSpace
	columnIDs idSpace

	knownTables map[uint32]bool
	columns     map[uint32]columnInfo
}

// New creates a Parser that reads one event stream from r and
// dispatches decoded events to sink.
func New(r io.Reader, sink wire.EventSink) *Parser {
	return &Parser{
		Session:     uuid.New(),
		r:           bufio.NewReader(r),
		sink:        sink,
		knownTables: make(map[uint32]bool),
		columns:     make(map[uint32]columnInfo),
	}
}

func (p *Parser) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(p.r, buf)
	p.offset += int64(got)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, ErrTransferIncomplete
		}
		return nil, err
	}
	return buf, nil
}

func (p *Parser) skip(n int) error {
	if n == 0 {
		return nil
	}
	_, err := p.readN(n)
	return err
}

// Run parses the whole stream, returning nil only if it terminated
// with a well-formed end-stream event and no bytes follow it.
func (p *Parser) Run() error {
	if err := p.readHeader(); err != nil {
		return err
	}
	for {
		done, err := p.readEvent()
		if err != nil {
			return err
		}
		if done {
			if _, err := p.r.Peek(1); err != nil {
				return nil
			}
			_, err := p.readEvent()
			return err
		}
	}
}

func (p *Parser) readHeader() error {
	raw, err := p.readN(wire.HeaderSize)
	if err != nil {
		return err
	}
	h, err := wire.DecodeHeader(raw)
	if err != nil {
		return p.fail(err)
	}
	p.packing = h.Packing
	return nil
}

// readEvent reads and dispatches exactly one event, returning
// done=true once end-stream has been processed.
func (p *Parser) readEvent() (bool, error) {
	if p.ended {
		return false, p.fail(fmt.Errorf("%w: data after end-stream", ErrOutOfSequence))
	}
	if p.packing == wire.Unpacked {
		pad := wire.Align4(int(p.offset)) - int(p.offset)
		if err := p.skip(pad); err != nil {
			return false, err
		}
	}
	raw, err := p.readN(wire.EventHeaderSize(p.packing))
	if err != nil {
		return false, err
	}
	kind, id, _, err := wire.DecodeEventHeader(raw, p.packing)
	if err != nil {
		return false, err
	}
	p.eventNum++
	if !kind.Valid() {
		return false, p.fail(fmt.Errorf("%w: %s", ErrUnknownKind, kind))
	}
	if !kind.LegalIn(p.packing) {
		return false, p.fail(fmt.Errorf("%w: %s in %s stream", ErrWrongFraming, kind, p.packing))
	}
	if err := p.dispatch(kind, id); err != nil {
		return false, p.fail(err)
	}
	return p.ended, nil
}
