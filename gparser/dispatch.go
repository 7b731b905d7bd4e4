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
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/columnarhq/genload/genc"
	"github.com/columnarhq/genload/wire"
)

type columnInfo struct {
	tableID  uint32
	elemBits uint8
	flags    uint8
}

func (p *Parser) column(id uint32) (columnInfo, bool) {
	ci, ok := p.columns[id]
	return ci, ok
}

// dispatch reads the payload for an already-decoded event header and
// invokes the matching EventSink method, enforcing the cross-event
// invariants that depend on payload contents or parser state: the
// structural event grammar, id monotonicity, and known-object checks.
func (p *Parser) dispatch(kind wire.Kind, id uint32) error {
	width := wire.StringWidth(p.packing, kind)
	switch kind.Narrow() {

	case wire.KindOpenStream:
		if p.opened {
			return fmt.Errorf("%w: duplicate open-stream", ErrOutOfSequence)
		}
		p.opened = true
		return p.sink.OpenStream()

	case wire.KindEndStream:
		if !p.opened {
			return fmt.Errorf("%w: end-stream before open-stream", ErrOutOfSequence)
		}
		p.ended = true
		return p.sink.EndStream()

	case wire.KindNextRow:
		if !p.opened || !p.tableIDs.known(id) {
			return fmt.Errorf("%w: next-row for unknown table %d", ErrOutOfSequence, id)
		}
		return p.sink.NextRow(id)

	case wire.KindMoveAhead:
		body, err := p.readBody(8)
		if err != nil {
			return err
		}
		c, _, err := wire.DecodeCount(body)
		if err != nil {
			return err
		}
		if !p.opened || !p.tableIDs.known(id) {
			return fmt.Errorf("%w: move-ahead for unknown table %d", ErrOutOfSequence, id)
		}
		return p.sink.MoveAhead(id, c.N)

	case wire.KindNewColumn:
		// 3 fixed bytes (table id, elem width, flags), then the biased
		// name length and the name itself.
		tail, err := p.readBody(3)
		if err != nil {
			return err
		}
		return p.dispatchNewColumn(id, tail)

	case wire.KindEmptyDefault:
		if !p.opened || !p.columnIDs.known(id) {
			return fmt.Errorf("%w: empty-default for unknown column %d", ErrOutOfSequence, id)
		}
		return p.sink.EmptyDefault(id)

	case wire.KindProgressMessage:
		head, err := p.readBody(14)
		if err != nil {
			return err
		}
		name, err := p.readBody(int(head[13]))
		if err != nil {
			return err
		}
		full := append(append([]byte{}, head...), name...)
		pr, _, err := wire.DecodeProgress(full)
		if err != nil {
			return err
		}
		return p.sink.ProgressMessage(pr.Name, pr.PID, pr.Version, pr.Timestamp, pr.Percent)

	case wire.KindSoftwareName:
		ts, err := p.readTwoStrings(width, wire.MaxSoftwareLen, wire.MaxSoftwareLen, false, false)
		if err != nil {
			return err
		}
		if p.opened {
			return fmt.Errorf("%w: software-name after open-stream", ErrOutOfSequence)
		}
		return p.sink.SoftwareName(ts.A, ts.B)

	case wire.KindAddMemberDB:
		am, err := p.readAddMember()
		if err != nil {
			return err
		}
		if p.opened {
			return fmt.Errorf("%w: add-member-db after open-stream", ErrOutOfSequence)
		}
		if !p.dbIDs.known(am.ParentID) && am.ParentID != wire.RootID {
			return fmt.Errorf("%w: add-member-db parent %d unknown", ErrOutOfSequence, am.ParentID)
		}
		if err := p.dbIDs.declare(id); err != nil {
			return err
		}
		return p.sink.AddMemberDB(id, am.ParentID, am.Member, am.Storage, am.Mode)

	case wire.KindAddMemberTable:
		am, err := p.readAddMember()
		if err != nil {
			return err
		}
		if p.opened {
			return fmt.Errorf("%w: add-member-table after open-stream", ErrOutOfSequence)
		}
		if !p.dbIDs.known(am.ParentID) && am.ParentID != wire.RootID {
			return fmt.Errorf("%w: add-member-table parent db %d unknown", ErrOutOfSequence, am.ParentID)
		}
		if err := p.tableIDs.declare(id); err != nil {
			return err
		}
		p.knownTables[id] = true
		return p.sink.AddMemberTable(id, am.ParentID, am.Member, am.Storage, am.Mode)

	case wire.KindNewTableNarrow:
		s, err := p.readOneString(width, wire.MaxMemberNameLen, false)
		if err != nil {
			return err
		}
		if p.opened {
			return fmt.Errorf("%w: new-table after open-stream", ErrOutOfSequence)
		}
		if err := p.tableIDs.declare(id); err != nil {
			return err
		}
		p.knownTables[id] = true
		return p.sink.NewTable(id, s.S)

	case wire.KindRemotePathNarrow:
		s, err := p.readOneString(width, wire.MaxRemotePathLen, false)
		if err != nil {
			return err
		}
		if p.opened {
			return fmt.Errorf("%w: remote-path after open-stream", ErrOutOfSequence)
		}
		return p.sink.RemotePath(s.S)

	case wire.KindUseSchemaNarrow:
		ts, err := p.readTwoStrings(width, wire.MaxSchemaFileLen, wire.MaxSchemaSpecLen, false, false)
		if err != nil {
			return err
		}
		if p.opened {
			return fmt.Errorf("%w: use-schema after open-stream", ErrOutOfSequence)
		}
		return p.sink.UseSchema(ts.A, ts.B)

	case wire.KindCellDataNarrow:
		data, err := p.readCellPayload(width, id)
		if err != nil {
			return err
		}
		if !p.opened || !p.columnIDs.known(id) {
			return fmt.Errorf("%w: cell-data for unknown column %d", ErrOutOfSequence, id)
		}
		return p.sink.CellData(id, data)

	case wire.KindCellDefaultNarrow:
		data, err := p.readCellPayload(width, id)
		if err != nil {
			return err
		}
		if !p.opened || !p.columnIDs.known(id) {
			return fmt.Errorf("%w: cell-default for unknown column %d", ErrOutOfSequence, id)
		}
		return p.sink.CellDefault(id, data)

	case wire.KindDBMetadataNodeNarrow:
		ts, err := p.readTwoStrings(width, wire.MaxMetadataLen, wire.MaxMetadataLen, false, true)
		if err != nil {
			return err
		}
		if !p.dbIDs.known(id) && id != wire.RootID {
			return fmt.Errorf("%w: db-metadata-node for unknown db %d", ErrOutOfSequence, id)
		}
		return p.sink.DBMetadataNode(id, ts.A, ts.B)

	case wire.KindTableMetadataNodeNarrow:
		ts, err := p.readTwoStrings(width, wire.MaxMetadataLen, wire.MaxMetadataLen, false, true)
		if err != nil {
			return err
		}
		if !p.tableIDs.known(id) {
			return fmt.Errorf("%w: table-metadata-node for unknown table %d", ErrOutOfSequence, id)
		}
		return p.sink.TableMetadataNode(id, ts.A, ts.B)

	case wire.KindColumnMetadataNodeNarrow:
		ts, err := p.readTwoStrings(width, wire.MaxMetadataLen, wire.MaxMetadataLen, false, true)
		if err != nil {
			return err
		}
		if !p.columnIDs.known(id) {
			return fmt.Errorf("%w: column-metadata-node for unknown column %d", ErrOutOfSequence, id)
		}
		return p.sink.ColumnMetadataNode(id, ts.A, ts.B)

	case wire.KindDBMetadataAttrNarrow:
		ts, err := p.readThreeStrings(width, wire.MaxMetadataLen)
		if err != nil {
			return err
		}
		if !p.dbIDs.known(id) && id != wire.RootID {
			return fmt.Errorf("%w: db-metadata-node-attr for unknown db %d", ErrOutOfSequence, id)
		}
		return p.sink.DBMetadataAttr(id, ts.A, ts.B, ts.C)

	case wire.KindTableMetadataAttrNarrow:
		ts, err := p.readThreeStrings(width, wire.MaxMetadataLen)
		if err != nil {
			return err
		}
		if !p.tableIDs.known(id) {
			return fmt.Errorf("%w: table-metadata-node-attr for unknown table %d", ErrOutOfSequence, id)
		}
		return p.sink.TableMetadataAttr(id, ts.A, ts.B, ts.C)

	case wire.KindColumnMetadataAttrNarrow:
		ts, err := p.readThreeStrings(width, wire.MaxMetadataLen)
		if err != nil {
			return err
		}
		if !p.columnIDs.known(id) {
			return fmt.Errorf("%w: column-metadata-node-attr for unknown column %d", ErrOutOfSequence, id)
		}
		return p.sink.ColumnMetadataAttr(id, ts.A, ts.B, ts.C)

	case wire.KindErrorMessageNarrow:
		s, err := p.readOneString(width, wire.MaxErrorLogMsgLen, false)
		if err != nil {
			return err
		}
		return p.sink.ErrorMessage(s.S)

	case wire.KindLogMessageNarrow:
		s, err := p.readOneString(width, wire.MaxErrorLogMsgLen, false)
		if err != nil {
			return err
		}
		return p.sink.LogMessage(s.S)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

func (p *Parser) dispatchNewColumn(id uint32, tail []byte) error {
	nameLenBuf, err := p.readBody(1)
	if err != nil {
		return err
	}
	nameBytes, err := p.readBody(int(nameLenBuf[0]) + 1)
	if err != nil {
		return err
	}
	full := append(append(append([]byte{}, tail...), nameLenBuf...), nameBytes...)
	cd, _, err := wire.DecodeColumnDecl(full)
	if err != nil {
		return err
	}
	if p.opened {
		return fmt.Errorf("%w: new-column after open-stream", ErrOutOfSequence)
	}
	if !p.knownTables[uint32(cd.TableID)] {
		return fmt.Errorf("%w: new-column for unknown table %d", ErrOutOfSequence, cd.TableID)
	}
	if !slices.Contains(wire.ValidElemBits[:], cd.ElemBits) {
		return fmt.Errorf("%w: invalid element width %d", ErrOutOfSequence, cd.ElemBits)
	}
	if err := p.columnIDs.declare(id); err != nil {
		return err
	}
	flags := cd.Flags
	if cd.ElemBits != 16 && cd.ElemBits != 32 && cd.ElemBits != 64 {
		flags &^= wire.ColumnFlagPacked
	}
	p.columns[id] = columnInfo{tableID: uint32(cd.TableID), elemBits: cd.ElemBits, flags: flags}
	return p.sink.NewColumn(id, uint32(cd.TableID), cd.ElemBits, flags, cd.Name)
}

// readBody reads n raw bytes as part of the current event's payload.
func (p *Parser) readBody(n int) ([]byte, error) {
	return p.readN(n)
}

func (p *Parser) readLen(width wire.LenWidth) (int, error) {
	buf, err := p.readBody(int(width))
	if err != nil {
		return 0, err
	}
	n, _, err := wire.ReadLenField(buf, width)
	return n, err
}

func (p *Parser) readOneString(width wire.LenWidth, maxLen int, allowEmpty bool) (wire.OneString, error) {
	n, err := p.readLen(width)
	if err != nil {
		return wire.OneString{}, err
	}
	if n > maxLen {
		return wire.OneString{}, fmt.Errorf("%w: %d > %d", wire.ErrTooLarge, n, maxLen)
	}
	if n == 0 && !allowEmpty {
		return wire.OneString{}, wire.ErrEmptyNotAllowed
	}
	body, err := p.readBody(n)
	if err != nil {
		return wire.OneString{}, err
	}
	return wire.OneString{S: string(body)}, nil
}

// Multi-string payloads carry every length field up front, then the
// strings concatenated; the readers mirror that.

func (p *Parser) readTwoStrings(width wire.LenWidth, maxA, maxB int, allowEmptyA, allowEmptyB bool) (wire.TwoStrings, error) {
	nA, err := p.readLen(width)
	if err != nil {
		return wire.TwoStrings{}, err
	}
	nB, err := p.readLen(width)
	if err != nil {
		return wire.TwoStrings{}, err
	}
	if nA > maxA || nB > maxB {
		return wire.TwoStrings{}, wire.ErrTooLarge
	}
	if (nA == 0 && !allowEmptyA) || (nB == 0 && !allowEmptyB) {
		return wire.TwoStrings{}, wire.ErrEmptyNotAllowed
	}
	body, err := p.readBody(nA + nB)
	if err != nil {
		return wire.TwoStrings{}, err
	}
	return wire.TwoStrings{A: string(body[:nA]), B: string(body[nA:])}, nil
}

func (p *Parser) readThreeStrings(width wire.LenWidth, maxLen int) (wire.ThreeStrings, error) {
	var n [3]int
	for i := range n {
		v, err := p.readLen(width)
		if err != nil {
			return wire.ThreeStrings{}, err
		}
		if v > maxLen {
			return wire.ThreeStrings{}, wire.ErrTooLarge
		}
		n[i] = v
	}
	if n[0] == 0 || n[1] == 0 {
		return wire.ThreeStrings{}, wire.ErrEmptyNotAllowed
	}
	body, err := p.readBody(n[0] + n[1] + n[2])
	if err != nil {
		return wire.ThreeStrings{}, err
	}
	return wire.ThreeStrings{
		A: string(body[:n[0]]),
		B: string(body[n[0] : n[0]+n[1]]),
		C: string(body[n[0]+n[1]:]),
	}, nil
}

func (p *Parser) readAddMember() (wire.AddMember, error) {
	hdr, err := p.readBody(7)
	if err != nil {
		return wire.AddMember{}, err
	}
	parent := binary.LittleEndian.Uint32(hdr[:4])
	nM := int(hdr[4]) + 1
	nS := int(hdr[5]) + 1
	mode := wire.CreateMode(hdr[6])
	if err := mode.Validate(); err != nil {
		return wire.AddMember{}, err
	}
	if nM > wire.MaxMemberNameLen || nS > wire.MaxMemberNameLen {
		return wire.AddMember{}, wire.ErrTooLarge
	}
	body, err := p.readBody(nM + nS)
	if err != nil {
		return wire.AddMember{}, err
	}
	return wire.AddMember{
		ParentID: parent,
		Member:   string(body[:nM]),
		Storage:  string(body[nM:]),
		Mode:     mode,
	}, nil
}

// readCellPayload reads a cell-data/cell-default payload and, if the
// owning column is integer-packed, decodes it through genc into a
// buffer of native-width little-endian elements before handing it to
// the sink.
func (p *Parser) readCellPayload(width wire.LenWidth, colID uint32) ([]byte, error) {
	n, err := p.readLen(width)
	if err != nil {
		return nil, err
	}
	if n > wire.MaxWideChunk {
		return nil, fmt.Errorf("%w: %d > %d", wire.ErrTooLarge, n, wire.MaxWideChunk)
	}
	raw, err := p.readBody(n)
	if err != nil {
		return nil, err
	}
	ci, ok := p.column(colID)
	if !ok || ci.flags&wire.ColumnFlagPacked == 0 {
		return raw, nil
	}
	return unpackInts(raw, ci.elemBits)
}

func unpackInts(raw []byte, elemBits uint8) ([]byte, error) {
	out := make([]byte, 0, len(raw)*8/int(elemBits)+8)
	off := 0
	for off < len(raw) {
		switch elemBits {
		case 16:
			v, n, err := genc.Decode16(raw[off:])
			if err != nil {
				return nil, err
			}
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], v)
			out = append(out, b[:]...)
			off += n
		case 32:
			v, n, err := genc.Decode32(raw[off:])
			if err != nil {
				return nil, err
			}
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], v)
			out = append(out, b[:]...)
			off += n
		case 64:
			v, n, err := genc.Decode64(raw[off:])
			if err != nil {
				return nil, err
			}
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], v)
			out = append(out, b[:]...)
			off += n
		default:
			return nil, fmt.Errorf("gparser: column with packing bit set has unpackable element width %d", elemBits)
		}
	}
	return out, nil
}
