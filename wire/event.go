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

// Per-family payload layouts. A family's layout is the same in both
// framings except for the width of its length fields: 32-bit plain
// lengths in the unpacked framing, 8- or 16-bit biased lengths
// (storing n-1) in the packed framing, selected by the narrow/wide
// tag. The bias makes 256- and 65536-byte payloads representable and
// makes a zero-length string unencodable in packed form, which is
// also where the protocol forbids empty strings outright.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTooLarge is returned when a string or payload exceeds the
// length bound for its family, or does not fit the requested
// length-field width.
var ErrTooLarge = errors.New("wire: value exceeds length bound")

// ErrEmptyNotAllowed is returned when a family that forbids empty
// strings is given one, or when an empty value is asked to travel in
// a packed (biased-length) field that cannot represent it.
var ErrEmptyNotAllowed = errors.New("wire: empty string not allowed here")

// ErrShortInput is returned by the Decode* family functions when src
// ends before a declared length can be satisfied.
var ErrShortInput = errors.New("wire: short input")

// LenWidth is the on-wire width of a family's length fields.
type LenWidth uint8

const (
	Len8  LenWidth = 1 // packed narrow: biased byte, values 1..256
	Len16 LenWidth = 2 // packed wide: biased little-endian u16, values 1..65536
	Len32 LenWidth = 4 // unpacked: plain little-endian u32
)

// StringWidth returns the length-field width used by the
// string-carrying and cell-payload families for an event of kind k in
// framing p.
func StringWidth(p Packing, k Kind) LenWidth {
	if p == Unpacked {
		return Len32
	}
	if k.IsWide() {
		return Len16
	}
	return Len8
}

// Max returns the largest payload length representable in w.
func (w LenWidth) Max() int {
	switch w {
	case Len8:
		return MaxNarrowChunk
	case Len16:
		return MaxWideChunk
	default:
		return 1<<31 - 1
	}
}

func appendLen(dst []byte, w LenWidth, n int) ([]byte, error) {
	switch w {
	case Len8:
		if n < 1 {
			return dst, ErrEmptyNotAllowed
		}
		if n > MaxNarrowChunk {
			return dst, ErrTooLarge
		}
		return append(dst, byte(n-1)), nil
	case Len16:
		if n < 1 {
			return dst, ErrEmptyNotAllowed
		}
		if n > MaxWideChunk {
			return dst, ErrTooLarge
		}
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(n-1))
		return append(dst, b[:]...), nil
	default:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(n))
		return append(dst, b[:]...), nil
	}
}

func readLen(src []byte, w LenWidth) (int, int, error) {
	switch w {
	case Len8:
		if len(src) < 1 {
			return 0, 0, ErrShortInput
		}
		return int(src[0]) + 1, 1, nil
	case Len16:
		if len(src) < 2 {
			return 0, 0, ErrShortInput
		}
		return int(binary.LittleEndian.Uint16(src[:2])) + 1, 2, nil
	default:
		if len(src) < 4 {
			return 0, 0, ErrShortInput
		}
		return int(binary.LittleEndian.Uint32(src[:4])), 4, nil
	}
}

// ReadLenField decodes one standalone length field of width w from
// src, returning the declared payload length and the bytes consumed.
func ReadLenField(src []byte, w LenWidth) (int, int, error) {
	return readLen(src, w)
}

// AppendBytes appends a length-prefixed byte string to dst.
func AppendBytes(dst []byte, w LenWidth, b []byte) ([]byte, error) {
	dst, err := appendLen(dst, w, len(b))
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}

// ReadBytes reads a length-prefixed byte string, rejecting declared
// lengths above maxLen (a family-specific bound from limits.go) and
// empty results when allowEmpty is false. An empty string can only be
// declared at all when w is Len32.
func ReadBytes(src []byte, w LenWidth, maxLen int, allowEmpty bool) ([]byte, int, error) {
	n, consumed, err := readLen(src, w)
	if err != nil {
		return nil, 0, err
	}
	if n > maxLen {
		return nil, 0, fmt.Errorf("%w: %d > %d", ErrTooLarge, n, maxLen)
	}
	if n == 0 && !allowEmpty {
		return nil, 0, ErrEmptyNotAllowed
	}
	if len(src)-consumed < n {
		return nil, 0, ErrShortInput
	}
	return src[consumed : consumed+n], consumed + n, nil
}

// ReadString is ReadBytes with a string result.
func ReadString(src []byte, w LenWidth, maxLen int, allowEmpty bool) (string, int, error) {
	b, n, err := ReadBytes(src, w, maxLen, allowEmpty)
	if err != nil {
		return "", 0, err
	}
	return string(b), n, nil
}

// OneString is the payload shape of remote-path, error-message,
// log-message, and new-table.
type OneString struct{ S string }

func (o OneString) Encode(w LenWidth) ([]byte, error) {
	return AppendBytes(nil, w, []byte(o.S))
}

func DecodeOneString(src []byte, w LenWidth, maxLen int, allowEmpty bool) (OneString, int, error) {
	s, n, err := ReadString(src, w, maxLen, allowEmpty)
	return OneString{S: s}, n, err
}

// TwoStrings is the payload shape of use-schema, software-name, and
// the metadata-node families (path, value): both length fields, then
// the two strings concatenated.
type TwoStrings struct{ A, B string }

func (t TwoStrings) Encode(w LenWidth) ([]byte, error) {
	dst, err := appendLen(nil, w, len(t.A))
	if err != nil {
		return nil, err
	}
	dst, err = appendLen(dst, w, len(t.B))
	if err != nil {
		return nil, err
	}
	dst = append(dst, t.A...)
	return append(dst, t.B...), nil
}

func DecodeTwoStrings(src []byte, w LenWidth, maxA, maxB int, allowEmptyA, allowEmptyB bool) (TwoStrings, int, error) {
	nA, c1, err := readLen(src, w)
	if err != nil {
		return TwoStrings{}, 0, err
	}
	nB, c2, err := readLen(src[c1:], w)
	if err != nil {
		return TwoStrings{}, 0, err
	}
	if nA > maxA || nB > maxB {
		return TwoStrings{}, 0, ErrTooLarge
	}
	if (nA == 0 && !allowEmptyA) || (nB == 0 && !allowEmptyB) {
		return TwoStrings{}, 0, ErrEmptyNotAllowed
	}
	off := c1 + c2
	if len(src)-off < nA+nB {
		return TwoStrings{}, 0, ErrShortInput
	}
	return TwoStrings{
		A: string(src[off : off+nA]),
		B: string(src[off+nA : off+nA+nB]),
	}, off + nA + nB, nil
}

// ThreeStrings is the payload shape of the metadata-attr families
// (path, attr name, value): three length fields, then the strings
// concatenated.
type ThreeStrings struct{ A, B, C string }

func (t ThreeStrings) Encode(w LenWidth) ([]byte, error) {
	dst, err := appendLen(nil, w, len(t.A))
	if err != nil {
		return nil, err
	}
	dst, err = appendLen(dst, w, len(t.B))
	if err != nil {
		return nil, err
	}
	dst, err = appendLen(dst, w, len(t.C))
	if err != nil {
		return nil, err
	}
	dst = append(dst, t.A...)
	dst = append(dst, t.B...)
	return append(dst, t.C...), nil
}

func DecodeThreeStrings(src []byte, w LenWidth, maxLen int) (ThreeStrings, int, error) {
	nA, c1, err := readLen(src, w)
	if err != nil {
		return ThreeStrings{}, 0, err
	}
	nB, c2, err := readLen(src[c1:], w)
	if err != nil {
		return ThreeStrings{}, 0, err
	}
	nC, c3, err := readLen(src[c1+c2:], w)
	if err != nil {
		return ThreeStrings{}, 0, err
	}
	if nA > maxLen || nB > maxLen || nC > maxLen {
		return ThreeStrings{}, 0, ErrTooLarge
	}
	if nA == 0 || nB == 0 {
		return ThreeStrings{}, 0, ErrEmptyNotAllowed
	}
	off := c1 + c2 + c3
	if len(src)-off < nA+nB+nC {
		return ThreeStrings{}, 0, ErrShortInput
	}
	return ThreeStrings{
		A: string(src[off : off+nA]),
		B: string(src[off+nA : off+nA+nB]),
		C: string(src[off+nA+nB : off+nA+nB+nC]),
	}, off + nA + nB + nC, nil
}

// AddMember is the payload shape of add-member-db and
// add-member-table: the new object's id travels in the event header,
// this struct carries the parent id, the two biased name-length
// bytes, the create-mode byte, and then the two names concatenated.
// The name lengths are single bytes in both framings, so member and
// storage names are limited to 1..256 bytes everywhere.
type AddMember struct {
	ParentID uint32
	Member   string
	Storage  string
	Mode     CreateMode
}

func (a AddMember) Encode() ([]byte, error) {
	if err := a.Mode.Validate(); err != nil {
		return nil, err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], a.ParentID)
	dst := append([]byte(nil), hdr[:]...)
	var err error
	dst, err = appendLen(dst, Len8, len(a.Member))
	if err != nil {
		return nil, err
	}
	dst, err = appendLen(dst, Len8, len(a.Storage))
	if err != nil {
		return nil, err
	}
	dst = append(dst, byte(a.Mode))
	dst = append(dst, a.Member...)
	return append(dst, a.Storage...), nil
}

func DecodeAddMember(src []byte) (AddMember, int, error) {
	if len(src) < 7 {
		return AddMember{}, 0, ErrShortInput
	}
	parent := binary.LittleEndian.Uint32(src[:4])
	nM := int(src[4]) + 1
	nS := int(src[5]) + 1
	mode := CreateMode(src[6])
	if err := mode.Validate(); err != nil {
		return AddMember{}, 0, err
	}
	if len(src)-7 < nM+nS {
		return AddMember{}, 0, ErrShortInput
	}
	return AddMember{
		ParentID: parent,
		Member:   string(src[7 : 7+nM]),
		Storage:  string(src[7+nM : 7+nM+nS]),
		Mode:     mode,
	}, 7 + nM + nS, nil
}

// ColumnFlagPacked is bit 0 of a column's flag byte: when set, cell
// payloads for the column are integer-packed through genc.
const ColumnFlagPacked uint8 = 1 << 0

// ValidElemBits are the only element widths a column may declare.
var ValidElemBits = [...]uint8{1, 8, 16, 32, 64}

// ColumnDecl is the payload shape of new-column. All four fixed
// fields are single bytes in both framings; the name length is biased
// like a packed narrow string, so names run 1..256 bytes and the
// owning table must have an id of 255 or less.
type ColumnDecl struct {
	TableID  uint8
	ElemBits uint8
	Flags    uint8
	Name     string
}

func (c ColumnDecl) Encode() ([]byte, error) {
	dst := []byte{c.TableID, c.ElemBits, c.Flags}
	return AppendBytes(dst, Len8, []byte(c.Name))
}

func DecodeColumnDecl(src []byte) (ColumnDecl, int, error) {
	if len(src) < 3 {
		return ColumnDecl{}, 0, ErrShortInput
	}
	c := ColumnDecl{TableID: src[0], ElemBits: src[1], Flags: src[2]}
	name, n, err := ReadString(src[3:], Len8, MaxColumnNameLen, false)
	if err != nil {
		return ColumnDecl{}, 0, err
	}
	c.Name = name
	return c, 3 + n, nil
}

// CellPayload is the payload shape of cell-data and cell-default: a
// length-prefixed, possibly non-UTF8 byte string.
type CellPayload struct{ Data []byte }

func (c CellPayload) Encode(w LenWidth) ([]byte, error) {
	return AppendBytes(nil, w, c.Data)
}

func DecodeCellPayload(src []byte, w LenWidth) (CellPayload, int, error) {
	b, n, err := ReadBytes(src, w, MaxWideChunk, true)
	return CellPayload{Data: b}, n, err
}

// Count is the payload shape of move-ahead: a 64-bit row count.
type Count struct{ N uint64 }

func (c Count) Encode() []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], c.N)
	return b[:]
}

func DecodeCount(src []byte) (Count, int, error) {
	if len(src) < 8 {
		return Count{}, 0, ErrShortInput
	}
	return Count{N: binary.LittleEndian.Uint64(src[:8])}, 8, nil
}

// Progress is the payload shape of progress-message. Its name length
// is a plain byte in both framings.
type Progress struct {
	PID       uint32
	Version   uint32
	Timestamp uint32
	Percent   uint8
	Name      string
}

func (p Progress) Encode() ([]byte, error) {
	if p.Percent > 100 {
		return nil, fmt.Errorf("wire: progress percent %d out of range", p.Percent)
	}
	if len(p.Name) > 255 {
		return nil, ErrTooLarge
	}
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:4], p.PID)
	binary.LittleEndian.PutUint32(b[4:8], p.Version)
	binary.LittleEndian.PutUint32(b[8:12], p.Timestamp)
	dst := append([]byte(nil), b[:]...)
	dst = append(dst, p.Percent)
	dst = append(dst, byte(len(p.Name)))
	return append(dst, p.Name...), nil
}

func DecodeProgress(src []byte) (Progress, int, error) {
	if len(src) < 14 {
		return Progress{}, 0, ErrShortInput
	}
	p := Progress{
		PID:       binary.LittleEndian.Uint32(src[0:4]),
		Version:   binary.LittleEndian.Uint32(src[4:8]),
		Timestamp: binary.LittleEndian.Uint32(src[8:12]),
		Percent:   src[12],
	}
	if p.Percent > 100 {
		return Progress{}, 0, fmt.Errorf("wire: progress percent %d out of range", p.Percent)
	}
	n := int(src[13])
	if len(src)-14 < n {
		return Progress{}, 0, ErrShortInput
	}
	p.Name = string(src[14 : 14+n])
	return p, 14 + n, nil
}

// Align4 rounds off up to the next 4-byte boundary, used to find the
// start of the next event in the unpacked framing.
func Align4(off int) int {
	return (off + 3) &^ 3
}
