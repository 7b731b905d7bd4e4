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

import "fmt"

// Kind is the tag carried in every event header. Kind 0 is reserved as
// the illegal "block of zeros" tag and parsers reject it explicitly
// rather than treating it as just another unknown value.
//
// Families whose payload is dominated by length-prefixed strings come
// in Narrow/Wide pairs. The pair distinction only exists in the packed
// framing: the narrow form carries 8-bit length fields (1..256 bytes
// per string) and the wide form 16-bit length fields (1..65536 bytes).
// In the unpacked framing the narrow tag doubles as the family's only
// tag and every length field is 32 bits; the wide tags never appear
// there, and a parser rejects them.
type Kind uint8

const (
	KindBadEvent Kind = iota // reserved; never legal on the wire

	KindEndStream
	KindOpenStream
	KindNextRow
	KindMoveAhead
	KindNewColumn
	KindEmptyDefault
	KindProgressMessage
	KindSoftwareName
	KindAddMemberDB
	KindAddMemberTable

	KindNewTableNarrow
	KindNewTableWide

	KindRemotePathNarrow
	KindRemotePathWide

	KindUseSchemaNarrow
	KindUseSchemaWide

	KindCellDataNarrow
	KindCellDataWide

	KindCellDefaultNarrow
	KindCellDefaultWide

	KindDBMetadataNodeNarrow
	KindDBMetadataNodeWide

	KindTableMetadataNodeNarrow
	KindTableMetadataNodeWide

	KindColumnMetadataNodeNarrow
	KindColumnMetadataNodeWide

	KindDBMetadataAttrNarrow
	KindDBMetadataAttrWide

	KindTableMetadataAttrNarrow
	KindTableMetadataAttrWide

	KindColumnMetadataAttrNarrow
	KindColumnMetadataAttrWide

	KindErrorMessageNarrow
	KindErrorMessageWide

	KindLogMessageNarrow
	KindLogMessageWide

	kindMax
)

var kindNames = [...]string{
	KindBadEvent:                 "bad-event",
	KindEndStream:                "end-stream",
	KindOpenStream:               "open-stream",
	KindNextRow:                  "next-row",
	KindMoveAhead:                "move-ahead",
	KindNewColumn:                "new-column",
	KindEmptyDefault:             "empty-default",
	KindProgressMessage:          "progress-message",
	KindSoftwareName:             "software-name",
	KindAddMemberDB:              "add-member-db",
	KindAddMemberTable:           "add-member-table",
	KindNewTableNarrow:           "new-table(narrow)",
	KindNewTableWide:             "new-table(wide)",
	KindRemotePathNarrow:         "remote-path(narrow)",
	KindRemotePathWide:           "remote-path(wide)",
	KindUseSchemaNarrow:          "use-schema(narrow)",
	KindUseSchemaWide:            "use-schema(wide)",
	KindCellDataNarrow:           "cell-data(narrow)",
	KindCellDataWide:             "cell-data(wide)",
	KindCellDefaultNarrow:        "cell-default(narrow)",
	KindCellDefaultWide:          "cell-default(wide)",
	KindDBMetadataNodeNarrow:     "db-metadata-node(narrow)",
	KindDBMetadataNodeWide:       "db-metadata-node(wide)",
	KindTableMetadataNodeNarrow:  "table-metadata-node(narrow)",
	KindTableMetadataNodeWide:    "table-metadata-node(wide)",
	KindColumnMetadataNodeNarrow: "column-metadata-node(narrow)",
	KindColumnMetadataNodeWide:   "column-metadata-node(wide)",
	KindDBMetadataAttrNarrow:     "db-metadata-node-attr(narrow)",
	KindDBMetadataAttrWide:       "db-metadata-node-attr(wide)",
	KindTableMetadataAttrNarrow:  "table-metadata-node-attr(narrow)",
	KindTableMetadataAttrWide:    "table-metadata-node-attr(wide)",
	KindColumnMetadataAttrNarrow: "column-metadata-node-attr(narrow)",
	KindColumnMetadataAttrWide:   "column-metadata-node-attr(wide)",
	KindErrorMessageNarrow:       "error-message(narrow)",
	KindErrorMessageWide:         "error-message(wide)",
	KindLogMessageNarrow:         "log-message(narrow)",
	KindLogMessageWide:           "log-message(wide)",
}

func (k Kind) String() string {
	if k < kindMax {
		if s := kindNames[k]; s != "" {
			return s
		}
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is a tag that can legally appear on the
// wire in some framing. KindBadEvent and any value beyond the last
// assigned tag are invalid.
func (k Kind) Valid() bool {
	return k > KindBadEvent && k < kindMax
}

// LegalIn reports whether k may appear in a stream using framing p.
// Wide tags exist only in the packed framing.
func (k Kind) LegalIn(p Packing) bool {
	if !k.Valid() {
		return false
	}
	if p == Unpacked && k.IsWide() {
		return false
	}
	return true
}

// IsWide reports whether k is the 16-bit-length member of a
// narrow/wide pair.
func (k Kind) IsWide() bool {
	switch k {
	case KindNewTableWide, KindRemotePathWide, KindUseSchemaWide,
		KindCellDataWide, KindCellDefaultWide,
		KindDBMetadataNodeWide, KindTableMetadataNodeWide, KindColumnMetadataNodeWide,
		KindDBMetadataAttrWide, KindTableMetadataAttrWide, KindColumnMetadataAttrWide,
		KindErrorMessageWide, KindLogMessageWide:
		return true
	}
	return false
}

// Narrow returns the narrow-form tag corresponding to k's family. If
// k is already a narrow-form tag (or has no wide counterpart) it is
// returned unchanged.
func (k Kind) Narrow() Kind {
	if k.IsWide() {
		return k - 1
	}
	return k
}

// Wide returns the wide-form tag corresponding to k's family. If k is
// already a wide-form tag (or has no narrow counterpart) it is
// returned unchanged.
func (k Kind) Wide() Kind {
	if !k.IsWide() && k.hasWideForm() {
		return k + 1
	}
	return k
}

func (k Kind) hasWideForm() bool {
	switch k {
	case KindNewTableNarrow, KindRemotePathNarrow, KindUseSchemaNarrow,
		KindCellDataNarrow, KindCellDefaultNarrow,
		KindDBMetadataNodeNarrow, KindTableMetadataNodeNarrow, KindColumnMetadataNodeNarrow,
		KindDBMetadataAttrNarrow, KindTableMetadataAttrNarrow, KindColumnMetadataAttrNarrow,
		KindErrorMessageNarrow, KindLogMessageNarrow:
		return true
	}
	return k.IsWide()
}

// HasObjectID reports whether the id field of k's event header is
// meaningful. For the remaining kinds the field is written as zero and
// ignored on read.
func (k Kind) HasObjectID() bool {
	switch k.Narrow() {
	case KindNextRow, KindMoveAhead, KindNewColumn, KindEmptyDefault,
		KindAddMemberDB, KindAddMemberTable, KindNewTableNarrow,
		KindCellDataNarrow, KindCellDefaultNarrow,
		KindDBMetadataNodeNarrow, KindTableMetadataNodeNarrow, KindColumnMetadataNodeNarrow,
		KindDBMetadataAttrNarrow, KindTableMetadataAttrNarrow, KindColumnMetadataAttrNarrow:
		return true
	}
	return false
}

// IsDBMetadata reports whether k is one of the two database-metadata
// families, the only kinds whose packed id field honors the
// MetadataAliasID-to-root aliasing.
func (k Kind) IsDBMetadata() bool {
	switch k.Narrow() {
	case KindDBMetadataNodeNarrow, KindDBMetadataAttrNarrow:
		return true
	}
	return false
}
