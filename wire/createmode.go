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

import (
	"errors"

	"golang.org/x/exp/slices"
)

// CreateMode is the flag byte carried by add-member-db and
// add-member-table events. The three base modes are mutually
// exclusive; MD5 and Parents may be OR'd onto any of them.
type CreateMode uint8

const (
	ModeOpen   CreateMode = 1
	ModeInit   CreateMode = 2
	ModeCreate CreateMode = 3

	ModeMD5     CreateMode = 1 << 3
	ModeParents CreateMode = 1 << 4

	modeBaseMask = 0x07
)

// ErrBadCreateMode is returned by Validate when mode carries bits
// outside the documented union.
var ErrBadCreateMode = errors.New("wire: create-mode flag bits outside documented union")

var validBases = []CreateMode{ModeOpen, ModeInit, ModeCreate}

// Validate checks that m's base mode is one of Open/Init/Create and
// that no undocumented bits are set.
func (m CreateMode) Validate() error {
	base := m & modeBaseMask
	if !slices.Contains(validBases, base) {
		return ErrBadCreateMode
	}
	if m&^(modeBaseMask|ModeMD5|ModeParents) != 0 {
		return ErrBadCreateMode
	}
	return nil
}

// Base returns the base mode (Open, Init, or Create) with the
// MD5/Parents modifier bits masked off.
func (m CreateMode) Base() CreateMode { return m & modeBaseMask }

// HasMD5 reports whether the MD5 modifier bit is set.
func (m CreateMode) HasMD5() bool { return m&ModeMD5 != 0 }

// HasParents reports whether the Parents modifier bit is set.
func (m CreateMode) HasParents() bool { return m&ModeParents != 0 }
