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

package loader

import (
	"fmt"
	"strconv"
	"strings"
)

// version is a parsed M.m.p software-name version string. The
// component bounds (255, 255, 65535) are part of the protocol, not
// advisory.
type version struct {
	major, minor uint8
	patch        uint16
}

func parseVersion(s string) (version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return version{}, fmt.Errorf("%w: %q is not M.m.p", ErrBadVersion, s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 || major > 255 {
		return version{}, fmt.Errorf("%w: major component %q out of [0,255]", ErrBadVersion, parts[0])
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil || minor < 0 || minor > 255 {
		return version{}, fmt.Errorf("%w: minor component %q out of [0,255]", ErrBadVersion, parts[1])
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil || patch < 0 || patch > 65535 {
		return version{}, fmt.Errorf("%w: patch component %q out of [0,65535]", ErrBadVersion, parts[2])
	}
	return version{major: uint8(major), minor: uint8(minor), patch: uint16(patch)}, nil
}
