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

package genc

import "golang.org/x/exp/constraints"

// MaxSize16, MaxSize32, and MaxSize64 are the largest number of bytes
// Encode16, Encode32, and Encode64 can ever produce.
const (
	MaxSize16 = 3
	MaxSize32 = 5
	MaxSize64 = 9
)

// Encode16 encodes v into dst, returning the number of bytes written.
// It returns ErrInsufficientBuffer (and writes nothing) if dst cannot
// hold the encoding; call with a buffer of at least MaxSize16 bytes
// to guarantee success.
func Encode16(v uint16, dst []byte) (int, error) {
	return encode(uint64(v), 2, 3, dst)
}

// Decode16 is the inverse of Encode16.
func Decode16(src []byte) (uint16, int, error) {
	v, n, err := decode(src, 2, 3)
	return uint16(v), n, err
}

// Encode32 encodes v into dst, returning the number of bytes written.
func Encode32(v uint32, dst []byte) (int, error) {
	return encode(uint64(v), 4, 5, dst)
}

// Decode32 is the inverse of Encode32.
func Decode32(src []byte) (uint32, int, error) {
	v, n, err := decode(src, 4, 5)
	return uint32(v), n, err
}

// Encode64 encodes v into dst, returning the number of bytes written.
func Encode64(v uint64, dst []byte) (int, error) {
	return encode(v, 7, 9, dst)
}

// Decode64 is the inverse of Encode64.
func Decode64(src []byte) (uint64, int, error) {
	return decode(src, 7, 9)
}

// Size reports the number of bytes Encode{16,32,64} would need to
// write v, for any unsigned integer width genload uses on the wire,
// without actually encoding.
func Size[T constraints.Unsigned](v T) int {
	switch any(v).(type) {
	case uint16:
		return sizeFor(uint64(v), 2, 3)
	case uint32:
		return sizeFor(uint64(v), 4, 5)
	default:
		return sizeFor(uint64(v), 7, 9)
	}
}

func sizeFor(v uint64, maxBytes, escLen int) int {
	for n := 1; n <= maxBytes; n++ {
		if v <= maxValue[n-1] {
			return n
		}
	}
	return escLen
}
