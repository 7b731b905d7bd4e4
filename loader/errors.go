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

import "errors"

// Sentinel errors carry the protocol's kind-specific failure codes in
// their slash-separated object/state spelling, kept stable for anyone
// grepping logs across implementations.
var (
	ErrDatabaseNotFound     = errors.New("loader: database/not-found")
	ErrDatabaseExists       = errors.New("loader: database/exists")
	ErrDatabaseCreateFailed = errors.New("loader: database/create-failed")
	ErrTableNotFound        = errors.New("loader: table/not-found")
	ErrTableExists          = errors.New("loader: table/exists")
	ErrColumnNotFound       = errors.New("loader: column/not-found")
	ErrRowIncomplete        = errors.New("loader: row/incomplete")
	ErrBadVersion           = errors.New("loader: message/bad-version")
	ErrBadProgress          = errors.New("loader: message/bad-progress")
	ErrErrorSignalled       = errors.New("loader: error/exists")
	ErrSchemaFailed         = errors.New("loader: schema/no-file-parsed")
	ErrBadCreateMode        = errors.New("loader: create-mode/bad-bits")
	ErrStreamNotOpened      = errors.New("loader: stream not yet opened")
	ErrStreamClosed         = errors.New("loader: stream already closed")
)
