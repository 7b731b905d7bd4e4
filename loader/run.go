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
	"context"
	"fmt"
	"io"

	"github.com/columnarhq/genload/gparser"
)

// Run parses one event stream from r and materializes it against a
// Manager built by newManager, abandoning the partially-created root
// on any fatal error.
func Run(ctx context.Context, r io.Reader, newManager ManagerFactory, opts ...Option) error {
	l := New(ctx, newManager)
	for _, opt := range opts {
		opt(l)
	}
	p := gparser.New(r, l)
	if err := p.Run(); err != nil {
		if abandonErr := l.Abandon(); abandonErr != nil {
			return fmt.Errorf("%w (and abandon failed: %v)", err, abandonErr)
		}
		return err
	}
	return nil
}

// Option configures a Loader before it starts consuming events.
type Option func(*Loader)

// WithIncludePath adds one schema include path.
func WithIncludePath(path string) Option {
	return func(l *Loader) { l.AddIncludePath(path) }
}

// WithSchemaFile adds one externally supplied schema file.
func WithSchemaFile(path string) Option {
	return func(l *Loader) { l.AddSchemaFile(path) }
}

// WithTargetDatabase overrides the effective database name.
func WithTargetDatabase(name string) Option {
	return func(l *Loader) { l.SetTargetDatabase(name) }
}
