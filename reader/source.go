/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package reader

import (
	"io"
	"os"
)

// FragmentSource opens one session fragment for reading. Splitting this
// out of Reader lets tests and in-memory callers supply fragments
// without touching the filesystem.
type FragmentSource interface {
	// Name identifies the fragment for logging and stats, not
	// necessarily a filesystem path.
	Name() string
	Open() (io.ReadCloser, error)
}

// FileFragmentSource is a FragmentSource backed by a file on disk.
type FileFragmentSource string

func (f FileFragmentSource) Name() string { return string(f) }

func (f FileFragmentSource) Open() (io.ReadCloser, error) {
	return os.Open(string(f))
}
