/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package reader

import "errors"

var (
	// ErrBadMagic is returned when a fragment's FileHeader does not
	// start with the expected magic number.
	ErrBadMagic = errors.New("reader: bad file header magic")
	// ErrUnsupportedVersion is returned when a fragment's major version
	// is newer than this reader understands.
	ErrUnsupportedVersion = errors.New("reader: unsupported file version")
	// ErrNoFragments is returned when a Reader is started with an empty
	// fragment list.
	ErrNoFragments = errors.New("reader: no fragments to read")
)
