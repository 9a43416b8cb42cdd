/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package upload

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// lockPath derives the advisory-lock file path for a (session, client,
// fragment) tuple, sitting alongside its progress journal. Using
// gofrs/flock (the teacher's own go.mod dependency) gives the
// cross-process exclusion spec.md 4.8/8 invariant 6 requires without
// reinventing file locking.
func lockPath(dir string, req Request) string {
	return journalPath(dir, req) + ".lock"
}

// acquireLock tries a non-blocking advisory lock for req's fragment. If
// another process already holds it, ErrAlreadyUploading is returned and
// the caller should treat the upload as already handled (spec.md 4.8:
// "this instance returns without attempting").
func acquireLock(dir string, req Request) (*flock.Flock, error) {
	fl := flock.New(lockPath(dir, req))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("upload: acquiring lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyUploading
	}
	return fl, nil
}
