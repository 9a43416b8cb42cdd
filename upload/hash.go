/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package upload

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
)

const headerSHA1Hash = "X-SHA1-Hash"

// sha1HexOf hashes the file at path, returning its hex digest for the
// X-SHA1-Hash header (spec.md 4.8). Per spec.md 4.8's degradation
// policy, a failure here (e.g. the source turning out to be a
// non-seekable stream wrapped in a *os.File-like interface) is not
// fatal to the upload: the caller proceeds without the integrity
// header and logs the degradation.
func sha1HexOf(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
