/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package credentials

import (
	"crypto/sha1"
	"encoding/base64"
)

// signPath computes the HMAC-style per-request signature spec.md 4.10
// calls for: base64(SHA1(secret || path_and_query)). It's shared by
// every provider variant (API-key, shared-secret, user-credentials),
// which differ only in what "secret" is and whether it requires a
// Login step first, adapted from the teacher's ingest.AuthHash
// iterated-hash idiom (ingest/auth.go) to a single-pass HTTP header
// signature instead of a TCP challenge/response.
func signPath(secret []byte, pathAndQuery string) string {
	h := sha1.New()
	h.Write(secret)
	h.Write([]byte(pathAndQuery))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
