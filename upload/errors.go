/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package upload implements the resumable segmented upload engine for
// completed session fragments (spec.md 4.8), grounded on the teacher's
// client.IngestFile streaming push (client/ingest.go) and the
// IngestMuxer's backoff/retry idiom (ingest/muxer.go), with a
// cross-process advisory lock and a byte-offset progress journal for
// restart-after-crash resumption.
package upload

import "errors"

var (
	// ErrAlreadyUploading is returned (internally absorbed by Upload)
	// when another process already holds the advisory lock for this
	// (session, client, fragment) tuple.
	ErrAlreadyUploading = errors.New("upload: fragment already being uploaded by another process")
	// ErrTooManyRestarts is returned when a 400 mid-stream forces more
	// than Config.MaxZeroRestarts restarts from byte zero.
	ErrTooManyRestarts = errors.New("upload: exceeded maximum restart-from-zero attempts")
	// ErrNotFound names a 404 on a resource expected to exist. Upload
	// does not return it: a 404 from the channel surfaces, without
	// retry, as webchannel.ErrNotFound.
	ErrNotFound = errors.New("upload: resource not found")
)
