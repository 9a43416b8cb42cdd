/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package packet

import "errors"

var (
	// ErrTruncated is returned when a read ran out of bytes before the
	// value it was decoding was complete.
	ErrTruncated = errors.New("packet: truncated field")
	// ErrInvalidLength is returned when a length prefix is negative or
	// larger than any sane wire value.
	ErrInvalidLength = errors.New("packet: invalid length prefix")
	// ErrUnknownFieldType is returned when a FieldType byte does not match
	// any of the closed set of known types.
	ErrUnknownFieldType = errors.New("packet: unknown field type")
	// ErrVersionTooNew is returned when a definition carries a version this
	// build does not know how to read.
	ErrVersionTooNew = errors.New("packet: definition version too new")

	// ErrUnknownType is returned by factory dispatch when a packet's
	// type-name header does not match a registered builder.
	ErrUnknownType = errors.New("packet: unknown packet type")
	// ErrDependencyMissing is returned when a record references another
	// record (thread, user, metric definition) that the session cache
	// does not have.
	ErrDependencyMissing = errors.New("packet: required dependency missing")
	// ErrVersionMismatch is returned when a cacheable packet's on-disk
	// definition cannot be reconciled with any version this build knows.
	ErrVersionMismatch = errors.New("packet: version mismatch")

	// ErrStreamCorrupted marks a recoverable parse failure: the reader
	// should skip this packet and continue.
	ErrStreamCorrupted = errors.New("packet: corrupted packet, recoverable")
	// ErrStreamFailed marks an unrecoverable parse failure: the reader
	// must abandon the current fragment.
	ErrStreamFailed = errors.New("packet: stream failed, abandoning fragment")
)

// Recoverable reports whether err should be absorbed by the reader
// (packets_lost++, has_corrupt_data = true) rather than aborting the
// fragment. Stream::Failed and I/O errors are not recoverable.
func Recoverable(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrStreamFailed):
		return false
	case errors.Is(err, ErrTruncated),
		errors.Is(err, ErrInvalidLength),
		errors.Is(err, ErrUnknownFieldType),
		errors.Is(err, ErrUnknownType),
		errors.Is(err, ErrDependencyMissing),
		errors.Is(err, ErrVersionMismatch),
		errors.Is(err, ErrStreamCorrupted):
		return true
	default:
		return false
	}
}
