/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package credentials implements the process-wide credential manager
// (spec.md 4.10): a registry of authentication providers keyed by
// (host, repository), with an interactive-prompt path serialized so at
// most one prompt is ever outstanding.
package credentials

import "errors"

var (
	// ErrDeclined is returned when the caller (or a prior caller)
	// declined to supply credentials for a host; the host is then
	// blocked from further prompting until UpdateCredentials(force=true).
	ErrDeclined = errors.New("credentials: declined")
	// ErrMissingProvider is returned when Authenticate is attempted
	// against a provider that has no usable credential yet.
	ErrMissingProvider = errors.New("credentials: missing provider")
	// ErrLoginFailed wraps a failed Login handshake (bad status, bad
	// response body) for any provider variant.
	ErrLoginFailed = errors.New("credentials: login failed")
)
