/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package webchannel

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel channel errors, keyed to spec.md 4.8's failure taxonomy and
// reused by the upload engine's retry table. Mirrors the teacher's
// client.ErrNotAuthed / client.ErrNotFound / client.ClientError split
// in client/staticActions.go, widened to the rest of the 4xx table this
// spec needs.
var (
	ErrBadRequest        = errors.New("webchannel: bad request")
	ErrUnauthorized      = errors.New("webchannel: unauthorized")
	ErrMethodNotAllowed  = errors.New("webchannel: method not allowed")
	ErrExpectationFailed = errors.New("webchannel: expectation failed")
	ErrNotFound          = errors.New("webchannel: not found")
	ErrTimeout           = errors.New("webchannel: request timed out")
	ErrCanceled          = errors.New("webchannel: request canceled")
	ErrConnectFailure    = errors.New("webchannel: connect failure")
)

// StatusError carries the HTTP status and response body for a request
// that completed but failed, the same shape as the teacher's
// client.ClientError (client/staticActions.go) with the status
// additionally classified against one of the sentinels above via
// errors.Is.
type StatusError struct {
	Status     string
	StatusCode int
	Body       string
	URI        string
	sentinel   error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webchannel: %s (%d) at %s: %s", e.Status, e.StatusCode, e.URI, e.Body)
}

func (e *StatusError) Unwrap() error { return e.sentinel }

// RateLimitedError is returned for a 429 response, carrying the
// server's advertised retry-after delay when present.
type RateLimitedError struct {
	RetryAfter time.Duration
	URI        string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("webchannel: rate limited at %s, retry after %s", e.URI, e.RetryAfter)
}

// classify maps an HTTP status code to the sentinel error from spec.md's
// failure taxonomy (§4.8/§7), wrapping it in a StatusError that still
// carries the response body for diagnostics.
func classify(uri string, resp *http.Response, body string) error {
	se := &StatusError{Status: resp.Status, StatusCode: resp.StatusCode, Body: body, URI: uri}
	switch resp.StatusCode {
	case http.StatusBadRequest:
		se.sentinel = ErrBadRequest
	case http.StatusUnauthorized:
		se.sentinel = ErrUnauthorized
	case http.StatusMethodNotAllowed:
		se.sentinel = ErrMethodNotAllowed
	case http.StatusExpectationFailed:
		se.sentinel = ErrExpectationFailed
	case http.StatusNotFound:
		se.sentinel = ErrNotFound
	case http.StatusTooManyRequests:
		return &RateLimitedError{URI: uri, RetryAfter: retryAfter(resp)}
	default:
		return se
	}
	return se
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return 0
}
