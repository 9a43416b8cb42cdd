/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package credentials

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// SharedSecret is the stateless provider variant (spec.md 4.10): same
// header shape as RepositoryCredentials but signed directly off a
// pre-shared secret, with no login round trip.
type SharedSecret struct {
	secret       []byte
	repositoryID uuid.UUID
}

// NewSharedSecret builds a provider that signs every request with
// secret, never contacting the server first.
func NewSharedSecret(secret []byte, repositoryID uuid.UUID) *SharedSecret {
	return &SharedSecret{secret: secret, repositoryID: repositoryID}
}

func (s *SharedSecret) RequiresAuthentication(req *http.Request) bool { return true }

// Authenticated is always true: there is no handshake to complete.
func (s *SharedSecret) Authenticated() bool { return true }

// Login is a no-op; SharedSecret needs no handshake.
func (s *SharedSecret) Login(ctx context.Context) error { return nil }

func (s *SharedSecret) Authenticate(req *http.Request) error {
	sig := signPath(s.secret, req.URL.RequestURI())
	req.Header.Set("Authorization", "Gibraltar-Shared: "+sig)
	req.Header.Set(headerGibraltarRepository, s.repositoryID.String())
	return nil
}
