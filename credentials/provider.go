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
)

// AuthProvider is the common shape every credential variant in spec.md
// 4.10 implements. It is structurally identical to
// webchannel.CredentialProvider; this package does not import
// webchannel so a *RepositoryCredentials (etc.) satisfies both without
// either package depending on the other — the web channel only needs
// the method set, not the concrete type.
type AuthProvider interface {
	RequiresAuthentication(req *http.Request) bool
	Authenticate(req *http.Request) error
	Authenticated() bool
	Login(ctx context.Context) error
}
