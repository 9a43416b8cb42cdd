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
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

const headerGibraltarRepository = "X-Gibraltar-Repository"

// RepositoryCredentials is the API-key provider variant (spec.md 4.10):
// a one-time GET fetches an opaque access token, and every subsequent
// request signs its path with that token under the
// "Gibraltar-Repository" prefix.
type RepositoryCredentials struct {
	repositoryID uuid.UUID
	baseURL      string
	httpClient   *http.Client

	once        sync.Once
	onceErr     error
	mu          sync.Mutex
	accessToken []byte
}

// NewRepositoryCredentials builds a provider that will fetch its access
// token from baseURL (e.g. "https://hub.example") on first Login.
func NewRepositoryCredentials(baseURL string, repositoryID uuid.UUID, httpClient *http.Client) *RepositoryCredentials {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RepositoryCredentials{baseURL: baseURL, repositoryID: repositoryID, httpClient: httpClient}
}

func (r *RepositoryCredentials) RequiresAuthentication(req *http.Request) bool { return true }

func (r *RepositoryCredentials) Authenticated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accessToken) > 0
}

// Login performs the one-time GET /Repositories/{id}/AccessToken.bin
// fetch. Concurrent callers share the single underlying request via
// sync.Once; all observe the same result.
func (r *RepositoryCredentials) Login(ctx context.Context) error {
	r.once.Do(func() {
		uri := fmt.Sprintf("%s/Repositories/%s/AccessToken.bin", r.baseURL, r.repositoryID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			r.onceErr = err
			return
		}
		resp, err := r.httpClient.Do(req)
		if err != nil {
			r.onceErr = fmt.Errorf("%w: %v", ErrLoginFailed, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			r.onceErr = fmt.Errorf("%w: status %s", ErrLoginFailed, resp.Status)
			return
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			r.onceErr = fmt.Errorf("%w: %v", ErrLoginFailed, err)
			return
		}
		r.mu.Lock()
		r.accessToken = body
		r.mu.Unlock()
	})
	return r.onceErr
}

// Authenticate signs req's path+query with the access token under the
// Gibraltar-Repository scheme (spec.md 4.10).
func (r *RepositoryCredentials) Authenticate(req *http.Request) error {
	r.mu.Lock()
	token := r.accessToken
	r.mu.Unlock()
	if len(token) == 0 {
		return ErrMissingProvider
	}
	sig := signPath(token, req.URL.RequestURI())
	req.Header.Set("Authorization", "Gibraltar-Repository: "+sig)
	req.Header.Set(headerGibraltarRepository, r.repositoryID.String())
	return nil
}
