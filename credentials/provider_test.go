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
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRepositoryCredentialsSignsAfterLogin(t *testing.T) {
	repo := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Repositories/"+repo.String()+"/AccessToken.bin", r.URL.Path)
		w.Write([]byte("opaque-token-bytes"))
	}))
	defer srv.Close()

	p := NewRepositoryCredentials(srv.URL, repo, nil)
	require.False(t, p.Authenticated())
	require.NoError(t, p.Login(context.Background()))
	require.True(t, p.Authenticated())

	req, err := http.NewRequest(http.MethodGet, "https://hub.example/Hub/Files.xml?a=b", nil)
	require.NoError(t, err)
	require.NoError(t, p.Authenticate(req))
	require.True(t, strings.HasPrefix(req.Header.Get("Authorization"), "Gibraltar-Repository: "))
	require.Equal(t, repo.String(), req.Header.Get(headerGibraltarRepository))
}

func TestRepositoryCredentialsLoginOnce(t *testing.T) {
	repo := uuid.New()
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Write([]byte("tok"))
	}))
	defer srv.Close()

	p := NewRepositoryCredentials(srv.URL, repo, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Login(context.Background())
		}()
	}
	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestSharedSecretNeedsNoLogin(t *testing.T) {
	repo := uuid.New()
	s := NewSharedSecret([]byte("shhh"), repo)
	require.True(t, s.Authenticated())
	require.NoError(t, s.Login(context.Background()))

	req, err := http.NewRequest(http.MethodGet, "https://hub.example/Hub/Files.xml", nil)
	require.NoError(t, err)
	require.NoError(t, s.Authenticate(req))
	require.True(t, strings.HasPrefix(req.Header.Get("Authorization"), "Gibraltar-Shared: "))
}

func TestUserCredentialsLoginRace(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Hub/Login", r.URL.Path)
		body, _ := url.ParseQuery(readAll(r))
		require.Equal(t, "alice", body.Get("userName"))
		mu.Lock()
		calls++
		mu.Unlock()
		w.Write([]byte("session-token"))
	}))
	defer srv.Close()

	u := NewUserCredentials(srv.URL, "alice", "secret", nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, u.Login(context.Background()))
		}()
	}
	wg.Wait()
	require.True(t, u.Authenticated())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)

	req, err := http.NewRequest(http.MethodGet, "https://hub.example/Hub/Files.xml", nil)
	require.NoError(t, err)
	require.NoError(t, u.Authenticate(req))
	require.True(t, strings.HasPrefix(req.Header.Get("Authorization"), "Gibraltar-User-Credentials: "))
}

func readAll(r *http.Request) string {
	defer r.Body.Close()
	buf := make([]byte, r.ContentLength)
	io.ReadFull(r.Body, buf)
	return string(buf)
}
