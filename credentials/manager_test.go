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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{ id int }

func (f *fakeProvider) RequiresAuthentication(req *http.Request) bool { return true }
func (f *fakeProvider) Authenticate(req *http.Request) error          { return nil }
func (f *fakeProvider) Authenticated() bool                           { return true }
func (f *fakeProvider) Login(ctx context.Context) error               { return nil }

func TestGetCredentialsPromptsOnceForConcurrentCallers(t *testing.T) {
	var promptCount int32
	m := NewManager(nil, func(ctx context.Context, host string, repo uuid.UUID) (AuthProvider, bool) {
		n := atomic.AddInt32(&promptCount, 1)
		return &fakeProvider{id: int(n)}, true
	})

	repo := uuid.New()
	const n = 20
	var wg sync.WaitGroup
	results := make([]AuthProvider, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := m.GetCredentials(context.Background(), "Hub.Example", repo, false, nil, false)
			require.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&promptCount))
	for _, p := range results {
		require.Same(t, results[0], p)
	}
}

func TestGetCredentialsDeclineBlocksHost(t *testing.T) {
	m := NewManager(nil, func(ctx context.Context, host string, repo uuid.UUID) (AuthProvider, bool) {
		return nil, false
	})
	repo := uuid.New()
	_, err := m.GetCredentials(context.Background(), "hub.example", repo, false, nil, false)
	require.ErrorIs(t, err, ErrDeclined)

	// A second call should fail fast without re-prompting.
	var calls int32
	m.prompt = func(ctx context.Context, host string, repo uuid.UUID) (AuthProvider, bool) {
		atomic.AddInt32(&calls, 1)
		return nil, false
	}
	_, err = m.GetCredentials(context.Background(), "HUB.EXAMPLE", repo, false, nil, false)
	require.ErrorIs(t, err, ErrDeclined)
	require.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestUpdateCredentialsForceOverridesBlock(t *testing.T) {
	m := NewManager(nil, func(ctx context.Context, host string, repo uuid.UUID) (AuthProvider, bool) {
		return nil, false
	})
	repo := uuid.New()
	_, err := m.GetCredentials(context.Background(), "hub.example", repo, false, nil, false)
	require.ErrorIs(t, err, ErrDeclined)

	m.prompt = func(ctx context.Context, host string, repo uuid.UUID) (AuthProvider, bool) {
		return &fakeProvider{}, true
	}
	_, err = m.UpdateCredentials(context.Background(), "hub.example", repo, false)
	require.ErrorIs(t, err, ErrDeclined)

	p, err := m.UpdateCredentials(context.Background(), "hub.example", repo, true)
	require.NoError(t, err)
	require.NotNil(t, p)

	cached, ok := m.cached(Key{Host: "hub.example", RepositoryID: repo})
	require.True(t, ok)
	require.Same(t, p, cached)
}

func TestHostCaseInsensitiveCacheKey(t *testing.T) {
	var promptCount int32
	m := NewManager(nil, func(ctx context.Context, host string, repo uuid.UUID) (AuthProvider, bool) {
		atomic.AddInt32(&promptCount, 1)
		return &fakeProvider{}, true
	})
	repo := uuid.New()
	_, err := m.GetCredentials(context.Background(), "Hub.Example.COM", repo, false, nil, false)
	require.NoError(t, err)
	_, err = m.GetCredentials(context.Background(), "hub.example.com", repo, false, nil, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&promptCount))
}
