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
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gravwell/sessiontrace/internal/slog"
)

// Key identifies a cached provider by (host, repository), host compared
// case-insensitively per spec.md 3's credential cache key.
type Key struct {
	Host         string
	RepositoryID uuid.UUID
}

func normalizeHost(host string) string { return strings.ToLower(host) }

// PromptFunc is the external "interactive credential prompt" collaborator
// (spec.md 1 treats the actual UI as out of core scope): given a host
// and repository, it returns a provider the caller supplied, or ok=false
// if the user declined.
type PromptFunc func(ctx context.Context, host string, repositoryID uuid.UUID) (AuthProvider, bool)

// Manager is the process-wide credential registry (spec.md 4.10): two
// maps under a single lock, plus a dedicated prompt-serialization path
// so at most one interactive prompt is ever outstanding (invariant 7).
type Manager struct {
	mu        sync.Mutex
	providers map[Key]AuthProvider
	blocked   map[string]bool

	// promptGroup collapses concurrent GetCredentials calls for the
	// same (host, repository) into a single PromptFunc invocation, all
	// callers observing the same resulting provider (spec.md 8
	// property 7). golang.org/x/sync/singleflight is the idiomatic Go
	// tool for this shape; a hand-rolled mutex+condvar would just be
	// singleflight with extra steps (see DESIGN.md).
	promptGroup singleflight.Group
	// promptMu is the dedicated prompt-serialization lock spec.md 5
	// calls for: always acquired outside mu, it guarantees at most one
	// interactive prompt is open at a time across every (host,
	// repository) pair, not just within a single singleflight key.
	promptMu sync.Mutex
	prompt   PromptFunc
	log      *slog.Tagged
}

// NewManager returns a Manager whose interactive prompts are satisfied
// by prompt. prompt may be nil if the caller never intends to use
// interactive (non-API-key) providers.
func NewManager(logger *slog.Logger, prompt PromptFunc) *Manager {
	if logger == nil {
		logger = slog.Nop()
	}
	return &Manager{
		providers: make(map[Key]AuthProvider),
		blocked:   make(map[string]bool),
		prompt:    prompt,
		log:       logger.WithMsgID("credentials"),
	}
}

func (m *Manager) cached(key Key) (AuthProvider, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[key]
	return p, ok
}

func (m *Manager) cache(key Key, p AuthProvider) {
	m.mu.Lock()
	m.providers[key] = p
	delete(m.blocked, key.Host)
	m.mu.Unlock()
}

func (m *Manager) isBlocked(host string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked[host]
}

func (m *Manager) block(host string) {
	m.mu.Lock()
	m.blocked[host] = true
	m.mu.Unlock()
}

// APIKeyFactory builds a RepositoryCredentials-style provider from
// whatever local secret storage backs use_api_key (spec.md 4.10). The
// caller supplies this since the actual secret store is an external
// collaborator (config/keychain, out of this core's scope).
type APIKeyFactory func(ctx context.Context, host string, repositoryID uuid.UUID) (AuthProvider, error)

// GetCredentials returns the cached provider for (host, repositoryID),
// or resolves a new one per spec.md 4.10: an API-key provider when
// useAPIKey and apiKeyFactory is supplied, otherwise the (serialized)
// interactive prompt. useMachineStore is accepted for interface parity
// with the source policy knob but the machine credential store itself
// is an external collaborator; callers fold it into apiKeyFactory.
func (m *Manager) GetCredentials(ctx context.Context, host string, repositoryID uuid.UUID, useAPIKey bool, apiKeyFactory APIKeyFactory, useMachineStore bool) (AuthProvider, error) {
	host = normalizeHost(host)
	key := Key{Host: host, RepositoryID: repositoryID}

	if p, ok := m.cached(key); ok {
		return p, nil
	}

	if useAPIKey && apiKeyFactory != nil {
		p, err := apiKeyFactory(ctx, host, repositoryID)
		if err != nil {
			return nil, err
		}
		if err := p.Login(ctx); err != nil {
			return nil, err
		}
		m.cache(key, p)
		return p, nil
	}

	if m.isBlocked(host) {
		return nil, ErrDeclined
	}
	if m.prompt == nil {
		return nil, ErrMissingProvider
	}

	flightKey := host + "\x00" + repositoryID.String()
	v, err, _ := m.promptGroup.Do(flightKey, func() (any, error) {
		// Re-check: another caller may have cached a provider for this
		// key between our cache-miss above and acquiring the flight.
		if p, ok := m.cached(key); ok {
			return p, nil
		}
		m.promptMu.Lock()
		defer m.promptMu.Unlock()
		provider, ok := m.prompt(ctx, host, repositoryID)
		if !ok {
			m.block(host)
			return nil, ErrDeclined
		}
		m.cache(key, provider)
		return provider, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(AuthProvider), nil
}

// UpdateCredentials always re-prompts (overriding any cached provider)
// unless the host is blocked and force is false, per spec.md 4.10. On
// success it overwrites the cache and clears the block.
func (m *Manager) UpdateCredentials(ctx context.Context, host string, repositoryID uuid.UUID, force bool) (AuthProvider, error) {
	host = normalizeHost(host)
	if m.isBlocked(host) && !force {
		return nil, ErrDeclined
	}
	if m.prompt == nil {
		return nil, ErrMissingProvider
	}

	flightKey := "update\x00" + host + "\x00" + repositoryID.String()
	v, err, _ := m.promptGroup.Do(flightKey, func() (any, error) {
		m.promptMu.Lock()
		defer m.promptMu.Unlock()
		provider, ok := m.prompt(ctx, host, repositoryID)
		if !ok {
			m.block(host)
			return nil, ErrDeclined
		}
		m.cache(Key{Host: host, RepositoryID: repositoryID}, provider)
		return provider, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(AuthProvider), nil
}
