/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package reader

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gravwell/sessiontrace/packet"
)

// Cache holds the three intra-session lookup tables a live read
// populates lazily as packets arrive: threads by index, users by id
// (plus a case-insensitive name fallback), and metric/metric-definition
// lookups for the dynamic event-metric decode path (spec.md 4.7). It is
// read by the reader's fixup step and written by the reader's ingest
// loop, both possibly from a background task, so it carries its own
// lock rather than relying on the caller's.
type Cache struct {
	mu sync.RWMutex

	threads      map[int32]*packet.ThreadInfo
	threadsByID  map[int64]*packet.ThreadInfo

	users     map[uuid.UUID]*packet.ApplicationUser
	usersByNm map[string]*packet.ApplicationUser

	metricDefs map[uuid.UUID]*packet.MetricDefinition
	metrics    map[uuid.UUID]*packet.Metric
}

// NewCache returns an empty session cache.
func NewCache() *Cache {
	return &Cache{
		threads:     make(map[int32]*packet.ThreadInfo),
		threadsByID: make(map[int64]*packet.ThreadInfo),
		users:      make(map[uuid.UUID]*packet.ApplicationUser),
		usersByNm:  make(map[string]*packet.ApplicationUser),
		metricDefs: make(map[uuid.UUID]*packet.MetricDefinition),
		metrics:    make(map[uuid.UUID]*packet.Metric),
	}
}

// AddThread installs t, keyed by its index.
func (c *Cache) AddThread(t *packet.ThreadInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[t.Index] = t
	c.threadsByID[t.ThreadID] = t
}

// Thread looks up a thread by index.
func (c *Cache) Thread(index int32) (*packet.ThreadInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.threads[index]
	return t, ok
}

// ThreadByID looks up a thread by its OS thread id, the pre-index
// compatibility fallback LogMessage.ResolveThreadIndex uses when
// ThreadIndex == 0 (spec.md 9).
func (c *Cache) ThreadByID(threadID int64) (*packet.ThreadInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.threadsByID[threadID]
	return t, ok
}

// AddUser installs u, keyed by its id, with a secondary case-insensitive
// name index used when a caller doesn't have the id in hand.
func (c *Cache) AddUser(u *packet.ApplicationUser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = u
	if u.FullyQualifiedUserName != "" {
		c.usersByNm[strings.ToLower(u.FullyQualifiedUserName)] = u
	}
}

// User looks up a user by id.
func (c *Cache) User(id uuid.UUID) (*packet.ApplicationUser, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	return u, ok
}

// UserByName is the case-insensitive fallback lookup used when a
// record only carries a user's display name.
func (c *Cache) UserByName(name string) (*packet.ApplicationUser, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.usersByNm[strings.ToLower(name)]
	return u, ok
}

// AddMetricDefinition installs def, keyed by id. This is the lookup the
// dynamic EventMetricSample decoder consults: per spec.md 9, a sample
// whose parent definition isn't cached yet is rejected, never guessed.
func (c *Cache) AddMetricDefinition(def *packet.MetricDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metricDefs[def.ID] = def
}

// MetricDefinition looks up a metric definition by id.
func (c *Cache) MetricDefinition(id uuid.UUID) (*packet.MetricDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.metricDefs[id]
	return d, ok
}

// AddMetric installs m, keyed by id.
func (c *Cache) AddMetric(m *packet.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics[m.ID] = m
}

// Metric looks up a metric instance by id.
func (c *Cache) Metric(id uuid.UUID) (*packet.Metric, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.metrics[id]
	return m, ok
}

// UniquifyThreadNames appends a differentiator to the Name of any
// threads sharing a display caption, so a live feed's thread list never
// shows two indistinguishable entries. Invoked after any batch of new
// thread additions (spec.md 4.7).
func (c *Cache) UniquifyThreadNames() {
	c.mu.Lock()
	defer c.mu.Unlock()

	byName := make(map[string][]*packet.ThreadInfo)
	for _, t := range c.threads {
		byName[t.Name] = append(byName[t.Name], t)
	}
	for name, group := range byName {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Index < group[j].Index })
		for i, t := range group {
			t.Name = fmt.Sprintf("%s (%d)", name, i+1)
		}
	}
}
