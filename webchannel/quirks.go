/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package webchannel

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// maxQuirkHosts bounds the per-host quirk cache (spec.md 3's domain
// stack table): a long-lived agent talking to a churning fleet of hub
// hostnames should not grow this map without bound.
const maxQuirkHosts = 4096

// hostQuirks is the per-host compatibility state spec.md 4.8/4.9 call
// "quirk flags": once a host is observed to reject PUT/DELETE with 405,
// or to choke on HTTP/1.1 semantics (417), the channel remembers it and
// never pays the round trip again.
type hostQuirks struct {
	compatMethods bool // 405 seen: encode PUT/DELETE as POST + X-Request-Method
	http10        bool // 417 seen: downgrade to HTTP/1.0 semantics
}

// quirkRegistry memoizes hostQuirks per lowercased host name, guarded
// internally by the LRU's own lock. Each Channel owns one registry;
// registries are not shared between Channel instances.
type quirkRegistry struct {
	cache *lru.Cache[string, hostQuirks]
}

func newQuirkRegistry() *quirkRegistry {
	c, _ := lru.New[string, hostQuirks](maxQuirkHosts)
	return &quirkRegistry{cache: c}
}

func (q *quirkRegistry) get(host string) hostQuirks {
	host = normalizeHost(host)
	v, ok := q.cache.Get(host)
	if !ok {
		return hostQuirks{}
	}
	return v
}

func (q *quirkRegistry) setCompatMethods(host string) {
	host = normalizeHost(host)
	v, _ := q.cache.Get(host)
	v.compatMethods = true
	q.cache.Add(host, v)
}

func (q *quirkRegistry) setHTTP10(host string) {
	host = normalizeHost(host)
	v, _ := q.cache.Get(host)
	v.http10 = true
	q.cache.Add(host, v)
}
