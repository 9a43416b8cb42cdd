/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package packet

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// poolShardCount controls contention on the string pool's internal
// maps. A session's string pool sees heavy concurrent interning during
// a live read (every thread name, category, and caption field flows
// through it), so the table is sharded rather than guarded by one lock.
const poolShardCount = 16

type strShard struct {
	mu  sync.RWMutex
	ids map[string]int32
}

type idShard struct {
	mu   sync.RWMutex
	strs map[int32]string
}

// StringPool interns repeated strings (thread names, categories,
// captions) behind small integer IDs so a session stream only carries
// each distinct value once. It is safe for concurrent use.
//
// Writers call Intern to get-or-assign an ID for a string they're about
// to emit. Readers call Register to record an (id, string) pair exactly
// as observed on the wire, then Lookup to resolve later references by
// ID. This is best-effort: a pool miss on read never aborts decoding,
// it just means the caller falls back to the literal string it already
// has in hand.
type StringPool struct {
	nextID    int32
	nextMu    sync.Mutex
	strShards [poolShardCount]*strShard
	idShards  [poolShardCount]*idShard
}

// NewStringPool returns an empty StringPool.
func NewStringPool() *StringPool {
	p := &StringPool{}
	for i := range p.strShards {
		p.strShards[i] = &strShard{ids: make(map[string]int32)}
		p.idShards[i] = &idShard{strs: make(map[int32]string)}
	}
	return p
}

func (p *StringPool) strShardFor(s string) *strShard {
	h := xxhash.Sum64String(s)
	return p.strShards[h%poolShardCount]
}

func (p *StringPool) idShardFor(id int32) *idShard {
	return p.idShards[uint32(id)%poolShardCount]
}

// Intern returns the ID for s, assigning a new one if s hasn't been
// seen by this pool before.
func (p *StringPool) Intern(s string) int32 {
	ss := p.strShardFor(s)
	ss.mu.RLock()
	if id, ok := ss.ids[s]; ok {
		ss.mu.RUnlock()
		return id
	}
	ss.mu.RUnlock()

	ss.mu.Lock()
	if id, ok := ss.ids[s]; ok {
		ss.mu.Unlock()
		return id
	}
	p.nextMu.Lock()
	id := p.nextID
	p.nextID++
	p.nextMu.Unlock()
	ss.ids[s] = id
	ss.mu.Unlock()

	is := p.idShardFor(id)
	is.mu.Lock()
	is.strs[id] = s
	is.mu.Unlock()
	return id
}

// Register records an (id, string) pair as observed directly off the
// wire, where the id was assigned by the remote writer rather than this
// pool. Registering the same id twice with the same string is a no-op;
// registering it with a different string reports a recoverable
// corruption error (spec.md 4.6).
func (p *StringPool) Register(id int32, s string) error {
	is := p.idShardFor(id)
	is.mu.Lock()
	if existing, ok := is.strs[id]; ok {
		is.mu.Unlock()
		if existing != s {
			return fmt.Errorf("%w: string pool id %d redefined", ErrStreamCorrupted, id)
		}
		return nil
	}
	is.strs[id] = s
	is.mu.Unlock()

	ss := p.strShardFor(s)
	ss.mu.Lock()
	if _, ok := ss.ids[s]; !ok {
		ss.ids[s] = id
	}
	ss.mu.Unlock()
	return nil
}

// Lookup resolves id to its interned string.
func (p *StringPool) Lookup(id int32) (string, bool) {
	is := p.idShardFor(id)
	is.mu.RLock()
	defer is.mu.RUnlock()
	s, ok := is.strs[id]
	return s, ok
}

// Len reports how many distinct strings the pool currently holds.
func (p *StringPool) Len() int {
	total := 0
	for _, is := range p.idShards {
		is.mu.RLock()
		total += len(is.strs)
		is.mu.RUnlock()
	}
	return total
}
