/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package reader

import "sync"

// Stats accumulates the read-quality counters a consumer checks after
// draining a session: how many packets were read and lost, whether any
// corruption was tolerated, and a per-type breakdown for diagnostics.
type Stats struct {
	mu            sync.Mutex
	PacketsRead   int64
	PacketsLost   int64
	HasCorruptData bool
	PerTypeCounts map[string]int64
}

// NewStats returns a zeroed Stats.
func NewStats() *Stats {
	return &Stats{PerTypeCounts: make(map[string]int64)}
}

func (s *Stats) recordRead(typeName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PacketsRead++
	s.PerTypeCounts[typeName]++
}

func (s *Stats) recordLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PacketsLost++
	s.HasCorruptData = true
}

// Snapshot returns a copy safe for the caller to inspect without racing
// further reads.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]int64, len(s.PerTypeCounts))
	for k, v := range s.PerTypeCounts {
		cp[k] = v
	}
	return Stats{
		PacketsRead:    s.PacketsRead,
		PacketsLost:    s.PacketsLost,
		HasCorruptData: s.HasCorruptData,
		PerTypeCounts:  cp,
	}
}
