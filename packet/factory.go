/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package packet

import "sync"

// Builder constructs a zero-value instance of one Record variant. The
// reader calls it once per dispatched type-name, then decodes into the
// returned value.
type Builder func() Record

// Factory maps a packet's type-name header to the builder for its Go
// type. Builders are registered per session (each reader owns its own
// Factory and adds to it independently), mirroring the teacher's
// per-session child-registration map in ingest/muxer.go
// (RegisterChild/UnregisterChild) rather than a single process-global
// registry.
type Factory struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewFactory returns a Factory pre-registered with every built-in
// record variant this package defines.
func NewFactory() *Factory {
	f := &Factory{builders: make(map[string]Builder)}
	f.Register(SessionSummaryTypeName, func() Record { return &SessionSummary{} })
	f.Register(SessionFragmentTypeName, func() Record { return &SessionFragment{} })
	f.Register(SessionCloseTypeName, func() Record { return &SessionClose{} })
	f.Register(ThreadInfoTypeName, func() Record { return &ThreadInfo{} })
	f.Register(ApplicationUserTypeName, func() Record { return &ApplicationUser{} })
	f.Register(LogMessageTypeName, func() Record { return &LogMessage{} })
	f.Register(MetricDefinitionTypeName, func() Record { return &MetricDefinition{} })
	f.Register(MetricTypeName, func() Record { return &Metric{} })
	f.Register(MetricSampleTypeName, func() Record { return &MetricSample{} })
	f.Register(EventMetricSampleTypeName, func() Record { return &EventMetricSample{} })
	return f
}

// Register installs (or replaces) the builder for typeName.
func (f *Factory) Register(typeName string, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[typeName] = b
}

// Unregister removes typeName's builder, if any.
func (f *Factory) Unregister(typeName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.builders, typeName)
}

// Build constructs a fresh Record for typeName. Unknown type names
// report ErrUnknownType; per spec.md 4.5, the caller should discard
// just this packet, not the whole stream.
func (f *Factory) Build(typeName string) (Record, error) {
	f.mu.RLock()
	b, ok := f.builders[typeName]
	f.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownType
	}
	return b(), nil
}

// CurrentDefinition is a convenience that builds a blank instance of
// typeName and returns its current Schema(), used by the reader to
// compare against an on-disk definition.
func (f *Factory) CurrentDefinition(typeName string) (*PacketDefinition, error) {
	r, err := f.Build(typeName)
	if err != nil {
		return nil, err
	}
	return r.Schema(), nil
}
