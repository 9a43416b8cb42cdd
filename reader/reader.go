/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package reader implements the session fragment reader pipeline
// (spec.md 4.6): it walks one or more fragment files in declared order,
// dispatches each packet chunk through the factory, chooses the
// positional or name-keyed decoder, resolves thread/user/metric
// references via the session caches, and yields LogMessage records to
// the caller while consuming everything else internally.
package reader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gravwell/sessiontrace/internal/slog"
	"github.com/gravwell/sessiontrace/packet"
)

// State names a position in the reader's state machine (spec.md 4.6).
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReading
	StateCorrupted
	StateFragmentExhausted
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoading:
		return "Loading"
	case StateReading:
		return "Reading"
	case StateCorrupted:
		return "Corrupted"
	case StateFragmentExhausted:
		return "FragmentExhausted"
	case StateEnd:
		return "End"
	}
	return "Unknown"
}

// fragmentTypeInfo tracks, per fragment, the most recently installed
// on-disk PacketDefinition and dynamic-ness for each type_name seen in
// that fragment's DefinitionChunks.
type fragmentTypeInfo struct {
	defs      map[string]*packet.PacketDefinition
	cacheable map[string]bool
	dynamic   map[string]bool
}

func newFragmentTypeInfo() *fragmentTypeInfo {
	return &fragmentTypeInfo{
		defs:      make(map[string]*packet.PacketDefinition),
		cacheable: make(map[string]bool),
		dynamic:   make(map[string]bool),
	}
}

// Reader drives the per-packet loop described in spec.md 4.6 across an
// ordered list of fragments.
type Reader struct {
	factory *packet.Factory
	schema  *packet.Schema
	pool    *packet.StringPool
	cache   *Cache
	stats   *Stats
	log     *slog.Tagged

	fragments []FragmentSource

	state        State
	lastSequence int64

	// fastPathMemo memoizes the on-disk/current schema equality check
	// per on-disk PacketDefinition pointer (spec.md 4.6 step 4): a
	// given definition is compared to the current schema exactly once,
	// the first time it's observed, regardless of how many packet
	// chunks reuse it afterward.
	fastPathMemo map[*packet.PacketDefinition]bool
}

// Option configures a Reader at construction.
type Option func(*Reader)

// WithSchema overrides the current-definition registry a Reader holds
// (a fresh Reader seeds one with every built-in type's current
// definition). The fast/slow-path decision does not consult it: on-disk
// definitions are compared against the decoded record's own Schema().
func WithSchema(s *packet.Schema) Option {
	return func(r *Reader) { r.schema = s }
}

// WithCache shares an existing Cache (e.g. across multiple readers
// feeding the same live session) instead of starting empty.
func WithCache(c *Cache) Option {
	return func(r *Reader) { r.cache = c }
}

// New returns a Reader over fragments, logging under logger with the
// given tag.
func New(logger *slog.Logger, tag string, fragments []FragmentSource, opts ...Option) *Reader {
	r := &Reader{
		factory:      packet.NewFactory(),
		schema:       packet.NewSchema(),
		pool:         packet.NewStringPool(),
		cache:        NewCache(),
		stats:        NewStats(),
		log:          logger.WithMsgID(tag),
		fragments:    fragments,
		state:        StateIdle,
		fastPathMemo: make(map[*packet.PacketDefinition]bool),
	}
	for _, o := range opts {
		o(r)
	}
	if len(r.schema.TypeNames()) == 0 {
		for _, name := range builtinTypeNames {
			if def, err := r.factory.CurrentDefinition(name); err == nil {
				r.schema.Register(def)
			}
		}
	}
	return r
}

// builtinTypeNames lists every fixed-schema Record variant this package
// knows, used to seed a fresh Reader's Schema registry at construction.
var builtinTypeNames = []string{
	packet.SessionSummaryTypeName,
	packet.SessionFragmentTypeName,
	packet.SessionCloseTypeName,
	packet.ThreadInfoTypeName,
	packet.ApplicationUserTypeName,
	packet.LogMessageTypeName,
	packet.MetricDefinitionTypeName,
	packet.MetricTypeName,
	packet.MetricSampleTypeName,
}

// Cache returns the session caches this reader has populated so far.
func (r *Reader) Cache() *Cache { return r.cache }

// Stats returns a snapshot of the reader's read-quality counters.
func (r *Reader) Stats() Stats { return r.stats.Snapshot() }

// State returns the reader's current state-machine position.
func (r *Reader) State() State { return r.state }

// LastSequence returns the highest record sequence number observed so
// far, across every fragment read (spec.md 8, testable property 4).
func (r *Reader) LastSequence() int64 { return r.lastSequence }

// Run drains every fragment in order, invoking emit for each LogMessage
// in on-disk (== sequence) order, and returns once the final fragment
// is exhausted. Non-LogMessage records are consumed internally into the
// session cache. A fragment-open failure aborts the whole run; a
// within-fragment framing failure ends just that fragment and advances
// to the next (spec.md 4.6 corruption policy).
func (r *Reader) Run(emit func(*packet.LogMessage) error) error {
	if len(r.fragments) == 0 {
		return ErrNoFragments
	}
	for _, src := range r.fragments {
		r.state = StateLoading
		if err := r.runFragment(src, emit); err != nil {
			return fmt.Errorf("reader: fragment %s: %w", src.Name(), err)
		}
		r.state = StateFragmentExhausted
	}
	r.state = StateEnd
	return nil
}

func (r *Reader) runFragment(src FragmentSource, emit func(*packet.LogMessage) error) error {
	rc, err := src.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	if _, err := readFileHeader(br); err != nil {
		return err
	}

	r.state = StateReading
	types := newFragmentTypeInfo()

	for {
		raw, err := readRawChunk(br)
		if err != nil {
			if isCleanEOF(err) {
				return nil
			}
			// The length/body itself couldn't be read reliably: there
			// is no byte count to skip by, so we can't resync within
			// this fragment. Treat as Stream::Failed (spec.md 7).
			r.stats.recordLost()
			r.log.Warnf("fragment %s: framing failure, abandoning remainder: %v", src.Name(), err)
			return nil
		}

		if lerr := r.applyChunk(raw, types, emit); lerr != nil {
			if errors.Is(lerr, packet.ErrStreamFailed) {
				r.state = StateCorrupted
				r.log.Warnf("fragment %s: unrecoverable chunk, abandoning remainder: %v", src.Name(), lerr)
				return nil
			}
			return lerr
		}
	}
}

func isCleanEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// applyChunk decodes and applies one already-framed chunk. Any error it
// returns other than ErrStreamFailed is a programming/IO error that
// should abort the whole Run; recoverable codec/packet problems are
// absorbed here via Stats and never returned.
func (r *Reader) applyChunk(raw rawChunk, types *fragmentTypeInfo, emit func(*packet.LogMessage) error) error {
	switch raw.tag {
	case tagDefinition:
		dc, err := parseDefinitionChunk(raw.body)
		if err != nil {
			r.stats.recordLost()
			return nil
		}
		types.defs[dc.def.TypeName] = dc.def
		types.cacheable[dc.def.TypeName] = dc.cacheable
		types.dynamic[dc.def.TypeName] = dc.dynamic
		return nil
	case tagPacket:
		return r.applyPacketChunk(raw.body, types, emit)
	default:
		// Unknown chunk tag: the length prefix already let us skip it
		// cleanly, so this is a forward-compat no-op, not corruption.
		return nil
	}
}

func (r *Reader) applyPacketChunk(body []byte, types *fragmentTypeInfo, emit func(*packet.LogMessage) error) error {
	typeName, err := peekPacketChunkTypeName(body)
	if err != nil {
		r.stats.recordLost()
		return nil
	}
	dynamic := types.dynamic[typeName]
	hdr, err := parsePacketChunkHeader(body, dynamic)
	if err != nil {
		r.stats.recordLost()
		return nil
	}

	onDisk, ok := types.defs[typeName]
	if !ok {
		// Packet chunk observed before its definition: can't decode it
		// without a schema. Recoverable (spec.md 4.6/7).
		r.stats.recordLost()
		return nil
	}

	if typeName == packet.EventMetricSampleTypeName {
		return r.applyEventMetricSample(hdr, onDisk, emit)
	}

	rec, err := r.factory.Build(typeName)
	if err != nil {
		// Unknown variant: forward-compat, not corruption.
		r.log.Debugf("skipping unknown packet type %q", typeName)
		return nil
	}

	fr := packet.NewFieldReader(bytes.NewReader(hdr.payload))
	if r.fastPathApplies(onDisk, rec.Schema()) {
		rec.DecodeFast(fr, r.pool)
	} else {
		fields := packet.ReadFieldsByDefinition(fr, onDisk)
		if fr.Err() == nil {
			err = rec.FromFields(fields, r.pool)
		}
	}
	if fr.Err() != nil || err != nil {
		r.stats.recordLost()
		return nil
	}

	return r.finishRecord(rec, hdr.envelope, emit)
}

// fastPathApplies memoizes the spec.md 4.6 step 4 equality check keyed
// by the on-disk definition pointer, so repeated packets of the same
// type only pay the comparison once.
func (r *Reader) fastPathApplies(onDisk, current *packet.PacketDefinition) bool {
	if eq, ok := r.fastPathMemo[onDisk]; ok {
		return eq
	}
	eq := onDisk.Equal(current)
	r.fastPathMemo[onDisk] = eq
	return eq
}

func (r *Reader) applyEventMetricSample(hdr packetChunkHeader, onDisk *packet.PacketDefinition, emit func(*packet.LogMessage) error) error {
	sample := &packet.EventMetricSample{}
	fr := packet.NewFieldReader(bytes.NewReader(hdr.payload))
	// The sample's Id/MetricId prefix is fixed, so it is read
	// positionally first to find the parent metric and definition; the
	// fast or slow decode below then reads the whole payload again from
	// its start (spec.md 4.4.5/9).
	id := fr.ReadGuid()
	metricID := fr.ReadGuid()
	if fr.Err() != nil {
		r.stats.recordLost()
		return nil
	}
	sample.ID = id
	sample.MetricID = metricID

	metric, ok := r.cache.Metric(metricID)
	if !ok {
		r.stats.recordLost()
		return nil
	}
	def, ok := r.cache.MetricDefinition(metric.MetricDefinitionID)
	if !ok {
		r.stats.recordLost()
		return nil
	}
	full := sample.DefinitionFor(def)
	fr = packet.NewFieldReader(bytes.NewReader(hdr.payload))
	if !onDisk.Equal(full) {
		// Field list moved under us mid-stream; the slow path still
		// works since ReadFieldsByDefinition walks onDisk directly.
		values := packet.ReadFieldsByDefinition(fr, onDisk)
		if fr.Err() != nil {
			r.stats.recordLost()
			return nil
		}
		sample.Values = valuesFromOnDiskFields(values, def)
	} else {
		sample.DecodeDynamicFast(fr, r.pool, def)
		if fr.Err() != nil {
			r.stats.recordLost()
			return nil
		}
	}
	sample.Metric = metric
	sample.Definition = def
	sample.Envelope = hdr.envelope
	r.stats.recordRead(typeNameOf(sample))
	r.lastSequence = maxInt64(r.lastSequence, sample.Envelope.Sequence)
	// Event metric samples are consumed internally; only LogMessage is
	// yielded to the caller (spec.md 4.6 step 7).
	return nil
}

func valuesFromOnDiskFields(fields map[string]any, def *packet.MetricDefinition) map[string]any {
	out := make(map[string]any, len(def.Values))
	for _, v := range def.Values {
		out[v.Name] = fields[v.Name]
	}
	return out
}

func typeNameOf(r packet.Record) string { return r.TypeName() }

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// finishRecord runs the post-read fixup (spec.md 4.6 step 5), advances
// last_sequence, installs the record into the cache if it's a
// cacheable type, and yields it to the caller if it's a LogMessage.
func (r *Reader) finishRecord(rec packet.Record, env packet.Envelope, emit func(*packet.LogMessage) error) error {
	setEnvelope(rec, env)
	r.stats.recordRead(rec.TypeName())
	r.lastSequence = maxInt64(r.lastSequence, env.Sequence)

	switch v := rec.(type) {
	case *packet.ThreadInfo:
		r.cache.AddThread(v)
		r.cache.UniquifyThreadNames()
	case *packet.ApplicationUser:
		r.cache.AddUser(v)
	case *packet.MetricDefinition:
		r.cache.AddMetricDefinition(v)
	case *packet.Metric:
		if def, ok := r.cache.MetricDefinition(v.MetricDefinitionID); ok {
			v.Definition = def
		}
		r.cache.AddMetric(v)
	case *packet.MetricSample:
		if m, ok := r.cache.Metric(v.MetricID); ok {
			v.Metric = m
		}
	case *packet.LogMessage:
		r.resolveLogMessageRefs(v)
		if emit != nil {
			return emit(v)
		}
	}
	return nil
}

// resolveLogMessageRefs implements the cyclic-reference resolution
// spec.md 9 calls for: LogMessage never owns a pointer into the cache
// at decode time, it's wired up lazily right here, once the thread and
// (optional) user it references have had a chance to already appear
// earlier in the stream (spec.md 8 invariant 3, dependency order).
func (r *Reader) resolveLogMessageRefs(m *packet.LogMessage) {
	index, useThreadID := m.ResolveThreadIndex()
	if useThreadID {
		if t, ok := r.cache.ThreadByID(m.ThreadID); ok {
			m.ThreadInfo = t
		}
	} else if t, ok := r.cache.Thread(index); ok {
		m.ThreadInfo = t
	}
	if u, ok := r.cache.User(m.ApplicationUserID); ok {
		m.ApplicationUser = u
	}
}

// setEnvelope is a small escape hatch: Record variants don't expose a
// settable Envelope through the interface (Env() is read-only), so the
// reader reaches into the concrete type via a type switch instead of
// widening the public interface just for this one assignment.
func setEnvelope(rec packet.Record, env packet.Envelope) {
	switch v := rec.(type) {
	case *packet.SessionSummary:
		v.Envelope = env
	case *packet.SessionFragment:
		v.Envelope = env
	case *packet.SessionClose:
		v.Envelope = env
	case *packet.ThreadInfo:
		v.Envelope = env
	case *packet.ApplicationUser:
		v.Envelope = env
	case *packet.LogMessage:
		v.Envelope = env
	case *packet.MetricDefinition:
		v.Envelope = env
	case *packet.Metric:
		v.Envelope = env
	case *packet.MetricSample:
		v.Envelope = env
	}
}
