/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package reader

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gravwell/sessiontrace/internal/slog"
	"github.com/gravwell/sessiontrace/packet"
)

// sessionBuilder accumulates records into an in-memory fragment,
// installing each type's DefinitionChunk the first time it's seen, the
// same discipline a real writer follows (spec.md 4.2).
type sessionBuilder struct {
	fw        *fragmentWriter
	pool      *packet.StringPool
	installed map[string]bool
}

func newSessionBuilder(sessionID uuid.UUID) *sessionBuilder {
	return &sessionBuilder{
		fw:        newFragmentWriter(sessionID),
		pool:      packet.NewStringPool(),
		installed: make(map[string]bool),
	}
}

func (b *sessionBuilder) add(rec packet.Record) {
	_, cacheable := rec.(packet.Identified)
	if !b.installed[rec.TypeName()] {
		b.fw.buf.Write(definitionChunkBytes(rec.Schema(), cacheable, false))
		b.installed[rec.TypeName()] = true
	}
	payload := encodePayload(func(fw *packet.FieldWriter) { rec.Encode(fw, b.pool) })
	b.fw.buf.Write(packetChunkBytes(rec.TypeName(), false, 0, rec.Env(), payload))
}

// addWithDefinition writes rec using an explicit on-disk definition
// rather than rec.Schema(), so tests can exercise the slow (name-keyed)
// decode path deliberately.
func (b *sessionBuilder) addWithDefinition(rec packet.Record, onDisk *packet.PacketDefinition, payload []byte) {
	_, cacheable := rec.(packet.Identified)
	b.fw.buf.Write(definitionChunkBytes(onDisk, cacheable, false))
	b.fw.buf.Write(packetChunkBytes(rec.TypeName(), false, 0, rec.Env(), payload))
}

func (b *sessionBuilder) bytes() []byte { return b.fw.buf.Bytes() }

func newReader(t *testing.T, data []byte) *Reader {
	t.Helper()
	return New(slog.Nop(), "test", []FragmentSource{memFragment{name: "frag0", data: data}})
}

// TestSessionRoundTrip is spec.md S1: a session with one SessionSummary,
// one ThreadInfo, and one LogMessage round-trips cleanly with the
// thread reference resolved.
func TestSessionRoundTrip(t *testing.T) {
	sessionID := uuid.New()
	b := newSessionBuilder(sessionID)

	summary := &packet.SessionSummary{
		Envelope: packet.Envelope{Sequence: 0},
		ID:       sessionID,
		Caption:  "s1",
	}
	b.add(summary)

	thread := &packet.ThreadInfo{
		Envelope: packet.Envelope{Sequence: 0},
		ID:       uuid.New(),
		Index:    7,
		ThreadID: 700,
		Name:     "worker",
	}
	b.add(thread)

	msg := &packet.LogMessage{
		Envelope:    packet.Envelope{Sequence: 1},
		ID:          uuid.New(),
		Severity:    packet.SeverityWarning,
		Caption:     "low disk",
		ThreadIndex: 7,
		ThreadID:    700,
	}
	b.add(msg)

	frag := &packet.SessionFragment{Envelope: packet.Envelope{Sequence: 2}, FileIndex: 0, IsLastFile: true}
	b.add(frag)

	rdr := newReader(t, b.bytes())

	var got []*packet.LogMessage
	err := rdr.Run(func(m *packet.LogMessage) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ThreadInfo)
	require.Equal(t, "worker", got[0].ThreadInfo.Name)
	require.Equal(t, "low disk", got[0].Caption)

	stats := rdr.Stats()
	require.False(t, stats.HasCorruptData)
	require.Zero(t, stats.PacketsLost)
	require.Equal(t, int64(2), rdr.LastSequence())
}

// TestCorruptionTolerance is spec.md S2: three log messages, the second
// corrupted at its payload's LogSystem length prefix. The reader must
// tolerate the bad packet and still yield the surviving two in order.
func TestCorruptionTolerance(t *testing.T) {
	sessionID := uuid.New()
	b := newSessionBuilder(sessionID)

	thread := &packet.ThreadInfo{ID: uuid.New(), Index: 1, ThreadID: 100, Name: "worker"}
	b.add(thread)

	mk := func(seq int64, caption string) *packet.LogMessage {
		return &packet.LogMessage{
			Envelope:    packet.Envelope{Sequence: seq},
			ID:          uuid.New(),
			Severity:    packet.SeverityInformation,
			Caption:     caption,
			ThreadIndex: 1,
			ThreadID:    100,
		}
	}
	msg1 := mk(1, "first")
	msg2 := mk(2, "second")
	msg3 := mk(3, "third")

	b.add(msg1)

	// Hand-encode msg2 and corrupt its LogSystem length prefix (the
	// first string field after Id(16)+Severity(4)) so decoding trips
	// ErrInvalidLength without desyncing the chunk framing.
	payload2 := encodePayload(func(fw *packet.FieldWriter) { msg2.Encode(fw, b.pool) })
	binary.LittleEndian.PutUint32(payload2[20:24], 0x7FFFFFFF)
	b.fw.buf.Write(packetChunkBytes(msg2.TypeName(), false, 0, msg2.Envelope, payload2))

	b.add(msg3)

	frag := &packet.SessionFragment{Envelope: packet.Envelope{Sequence: 4}, FileIndex: 0, IsLastFile: true}
	b.add(frag)

	rdr := newReader(t, b.bytes())

	var got []*packet.LogMessage
	err := rdr.Run(func(m *packet.LogMessage) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "first", got[0].Caption)
	require.Equal(t, "third", got[1].Caption)

	stats := rdr.Stats()
	require.True(t, stats.HasCorruptData)
	require.EqualValues(t, 1, stats.PacketsLost)
}

// TestThreadInfoSlowPath exercises the name-keyed decode path (spec.md
// 4.6 step 4, testable property 2): the on-disk definition for
// ThreadInfo reorders two fields relative to the current Schema, so the
// fast positional path can't apply, yet the decoded record must still
// be identical to what the fast path would have produced.
func TestThreadInfoSlowPath(t *testing.T) {
	sessionID := uuid.New()
	b := newSessionBuilder(sessionID)

	onDisk := &packet.PacketDefinition{
		TypeName: packet.ThreadInfoTypeName,
		Version:  1,
		Fields: []packet.FieldDefinition{
			{Name: "Id", Type: packet.FieldGuid},
			{Name: "Index", Type: packet.FieldInt32},
			{Name: "ThreadId", Type: packet.FieldInt64},
			{Name: "Domain", Type: packet.FieldString}, // swapped with Name
			{Name: "Name", Type: packet.FieldString},
			{Name: "IsBackground", Type: packet.FieldBool},
			{Name: "IsThreadPoolThread", Type: packet.FieldBool},
		},
	}
	require.False(t, onDisk.Equal((&packet.ThreadInfo{}).Schema()))

	thread := &packet.ThreadInfo{
		ID:       uuid.New(),
		Index:    3,
		ThreadID: 300,
		Name:     "io-thread",
		Domain:   "AppDomain1",
	}
	payload := encodePayload(func(fw *packet.FieldWriter) {
		fw.WriteGuid(thread.ID)
		fw.WriteInt32(thread.Index)
		fw.WriteInt64(thread.ThreadID)
		fw.WriteString(thread.Domain)
		fw.WriteString(thread.Name)
		fw.WriteBool(thread.IsBackground)
		fw.WriteBool(thread.IsThreadPoolThread)
	})
	b.addWithDefinition(thread, onDisk, payload)

	msg := &packet.LogMessage{
		Envelope:    packet.Envelope{Sequence: 1},
		ID:          uuid.New(),
		Caption:     "hello",
		ThreadIndex: 3,
		ThreadID:    300,
	}
	b.add(msg)

	frag := &packet.SessionFragment{Envelope: packet.Envelope{Sequence: 2}, FileIndex: 0, IsLastFile: true}
	b.add(frag)

	rdr := newReader(t, b.bytes())
	var got []*packet.LogMessage
	err := rdr.Run(func(m *packet.LogMessage) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ThreadInfo)
	require.Equal(t, "io-thread", got[0].ThreadInfo.Name)
	require.Equal(t, "AppDomain1", got[0].ThreadInfo.Domain)

	stats := rdr.Stats()
	require.False(t, stats.HasCorruptData)
}

// TestLogMessageMissingThreadResolvesNil covers invariant 1: a
// LogMessage whose thread never appears in the stream is still decoded,
// just with a nil ThreadInfo.
func TestLogMessageMissingThreadResolvesNil(t *testing.T) {
	sessionID := uuid.New()
	b := newSessionBuilder(sessionID)

	msg := &packet.LogMessage{
		Envelope:    packet.Envelope{Sequence: 1},
		ID:          uuid.New(),
		Caption:     "orphan",
		ThreadIndex: 9,
		ThreadID:    900,
	}
	b.add(msg)
	frag := &packet.SessionFragment{Envelope: packet.Envelope{Sequence: 2}, FileIndex: 0, IsLastFile: true}
	b.add(frag)

	rdr := newReader(t, b.bytes())
	var got []*packet.LogMessage
	err := rdr.Run(func(m *packet.LogMessage) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Nil(t, got[0].ThreadInfo)
}

// TestLogMessageUserResolution covers invariant 2: a non-empty user id
// resolves to the cached ApplicationUser.
func TestLogMessageUserResolution(t *testing.T) {
	sessionID := uuid.New()
	b := newSessionBuilder(sessionID)

	thread := &packet.ThreadInfo{ID: uuid.New(), Index: 1, ThreadID: 1, Name: "main"}
	b.add(thread)

	user := &packet.ApplicationUser{ID: uuid.New(), Key: "u@x", FullyQualifiedUserName: "DOMAIN\\alice"}
	b.add(user)

	msg := &packet.LogMessage{
		Envelope:          packet.Envelope{Sequence: 1},
		ID:                uuid.New(),
		Caption:           "user action",
		ThreadIndex:       1,
		ThreadID:          1,
		ApplicationUserID: user.ID,
	}
	b.add(msg)

	frag := &packet.SessionFragment{Envelope: packet.Envelope{Sequence: 2}, FileIndex: 0, IsLastFile: true}
	b.add(frag)

	rdr := newReader(t, b.bytes())
	var got []*packet.LogMessage
	err := rdr.Run(func(m *packet.LogMessage) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ApplicationUser)
	require.Equal(t, "DOMAIN\\alice", got[0].ApplicationUser.FullyQualifiedUserName)
}

// TestThreadIndexZeroFallback covers spec.md 9's pre-index compatibility
// rule: ThreadIndex == 0 falls back to a ThreadID lookup on read.
func TestThreadIndexZeroFallback(t *testing.T) {
	sessionID := uuid.New()
	b := newSessionBuilder(sessionID)

	thread := &packet.ThreadInfo{ID: uuid.New(), Index: 5, ThreadID: 999, Name: "legacy"}
	b.add(thread)

	msg := &packet.LogMessage{
		Envelope:    packet.Envelope{Sequence: 1},
		ID:          uuid.New(),
		Caption:     "pre-index writer",
		ThreadIndex: 0,
		ThreadID:    999,
	}
	b.add(msg)

	frag := &packet.SessionFragment{Envelope: packet.Envelope{Sequence: 2}, FileIndex: 0, IsLastFile: true}
	b.add(frag)

	rdr := newReader(t, b.bytes())
	var got []*packet.LogMessage
	err := rdr.Run(func(m *packet.LogMessage) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ThreadInfo)
	require.Equal(t, "legacy", got[0].ThreadInfo.Name)
}

// TestMetricSampleDependencyMissing covers invariant 3 and spec.md 9: an
// EventMetricSample whose parent MetricDefinition was never observed is
// rejected (packets_lost++), not guessed at.
func TestMetricSampleDependencyMissing(t *testing.T) {
	sessionID := uuid.New()
	b := newSessionBuilder(sessionID)

	metric := &packet.Metric{ID: uuid.New(), MetricDefinitionID: uuid.New(), InstanceName: "m1"}
	b.add(metric) // no MetricDefinition written first

	sample := &packet.EventMetricSample{ID: uuid.New(), MetricID: metric.ID, Values: map[string]any{}}
	def := &packet.MetricDefinition{} // never cached
	full := sample.DefinitionFor(def)
	payload := encodePayload(func(fw *packet.FieldWriter) { sample.Encode(fw, b.pool, def) })
	b.fw.buf.Write(definitionChunkBytes(full, true, true))
	b.fw.buf.Write(packetChunkBytes(sample.TypeName(), true, full.Version, packet.Envelope{Sequence: 1}, payload))

	frag := &packet.SessionFragment{Envelope: packet.Envelope{Sequence: 2}, FileIndex: 0, IsLastFile: true}
	b.add(frag)

	rdr := newReader(t, b.bytes())
	err := rdr.Run(nil)
	require.NoError(t, err)

	stats := rdr.Stats()
	require.True(t, stats.HasCorruptData)
	require.EqualValues(t, 1, stats.PacketsLost)
}

// TestEventMetricSampleRoundTrip exercises the dynamic packet path end
// to end: once its MetricDefinition and Metric are cached, the sample
// decodes and is counted as read rather than lost.
func TestEventMetricSampleRoundTrip(t *testing.T) {
	sessionID := uuid.New()
	b := newSessionBuilder(sessionID)

	def := &packet.MetricDefinition{
		ID:   uuid.New(),
		Kind: packet.MetricKindEvent,
		Values: []packet.EventMetricValueDefinition{
			{Name: "Latency", Type: packet.FieldDouble},
			{Name: "Path", Type: packet.FieldString},
		},
	}
	b.add(def)

	metric := &packet.Metric{ID: uuid.New(), MetricDefinitionID: def.ID, InstanceName: "requests"}
	b.add(metric)

	sample := &packet.EventMetricSample{
		ID:       uuid.New(),
		MetricID: metric.ID,
		Values:   map[string]any{"Latency": 12.5, "Path": "/health"},
	}
	full := sample.DefinitionFor(def)
	payload := encodePayload(func(fw *packet.FieldWriter) { sample.Encode(fw, b.pool, def) })
	b.fw.buf.Write(definitionChunkBytes(full, true, true))
	b.fw.buf.Write(packetChunkBytes(sample.TypeName(), true, full.Version, packet.Envelope{Sequence: 2}, payload))

	frag := &packet.SessionFragment{Envelope: packet.Envelope{Sequence: 3}, FileIndex: 0, IsLastFile: true}
	b.add(frag)

	rdr := newReader(t, b.bytes())
	err := rdr.Run(nil)
	require.NoError(t, err)

	stats := rdr.Stats()
	require.False(t, stats.HasCorruptData)
	require.Zero(t, stats.PacketsLost)
	require.EqualValues(t, 1, stats.PerTypeCounts[packet.EventMetricSampleTypeName])
}

// TestSequenceMonotonicityAcrossFragments covers spec.md 8's testable
// property 4: after reading a whole multi-fragment session,
// LastSequence equals the maximum sequence number observed anywhere.
func TestSequenceMonotonicityAcrossFragments(t *testing.T) {
	sessionID := uuid.New()

	b1 := newSessionBuilder(sessionID)
	thread := &packet.ThreadInfo{ID: uuid.New(), Index: 1, ThreadID: 1, Name: "main"}
	b1.add(thread)
	b1.add(&packet.LogMessage{Envelope: packet.Envelope{Sequence: 1}, ID: uuid.New(), Caption: "a", ThreadIndex: 1, ThreadID: 1})
	b1.add(&packet.SessionFragment{Envelope: packet.Envelope{Sequence: 2}, FileIndex: 0, IsLastFile: false})

	b2 := newSessionBuilder(sessionID)
	b2.add(&packet.LogMessage{Envelope: packet.Envelope{Sequence: 3}, ID: uuid.New(), Caption: "b", ThreadIndex: 1, ThreadID: 1})
	b2.add(&packet.SessionFragment{Envelope: packet.Envelope{Sequence: 4}, FileIndex: 1, IsLastFile: true})

	rdr := New(slog.Nop(), "test", []FragmentSource{
		memFragment{name: "frag0", data: b1.bytes()},
		memFragment{name: "frag1", data: b2.bytes()},
	})

	var got []*packet.LogMessage
	err := rdr.Run(func(m *packet.LogMessage) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].Caption)
	require.Equal(t, "b", got[1].Caption)
	require.Equal(t, int64(4), rdr.LastSequence())
}
