/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package writer

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gravwell/sessiontrace/internal/slog"
	"github.com/gravwell/sessiontrace/packet"
	"github.com/gravwell/sessiontrace/reader"
)

type memFragment struct {
	name string
	data []byte
}

func (m memFragment) Name() string { return m.name }
func (m memFragment) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

// TestRoundTripThroughReader writes a session with a Writer and
// confirms the reader package decodes exactly what was written,
// proving the two packages agree on the wire format independently
// implemented on each side (spec.md 6.1).
func TestRoundTripThroughReader(t *testing.T) {
	sessionID := uuid.New()
	var buf bytes.Buffer

	w, err := New(&buf, sessionID, packet.DateTimeOffset{})
	require.NoError(t, err)

	thread := &packet.ThreadInfo{ID: uuid.New(), Index: 1, ThreadID: 100, Name: "worker"}
	require.NoError(t, w.WriteRecord(thread))

	msg := &packet.LogMessage{
		Envelope:    packet.Envelope{Sequence: 1},
		ID:          uuid.New(),
		Caption:     "hello from the writer",
		ThreadIndex: 1,
		ThreadID:    100,
	}
	require.NoError(t, w.WriteRecord(msg))

	frag := &packet.SessionFragment{Envelope: packet.Envelope{Sequence: 2}, FileIndex: 0, IsLastFile: true}
	require.NoError(t, w.WriteRecord(frag))
	require.NoError(t, w.Flush())

	rdr := reader.New(slog.Nop(), "test", []reader.FragmentSource{memFragment{name: "frag0", data: buf.Bytes()}})
	var got []*packet.LogMessage
	err = rdr.Run(func(m *packet.LogMessage) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "hello from the writer", got[0].Caption)
	require.NotNil(t, got[0].ThreadInfo)
	require.Equal(t, "worker", got[0].ThreadInfo.Name)

	stats := rdr.Stats()
	require.False(t, stats.HasCorruptData)
	require.Zero(t, stats.PacketsLost)
}

// TestDependencyOrderEnforced covers testable property 3: a record
// naming a dependency this Writer hasn't seen yet is rejected rather
// than written out of order.
func TestDependencyOrderEnforced(t *testing.T) {
	sessionID := uuid.New()
	var buf bytes.Buffer
	w, err := New(&buf, sessionID, packet.DateTimeOffset{})
	require.NoError(t, err)

	msg := &packet.LogMessage{
		Envelope:    packet.Envelope{Sequence: 1},
		ID:          uuid.New(),
		Caption:     "orphaned",
		ThreadIndex: 5,
		ThreadID:    500,
	}
	err = w.WriteRecord(msg)
	require.Error(t, err)
	require.True(t, errors.Is(err, packet.ErrDependencyMissing))
}

// TestEventMetricSampleRoundTrip exercises the dynamic-packet write
// path: the DefinitionChunk carries the per-instance value fields, and
// the reader decodes them once its MetricDefinition/Metric are cached.
func TestEventMetricSampleRoundTrip(t *testing.T) {
	sessionID := uuid.New()
	var buf bytes.Buffer
	w, err := New(&buf, sessionID, packet.DateTimeOffset{})
	require.NoError(t, err)

	def := &packet.MetricDefinition{
		ID:   uuid.New(),
		Kind: packet.MetricKindEvent,
		Values: []packet.EventMetricValueDefinition{
			{Name: "Latency", Type: packet.FieldDouble},
			{Name: "Path", Type: packet.FieldString},
		},
	}
	require.NoError(t, w.WriteRecord(def))

	metric := &packet.Metric{ID: uuid.New(), MetricDefinitionID: def.ID, InstanceName: "requests"}
	require.NoError(t, w.WriteRecord(metric))

	sample := &packet.EventMetricSample{
		ID:       uuid.New(),
		MetricID: metric.ID,
		Values:   map[string]any{"Latency": 12.5, "Path": "/health"},
	}
	require.NoError(t, w.WriteEventMetricSample(sample, def))

	frag := &packet.SessionFragment{Envelope: packet.Envelope{Sequence: 3}, FileIndex: 0, IsLastFile: true}
	require.NoError(t, w.WriteRecord(frag))
	require.NoError(t, w.Flush())

	rdr := reader.New(slog.Nop(), "test", []reader.FragmentSource{memFragment{name: "frag0", data: buf.Bytes()}})
	require.NoError(t, rdr.Run(nil))

	stats := rdr.Stats()
	require.False(t, stats.HasCorruptData)
	require.Zero(t, stats.PacketsLost)
	require.EqualValues(t, 1, stats.PerTypeCounts[packet.EventMetricSampleTypeName])
}

// TestEventMetricSampleDependencyMissing mirrors
// TestDependencyOrderEnforced for the dynamic write path: a sample
// whose Metric hasn't been written yet is rejected.
func TestEventMetricSampleDependencyMissing(t *testing.T) {
	sessionID := uuid.New()
	var buf bytes.Buffer
	w, err := New(&buf, sessionID, packet.DateTimeOffset{})
	require.NoError(t, err)

	def := &packet.MetricDefinition{ID: uuid.New(), Kind: packet.MetricKindEvent}
	sample := &packet.EventMetricSample{ID: uuid.New(), MetricID: uuid.New(), Values: map[string]any{}}

	err = w.WriteEventMetricSample(sample, def)
	require.Error(t, err)
	require.True(t, errors.Is(err, packet.ErrDependencyMissing))
}
