/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package writer is the production write side of the session format
// (spec.md 3.2): it frames a FileHeader followed by a tag+length-prefixed
// stream of DefinitionChunks and PacketChunks, the exact byte layout
// reader/frame.go decodes. It mirrors the buffered-writer-with-flush
// idiom of the teacher's ingest.EntryWriter (bufio.Writer under a mutex,
// an explicit Flush/Close) rather than writing straight to the
// underlying io.Writer on every call.
package writer

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/gravwell/sessiontrace/packet"
	"github.com/gravwell/sessiontrace/reader"
)

const fileMagic uint32 = 0x47525657 // "GRVW", must match reader.readFileHeader

const (
	tagDefinition byte = 0x01
	tagPacket     byte = 0x02
)

const (
	flagCacheable = 1 << 0
	flagDynamic   = 1 << 1
)

const currentMajorVersion uint16 = 1

// Writer assembles one session fragment file. Dependency order
// (spec.md 4.4.1, testable property 3) is enforced on every call: a
// record naming a RequiredPackets dependency that hasn't yet been
// written through this Writer is rejected rather than silently
// reordered, since the Writer never has the dependency's Record in
// hand to emit it itself.
type Writer struct {
	mu    sync.Mutex
	bw    *bufio.Writer
	pool  *packet.StringPool
	cache *reader.Cache

	installed map[string]bool // non-dynamic type names with a DefinitionChunk already written
}

// New writes the FileHeader and returns a Writer ready to accept
// records for a single fragment file. dst is wrapped in a buffered
// writer the same way the teacher's ingest.EntryWriter buffers its
// connection, so small field writes don't each incur a syscall; call
// Flush (or Close, once the caller is done with dst) to push them out.
func New(dst io.Writer, sessionID uuid.UUID, startTime packet.DateTimeOffset) (*Writer, error) {
	wr := &Writer{
		bw:        bufio.NewWriter(dst),
		pool:      packet.NewStringPool(),
		cache:     reader.NewCache(),
		installed: make(map[string]bool),
	}
	if err := wr.writeFileHeader(sessionID, startTime); err != nil {
		return nil, err
	}
	return wr, nil
}

func (w *Writer) writeFileHeader(sessionID uuid.UUID, startTime packet.DateTimeOffset) error {
	var buf bytes.Buffer
	var magic [4]byte
	binary.LittleEndian.PutUint32(magic[:], fileMagic)
	buf.Write(magic[:])
	writeU16(&buf, currentMajorVersion)
	writeU16(&buf, 0)
	guid, err := sessionID.MarshalBinary()
	if err != nil {
		return fmt.Errorf("writer: marshaling session id: %w", err)
	}
	buf.Write(guid)
	writeI64(&buf, startTime.Ticks)
	writeU16(&buf, uint16(startTime.OffsetMinutes))
	_, err = w.bw.Write(buf.Bytes())
	return err
}

// WriteRecord encodes rec using its own Schema()/Encode, emitting a
// DefinitionChunk the first time this record's type name is seen. It
// refuses to write rec if any of its RequiredPackets dependencies
// hasn't already been written through this Writer, and refuses a
// LogMessage whose ThreadIndex is 0.
func (w *Writer) WriteRecord(rec packet.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if msg, ok := rec.(*packet.LogMessage); ok && msg.ThreadIndex == 0 {
		return fmt.Errorf("writer: %s with ThreadIndex 0 not written", rec.TypeName())
	}

	if err := w.checkDependencies(rec); err != nil {
		return err
	}

	typeName := rec.TypeName()
	if !w.installed[typeName] {
		_, cacheable := rec.(packet.Identified)
		if err := w.writeDefinitionChunk(rec.Schema(), cacheable, false); err != nil {
			return err
		}
		w.installed[typeName] = true
	}

	payload, err := encodeRecord(func(fw *packet.FieldWriter) { rec.Encode(fw, w.pool) })
	if err != nil {
		return fmt.Errorf("writer: encoding %s: %w", typeName, err)
	}
	if err := w.writePacketChunk(typeName, false, 0, rec.Env(), payload); err != nil {
		return err
	}

	w.registerCacheable(rec)
	return nil
}

// WriteEventMetricSample writes a dynamic event-metric sample. Unlike
// WriteRecord, the DefinitionChunk is re-emitted for every instance
// (spec.md 4.3): a dynamic packet's field list depends on def.Values,
// which can differ sample to sample if a metric definition is ever
// revised mid-session.
func (w *Writer) WriteEventMetricSample(sample *packet.EventMetricSample, def *packet.MetricDefinition) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkDependencies(sample); err != nil {
		return err
	}

	full := sample.DefinitionFor(def)
	if err := w.writeDefinitionChunk(full, true, true); err != nil {
		return err
	}
	payload, err := encodeRecord(func(fw *packet.FieldWriter) { sample.Encode(fw, w.pool, def) })
	if err != nil {
		return fmt.Errorf("writer: encoding %s: %w", sample.TypeName(), err)
	}
	return w.writePacketChunk(sample.TypeName(), true, full.Version, sample.Env(), payload)
}

// Flush pushes any buffered bytes to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bw.Flush()
}

// checkDependencies verifies every cacheable packet rec.RequiredPackets
// names has already been written through this Writer. Caller must hold
// w.mu.
func (w *Writer) checkDependencies(rec packet.Record) error {
	for _, dep := range rec.RequiredPackets() {
		if w.dependencySatisfied(dep) {
			continue
		}
		return fmt.Errorf("writer: %s requires %s not yet written: %w", rec.TypeName(), dep.TypeName, packet.ErrDependencyMissing)
	}
	return nil
}

func (w *Writer) dependencySatisfied(dep packet.Dependency) bool {
	if dep.UsesIndex {
		_, ok := w.cache.Thread(dep.Index)
		return ok
	}
	switch dep.TypeName {
	case packet.ApplicationUserTypeName:
		_, ok := w.cache.User(dep.ID)
		return ok
	case packet.MetricDefinitionTypeName:
		_, ok := w.cache.MetricDefinition(dep.ID)
		return ok
	case packet.MetricTypeName:
		_, ok := w.cache.Metric(dep.ID)
		return ok
	default:
		// No other built-in variant declares a dependency of this
		// type name; treat unrecognized ones as satisfied rather than
		// guessing a check the format doesn't define.
		return true
	}
}

// registerCacheable records rec in the Writer's own dependency cache so
// later records naming it as a RequiredPackets dependency pass
// checkDependencies. Caller must hold w.mu.
func (w *Writer) registerCacheable(rec packet.Record) {
	switch v := rec.(type) {
	case *packet.ThreadInfo:
		w.cache.AddThread(v)
	case *packet.ApplicationUser:
		w.cache.AddUser(v)
	case *packet.MetricDefinition:
		w.cache.AddMetricDefinition(v)
	case *packet.Metric:
		w.cache.AddMetric(v)
	}
}

func (w *Writer) writeDefinitionChunk(def *packet.PacketDefinition, cacheable, dynamic bool) error {
	var body bytes.Buffer
	writeChunkString(&body, def.TypeName)
	writeU32(&body, uint32(def.Version))
	var flags byte
	if cacheable {
		flags |= flagCacheable
	}
	if dynamic {
		flags |= flagDynamic
	}
	body.WriteByte(flags)
	writeU16(&body, uint16(len(def.Fields)))
	for _, f := range def.Fields {
		writeChunkString(&body, f.Name)
		body.WriteByte(byte(f.Type))
	}
	return w.writeChunk(tagDefinition, body.Bytes())
}

func (w *Writer) writePacketChunk(typeName string, dynamic bool, version int32, env packet.Envelope, payload []byte) error {
	var body bytes.Buffer
	writeChunkString(&body, typeName)
	if dynamic {
		writeU32(&body, uint32(version))
	}
	writeI64(&body, env.Sequence)
	writeI64(&body, env.Timestamp.Ticks)
	writeU16(&body, uint16(env.Timestamp.OffsetMinutes))
	body.Write(payload)
	return w.writeChunk(tagPacket, body.Bytes())
}

func (w *Writer) writeChunk(tag byte, body []byte) error {
	if _, err := w.bw.Write([]byte{tag}); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.bw.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.bw.Write(body)
	return err
}

func encodeRecord(fn func(fw *packet.FieldWriter)) ([]byte, error) {
	var buf bytes.Buffer
	fw := packet.NewFieldWriter(&buf)
	fn(fw)
	if err := fw.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeI64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeChunkString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}
