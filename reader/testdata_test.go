/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package reader

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/google/uuid"
	"github.com/gravwell/sessiontrace/packet"
)

// fragmentWriter builds an in-memory fragment byte stream for tests,
// mirroring the same tag+length-prefixed framing frame.go decodes.
type fragmentWriter struct {
	buf bytes.Buffer
}

func newFragmentWriter(sessionID uuid.UUID) *fragmentWriter {
	fw := &fragmentWriter{}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], fileMagic)
	fw.buf.Write(b[:])
	writeU16(&fw.buf, 1)
	writeU16(&fw.buf, 0)
	guid, _ := sessionID.MarshalBinary()
	fw.buf.Write(guid)
	writeI64(&fw.buf, 0)
	writeU16LE(&fw.buf, 0)
	return fw
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU16LE(buf *bytes.Buffer, v int16) { writeU16(buf, uint16(v)) }

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

// definitionChunkBytes frames a DefinitionChunk for def.
func definitionChunkBytes(def *packet.PacketDefinition, cacheable, dynamic bool) []byte {
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
	return frameChunk(tagDefinition, body.Bytes())
}

// packetChunkBytes frames a PacketChunk: type name, optional dynamic
// version, the common envelope, then the caller-supplied payload
// (already encoded in schema order via packet.FieldWriter).
func packetChunkBytes(typeName string, dynamic bool, version int32, env packet.Envelope, payload []byte) []byte {
	var body bytes.Buffer
	writeChunkString(&body, typeName)
	if dynamic {
		writeU32(&body, uint32(version))
	}
	writeI64(&body, env.Sequence)
	writeI64(&body, env.Timestamp.Ticks)
	writeU16(&body, uint16(env.Timestamp.OffsetMinutes))
	body.Write(payload)
	return frameChunk(tagPacket, body.Bytes())
}

func frameChunk(tag byte, body []byte) []byte {
	var out bytes.Buffer
	out.WriteByte(tag)
	writeU32(&out, uint32(len(body)))
	out.Write(body)
	return out.Bytes()
}

func encodePayload(fn func(fw *packet.FieldWriter)) []byte {
	var buf bytes.Buffer
	fw := packet.NewFieldWriter(&buf)
	fn(fw)
	return buf.Bytes()
}

// memFragment is an in-memory FragmentSource for tests.
type memFragment struct {
	name string
	data []byte
}

func (m memFragment) Name() string { return m.name }
func (m memFragment) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}
