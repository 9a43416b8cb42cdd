/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Frame-level decoding of a session fragment: the FileHeader and the
// tag+length-prefixed chunk stream that follows it (spec.md 6.1). The
// length prefix on every chunk is what lets the reader resync after a
// corrupt chunk: a parse failure mid-body never desyncs the stream,
// because the caller can always skip exactly len bytes and land on the
// next chunk's tag byte.
package reader

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/gravwell/sessiontrace/packet"
)

const fileMagic uint32 = 0x47525657 // "GRVW"

const (
	tagDefinition byte = 0x01
	tagPacket     byte = 0x02
)

const (
	flagCacheable = 1 << 0
	flagDynamic   = 1 << 1
)

// FileHeader is the fixed preamble of every fragment file.
type FileHeader struct {
	Major     uint16
	Minor     uint16
	SessionID uuid.UUID
	StartTime packet.DateTimeOffset
}

// readFileHeader reads and validates the magic/version preamble.
func readFileHeader(r io.Reader) (FileHeader, error) {
	var hdr FileHeader
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return hdr, fmt.Errorf("reader: reading file magic: %w", err)
	}
	if binary.LittleEndian.Uint32(buf[:]) != fileMagic {
		return hdr, ErrBadMagic
	}
	var shortBuf [2]byte
	if _, err := io.ReadFull(r, shortBuf[:]); err != nil {
		return hdr, err
	}
	hdr.Major = binary.LittleEndian.Uint16(shortBuf[:])
	if _, err := io.ReadFull(r, shortBuf[:]); err != nil {
		return hdr, err
	}
	hdr.Minor = binary.LittleEndian.Uint16(shortBuf[:])
	if hdr.Major > currentMajorVersion {
		return hdr, ErrUnsupportedVersion
	}
	var guidBuf [16]byte
	if _, err := io.ReadFull(r, guidBuf[:]); err != nil {
		return hdr, err
	}
	sid, err := uuid.FromBytes(guidBuf[:])
	if err != nil {
		return hdr, err
	}
	hdr.SessionID = sid
	var ticksBuf [8]byte
	if _, err := io.ReadFull(r, ticksBuf[:]); err != nil {
		return hdr, err
	}
	ticks := int64(binary.LittleEndian.Uint64(ticksBuf[:]))
	var offBuf [2]byte
	if _, err := io.ReadFull(r, offBuf[:]); err != nil {
		return hdr, err
	}
	off := int16(binary.LittleEndian.Uint16(offBuf[:]))
	hdr.StartTime = packet.DateTimeOffset{Ticks: ticks, OffsetMinutes: off}
	return hdr, nil
}

const currentMajorVersion = 1

// rawChunk is one tag+length-prefixed section, still undecoded.
type rawChunk struct {
	tag  byte
	body []byte
}

// readRawChunk reads the next chunk's tag, length, and full body. A
// clean io.EOF on the tag byte means the fragment is exhausted; any
// other error (including a truncated length/body) is reported as-is so
// the caller can decide whether it's recoverable.
func readRawChunk(r *bufio.Reader) (rawChunk, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return rawChunk{}, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return rawChunk{}, fmt.Errorf("%w: reading chunk length", packet.ErrTruncated)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	const maxChunkLen = 64 << 20
	if n > maxChunkLen {
		return rawChunk{}, fmt.Errorf("%w: chunk length %d exceeds sanity bound", packet.ErrInvalidLength, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return rawChunk{}, fmt.Errorf("%w: reading chunk body", packet.ErrTruncated)
	}
	return rawChunk{tag: tag, body: body}, nil
}

func readChunkString(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := int32(binary.LittleEndian.Uint32(lenBuf[:]))
	if n < 0 {
		return "", packet.ErrInvalidLength
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readChunkU8(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readChunkU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readChunkU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// definitionChunk is a decoded DefinitionChunk: the schema for a type,
// plus the cacheable/dynamic flags the writer recorded for it.
type definitionChunk struct {
	def       *packet.PacketDefinition
	cacheable bool
	dynamic   bool
}

func parseDefinitionChunk(body []byte) (definitionChunk, error) {
	r := newByteReader(body)
	typeName, err := readChunkString(r)
	if err != nil {
		return definitionChunk{}, fmt.Errorf("%w: definition type_name", packet.ErrTruncated)
	}
	version, err := readChunkU32(r)
	if err != nil {
		return definitionChunk{}, fmt.Errorf("%w: definition version", packet.ErrTruncated)
	}
	flags, err := readChunkU8(r)
	if err != nil {
		return definitionChunk{}, fmt.Errorf("%w: definition flags", packet.ErrTruncated)
	}
	fieldCount, err := readChunkU16(r)
	if err != nil {
		return definitionChunk{}, fmt.Errorf("%w: definition field_count", packet.ErrTruncated)
	}
	fields := make([]packet.FieldDefinition, 0, fieldCount)
	for i := uint16(0); i < fieldCount; i++ {
		name, err := readChunkString(r)
		if err != nil {
			return definitionChunk{}, fmt.Errorf("%w: definition field name", packet.ErrTruncated)
		}
		typ, err := readChunkU8(r)
		if err != nil {
			return definitionChunk{}, fmt.Errorf("%w: definition field type", packet.ErrTruncated)
		}
		ft := packet.FieldType(typ)
		if !ft.Valid() {
			return definitionChunk{}, packet.ErrUnknownFieldType
		}
		fields = append(fields, packet.FieldDefinition{Name: name, Type: ft})
	}
	return definitionChunk{
		def: &packet.PacketDefinition{
			TypeName: typeName,
			Version:  int32(version),
			Fields:   fields,
		},
		cacheable: flags&flagCacheable != 0,
		dynamic:   flags&flagDynamic != 0,
	}, nil
}

// packetChunkHeader is the decoded prefix of a PacketChunk: the type
// name, its dynamic version tag if present, the common envelope every
// record carries, and the remaining payload bytes ready for field
// decoding.
//
// spec.md 6.1 doesn't give Envelope{Sequence, Timestamp} its own wire
// slot — every Record's Schema() deliberately omits it, since it's
// common to all variants rather than per-type. This reader carries it
// immediately after the optional dynamic version tag and before the
// type-specific payload, the same place a discriminated envelope
// naturally sits in the teacher's own entry framing (entry/entry.go).
type packetChunkHeader struct {
	typeName string
	version  int32
	envelope packet.Envelope
	payload  []byte
}

// peekPacketChunkTypeName reads just the leading type_name string off a
// PacketChunk body, so the caller can look up whether that type is
// dynamic before committing to the full header parse (the dynamic
// version tag's presence depends on that answer).
func peekPacketChunkTypeName(body []byte) (string, error) {
	r := newByteReader(body)
	typeName, err := readChunkString(r)
	if err != nil {
		return "", fmt.Errorf("%w: packet type_name", packet.ErrTruncated)
	}
	return typeName, nil
}

func parsePacketChunkHeader(body []byte, dynamic bool) (packetChunkHeader, error) {
	r := newByteReader(body)
	typeName, err := readChunkString(r)
	if err != nil {
		return packetChunkHeader{}, fmt.Errorf("%w: packet type_name", packet.ErrTruncated)
	}
	var version int32
	if dynamic {
		v, err := readChunkU32(r)
		if err != nil {
			return packetChunkHeader{}, fmt.Errorf("%w: packet version", packet.ErrTruncated)
		}
		version = int32(v)
	}
	seq, err := readChunkI64(r)
	if err != nil {
		return packetChunkHeader{}, fmt.Errorf("%w: packet sequence", packet.ErrTruncated)
	}
	ticks, err := readChunkI64(r)
	if err != nil {
		return packetChunkHeader{}, fmt.Errorf("%w: packet timestamp ticks", packet.ErrTruncated)
	}
	offMin, err := readChunkU16(r)
	if err != nil {
		return packetChunkHeader{}, fmt.Errorf("%w: packet timestamp offset", packet.ErrTruncated)
	}
	env := packet.Envelope{
		Sequence:  seq,
		Timestamp: packet.DateTimeOffset{Ticks: ticks, OffsetMinutes: int16(offMin)},
	}
	return packetChunkHeader{typeName: typeName, version: version, envelope: env, payload: r.rest()}, nil
}

func readChunkI64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// byteReader is a minimal io.Reader over a byte slice with a rest()
// escape hatch, used for the frame-level chunk headers which are not
// recognized Record fields and so don't go through packet.FieldReader.
type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (br *byteReader) Read(p []byte) (int, error) {
	if br.pos >= len(br.b) {
		return 0, io.EOF
	}
	n := copy(p, br.b[br.pos:])
	br.pos += n
	return n, nil
}

func (br *byteReader) rest() []byte {
	if br.pos >= len(br.b) {
		return nil
	}
	return br.b[br.pos:]
}
