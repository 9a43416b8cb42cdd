/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package packet implements the self-describing session packet wire
// format: versioned field schemas, a strongly typed field codec, an
// interned string pool, and the tagged record variants that make up a
// session stream.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
)

// FieldType is the closed set of primitive field types a packet
// definition can declare. There is no per-field wire tag; the schema
// from the matching PacketDefinition is the only source of type truth
// (spec.md 4.1), so this enum must never be written to the wire itself
// except inside a DefinitionChunk's field list.
type FieldType uint8

const (
	FieldBool FieldType = iota + 1
	FieldInt32
	FieldInt64
	FieldDouble
	FieldGuid
	FieldDateTimeOffset
	FieldString
	FieldStringArray
	FieldVersionString
	FieldBinaryBlob
)

func (t FieldType) String() string {
	switch t {
	case FieldBool:
		return "Bool"
	case FieldInt32:
		return "Int32"
	case FieldInt64:
		return "Int64"
	case FieldDouble:
		return "Double"
	case FieldGuid:
		return "Guid"
	case FieldDateTimeOffset:
		return "DateTimeOffset"
	case FieldString:
		return "String"
	case FieldStringArray:
		return "StringArray"
	case FieldVersionString:
		return "VersionString"
	case FieldBinaryBlob:
		return "BinaryBlob"
	}
	return "Unknown"
}

// Valid reports whether t is one of the closed set of known field types.
func (t FieldType) Valid() bool {
	return t >= FieldBool && t <= FieldBinaryBlob
}

const (
	maxStringLen = 1 << 24 // 16MB, a sane ceiling for a single string field
	maxArrayLen  = 1 << 20
	maxBlobLen   = 1 << 28
)

// ticksEpoch is the zero point for DateTimeOffset.Ticks: 0001-01-01
// 00:00:00 UTC, matching the on-disk ticks-since-epoch convention this
// format preserves (spec.md 4.1, 6.1).
var ticksEpoch = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

const ticksPerSecond = int64(10_000_000)

// DateTimeOffset is the wire representation of a timestamp-with-offset:
// ticks since ticksEpoch plus a UTC offset in minutes.
type DateTimeOffset struct {
	Ticks         int64
	OffsetMinutes int16
}

// NewDateTimeOffset converts a time.Time into the wire DateTimeOffset
// representation, preserving its original zone offset.
func NewDateTimeOffset(t time.Time) DateTimeOffset {
	_, offsetSec := t.Zone()
	ticks := (t.Unix()-ticksEpoch.Unix())*ticksPerSecond + int64(t.Nanosecond()/100)
	return DateTimeOffset{Ticks: ticks, OffsetMinutes: int16(offsetSec / 60)}
}

// Time converts a DateTimeOffset back into a time.Time in its original
// fixed-offset zone.
func (d DateTimeOffset) Time() time.Time {
	loc := time.FixedZone(offsetLabel(d.OffsetMinutes), int(d.OffsetMinutes)*60)
	sec := d.Ticks / ticksPerSecond
	nsec := (d.Ticks % ticksPerSecond) * 100
	return time.Unix(ticksEpoch.Unix()+sec, nsec).In(loc)
}

func offsetLabel(minutes int16) string {
	sign := "+"
	m := minutes
	if m < 0 {
		sign = "-"
		m = -m
	}
	return fmt.Sprintf("UTC%s%02d:%02d", sign, m/60, m%60)
}

// FieldWriter accumulates encode errors across a sequence of field
// writes so callers can check a single error at the end, mirroring the
// teacher's writeAll/readAll helper style (entry/entry.go).
type FieldWriter struct {
	w   io.Writer
	err error
}

func NewFieldWriter(w io.Writer) *FieldWriter { return &FieldWriter{w: w} }

func (fw *FieldWriter) fail(err error) {
	if fw.err == nil {
		fw.err = err
	}
}

func (fw *FieldWriter) Err() error { return fw.err }

func (fw *FieldWriter) raw(b []byte) {
	if fw.err != nil {
		return
	}
	if _, err := fw.w.Write(b); err != nil {
		fw.fail(err)
	}
}

func (fw *FieldWriter) WriteBool(v bool) {
	if v {
		fw.raw([]byte{1})
	} else {
		fw.raw([]byte{0})
	}
}

func (fw *FieldWriter) WriteInt32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	fw.raw(b[:])
}

func (fw *FieldWriter) WriteInt64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	fw.raw(b[:])
}

func (fw *FieldWriter) WriteDouble(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	fw.raw(b[:])
}

func (fw *FieldWriter) WriteGuid(v uuid.UUID) {
	fw.raw(v[:])
}

func (fw *FieldWriter) WriteDateTimeOffset(v DateTimeOffset) {
	fw.WriteInt64(v.Ticks)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v.OffsetMinutes))
	fw.raw(b[:])
}

func (fw *FieldWriter) WriteString(s string) {
	if fw.err != nil {
		return
	}
	if len(s) > maxStringLen {
		fw.fail(ErrInvalidLength)
		return
	}
	fw.WriteInt32(int32(len(s)))
	fw.raw([]byte(s))
}

func (fw *FieldWriter) WriteStringArray(vs []string) {
	if fw.err != nil {
		return
	}
	if len(vs) > maxArrayLen {
		fw.fail(ErrInvalidLength)
		return
	}
	fw.WriteInt32(int32(len(vs)))
	for _, s := range vs {
		fw.WriteString(s)
	}
}

// WriteVersionString writes a dotted version string in its textual form.
func (fw *FieldWriter) WriteVersionString(v string) {
	fw.WriteString(v)
}

func (fw *FieldWriter) WriteBinaryBlob(b []byte) {
	if fw.err != nil {
		return
	}
	if len(b) > maxBlobLen {
		fw.fail(ErrInvalidLength)
		return
	}
	fw.WriteInt32(int32(len(b)))
	fw.raw(b)
}

// FieldReader is the reciprocal of FieldWriter: it reads primitive
// fields from a stream in the order the schema dictates, sticking the
// first error and refusing to read further once one occurs.
type FieldReader struct {
	r   io.Reader
	err error
}

func NewFieldReader(r io.Reader) *FieldReader { return &FieldReader{r: r} }

func (fr *FieldReader) Err() error { return fr.err }

func (fr *FieldReader) fail(err error) {
	if fr.err == nil {
		fr.err = err
	}
}

func (fr *FieldReader) raw(n int) []byte {
	if fr.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(fr.r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			fr.fail(ErrTruncated)
		} else {
			fr.fail(err)
		}
		return nil
	}
	return b
}

func (fr *FieldReader) ReadBool() bool {
	b := fr.raw(1)
	if b == nil {
		return false
	}
	return b[0] != 0
}

func (fr *FieldReader) ReadInt32() int32 {
	b := fr.raw(4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (fr *FieldReader) ReadInt64() int64 {
	b := fr.raw(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (fr *FieldReader) ReadDouble() float64 {
	b := fr.raw(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (fr *FieldReader) ReadGuid() uuid.UUID {
	b := fr.raw(16)
	if b == nil {
		return uuid.Nil
	}
	var u uuid.UUID
	copy(u[:], b)
	return u
}

func (fr *FieldReader) ReadDateTimeOffset() DateTimeOffset {
	ticks := fr.ReadInt64()
	b := fr.raw(2)
	if b == nil {
		return DateTimeOffset{}
	}
	return DateTimeOffset{Ticks: ticks, OffsetMinutes: int16(binary.LittleEndian.Uint16(b))}
}

func (fr *FieldReader) ReadString() string {
	if fr.err != nil {
		return ""
	}
	n := fr.ReadInt32()
	if fr.err != nil {
		return ""
	}
	if n < 0 || int(n) > maxStringLen {
		fr.fail(ErrInvalidLength)
		return ""
	}
	b := fr.raw(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (fr *FieldReader) ReadStringArray() []string {
	if fr.err != nil {
		return nil
	}
	n := fr.ReadInt32()
	if fr.err != nil {
		return nil
	}
	if n < 0 || int(n) > maxArrayLen {
		fr.fail(ErrInvalidLength)
		return nil
	}
	out := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		out = append(out, fr.ReadString())
		if fr.err != nil {
			return nil
		}
	}
	return out
}

func (fr *FieldReader) ReadVersionString() string {
	return fr.ReadString()
}

func (fr *FieldReader) ReadBinaryBlob() []byte {
	if fr.err != nil {
		return nil
	}
	n := fr.ReadInt32()
	if fr.err != nil {
		return nil
	}
	if n < 0 || int(n) > maxBlobLen {
		fr.fail(ErrInvalidLength)
		return nil
	}
	return fr.raw(int(n))
}
