/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package packet

import (
	"github.com/google/uuid"
)

// Envelope is the common header every Record carries: its position in
// the session's total order and the instant it was captured.
type Envelope struct {
	Sequence  int64
	Timestamp DateTimeOffset
}

// Dependency names a cacheable packet that must appear at a lower byte
// offset than the record declaring it, enforcing invariant 3 of
// spec.md's testable properties (dependency order).
type Dependency struct {
	TypeName string
	// ID identifies a guid-keyed dependency (ApplicationUser, Metric,
	// MetricDefinition).
	ID uuid.UUID
	// Index identifies an index-keyed dependency (ThreadInfo, which the
	// session cache looks up by ThreadIndex rather than by guid).
	Index      int32
	UsesIndex  bool
}

// Record is the tagged-union envelope every packet variant implements.
// There is deliberately no class hierarchy here (spec.md 9): each
// variant is a plain struct, and dispatch happens through the Schema
// name plus this interface rather than embedding/inheritance.
type Record interface {
	// TypeName is the wire type-name used for factory dispatch and
	// definition lookup.
	TypeName() string
	// Env returns the record's envelope.
	Env() Envelope
	// Schema returns the current (build-time) definition for this
	// variant. For dynamic packets this reflects only the fixed
	// portion; per-instance fields are appended by the caller.
	Schema() *PacketDefinition
	// RequiredPackets lists the cacheable packets that must precede
	// this record on the wire.
	RequiredPackets() []Dependency
	// Encode writes the record's fields in Schema() order.
	Encode(fw *FieldWriter, pool *StringPool)
	// DecodeFast reads the record's fields positionally, assuming the
	// wire order already matches Schema(). Used only when the reader
	// has established on-disk/current definition equality.
	DecodeFast(fr *FieldReader, pool *StringPool)
	// FromFields populates the record from a name-keyed field map
	// produced by the slow decode path (ReadFieldsByDefinition). Used
	// when on-disk and current schemas differ.
	FromFields(m map[string]any, pool *StringPool) error
}

// Identified is implemented by cacheable Record variants, which must
// carry a globally unique Id within a session (spec.md 3).
type Identified interface {
	Record
	RecordID() uuid.UUID
}

// ReadFieldsByDefinition decodes one packet's payload according to def,
// in def's on-wire order, and returns the values keyed by field name.
// This is the slow/name-keyed path used whenever a stream's on-disk
// definition does not match a variant's current Schema(): it stays
// positioned correctly on the wire (every field must be read, known or
// not) while letting the caller ignore fields it doesn't recognize and
// default fields it expected but didn't find.
func ReadFieldsByDefinition(fr *FieldReader, def *PacketDefinition) map[string]any {
	out := make(map[string]any, len(def.Fields))
	for _, f := range def.Fields {
		if fr.Err() != nil {
			return out
		}
		switch f.Type {
		case FieldBool:
			out[f.Name] = fr.ReadBool()
		case FieldInt32:
			out[f.Name] = fr.ReadInt32()
		case FieldInt64:
			out[f.Name] = fr.ReadInt64()
		case FieldDouble:
			out[f.Name] = fr.ReadDouble()
		case FieldGuid:
			out[f.Name] = fr.ReadGuid()
		case FieldDateTimeOffset:
			out[f.Name] = fr.ReadDateTimeOffset()
		case FieldString:
			out[f.Name] = fr.ReadString()
		case FieldStringArray:
			out[f.Name] = fr.ReadStringArray()
		case FieldVersionString:
			out[f.Name] = fr.ReadVersionString()
		case FieldBinaryBlob:
			out[f.Name] = fr.ReadBinaryBlob()
		default:
			fr.fail(ErrUnknownFieldType)
			return out
		}
	}
	return out
}

func fieldString(m map[string]any, name string) string {
	if v, ok := m[name].(string); ok {
		return v
	}
	return ""
}

func fieldInt32(m map[string]any, name string) int32 {
	if v, ok := m[name].(int32); ok {
		return v
	}
	return 0
}

func fieldInt64(m map[string]any, name string) int64 {
	if v, ok := m[name].(int64); ok {
		return v
	}
	return 0
}

func fieldBool(m map[string]any, name string) bool {
	if v, ok := m[name].(bool); ok {
		return v
	}
	return false
}

func fieldDouble(m map[string]any, name string) float64 {
	if v, ok := m[name].(float64); ok {
		return v
	}
	return 0
}

func fieldGuid(m map[string]any, name string) uuid.UUID {
	if v, ok := m[name].(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func fieldDTO(m map[string]any, name string) DateTimeOffset {
	if v, ok := m[name].(DateTimeOffset); ok {
		return v
	}
	return DateTimeOffset{}
}

func fieldStringArray(m map[string]any, name string) []string {
	if v, ok := m[name].([]string); ok {
		return v
	}
	return nil
}

func fieldBlob(m map[string]any, name string) []byte {
	if v, ok := m[name].([]byte); ok {
		return v
	}
	return nil
}
