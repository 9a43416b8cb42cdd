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

// MetricKind is the closed set of metric definition kinds (spec.md 2,
// component C4).
type MetricKind int32

const (
	MetricKindSampled MetricKind = iota
	MetricKindEvent
	MetricKindCustomSampled
)

func (k MetricKind) String() string {
	switch k {
	case MetricKindSampled:
		return "Sampled"
	case MetricKindEvent:
		return "Event"
	case MetricKindCustomSampled:
		return "CustomSampled"
	}
	return "Unknown"
}

// EventMetricValueDefinition describes one named, typed value an event
// metric sample carries. The set of these on a MetricDefinition becomes
// the per-instance field list of every EventMetricSample that
// references it (spec.md 4.4.5).
type EventMetricValueDefinition struct {
	Name        string
	Type        FieldType
	Caption     string
	Description string
}

// MetricDefinitionTypeName is the wire type-name for MetricDefinition packets.
const MetricDefinitionTypeName = "MetricDefinition"

// MetricDefinition is the schema for a family of metrics: Sampled and
// CustomSampled kinds carry a SamplingType describing how raw/base
// values combine into a displayed value; Event kind carries the
// per-instance Values list consulted by the reader when decoding
// EventMetricSample packets.
type MetricDefinition struct {
	Envelope Envelope
	ID       uuid.UUID
	Kind     MetricKind

	MetricTypeName string
	CategoryName   string
	CounterName    string
	Caption        string
	Description    string
	UnitCaption    string

	// SamplingType matters for Sampled/CustomSampled kinds only (e.g.
	// IncrementalCount, TotalCount, IncrementalFraction, RawCount).
	SamplingType string

	// Values matters for the Event kind only.
	Values []EventMetricValueDefinition
}

func (d *MetricDefinition) TypeName() string    { return MetricDefinitionTypeName }
func (d *MetricDefinition) Env() Envelope       { return d.Envelope }
func (d *MetricDefinition) RecordID() uuid.UUID { return d.ID }

func (d *MetricDefinition) Schema() *PacketDefinition {
	return &PacketDefinition{
		TypeName: MetricDefinitionTypeName,
		Version:  1,
		Fields: []FieldDefinition{
			{Name: "Id", Type: FieldGuid},
			{Name: "Kind", Type: FieldInt32},
			{Name: "MetricTypeName", Type: FieldString},
			{Name: "CategoryName", Type: FieldString},
			{Name: "CounterName", Type: FieldString},
			{Name: "Caption", Type: FieldString},
			{Name: "Description", Type: FieldString},
			{Name: "UnitCaption", Type: FieldString},
			{Name: "SamplingType", Type: FieldString},
			{Name: "ValueNames", Type: FieldStringArray},
			{Name: "ValueTypes", Type: FieldStringArray},
			{Name: "ValueCaptions", Type: FieldStringArray},
			{Name: "ValueDescriptions", Type: FieldStringArray},
		},
	}
}

func (d *MetricDefinition) RequiredPackets() []Dependency { return nil }

func (d *MetricDefinition) Encode(fw *FieldWriter, pool *StringPool) {
	fw.WriteGuid(d.ID)
	fw.WriteInt32(int32(d.Kind))
	fw.WriteString(d.MetricTypeName)
	fw.WriteString(d.CategoryName)
	fw.WriteString(d.CounterName)
	fw.WriteString(d.Caption)
	fw.WriteString(d.Description)
	fw.WriteString(d.UnitCaption)
	fw.WriteString(d.SamplingType)
	names, types, captions, descriptions := flattenValueDefs(d.Values)
	fw.WriteStringArray(names)
	fw.WriteStringArray(types)
	fw.WriteStringArray(captions)
	fw.WriteStringArray(descriptions)
}

func (d *MetricDefinition) DecodeFast(fr *FieldReader, pool *StringPool) {
	d.ID = fr.ReadGuid()
	d.Kind = MetricKind(fr.ReadInt32())
	d.MetricTypeName = fr.ReadString()
	d.CategoryName = fr.ReadString()
	d.CounterName = fr.ReadString()
	d.Caption = fr.ReadString()
	d.Description = fr.ReadString()
	d.UnitCaption = fr.ReadString()
	d.SamplingType = fr.ReadString()
	names := fr.ReadStringArray()
	types := fr.ReadStringArray()
	captions := fr.ReadStringArray()
	descriptions := fr.ReadStringArray()
	var err error
	d.Values, err = unflattenValueDefs(names, types, captions, descriptions)
	if err != nil {
		fr.fail(err)
	}
}

func (d *MetricDefinition) FromFields(m map[string]any, pool *StringPool) error {
	d.ID = fieldGuid(m, "Id")
	d.Kind = MetricKind(fieldInt32(m, "Kind"))
	d.MetricTypeName = fieldString(m, "MetricTypeName")
	d.CategoryName = fieldString(m, "CategoryName")
	d.CounterName = fieldString(m, "CounterName")
	d.Caption = fieldString(m, "Caption")
	d.Description = fieldString(m, "Description")
	d.UnitCaption = fieldString(m, "UnitCaption")
	d.SamplingType = fieldString(m, "SamplingType")
	names := fieldStringArray(m, "ValueNames")
	types := fieldStringArray(m, "ValueTypes")
	captions := fieldStringArray(m, "ValueCaptions")
	descriptions := fieldStringArray(m, "ValueDescriptions")
	values, err := unflattenValueDefs(names, types, captions, descriptions)
	if err != nil {
		return err
	}
	d.Values = values
	return nil
}

func flattenValueDefs(defs []EventMetricValueDefinition) (names, types, captions, descriptions []string) {
	names = make([]string, len(defs))
	types = make([]string, len(defs))
	captions = make([]string, len(defs))
	descriptions = make([]string, len(defs))
	for i, v := range defs {
		names[i] = v.Name
		types[i] = v.Type.String()
		captions[i] = v.Caption
		descriptions[i] = v.Description
	}
	return
}

func unflattenValueDefs(names, types, captions, descriptions []string) ([]EventMetricValueDefinition, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]EventMetricValueDefinition, len(names))
	for i, n := range names {
		ft, ok := parseFieldType(at(types, i))
		if !ok {
			return nil, ErrUnknownFieldType
		}
		out[i] = EventMetricValueDefinition{
			Name:        n,
			Type:        ft,
			Caption:     at(captions, i),
			Description: at(descriptions, i),
		}
	}
	return out, nil
}

func parseFieldType(s string) (FieldType, bool) {
	for t := FieldBool; t <= FieldBinaryBlob; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// MetricTypeName is the wire type-name for Metric packets.
const MetricTypeName = "Metric"

// Metric is one instance of a MetricDefinition (spec.md 3).
type Metric struct {
	Envelope           Envelope
	ID                 uuid.UUID
	MetricDefinitionID uuid.UUID
	InstanceName       string
	Caption            string
	Description        string

	Definition *MetricDefinition
}

func (m *Metric) TypeName() string    { return MetricTypeName }
func (m *Metric) Env() Envelope       { return m.Envelope }
func (m *Metric) RecordID() uuid.UUID { return m.ID }

func (m *Metric) Schema() *PacketDefinition {
	return &PacketDefinition{
		TypeName: MetricTypeName,
		Version:  1,
		Fields: []FieldDefinition{
			{Name: "Id", Type: FieldGuid},
			{Name: "MetricDefinitionId", Type: FieldGuid},
			{Name: "InstanceName", Type: FieldString},
			{Name: "Caption", Type: FieldString},
			{Name: "Description", Type: FieldString},
		},
	}
}

func (m *Metric) RequiredPackets() []Dependency {
	return []Dependency{{TypeName: MetricDefinitionTypeName, ID: m.MetricDefinitionID}}
}

func (m *Metric) Encode(fw *FieldWriter, pool *StringPool) {
	fw.WriteGuid(m.ID)
	fw.WriteGuid(m.MetricDefinitionID)
	fw.WriteString(m.InstanceName)
	fw.WriteString(m.Caption)
	fw.WriteString(m.Description)
}

func (m *Metric) DecodeFast(fr *FieldReader, pool *StringPool) {
	m.ID = fr.ReadGuid()
	m.MetricDefinitionID = fr.ReadGuid()
	m.InstanceName = fr.ReadString()
	m.Caption = fr.ReadString()
	m.Description = fr.ReadString()
}

func (m *Metric) FromFields(fields map[string]any, pool *StringPool) error {
	m.ID = fieldGuid(fields, "Id")
	m.MetricDefinitionID = fieldGuid(fields, "MetricDefinitionId")
	m.InstanceName = fieldString(fields, "InstanceName")
	m.Caption = fieldString(fields, "Caption")
	m.Description = fieldString(fields, "Description")
	return nil
}

// MetricSampleTypeName is the wire type-name for fixed-schema
// (Sampled/CustomSampled) metric samples.
const MetricSampleTypeName = "MetricSample"

// MetricSample is a single sample of a Sampled or CustomSampled metric.
// Unlike EventMetricSample, its schema is fixed — it carries the raw
// and base counter values the parent MetricDefinition's SamplingType
// combines into a displayed value.
type MetricSample struct {
	Envelope  Envelope
	ID        uuid.UUID
	MetricID  uuid.UUID
	RawValue  float64
	BaseValue float64

	Metric     *Metric
	Definition *MetricDefinition
}

func (s *MetricSample) TypeName() string    { return MetricSampleTypeName }
func (s *MetricSample) Env() Envelope       { return s.Envelope }
func (s *MetricSample) RecordID() uuid.UUID { return s.ID }

func (s *MetricSample) Schema() *PacketDefinition {
	return &PacketDefinition{
		TypeName: MetricSampleTypeName,
		Version:  1,
		Fields: []FieldDefinition{
			{Name: "Id", Type: FieldGuid},
			{Name: "MetricId", Type: FieldGuid},
			{Name: "RawValue", Type: FieldDouble},
			{Name: "BaseValue", Type: FieldDouble},
		},
	}
}

func (s *MetricSample) RequiredPackets() []Dependency {
	return []Dependency{{TypeName: MetricTypeName, ID: s.MetricID}}
}

func (s *MetricSample) Encode(fw *FieldWriter, pool *StringPool) {
	fw.WriteGuid(s.ID)
	fw.WriteGuid(s.MetricID)
	fw.WriteDouble(s.RawValue)
	fw.WriteDouble(s.BaseValue)
}

func (s *MetricSample) DecodeFast(fr *FieldReader, pool *StringPool) {
	s.ID = fr.ReadGuid()
	s.MetricID = fr.ReadGuid()
	s.RawValue = fr.ReadDouble()
	s.BaseValue = fr.ReadDouble()
}

func (s *MetricSample) FromFields(fields map[string]any, pool *StringPool) error {
	s.ID = fieldGuid(fields, "Id")
	s.MetricID = fieldGuid(fields, "MetricId")
	s.RawValue = fieldDouble(fields, "RawValue")
	s.BaseValue = fieldDouble(fields, "BaseValue")
	return nil
}

// EventMetricSampleTypeName is the wire type-name for event-metric samples.
const EventMetricSampleTypeName = "EventMetricSample"

// EventMetricSample is a dynamic packet (spec.md 4.4.5, 9): its
// per-instance value fields are not part of a fixed Schema() but are
// instead the EventMetricValueDefinition list of its parent
// MetricDefinition. It therefore does not implement decode through the
// generic Record.DecodeFast/FromFields path; the reader must look up
// the parent definition in the session cache and call
// DecodeDynamicFast/DecodeDynamicSlow directly, rejecting with
// ErrDependencyMissing if the definition isn't cached yet.
type EventMetricSample struct {
	Envelope Envelope
	ID       uuid.UUID
	MetricID uuid.UUID
	Values   map[string]any

	Metric     *Metric
	Definition *MetricDefinition
}

func (s *EventMetricSample) TypeName() string    { return EventMetricSampleTypeName }
func (s *EventMetricSample) Env() Envelope       { return s.Envelope }
func (s *EventMetricSample) RecordID() uuid.UUID { return s.ID }

// Schema returns only the fixed prefix (Id, MetricId); the dynamic
// value fields are appended by DefinitionFor once the parent
// MetricDefinition is known.
func (s *EventMetricSample) Schema() *PacketDefinition {
	return &PacketDefinition{
		TypeName: EventMetricSampleTypeName,
		Version:  1,
		Fields: []FieldDefinition{
			{Name: "Id", Type: FieldGuid},
			{Name: "MetricId", Type: FieldGuid},
		},
	}
}

// DefinitionFor returns the full per-instance definition for an event
// sample whose parent metric definition is def: the fixed Id/MetricId
// prefix followed by one field per EventMetricValueDefinition.
func (s *EventMetricSample) DefinitionFor(def *MetricDefinition) *PacketDefinition {
	fields := append([]FieldDefinition{}, s.Schema().Fields...)
	for _, v := range def.Values {
		fields = append(fields, FieldDefinition{Name: v.Name, Type: v.Type})
	}
	return &PacketDefinition{TypeName: EventMetricSampleTypeName, Version: 1, Fields: fields}
}

func (s *EventMetricSample) RequiredPackets() []Dependency {
	return []Dependency{{TypeName: MetricTypeName, ID: s.MetricID}}
}

// Encode writes the fixed prefix then the dynamic values in def's
// order. def must be the parent MetricDefinition's current Values list.
func (s *EventMetricSample) Encode(fw *FieldWriter, pool *StringPool, def *MetricDefinition) {
	fw.WriteGuid(s.ID)
	fw.WriteGuid(s.MetricID)
	for _, v := range def.Values {
		writeDynamicField(fw, v.Type, s.Values[v.Name])
	}
}

// DecodeDynamicFast reads the fixed prefix then the dynamic values
// positionally, assuming the wire order already matches def.Values.
func (s *EventMetricSample) DecodeDynamicFast(fr *FieldReader, pool *StringPool, def *MetricDefinition) {
	s.ID = fr.ReadGuid()
	s.MetricID = fr.ReadGuid()
	s.Values = make(map[string]any, len(def.Values))
	for _, v := range def.Values {
		s.Values[v.Name] = readDynamicField(fr, v.Type)
	}
}

// Encode/DecodeFast/FromFields satisfy the Record interface for
// factory-table bookkeeping purposes only (schema registration, type
// lookup); the reader pipeline never calls them for this type because
// decoding requires the parent MetricDefinition. See DecodeDynamicFast.
func (s *EventMetricSample) DecodeFast(fr *FieldReader, pool *StringPool) {
	s.ID = fr.ReadGuid()
	s.MetricID = fr.ReadGuid()
}

func (s *EventMetricSample) FromFields(fields map[string]any, pool *StringPool) error {
	s.ID = fieldGuid(fields, "Id")
	s.MetricID = fieldGuid(fields, "MetricId")
	return nil
}

func writeDynamicField(fw *FieldWriter, t FieldType, v any) {
	switch t {
	case FieldBool:
		b, _ := v.(bool)
		fw.WriteBool(b)
	case FieldInt32:
		i, _ := v.(int32)
		fw.WriteInt32(i)
	case FieldInt64:
		i, _ := v.(int64)
		fw.WriteInt64(i)
	case FieldDouble:
		d, _ := v.(float64)
		fw.WriteDouble(d)
	case FieldGuid:
		g, _ := v.(uuid.UUID)
		fw.WriteGuid(g)
	case FieldDateTimeOffset:
		d, _ := v.(DateTimeOffset)
		fw.WriteDateTimeOffset(d)
	case FieldString, FieldVersionString:
		str, _ := v.(string)
		fw.WriteString(str)
	case FieldStringArray:
		arr, _ := v.([]string)
		fw.WriteStringArray(arr)
	case FieldBinaryBlob:
		b, _ := v.([]byte)
		fw.WriteBinaryBlob(b)
	default:
		fw.fail(ErrUnknownFieldType)
	}
}

func readDynamicField(fr *FieldReader, t FieldType) any {
	switch t {
	case FieldBool:
		return fr.ReadBool()
	case FieldInt32:
		return fr.ReadInt32()
	case FieldInt64:
		return fr.ReadInt64()
	case FieldDouble:
		return fr.ReadDouble()
	case FieldGuid:
		return fr.ReadGuid()
	case FieldDateTimeOffset:
		return fr.ReadDateTimeOffset()
	case FieldString, FieldVersionString:
		return fr.ReadString()
	case FieldStringArray:
		return fr.ReadStringArray()
	case FieldBinaryBlob:
		return fr.ReadBinaryBlob()
	default:
		fr.fail(ErrUnknownFieldType)
		return nil
	}
}
