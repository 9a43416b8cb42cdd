/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package packet

import (
	"sort"

	"github.com/google/uuid"
)

// SessionSummaryTypeName is the wire type-name for SessionSummary packets.
const SessionSummaryTypeName = "SessionSummary"

const (
	SummaryVersion1 int32 = 1
	SummaryVersion2 int32 = 2
	SummaryVersion3 int32 = 3
	SummaryVersion4 int32 = 4

	CurrentSummaryVersion = SummaryVersion4
)

// SessionSummary is the one required record at the start of every
// session (spec.md 3). Fields through OSServicePack have existed since
// version 1; later versions only ever append (spec.md 4.4.4:
// "version evolution is additive").
type SessionSummary struct {
	Envelope Envelope
	ID       uuid.UUID
	Version  int32

	Caption       string
	Status        string
	StartDateTime DateTimeOffset
	EndDateTime   DateTimeOffset

	Product                string
	Application            string
	ApplicationVersion     string // VersionString
	ApplicationType        string
	ApplicationDescription string
	EnvironmentName        string
	PromotionLevelName     string

	OSPlatformCode int32
	OSVersion      string
	OSServicePack  string
	OSCultureName  string
	OSArchitecture string
	OSBootMode     string

	RuntimeVersion      string // VersionString
	RuntimeArchitecture string
	AgentVersion        string // VersionString

	UserName       string
	UserDomainName string
	HostName       string
	DNSDomainName  string

	// CommandLine, CurrentCultureName, and CurrentUICultureName are the
	// v4 "backwards-compat padding" fields (spec.md 9): a v4 writer
	// emits these three immediately before the dynamic property block
	// so that a pre-v4 reader, which reads a fixed ordinal baseline and
	// then treats any overflow as name/value string pairs, still
	// interprets what follows uniformly as strings. This repository has
	// no pre-v4 reader of its own (every reader here dispatches by
	// field name, because this wire format's DefinitionChunk always
	// carries field names — see DESIGN.md), but the field order is
	// preserved verbatim on write for any external/older reader that
	// does rely on it.
	CommandLine          string
	CurrentCultureName    string
	CurrentUICultureName string

	// Properties holds dynamic, free-form name/value properties beyond
	// the fixed schema above. A v4 reader assigns any unrecognized
	// string field here instead of discarding it; unrecognized
	// non-string fields are silently dropped (spec.md 4.4.4).
	Properties map[string]string
}

func (s *SessionSummary) TypeName() string    { return SessionSummaryTypeName }
func (s *SessionSummary) Env() Envelope       { return s.Envelope }
func (s *SessionSummary) RecordID() uuid.UUID { return s.ID }

// summaryFixedFields is the full v1..v4 fixed-field layout in on-wire
// order, ending with the v4 padding trio immediately before the dynamic
// property arrays (PropertyNames/PropertyValues), which Schema appends
// separately since their presence is itself version-gated.
func summaryFixedFields() []FieldDefinition {
	return []FieldDefinition{
		{Name: "Id", Type: FieldGuid},
		{Name: "Caption", Type: FieldString},
		{Name: "Status", Type: FieldString},
		{Name: "StartDateTime", Type: FieldDateTimeOffset},
		{Name: "EndDateTime", Type: FieldDateTimeOffset},
		{Name: "Product", Type: FieldString},
		{Name: "Application", Type: FieldString},
		{Name: "ApplicationVersion", Type: FieldVersionString},
		{Name: "UserName", Type: FieldString},
		{Name: "UserDomainName", Type: FieldString},
		{Name: "HostName", Type: FieldString},
		{Name: "DNSDomainName", Type: FieldString},
		{Name: "OSVersion", Type: FieldString},
		{Name: "OSServicePack", Type: FieldString}, // --- v1 baseline ends here
		{Name: "EnvironmentName", Type: FieldString},
		{Name: "PromotionLevelName", Type: FieldString},
		{Name: "OSPlatformCode", Type: FieldInt32},
		{Name: "OSCultureName", Type: FieldString}, // --- v2 baseline ends here
		{Name: "ApplicationType", Type: FieldString},
		{Name: "ApplicationDescription", Type: FieldString},
		{Name: "RuntimeVersion", Type: FieldVersionString},
		{Name: "RuntimeArchitecture", Type: FieldString},
		{Name: "AgentVersion", Type: FieldVersionString},
		{Name: "OSArchitecture", Type: FieldString},
		{Name: "OSBootMode", Type: FieldString}, // --- v3 baseline ends here
	}
}

// summaryBaselineCount is how many of summaryFixedFields() a writer at
// the given version emits, before the v4 padding/dynamic-property tail.
var summaryBaselineCount = map[int32]int{
	SummaryVersion1: 14,
	SummaryVersion2: 18,
	SummaryVersion3: 25,
}

// Schema returns the current (v4) definition: the full fixed field set
// plus the padding trio and the two dynamic-property arrays, in the
// exact order a v4 writer must use.
func (s *SessionSummary) Schema() *PacketDefinition {
	fields := append(append([]FieldDefinition{}, summaryFixedFields()...),
		FieldDefinition{Name: "CommandLine", Type: FieldString},
		FieldDefinition{Name: "CurrentCultureName", Type: FieldString},
		FieldDefinition{Name: "CurrentUICultureName", Type: FieldString},
		FieldDefinition{Name: "PropertyNames", Type: FieldStringArray},
		FieldDefinition{Name: "PropertyValues", Type: FieldStringArray},
	)
	return &PacketDefinition{TypeName: SessionSummaryTypeName, Version: CurrentSummaryVersion, Fields: fields}
}

// SchemaForVersion returns the definition a writer at the given
// pre-v4 version would have emitted (truncated fixed-field baseline,
// no padding trio, no dynamic properties). Version 4 and above return
// the same as Schema(). Exposed for tests that simulate older fragments.
func SchemaForVersion(version int32) *PacketDefinition {
	if version >= SummaryVersion4 {
		return (&SessionSummary{}).Schema()
	}
	n, ok := summaryBaselineCount[version]
	if !ok {
		n = summaryBaselineCount[SummaryVersion1]
	}
	fields := summaryFixedFields()[:n]
	return &PacketDefinition{TypeName: SessionSummaryTypeName, Version: version, Fields: append([]FieldDefinition{}, fields...)}
}

func (s *SessionSummary) RequiredPackets() []Dependency { return nil }

func (s *SessionSummary) Encode(fw *FieldWriter, pool *StringPool) {
	fw.WriteGuid(s.ID)
	fw.WriteString(s.Caption)
	fw.WriteString(s.Status)
	fw.WriteDateTimeOffset(s.StartDateTime)
	fw.WriteDateTimeOffset(s.EndDateTime)
	fw.WriteString(s.Product)
	fw.WriteString(s.Application)
	fw.WriteVersionString(s.ApplicationVersion)
	fw.WriteString(s.UserName)
	fw.WriteString(s.UserDomainName)
	fw.WriteString(s.HostName)
	fw.WriteString(s.DNSDomainName)
	fw.WriteString(s.OSVersion)
	fw.WriteString(s.OSServicePack)
	fw.WriteString(s.EnvironmentName)
	fw.WriteString(s.PromotionLevelName)
	fw.WriteInt32(s.OSPlatformCode)
	fw.WriteString(s.OSCultureName)
	fw.WriteString(s.ApplicationType)
	fw.WriteString(s.ApplicationDescription)
	fw.WriteVersionString(s.RuntimeVersion)
	fw.WriteString(s.RuntimeArchitecture)
	fw.WriteVersionString(s.AgentVersion)
	fw.WriteString(s.OSArchitecture)
	fw.WriteString(s.OSBootMode)
	// v4 padding trio, written immediately before the dynamic property
	// block (spec.md 9) — order must not change.
	fw.WriteString(s.CommandLine)
	fw.WriteString(s.CurrentCultureName)
	fw.WriteString(s.CurrentUICultureName)
	names, values := flattenProperties(s.Properties)
	fw.WriteStringArray(names)
	fw.WriteStringArray(values)
}

func (s *SessionSummary) DecodeFast(fr *FieldReader, pool *StringPool) {
	s.ID = fr.ReadGuid()
	s.Caption = fr.ReadString()
	s.Status = fr.ReadString()
	s.StartDateTime = fr.ReadDateTimeOffset()
	s.EndDateTime = fr.ReadDateTimeOffset()
	s.Product = fr.ReadString()
	s.Application = fr.ReadString()
	s.ApplicationVersion = fr.ReadVersionString()
	s.UserName = fr.ReadString()
	s.UserDomainName = fr.ReadString()
	s.HostName = fr.ReadString()
	s.DNSDomainName = fr.ReadString()
	s.OSVersion = fr.ReadString()
	s.OSServicePack = fr.ReadString()
	s.EnvironmentName = fr.ReadString()
	s.PromotionLevelName = fr.ReadString()
	s.OSPlatformCode = fr.ReadInt32()
	s.OSCultureName = fr.ReadString()
	s.ApplicationType = fr.ReadString()
	s.ApplicationDescription = fr.ReadString()
	s.RuntimeVersion = fr.ReadVersionString()
	s.RuntimeArchitecture = fr.ReadString()
	s.AgentVersion = fr.ReadVersionString()
	s.OSArchitecture = fr.ReadString()
	s.OSBootMode = fr.ReadString()
	s.CommandLine = fr.ReadString()
	s.CurrentCultureName = fr.ReadString()
	s.CurrentUICultureName = fr.ReadString()
	names := fr.ReadStringArray()
	values := fr.ReadStringArray()
	s.Properties = unflattenProperties(names, values)
	s.Version = CurrentSummaryVersion
}

// knownSummaryFields is every fixed field name this type recognizes,
// used by FromFields to decide whether an unrecognized string field
// becomes a dynamic property.
var knownSummaryFields = func() map[string]bool {
	m := make(map[string]bool)
	for _, f := range summaryFixedFields() {
		m[f.Name] = true
	}
	for _, n := range []string{"CommandLine", "CurrentCultureName", "CurrentUICultureName", "PropertyNames", "PropertyValues"} {
		m[n] = true
	}
	return m
}()

// FromFields implements the v4 (and, in this wire format, universal)
// name-dispatch reader: unknown string fields become dynamic
// properties, unknown non-string fields are silently ignored
// (spec.md 4.4.4).
func (s *SessionSummary) FromFields(fields map[string]any, pool *StringPool) error {
	s.ID = fieldGuid(fields, "Id")
	s.Caption = fieldString(fields, "Caption")
	s.Status = fieldString(fields, "Status")
	s.StartDateTime = fieldDTO(fields, "StartDateTime")
	s.EndDateTime = fieldDTO(fields, "EndDateTime")
	s.Product = fieldString(fields, "Product")
	s.Application = fieldString(fields, "Application")
	s.ApplicationVersion = fieldString(fields, "ApplicationVersion")
	s.UserName = fieldString(fields, "UserName")
	s.UserDomainName = fieldString(fields, "UserDomainName")
	s.HostName = fieldString(fields, "HostName")
	s.DNSDomainName = fieldString(fields, "DNSDomainName")
	s.OSVersion = fieldString(fields, "OSVersion")
	s.OSServicePack = fieldString(fields, "OSServicePack")
	s.EnvironmentName = fieldString(fields, "EnvironmentName")
	s.PromotionLevelName = fieldString(fields, "PromotionLevelName")
	s.OSPlatformCode = fieldInt32(fields, "OSPlatformCode")
	s.OSCultureName = fieldString(fields, "OSCultureName")
	s.ApplicationType = fieldString(fields, "ApplicationType")
	s.ApplicationDescription = fieldString(fields, "ApplicationDescription")
	s.RuntimeVersion = fieldString(fields, "RuntimeVersion")
	s.RuntimeArchitecture = fieldString(fields, "RuntimeArchitecture")
	s.AgentVersion = fieldString(fields, "AgentVersion")
	s.OSArchitecture = fieldString(fields, "OSArchitecture")
	s.OSBootMode = fieldString(fields, "OSBootMode")
	s.CommandLine = fieldString(fields, "CommandLine")
	s.CurrentCultureName = fieldString(fields, "CurrentCultureName")
	s.CurrentUICultureName = fieldString(fields, "CurrentUICultureName")
	names := fieldStringArray(fields, "PropertyNames")
	values := fieldStringArray(fields, "PropertyValues")
	s.Properties = unflattenProperties(names, values)

	for name, v := range fields {
		if knownSummaryFields[name] {
			continue
		}
		if str, ok := v.(string); ok {
			if s.Properties == nil {
				s.Properties = make(map[string]string)
			}
			s.Properties[name] = str
		}
	}
	return nil
}

func flattenProperties(props map[string]string) (names, values []string) {
	names = make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)
	values = make([]string, 0, len(names))
	for _, k := range names {
		values = append(values, props[k])
	}
	return names, values
}

func unflattenProperties(names, values []string) map[string]string {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]string, len(names))
	for i, n := range names {
		if i < len(values) {
			out[n] = values[i]
		}
	}
	return out
}
