/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package packet

import "github.com/google/uuid"

// LogMessageTypeName is the wire type-name for LogMessage packets.
const LogMessageTypeName = "LogMessage"

// Severity is the closed set of log message severities.
type Severity int32

const (
	SeverityVerbose Severity = iota
	SeverityInformation
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityVerbose:
		return "Verbose"
	case SeverityInformation:
		return "Information"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	case SeverityCritical:
		return "Critical"
	}
	return "Unknown"
}

// LogMessage is a single emitted log entry (spec.md 4.4.1).
type LogMessage struct {
	Envelope          Envelope
	ID                uuid.UUID
	Severity          Severity
	LogSystem         string
	Category          string
	UserName          string
	Caption           string
	Description       string
	Details           string
	Method            string
	Class             string
	File              string
	Line              int32
	ThreadIndex       int32
	ThreadID          int64
	Exceptions        ExceptionInfo
	ApplicationUserID uuid.UUID

	// ThreadInfoID is the id of the ThreadInfo this message depends on,
	// known to the writer at construction time even though the wire
	// reference is by ThreadIndex. Not serialized.
	ThreadInfoID uuid.UUID

	// Resolved during the reader's post-read fixup (spec.md 4.6 step 5);
	// nil until then.
	ThreadInfo      *ThreadInfo
	ApplicationUser *ApplicationUser

	message    string
	messageSet bool
}

func (m *LogMessage) TypeName() string    { return LogMessageTypeName }
func (m *LogMessage) Env() Envelope       { return m.Envelope }
func (m *LogMessage) RecordID() uuid.UUID { return m.ID }

func (m *LogMessage) Schema() *PacketDefinition {
	return &PacketDefinition{
		TypeName: LogMessageTypeName,
		Version:  1,
		Fields: []FieldDefinition{
			{Name: "Id", Type: FieldGuid},
			{Name: "Severity", Type: FieldInt32},
			{Name: "LogSystem", Type: FieldString},
			{Name: "Category", Type: FieldString},
			{Name: "UserName", Type: FieldString},
			{Name: "Caption", Type: FieldString},
			{Name: "Description", Type: FieldString},
			{Name: "Details", Type: FieldString},
			{Name: "Method", Type: FieldString},
			{Name: "Class", Type: FieldString},
			{Name: "File", Type: FieldString},
			{Name: "Line", Type: FieldInt32},
			{Name: "ThreadIndex", Type: FieldInt32},
			{Name: "ThreadId", Type: FieldInt64},
			{Name: "ExceptionTypeNames", Type: FieldStringArray},
			{Name: "ExceptionMessages", Type: FieldStringArray},
			{Name: "ExceptionSources", Type: FieldStringArray},
			{Name: "ExceptionStackTraces", Type: FieldStringArray},
			{Name: "ApplicationUserId", Type: FieldGuid},
		},
	}
}

// RequiredPackets always depends on the owning thread, and additionally
// on the attached user when one is present (spec.md 4.4.1).
func (m *LogMessage) RequiredPackets() []Dependency {
	deps := []Dependency{{TypeName: ThreadInfoTypeName, Index: m.ThreadIndex, UsesIndex: true}}
	if m.ApplicationUserID != uuid.Nil {
		deps = append(deps, Dependency{TypeName: ApplicationUserTypeName, ID: m.ApplicationUserID})
	}
	return deps
}

func (m *LogMessage) Encode(fw *FieldWriter, pool *StringPool) {
	fw.WriteGuid(m.ID)
	fw.WriteInt32(int32(m.Severity))
	fw.WriteString(m.LogSystem)
	fw.WriteString(m.Category)
	fw.WriteString(m.UserName)
	fw.WriteString(m.Caption)
	fw.WriteString(m.Description)
	fw.WriteString(m.Details)
	fw.WriteString(m.Method)
	fw.WriteString(m.Class)
	fw.WriteString(m.File)
	fw.WriteInt32(m.Line)
	fw.WriteInt32(m.ThreadIndex)
	fw.WriteInt64(m.ThreadID)
	fw.WriteStringArray(m.Exceptions.TypeNames)
	fw.WriteStringArray(m.Exceptions.Messages)
	fw.WriteStringArray(m.Exceptions.Sources)
	fw.WriteStringArray(m.Exceptions.StackTraces)
	fw.WriteGuid(m.ApplicationUserID)
}

func (m *LogMessage) DecodeFast(fr *FieldReader, pool *StringPool) {
	m.ID = fr.ReadGuid()
	m.Severity = Severity(fr.ReadInt32())
	m.LogSystem = fr.ReadString()
	m.Category = fr.ReadString()
	m.UserName = fr.ReadString()
	m.Caption = fr.ReadString()
	m.Description = fr.ReadString()
	m.Details = fr.ReadString()
	m.Method = fr.ReadString()
	m.Class = fr.ReadString()
	m.File = fr.ReadString()
	m.Line = fr.ReadInt32()
	m.ThreadIndex = fr.ReadInt32()
	m.ThreadID = fr.ReadInt64()
	m.Exceptions.TypeNames = fr.ReadStringArray()
	m.Exceptions.Messages = fr.ReadStringArray()
	m.Exceptions.Sources = fr.ReadStringArray()
	m.Exceptions.StackTraces = fr.ReadStringArray()
	m.ApplicationUserID = fr.ReadGuid()
}

func (m *LogMessage) FromFields(fields map[string]any, pool *StringPool) error {
	m.ID = fieldGuid(fields, "Id")
	m.Severity = Severity(fieldInt32(fields, "Severity"))
	m.LogSystem = fieldString(fields, "LogSystem")
	m.Category = fieldString(fields, "Category")
	m.UserName = fieldString(fields, "UserName")
	m.Caption = fieldString(fields, "Caption")
	m.Description = fieldString(fields, "Description")
	m.Details = fieldString(fields, "Details")
	m.Method = fieldString(fields, "Method")
	m.Class = fieldString(fields, "Class")
	m.File = fieldString(fields, "File")
	m.Line = fieldInt32(fields, "Line")
	m.ThreadIndex = fieldInt32(fields, "ThreadIndex")
	m.ThreadID = fieldInt64(fields, "ThreadId")
	m.Exceptions = ExceptionInfo{
		TypeNames:   fieldStringArray(fields, "ExceptionTypeNames"),
		Messages:    fieldStringArray(fields, "ExceptionMessages"),
		Sources:     fieldStringArray(fields, "ExceptionSources"),
		StackTraces: fieldStringArray(fields, "ExceptionStackTraces"),
	}
	m.ApplicationUserID = fieldGuid(fields, "ApplicationUserId")
	return nil
}

// Message returns the composite caption+description field, computed
// once and memoized (spec.md 4.4.1): caption and "\n" and description
// when both are present, otherwise whichever one is, otherwise empty.
// The messageSet sentinel distinguishes "not yet computed" from "the
// computed value legitimately is empty".
func (m *LogMessage) Message() string {
	if m.messageSet {
		return m.message
	}
	switch {
	case m.Caption != "" && m.Description != "":
		m.message = m.Caption + "\n" + m.Description
	case m.Caption != "":
		m.message = m.Caption
	case m.Description != "":
		m.message = m.Description
	default:
		m.message = ""
	}
	m.messageSet = true
	return m.message
}

// Equal implements structural equality over the envelope and the fields
// compared below (spec.md 4.4.1): it is deliberately not identity on ID
// alone. ThreadIndex and the attached exception data are not compared.
func (m *LogMessage) Equal(other *LogMessage) bool {
	if other == nil {
		return false
	}
	return m.Envelope == other.Envelope &&
		m.ID == other.ID &&
		m.Severity == other.Severity &&
		m.LogSystem == other.LogSystem &&
		m.Category == other.Category &&
		m.UserName == other.UserName &&
		m.Caption == other.Caption &&
		m.Description == other.Description &&
		m.Details == other.Details &&
		m.Method == other.Method &&
		m.Class == other.Class &&
		m.File == other.File &&
		m.Line == other.Line &&
		m.ThreadID == other.ThreadID &&
		m.ApplicationUserID == other.ApplicationUserID
}

// ResolveThreadIndex implements the pre-index-writer compatibility
// fallback (spec.md 9): when ThreadIndex == 0 the reader falls back to
// looking the thread up by ThreadID instead. This only ever applies on
// read; the writer never emits index 0 for a real thread.
func (m *LogMessage) ResolveThreadIndex() (index int32, useThreadID bool) {
	if m.ThreadIndex == 0 {
		return 0, true
	}
	return m.ThreadIndex, false
}
