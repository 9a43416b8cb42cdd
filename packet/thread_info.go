/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package packet

import "github.com/google/uuid"

// ThreadInfoTypeName is the wire type-name for ThreadInfo packets.
const ThreadInfoTypeName = "ThreadInfo"

// ThreadInfo describes one thread observed during a session. Threads
// are cached by Index, not by ID: LogMessage records reference threads
// by index because that's what the original capture point had cheaply
// available (spec.md 4.7).
type ThreadInfo struct {
	Envelope           Envelope
	ID                 uuid.UUID
	Index              int32
	ThreadID           int64
	Name               string
	Domain             string
	IsBackground       bool
	IsThreadPoolThread bool
}

func (t *ThreadInfo) TypeName() string { return ThreadInfoTypeName }
func (t *ThreadInfo) Env() Envelope    { return t.Envelope }
func (t *ThreadInfo) RecordID() uuid.UUID { return t.ID }

func (t *ThreadInfo) Schema() *PacketDefinition {
	return &PacketDefinition{
		TypeName: ThreadInfoTypeName,
		Version:  1,
		Fields: []FieldDefinition{
			{Name: "Id", Type: FieldGuid},
			{Name: "Index", Type: FieldInt32},
			{Name: "ThreadId", Type: FieldInt64},
			{Name: "Name", Type: FieldString},
			{Name: "Domain", Type: FieldString},
			{Name: "IsBackground", Type: FieldBool},
			{Name: "IsThreadPoolThread", Type: FieldBool},
		},
	}
}

func (t *ThreadInfo) RequiredPackets() []Dependency { return nil }

func (t *ThreadInfo) Encode(fw *FieldWriter, pool *StringPool) {
	fw.WriteGuid(t.ID)
	fw.WriteInt32(t.Index)
	fw.WriteInt64(t.ThreadID)
	fw.WriteString(t.Name)
	fw.WriteString(t.Domain)
	fw.WriteBool(t.IsBackground)
	fw.WriteBool(t.IsThreadPoolThread)
}

func (t *ThreadInfo) DecodeFast(fr *FieldReader, pool *StringPool) {
	t.ID = fr.ReadGuid()
	t.Index = fr.ReadInt32()
	t.ThreadID = fr.ReadInt64()
	t.Name = fr.ReadString()
	t.Domain = fr.ReadString()
	t.IsBackground = fr.ReadBool()
	t.IsThreadPoolThread = fr.ReadBool()
}

func (t *ThreadInfo) FromFields(m map[string]any, pool *StringPool) error {
	t.ID = fieldGuid(m, "Id")
	t.Index = fieldInt32(m, "Index")
	t.ThreadID = fieldInt64(m, "ThreadId")
	t.Name = fieldString(m, "Name")
	t.Domain = fieldString(m, "Domain")
	t.IsBackground = fieldBool(m, "IsBackground")
	t.IsThreadPoolThread = fieldBool(m, "IsThreadPoolThread")
	return nil
}
