/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package packet

// SessionFragmentTypeName is the wire type-name for SessionFragment packets.
const SessionFragmentTypeName = "SessionFragment"

// SessionFragment closes out one fragment file. Every fragment ends
// with exactly one of these; IsLastFile marks the fragment that ends
// the session (spec.md 3).
type SessionFragment struct {
	Envelope    Envelope
	FileIndex   int32
	IsLastFile  bool
}

func (f *SessionFragment) TypeName() string { return SessionFragmentTypeName }
func (f *SessionFragment) Env() Envelope    { return f.Envelope }

func (f *SessionFragment) Schema() *PacketDefinition {
	return &PacketDefinition{
		TypeName: SessionFragmentTypeName,
		Version:  1,
		Fields: []FieldDefinition{
			{Name: "FileIndex", Type: FieldInt32},
			{Name: "IsLastFile", Type: FieldBool},
		},
	}
}

func (f *SessionFragment) RequiredPackets() []Dependency { return nil }

func (f *SessionFragment) Encode(fw *FieldWriter, pool *StringPool) {
	fw.WriteInt32(f.FileIndex)
	fw.WriteBool(f.IsLastFile)
}

func (f *SessionFragment) DecodeFast(fr *FieldReader, pool *StringPool) {
	f.FileIndex = fr.ReadInt32()
	f.IsLastFile = fr.ReadBool()
}

func (f *SessionFragment) FromFields(m map[string]any, pool *StringPool) error {
	f.FileIndex = fieldInt32(m, "FileIndex")
	f.IsLastFile = fieldBool(m, "IsLastFile")
	return nil
}

// SessionCloseTypeName is the wire type-name for SessionClose packets.
const SessionCloseTypeName = "SessionClose"

// SessionClose may appear inside the last fragment, marking how the
// session ended.
type SessionClose struct {
	Envelope    Envelope
	EndDateTime DateTimeOffset
	Status      string
}

func (c *SessionClose) TypeName() string { return SessionCloseTypeName }
func (c *SessionClose) Env() Envelope    { return c.Envelope }

func (c *SessionClose) Schema() *PacketDefinition {
	return &PacketDefinition{
		TypeName: SessionCloseTypeName,
		Version:  1,
		Fields: []FieldDefinition{
			{Name: "EndDateTime", Type: FieldDateTimeOffset},
			{Name: "Status", Type: FieldString},
		},
	}
}

func (c *SessionClose) RequiredPackets() []Dependency { return nil }

func (c *SessionClose) Encode(fw *FieldWriter, pool *StringPool) {
	fw.WriteDateTimeOffset(c.EndDateTime)
	fw.WriteString(c.Status)
}

func (c *SessionClose) DecodeFast(fr *FieldReader, pool *StringPool) {
	c.EndDateTime = fr.ReadDateTimeOffset()
	c.Status = fr.ReadString()
}

func (c *SessionClose) FromFields(m map[string]any, pool *StringPool) error {
	c.EndDateTime = fieldDTO(m, "EndDateTime")
	c.Status = fieldString(m, "Status")
	return nil
}
