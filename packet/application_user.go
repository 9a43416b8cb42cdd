/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package packet

import (
	"strings"

	"github.com/google/uuid"
)

// ApplicationUserTypeName is the wire type-name for ApplicationUser packets.
const ApplicationUserTypeName = "ApplicationUser"

// ApplicationUser describes an authenticated end-user attached to log
// messages and sessions. Its equality is not identity on ID: see Equal.
type ApplicationUser struct {
	Envelope               Envelope
	ID                     uuid.UUID
	Key                     string
	FullyQualifiedUserName string
	Caption                string
	Domain                 string
}

func (u *ApplicationUser) TypeName() string    { return ApplicationUserTypeName }
func (u *ApplicationUser) Env() Envelope       { return u.Envelope }
func (u *ApplicationUser) RecordID() uuid.UUID { return u.ID }

func (u *ApplicationUser) Schema() *PacketDefinition {
	return &PacketDefinition{
		TypeName: ApplicationUserTypeName,
		Version:  1,
		Fields: []FieldDefinition{
			{Name: "Id", Type: FieldGuid},
			{Name: "Key", Type: FieldString},
			{Name: "FullyQualifiedUserName", Type: FieldString},
			{Name: "Caption", Type: FieldString},
			{Name: "Domain", Type: FieldString},
		},
	}
}

func (u *ApplicationUser) RequiredPackets() []Dependency { return nil }

func (u *ApplicationUser) Encode(fw *FieldWriter, pool *StringPool) {
	fw.WriteGuid(u.ID)
	fw.WriteString(u.Key)
	fw.WriteString(u.FullyQualifiedUserName)
	fw.WriteString(u.Caption)
	fw.WriteString(u.Domain)
}

func (u *ApplicationUser) DecodeFast(fr *FieldReader, pool *StringPool) {
	u.ID = fr.ReadGuid()
	u.Key = fr.ReadString()
	u.FullyQualifiedUserName = fr.ReadString()
	u.Caption = fr.ReadString()
	u.Domain = fr.ReadString()
}

func (u *ApplicationUser) FromFields(m map[string]any, pool *StringPool) error {
	u.ID = fieldGuid(m, "Id")
	u.Key = fieldString(m, "Key")
	u.FullyQualifiedUserName = fieldString(m, "FullyQualifiedUserName")
	u.Caption = fieldString(m, "Caption")
	u.Domain = fieldString(m, "Domain")
	return nil
}

// Equal implements invariant 6 of spec.md 3: when both users carry a
// non-empty Key, equality is decided by Key alone (case-insensitive);
// otherwise it falls back to FullyQualifiedUserName (case-insensitive).
// This is intentionally not a plain union of the two comparisons — two
// users with distinct non-empty keys are never equal even if their
// names happen to match.
func (u *ApplicationUser) Equal(other *ApplicationUser) bool {
	if other == nil {
		return false
	}
	if u.Key != "" && other.Key != "" {
		return strings.EqualFold(u.Key, other.Key)
	}
	return strings.EqualFold(u.FullyQualifiedUserName, other.FullyQualifiedUserName)
}

// HashKey returns the lowercased string this user hashes/indexes by,
// mirroring Equal's precedence: Key when present, else name.
func (u *ApplicationUser) HashKey() string {
	if u.Key != "" {
		return strings.ToLower(u.Key)
	}
	return strings.ToLower(u.FullyQualifiedUserName)
}
