/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package packet

import "sync"

// FieldDefinition names and types a single field within a packet
// definition, in on-wire order.
type FieldDefinition struct {
	Name string
	Type FieldType
}

// PacketDefinition describes the schema of one packet type as it was
// written to a fragment: the type's name, the schema version the writer
// used, and the ordered field list. This is the only source of type
// truth for decoding a packet of this type (spec.md 4.1) — there is no
// per-field wire tag.
type PacketDefinition struct {
	TypeName string
	Version  int32
	Fields   []FieldDefinition
}

// FieldIndex returns the position of name within d's field list.
func (d *PacketDefinition) FieldIndex(name string) (int, bool) {
	for i, f := range d.Fields {
		if f.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Equal reports whether d and other describe the exact same wire shape:
// same type name, version, and field list in the same order. The reader
// pipeline uses this to decide between the fast (positional) decode
// path and the slow (name-keyed) path (spec.md 4.6 item 4).
func (d *PacketDefinition) Equal(other *PacketDefinition) bool {
	if d == other {
		return true
	}
	if d == nil || other == nil {
		return false
	}
	if d.TypeName != other.TypeName || d.Version != other.Version {
		return false
	}
	if len(d.Fields) != len(other.Fields) {
		return false
	}
	for i := range d.Fields {
		if d.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// FieldDiff describes how a single named field differs between an
// on-disk definition and the current (build-time) definition of the
// same packet type.
type FieldDiff struct {
	Name           string
	OnDiskType     FieldType
	OnDiskPresent  bool
	CurrentType    FieldType
	CurrentPresent bool
}

// Changed reports whether this field's presence or type differs between
// the two definitions being compared.
func (fd FieldDiff) Changed() bool {
	if fd.OnDiskPresent != fd.CurrentPresent {
		return true
	}
	return fd.OnDiskPresent && fd.OnDiskType != fd.CurrentType
}

// Diff produces a field-by-field comparison between d (the on-disk
// definition) and current (the definition this build expects),
// mirroring the teacher's evblock.Compare idiom
// (ingest/entry/enumeratedblock.go) of walking both value lists in
// lockstep. Useful for diagnostics and for explaining why the reader
// took the slow path.
func (d *PacketDefinition) Diff(current *PacketDefinition) []FieldDiff {
	seen := make(map[string]bool, len(d.Fields)+len(current.Fields))
	var order []string
	onDisk := make(map[string]FieldType, len(d.Fields))
	for _, f := range d.Fields {
		onDisk[f.Name] = f.Type
		if !seen[f.Name] {
			seen[f.Name] = true
			order = append(order, f.Name)
		}
	}
	cur := make(map[string]FieldType, len(current.Fields))
	for _, f := range current.Fields {
		cur[f.Name] = f.Type
		if !seen[f.Name] {
			seen[f.Name] = true
			order = append(order, f.Name)
		}
	}
	diffs := make([]FieldDiff, 0, len(order))
	for _, name := range order {
		odType, odOK := onDisk[name]
		curType, curOK := cur[name]
		diffs = append(diffs, FieldDiff{
			Name:           name,
			OnDiskType:     odType,
			OnDiskPresent:  odOK,
			CurrentType:    curType,
			CurrentPresent: curOK,
		})
	}
	return diffs
}

// Schema is a process-wide registry of the current (build-time)
// PacketDefinition for each known packet type name. Reader fragments
// carry their own on-disk definitions per type; a Reader seeds a Schema
// with the built-in types' current definitions, but its fast/slow-path
// comparison uses each record's own Schema() rather than this registry.
type Schema struct {
	mu      sync.RWMutex
	current map[string]*PacketDefinition
}

// NewSchema returns an empty Schema.
func NewSchema() *Schema {
	return &Schema{current: make(map[string]*PacketDefinition)}
}

// Register installs def as the current definition for its type name,
// replacing any previous registration.
func (s *Schema) Register(def *PacketDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[def.TypeName] = def
}

// Current returns the registered current definition for typeName.
func (s *Schema) Current(typeName string) (*PacketDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.current[typeName]
	return d, ok
}

// TypeNames returns the set of type names registered in s.
func (s *Schema) TypeNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.current))
	for name := range s.current {
		names = append(names, name)
	}
	return names
}
