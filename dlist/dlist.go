// Package dlist implements the replication engine's typed, self-describing
// wire value: a recursive structure of atoms, numbers, dates, GUIDs,
// opaque maps, file-payload sentinels, ordered lists and keyed sub-lists.
// See §4.B of the replication protocol design.
package dlist

import (
	"strconv"

	"github.com/replicon/mboxsync/guid"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindAtom Kind = iota
	KindNum32
	KindNum64
	KindDate
	KindFlag
	KindGuid
	KindMap
	KindFile
	KindList
	KindKVList
)

// File carries a reference to a message payload rather than its bytes. The
// sender fills Path (and Open, if the bytes live somewhere other than a
// plain file); the receiver, after streaming the literal off the wire,
// leaves StagedPath set to where it wrote and verified the payload.
type File struct {
	Partition string
	Guid      guid.GUID
	Size      int64

	// Open, if non-nil, supplies the payload bytes on encode. When nil,
	// Path is opened directly.
	Open func() (ReadCloser, error)
	Path string

	StagedPath string
}

// ReadCloser is the minimal interface dlist needs to stream a literal; it
// is satisfied by *os.File and by framework/buffer.Buffer's Open() result.
type ReadCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

// Value is one node of a dlist tree. Exactly one of the typed fields is
// meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Name string

	Atom  string
	Num   uint64
	Guid  guid.GUID
	Map   []byte
	File  File
	Items []Value
}

// Atom constructs an unkeyed-or-keyed atom value.
func Atom(name, val string) Value { return Value{Kind: KindAtom, Name: name, Atom: val} }

// Flag constructs a flag value; identical wire shape to Atom, distinguished
// only by how the caller interprets it (system/user flag token).
func Flag(name, val string) Value { return Value{Kind: KindFlag, Name: name, Atom: val} }

// Num32 constructs a 32-bit unsigned number value.
func Num32(name string, val uint32) Value { return Value{Kind: KindNum32, Name: name, Num: uint64(val)} }

// Num64 constructs a 64-bit unsigned number value.
func Num64(name string, val uint64) Value { return Value{Kind: KindNum64, Name: name, Num: val} }

// Date constructs a date value, stored as epoch seconds.
func Date(name string, epochSeconds uint64) Value {
	return Value{Kind: KindDate, Name: name, Num: epochSeconds}
}

// Guid constructs a GUID value.
func Guid(name string, g guid.GUID) Value { return Value{Kind: KindGuid, Name: name, Guid: g} }

// Map constructs an opaque length-prefixed byte payload value.
func Map(name string, b []byte) Value { return Value{Kind: KindMap, Name: name, Map: b} }

// FileRef constructs a File sentinel value referencing an on-disk payload.
func FileRef(name string, f File) Value { return Value{Kind: KindFile, Name: name, File: f} }

// List constructs an ordered positional list.
func List(name string, items ...Value) Value {
	return Value{Kind: KindList, Name: name, Items: items}
}

// KVList constructs an ordered, key-addressable child list.
func KVList(name string, items ...Value) Value {
	return Value{Kind: KindKVList, Name: name, Items: items}
}

// Append returns v with child appended. v must be KindList or KindKVList.
func (v Value) Append(child Value) Value {
	v.Items = append(v.Items, child)
	return v
}

// Get returns the first child named name, as required by §3's "names may
// repeat; lookup returns the first match" invariant. It works for both
// KindList and KindKVList since KVList's key lookup is just positional
// lookup by name.
func (v Value) Get(name string) (Value, bool) {
	for _, c := range v.Items {
		if c.Name == name {
			return c, true
		}
	}
	return Value{}, false
}

// GetAtom is a convenience wrapper around Get for atom/flag-shaped children.
// It accepts both hand-built (Kind-tagged) and freshly parsed (always
// KindAtom) values, since the wire never distinguishes them.
func (v Value) GetAtom(name string) (string, bool) {
	c, ok := v.Get(name)
	if !ok || c.Kind == KindList || c.Kind == KindKVList || c.Kind == KindFile {
		return "", false
	}
	return c.text(), true
}

// GetNum32 is a convenience wrapper around Get for numeric children.
func (v Value) GetNum32(name string) (uint32, bool) {
	c, ok := v.Get(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(c.text(), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// GetNum64 is a convenience wrapper around Get for numeric children.
func (v Value) GetNum64(name string) (uint64, bool) {
	c, ok := v.Get(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(c.text(), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetDate is a convenience wrapper around Get for date children, decoding
// the RFC-like wire timestamp back into epoch seconds.
func (v Value) GetDate(name string) (uint64, bool) {
	c, ok := v.Get(name)
	if !ok {
		return 0, false
	}
	if c.Kind == KindDate || c.Kind == KindNum32 || c.Kind == KindNum64 {
		return c.Num, true
	}
	epoch, err := parseDateStr(c.Atom)
	if err != nil {
		return 0, false
	}
	return epoch, true
}

// GetGuid is a convenience wrapper around Get for Guid children.
func (v Value) GetGuid(name string) (guid.GUID, bool) {
	c, ok := v.Get(name)
	if !ok {
		return guid.Null, false
	}
	if c.Kind == KindGuid {
		return c.Guid, true
	}
	g, err := guid.Parse(c.text())
	if err != nil {
		return guid.Null, false
	}
	return g, true
}

// All returns every child named name, preserving order. Most callers want
// Get (first match); All exists for RECORD-style repeated children such as
// ANNOTATIONS sub-lists gathered across a batch.
func (v Value) All(name string) []Value {
	var out []Value
	for _, c := range v.Items {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
