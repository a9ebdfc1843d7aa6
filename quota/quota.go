// Package quota implements the replication engine's wire encoding for
// per-mailbox-root resource limits, including the backward-compatibility
// LIMIT key older peers expect. See §6 "Quota encoding".
package quota

import (
	"math"

	"github.com/replicon/mboxsync/dlist"
)

// Resource names a quota-limited dimension. STORAGE is first so its zero
// value matches the historical "limits[0]" slot the LIMIT key shadows.
type Resource int

const (
	Storage Resource = iota
	Message
	AnnotStorage
	NumResources
)

func (r Resource) wireName() string {
	switch r {
	case Storage:
		return "STORAGE"
	case Message:
		return "MESSAGE"
	case AnnotStorage:
		return "ANNOTSTORAGE"
	default:
		return ""
	}
}

// Unlimited is the distinguished "no limit" sentinel; limits are otherwise
// non-negative.
const Unlimited int64 = -1

// unlimitedWire is the large unsigned value historically sent in place of
// the negative UNLIMITED sentinel, for peers that only understand unsigned
// LIMIT fields.
const unlimitedWire uint64 = math.MaxUint32

// Quota is a mailbox root's resource limits.
type Quota struct {
	Root   string
	Limits [NumResources]int64
}

// New returns a Quota with every resource unlimited.
func New(root string) Quota {
	q := Quota{Root: root}
	for i := range q.Limits {
		q.Limits[i] = Unlimited
	}
	return q
}

// Encode renders q as a KVList: always a LIMIT key mirroring Storage for
// backward compatibility, plus one key per non-negative resource limit.
func Encode(q Quota) dlist.Value {
	items := []dlist.Value{
		dlist.Atom("QUOTAROOT", q.Root),
		dlist.Num64("LIMIT", limitWireValue(q.Limits[Storage])),
	}
	for r := Resource(0); r < NumResources; r++ {
		if q.Limits[r] < 0 {
			continue
		}
		name := r.wireName()
		if name == "" {
			continue
		}
		items = append(items, dlist.Num64(name, uint64(q.Limits[r])))
	}
	return dlist.KVList("", items...)
}

func limitWireValue(limit int64) uint64 {
	if limit < 0 {
		return unlimitedWire
	}
	return uint64(limit)
}

// Decode reverses Encode: every resource starts UNLIMITED, LIMIT overlays
// STORAGE, then each per-resource key overlays its own slot, matching the
// backward-compatibility overlay order from §6.
func Decode(v dlist.Value) Quota {
	q := New("")
	if root, ok := v.GetAtom("QUOTAROOT"); ok {
		q.Root = root
	}
	if limit, ok := v.GetNum64("LIMIT"); ok {
		q.Limits[Storage] = decodeWireValue(limit)
	}
	for r := Resource(0); r < NumResources; r++ {
		name := r.wireName()
		if name == "" {
			continue
		}
		if n, ok := v.GetNum64(name); ok {
			q.Limits[r] = decodeWireValue(n)
		}
	}
	return q
}

func decodeWireValue(n uint64) int64 {
	if n >= unlimitedWire {
		return Unlimited
	}
	return int64(n)
}
