// Package reconcile holds the connection-scoped in-memory collections the
// replication engine accumulates while walking a mailbox or a whole user:
// message-id reservation sets, pending folder/rename/quota/sieve work, and
// the annotation and action queues that drive the later commit passes.
package reconcile

import "github.com/replicon/mboxsync/guid"

// MsgidEntry records one message payload's upload state within a single
// partition's reservation set.
type MsgidEntry struct {
	Guid       guid.GUID
	NeedUpload bool
}

// MsgidList is the content-addressed reservation set for one partition:
// insertion order is preserved for iteration, and GUID lookup is O(1) via
// an index map (the hash-chaining the engine historically used by hand;
// Go's map gives the same guarantee without the bookkeeping).
type MsgidList struct {
	entries  []*MsgidEntry
	index    map[guid.GUID]*MsgidEntry
	toupload int
}

// NewMsgidList returns an empty reservation set.
func NewMsgidList() *MsgidList {
	return &MsgidList{index: make(map[guid.GUID]*MsgidEntry)}
}

// Add inserts g with the given upload need, idempotently: a GUID already
// present is returned unchanged and needUpload is ignored on the second
// call. The null GUID is silently dropped, matching the "no identity"
// sentinel's exclusion from membership tracking.
func (l *MsgidList) Add(g guid.GUID, needUpload bool) *MsgidEntry {
	if g.IsNull() {
		return nil
	}
	if e, ok := l.index[g]; ok {
		return e
	}
	e := &MsgidEntry{Guid: g, NeedUpload: needUpload}
	l.entries = append(l.entries, e)
	l.index[g] = e
	if needUpload {
		l.toupload++
	}
	return e
}

// Lookup reports whether g is a member and returns its entry.
func (l *MsgidList) Lookup(g guid.GUID) (*MsgidEntry, bool) {
	e, ok := l.index[g]
	return e, ok
}

// MarkUploaded transitions g's NeedUpload from true to false and decrements
// the pending-upload counter. It reports false if g is not a member or was
// already marked uploaded.
func (l *MsgidList) MarkUploaded(g guid.GUID) bool {
	e, ok := l.index[g]
	if !ok || !e.NeedUpload {
		return false
	}
	e.NeedUpload = false
	l.toupload--
	return true
}

// Count returns the number of distinct non-null GUIDs inserted.
func (l *MsgidList) Count() int { return len(l.entries) }

// ToUpload returns how many members still have NeedUpload set.
func (l *MsgidList) ToUpload() int { return l.toupload }

// Entries returns the members in insertion order. Callers must not mutate
// the returned slice.
func (l *MsgidList) Entries() []*MsgidEntry { return l.entries }

// ReserveList is an ordered collection of per-partition MsgidLists: the
// authoritative record of which content-addressed payloads a remote still
// needs, scoped to one replication exchange.
type ReserveList struct {
	order  []string
	bypart map[string]*MsgidList
}

// NewReserveList returns an empty reserve list.
func NewReserveList() *ReserveList {
	return &ReserveList{bypart: make(map[string]*MsgidList)}
}

// Partlist returns partition's MsgidList, creating it empty on first use.
func (r *ReserveList) Partlist(partition string) *MsgidList {
	if l, ok := r.bypart[partition]; ok {
		return l
	}
	l := NewMsgidList()
	r.bypart[partition] = l
	r.order = append(r.order, partition)
	return l
}

// Partitions returns the partitions touched so far, in first-use order.
func (r *ReserveList) Partitions() []string { return r.order }

// NeedsUpload reports whether the payload identified by (partition, g) must
// still be sent: either it has never been seen on this partition, or it was
// seen but not yet marked uploaded.
func (r *ReserveList) NeedsUpload(partition string, g guid.GUID) bool {
	l, ok := r.bypart[partition]
	if !ok {
		return true
	}
	e, ok := l.Lookup(g)
	if !ok {
		return true
	}
	return e.NeedUpload
}
