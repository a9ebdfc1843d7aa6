// Package store declares the mail-store contract the replication engine
// depends on (§6) and ships an in-memory reference implementation used by
// this module's own tests, grounded on the original engine's imap/sync_
// support.c mailbox-handle abstraction.
package store

import "github.com/replicon/mboxsync/guid"

// SystemFlags is the bitset of built-in per-message flags (§3 IndexRecord).
type SystemFlags uint8

const (
	FlagSeen SystemFlags = 1 << iota
	FlagAnswered
	FlagFlagged
	FlagDeleted
	FlagDraft
	FlagExpunged
	FlagUnlinked
)

// systemFlagOrder is the literal wire token for each bit, in the order
// sync_getflags/sync_print_flags emit them (\Unlinked is deliberately
// absent: unlinked messages never have their flags printed, see §4.E).
var systemFlagOrder = []struct {
	bit   SystemFlags
	token string
}{
	{FlagAnswered, `\Answered`},
	{FlagFlagged, `\Flagged`},
	{FlagDeleted, `\Deleted`},
	{FlagDraft, `\Draft`},
	{FlagExpunged, `\Expunged`},
	{FlagSeen, `\Seen`},
}

// MaxUserFlags bounds the per-mailbox user-defined flag slot table.
const MaxUserFlags = 128

// UserFlags is a fixed-width bitset of per-mailbox user flag slots.
type UserFlags [MaxUserFlags / 64]uint64

func (u UserFlags) IsSet(slot int) bool {
	if slot < 0 || slot >= MaxUserFlags {
		return false
	}
	return u[slot/64]&(1<<uint(slot%64)) != 0
}

func (u *UserFlags) Set(slot int) {
	if slot < 0 || slot >= MaxUserFlags {
		return
	}
	u[slot/64] |= 1 << uint(slot%64)
}

// MBType classifies a mailbox enumeration entry. Normal (the zero value)
// is the only type the engine ever offers for sync; Reserve/Moving/Remote
// entries are filtered out by CollectMailboxNames (SPEC_FULL.md §3.1).
type MBType uint8

const (
	MBNormal  MBType = 0
	MBReserve MBType = 1 << 0
	MBMoving  MBType = 1 << 1
	MBRemote  MBType = 1 << 2
)

// IndexRecord is the per-message row projection the engine diffs and
// uploads (§3).
type IndexRecord struct {
	UID          uint32
	Modseq       uint64
	LastUpdated  uint64
	InternalDate uint64
	Size         uint32
	Guid         guid.GUID
	SystemFlags  SystemFlags
	UserFlags    UserFlags
}

// EncodeSystemFlags renders rec's system flags as their literal wire
// tokens, in the original engine's fixed printing order.
func EncodeSystemFlags(flags SystemFlags) []string {
	var out []string
	for _, e := range systemFlagOrder {
		if flags&e.bit != 0 {
			out = append(out, e.token)
		}
	}
	return out
}

// Annotation is one annotation store row (§3).
type Annotation struct {
	Entry  string
	Userid string
	Value  []byte
}

// FolderSnapshot describes one replica's view of a single mailbox (§3).
type FolderSnapshot struct {
	UniqueID       string
	Name           string
	MBType         MBType
	Partition      string
	ACL            string
	Options        string
	UIDValidity    uint32
	LastUID        uint32
	HighestModseq  uint64
	SyncCRC        uint32
	RecentUID      uint32
	RecentTime     uint64
	LastAppendDate uint64
	Pop3LastLogin  uint64
	Pop3ShowAfter  uint64
	QuotaRoot      string
	Annotations    []Annotation
}

// FolderMeta is the enumeration-level view of a mailbox used when building
// the name list of mailboxes offered for sync (SPEC_FULL.md §3.1);
// MBType carries the RESERVE/MOVING/REMOTE bits addmbox filters on.
type FolderMeta struct {
	UniqueID string
	Name     string
	MBType   MBType
}
