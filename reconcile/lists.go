package reconcile

import (
	"sort"

	"github.com/replicon/mboxsync/guid"
)

// FolderEntry is one mailbox seen while walking a user's folder tree.
type FolderEntry struct {
	UniqueID string
	Name     string
	Mark     bool
	Done     bool
}

// FolderList is the ordered set of mailboxes a sync pass must visit.
type FolderList struct{ entries []*FolderEntry }

func NewFolderList() *FolderList { return &FolderList{} }

func (l *FolderList) Add(uniqueID, name string) *FolderEntry {
	e := &FolderEntry{UniqueID: uniqueID, Name: name}
	l.entries = append(l.entries, e)
	return e
}

func (l *FolderList) Lookup(uniqueID string) (*FolderEntry, bool) {
	for _, e := range l.entries {
		if e.UniqueID == uniqueID {
			return e, true
		}
	}
	return nil, false
}

func (l *FolderList) Entries() []*FolderEntry { return l.entries }
func (l *FolderList) Count() int              { return len(l.entries) }

// RenameEntry describes one pending rename discovered by comparing local
// and remote folder uniqueids against their names.
type RenameEntry struct {
	UniqueID     string
	OldMailbox   string
	NewMailbox   string
	NewPartition string
	Done         bool
}

// RenameList is the ordered set of renames still to apply, oldest first so
// that intermediate collisions (A->B, B->C) resolve in visitation order.
type RenameList struct{ entries []*RenameEntry }

func NewRenameList() *RenameList { return &RenameList{} }

func (l *RenameList) Add(uniqueID, oldMailbox, newMailbox, newPartition string) *RenameEntry {
	e := &RenameEntry{UniqueID: uniqueID, OldMailbox: oldMailbox, NewMailbox: newMailbox, NewPartition: newPartition}
	l.entries = append(l.entries, e)
	return e
}

func (l *RenameList) Entries() []*RenameEntry { return l.entries }
func (l *RenameList) Count() int              { return len(l.entries) }

// QuotaEntry names one quota root still pending reconciliation.
type QuotaEntry struct {
	Root string
	Done bool
}

// QuotaList is the ordered set of quota roots touched during a sync pass.
type QuotaList struct{ entries []*QuotaEntry }

func NewQuotaList() *QuotaList { return &QuotaList{} }

func (l *QuotaList) Add(root string) *QuotaEntry {
	if e, ok := l.Lookup(root); ok {
		return e
	}
	e := &QuotaEntry{Root: root}
	l.entries = append(l.entries, e)
	return e
}

func (l *QuotaList) Lookup(root string) (*QuotaEntry, bool) {
	for _, e := range l.entries {
		if e.Root == root {
			return e, true
		}
	}
	return nil, false
}

func (l *QuotaList) Entries() []*QuotaEntry { return l.entries }
func (l *QuotaList) Count() int             { return len(l.entries) }

// SieveEntry mirrors one script found during sieve directory inventory.
type SieveEntry struct {
	Name       string
	LastUpdate uint64
	Guid       guid.GUID
	Active     bool
	Mark       bool
}

// SieveList is the ordered inventory of one user's sieve scripts.
type SieveList struct{ entries []*SieveEntry }

func NewSieveList() *SieveList { return &SieveList{} }

func (l *SieveList) Add(name string, lastUpdate uint64, g guid.GUID) *SieveEntry {
	e := &SieveEntry{Name: name, LastUpdate: lastUpdate, Guid: g}
	l.entries = append(l.entries, e)
	return e
}

func (l *SieveList) Lookup(name string) (*SieveEntry, bool) {
	for _, e := range l.entries {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

func (l *SieveList) Entries() []*SieveEntry { return l.entries }
func (l *SieveList) Count() int             { return len(l.entries) }

// NameList is a simple ordered set of strings, deduplicated on strict byte
// equality (mailbox name lists, flag-name tables and the like).
type NameList struct {
	names []string
	seen  map[string]bool
}

func NewNameList() *NameList { return &NameList{seen: make(map[string]bool)} }

// Add inserts name if not already present, returning whether it was new.
func (l *NameList) Add(name string) bool {
	if l.seen[name] {
		return false
	}
	l.seen[name] = true
	l.names = append(l.names, name)
	return true
}

func (l *NameList) Contains(name string) bool { return l.seen[name] }
func (l *NameList) Names() []string            { return l.names }
func (l *NameList) Count() int                 { return len(l.names) }

// SeenEntry is one user's \Seen-state record for a single mailbox.
type SeenEntry struct {
	UniqueID   string
	Lastread   uint64
	Lastuid    uint32
	Lastchange uint64
	Seenuids   string
	Mark       bool
}

// SeenList is the ordered set of per-mailbox seen-state records collected
// for one user during a sync pass.
type SeenList struct{ entries []*SeenEntry }

func NewSeenList() *SeenList { return &SeenList{} }

func (l *SeenList) Add(uniqueID string) *SeenEntry {
	e := &SeenEntry{UniqueID: uniqueID}
	l.entries = append(l.entries, e)
	return e
}

func (l *SeenList) Lookup(uniqueID string) (*SeenEntry, bool) {
	for _, e := range l.entries {
		if e.UniqueID == uniqueID {
			return e, true
		}
	}
	return nil, false
}

func (l *SeenList) Entries() []*SeenEntry { return l.entries }
func (l *SeenList) Count() int            { return len(l.entries) }

// AnnotEntry is one annotation value, keyed by (Entry, Userid) as required
// by the merge precondition in §4.F.
type AnnotEntry struct {
	Entry  string
	Userid string
	Value  []byte
	Mark   bool
}

// AnnotList is an ordered collection of annotations. Add appends at the
// tail in caller-supplied order; Sort restores the ascending-(entry,userid)
// order the merge algorithm requires, for callers that built the list out
// of order.
type AnnotList struct{ entries []*AnnotEntry }

func NewAnnotList() *AnnotList { return &AnnotList{} }

func (l *AnnotList) Add(entry, userid string, value []byte) *AnnotEntry {
	e := &AnnotEntry{Entry: entry, Userid: userid, Value: value}
	l.entries = append(l.entries, e)
	return e
}

// Sort orders entries ascending by (Entry, Userid), matching the wire
// format's empty-string-sorts-first treatment of an absent userid.
func (l *AnnotList) Sort() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		a, b := l.entries[i], l.entries[j]
		if a.Entry != b.Entry {
			return a.Entry < b.Entry
		}
		return a.Userid < b.Userid
	})
}

func (l *AnnotList) Entries() []*AnnotEntry { return l.entries }
func (l *AnnotList) Count() int             { return len(l.entries) }

// ActionEntry is one deferred post-sync side effect, identified by the pair
// (Name, User). Either half may be nil ("null"); two entries with both
// halves nil-or-equal are the same action.
type ActionEntry struct {
	Name   *string
	User   *string
	Active bool
	Mark   bool
}

func actionKeyEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ActionList is the deduplicated queue of post-sync work items (mailbox
// unsolicited-push notices, sieve-activation signals, and similar).
type ActionList struct{ entries []*ActionEntry }

func NewActionList() *ActionList { return &ActionList{} }

// Add inserts (name, user) if no existing entry matches under
// null-matches-null semantics, returning the (possibly pre-existing) entry.
func (l *ActionList) Add(name, user *string) *ActionEntry {
	for _, e := range l.entries {
		if actionKeyEqual(e.Name, name) && actionKeyEqual(e.User, user) {
			e.Active = true
			return e
		}
	}
	e := &ActionEntry{Name: name, User: user, Active: true}
	l.entries = append(l.entries, e)
	return e
}

func (l *ActionList) Entries() []*ActionEntry { return l.entries }
func (l *ActionList) Count() int              { return len(l.entries) }
