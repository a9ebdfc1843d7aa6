package store

import (
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/replicon/mboxsync/guid"
)

// MaxCRCVers is the highest sync_crc version this reference store
// understands.
const MaxCRCVers = 2

// ErrNoCRCOverlap is returned by BestCRCVers when no version in [min,max]
// is mutually supported (SPEC_FULL.md §3.4 names the resulting kind as
// protocol.ProtocolBadParameters under strict mode).
var ErrNoCRCOverlap = errors.New("store: no overlapping sync_crc version")

type memMailbox struct {
	snapshot    FolderSnapshot
	records     []IndexRecord
	userFlags   map[string]int
	annotations map[string][]byte
}

func annotKey(entry, userid string) string { return entry + "\x00" + userid }

// MemStore is an in-memory MailStore used by this module's own tests; it
// synthesizes FolderSnapshot.UniqueID values with google/uuid the way a
// real mail store would assign a durable mailbox identifier on creation.
type MemStore struct {
	mu        sync.Mutex
	mailboxes map[string]*memMailbox
	files     map[string][]byte
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		mailboxes: make(map[string]*memMailbox),
		files:     make(map[string][]byte),
	}
}

// CreateMailbox registers a new, empty mailbox and returns its synthesized
// snapshot.
func (s *MemStore) CreateMailbox(name, partition string, mbtype MBType) FolderSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := FolderSnapshot{
		UniqueID:    uuid.NewString(),
		Name:        name,
		MBType:      mbtype,
		Partition:   partition,
		UIDValidity: 1,
	}
	s.mailboxes[name] = &memMailbox{
		snapshot:    snap,
		userFlags:   make(map[string]int),
		annotations: make(map[string][]byte),
	}
	return snap
}

// PutRecord appends rec to mailbox's record list, for test setup, and
// keeps LastUID/HighestModseq consistent with it.
func (s *MemStore) PutRecord(mailbox string, rec IndexRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxes[mailbox]
	mb.records = append(mb.records, rec)
	if rec.UID > mb.snapshot.LastUID {
		mb.snapshot.LastUID = rec.UID
	}
	if rec.Modseq > mb.snapshot.HighestModseq {
		mb.snapshot.HighestModseq = rec.Modseq
	}
}

// PutFile seeds path's content directly, for test setup of message bodies
// and pre-staged reserve files.
func (s *MemStore) PutFile(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = append([]byte(nil), content...)
}

func (s *MemStore) RecordCount(mailbox string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[mailbox]
	if !ok {
		return 0, errors.New("store: no such mailbox")
	}
	return len(mb.records), nil
}

func (s *MemStore) ReadIndexRecord(mailbox string, recno int) (IndexRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[mailbox]
	if !ok || recno < 1 || recno > len(mb.records) {
		return IndexRecord{}, errors.New("store: bad recno")
	}
	return mb.records[recno-1], nil
}

func (s *MemStore) MessageFname(mailbox string, uid uint32) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := mailbox + "/" + strconv.Itoa(int(uid))
	_, ok := s.files[path]
	return path, ok
}

func (s *MemStore) Copyfile(src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[src]
	if !ok {
		return errors.New("store: copyfile: no such source")
	}
	s.files[dst] = append([]byte(nil), content...)
	return nil
}

func (s *MemStore) AppendIndexRecord(mailbox string, rec IndexRecord) error {
	s.PutRecord(mailbox, rec)
	return nil
}

func (s *MemStore) UserFlag(mailbox, name string, create bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[mailbox]
	if !ok {
		return 0, errors.New("store: no such mailbox")
	}
	if slot, ok := mb.userFlags[name]; ok {
		return slot, nil
	}
	if !create {
		return 0, errors.New("store: unknown user flag")
	}
	if len(mb.userFlags) >= MaxUserFlags {
		return 0, errors.New("store: user flag table full")
	}
	slot := len(mb.userFlags)
	mb.userFlags[name] = slot
	return slot, nil
}

func (s *MemStore) BestCRCVers(min, max int) (int, error) {
	if max > MaxCRCVers {
		max = MaxCRCVers
	}
	if min > max {
		return 0, ErrNoCRCOverlap
	}
	return max, nil
}

func (s *MemStore) SyncCRC(mailbox string, vers int, force bool) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[mailbox]
	if !ok {
		return 0, errors.New("store: no such mailbox")
	}
	if !force && mb.snapshot.SyncCRC != 0 {
		return mb.snapshot.SyncCRC, nil
	}
	crc := crc32.NewIEEE()
	crc.Write([]byte{byte(vers)})
	for _, rec := range mb.records {
		crc.Write(rec.Guid[:])
	}
	sum := crc.Sum32()
	mb.snapshot.SyncCRC = sum
	return sum, nil
}

func (s *MemStore) ReservePath(partition string, g guid.GUID) string {
	return partition + "/reserve/" + g.String()
}

// stagingWriter buffers a staged payload in memory, committing it to the
// store's files map under ReservePath only once dlist.Parse has verified
// its checksum and closed the writer.
type stagingWriter struct {
	store *MemStore
	path  string
	buf   bytes.Buffer
}

func (w *stagingWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *stagingWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.files[w.path] = w.buf.Bytes()
	return nil
}

func (s *MemStore) Stage(partition string, g guid.GUID, size int64) (io.WriteCloser, error) {
	return &stagingWriter{store: s, path: s.ReservePath(partition, g)}, nil
}

func (s *MemStore) ListMailboxes() ([]FolderMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FolderMeta
	for _, mb := range s.mailboxes {
		out = append(out, FolderMeta{UniqueID: mb.snapshot.UniqueID, Name: mb.snapshot.Name, MBType: mb.snapshot.MBType})
	}
	return out, nil
}

func (s *MemStore) Snapshot(mailbox string) (FolderSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[mailbox]
	if !ok {
		return FolderSnapshot{}, false, nil
	}
	return mb.snapshot, true, nil
}

func (s *MemStore) NewAnnotateTxn(mailbox string, uid uint32) (AnnotateTxn, error) {
	s.mu.Lock()
	mb, ok := s.mailboxes[mailbox]
	s.mu.Unlock()
	if !ok {
		return nil, errors.New("store: no such mailbox")
	}
	return &memAnnotateTxn{store: s, mb: mb}, nil
}

type pendingWrite struct {
	entry, userid string
	value         []byte
}

// memAnnotateTxn buffers writes until Commit, matching the engine-managed
// transaction semantics from §4.F: commit on success, abort on any write
// failure.
type memAnnotateTxn struct {
	store   *MemStore
	mb      *memMailbox
	pending []pendingWrite
	done    bool
}

func (t *memAnnotateTxn) Write(entry, userid string, value []byte) error {
	if t.done {
		return errors.New("store: transaction already finished")
	}
	t.pending = append(t.pending, pendingWrite{entry, userid, append([]byte(nil), value...)})
	return nil
}

func (t *memAnnotateTxn) Commit() error {
	if t.done {
		return errors.New("store: transaction already finished")
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, w := range t.pending {
		if len(w.value) == 0 {
			delete(t.mb.annotations, annotKey(w.entry, w.userid))
			continue
		}
		t.mb.annotations[annotKey(w.entry, w.userid)] = w.value
	}
	return nil
}

func (t *memAnnotateTxn) Abort() error {
	t.done = true
	t.pending = nil
	return nil
}
