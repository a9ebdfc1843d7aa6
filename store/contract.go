package store

import (
	"io"

	"github.com/replicon/mboxsync/guid"
)

// AnnotateTxn is one annotation-store transaction, scoped by the caller to
// either a single message or a whole mailbox (§4.F).
type AnnotateTxn interface {
	Write(entry, userid string, value []byte) error
	Commit() error
	Abort() error
}

// MailStore is the required external collaborator (§6): index reads and
// writes, file naming, annotation and quota transactions, CRC negotiation
// and user-flag interning. The engine never touches a mailbox's on-disk
// layout directly.
type MailStore interface {
	// RecordCount returns N, the number of index records in mailbox, so
	// the diff pass can scan recno 1..N (§4.E).
	RecordCount(mailbox string) (int, error)

	// ReadIndexRecord reads one record by its 1-based recno.
	ReadIndexRecord(mailbox string, recno int) (IndexRecord, error)

	// MessageFname returns the on-disk path for uid's message body, and
	// whether it still exists locally.
	MessageFname(mailbox string, uid uint32) (path string, ok bool)

	// Copyfile copies src to dst, used to materialize a staged reserved
	// file into a mailbox's message file on append.
	Copyfile(src, dst string) error

	// AppendIndexRecord writes one new index record (the receive side of
	// an APPLY).
	AppendIndexRecord(mailbox string, rec IndexRecord) error

	// UserFlag interns name as a user flag slot for mailbox, creating it
	// if create is set and the name is unseen.
	UserFlag(mailbox, name string, create bool) (slot int, err error)

	// BestCRCVers selects the highest mutually supported sync_crc version
	// in [min,max].
	BestCRCVers(min, max int) (int, error)

	// SyncCRC computes mailbox's checksum at the given version; force
	// bypasses any cached value.
	SyncCRC(mailbox string, vers int, force bool) (uint32, error)

	// ReservePath returns the deterministic content-addressed staging
	// path for (partition, g).
	ReservePath(partition string, g guid.GUID) string

	// NewAnnotateTxn opens a transaction scoped to mailbox (uid == 0) or
	// to a single message (uid != 0).
	NewAnnotateTxn(mailbox string, uid uint32) (AnnotateTxn, error)

	// Stage opens a destination for a message payload arriving over the
	// wire, sized size bytes, at the same content-addressed path
	// ReservePath would compute. This is the receive side of a MESSAGE
	// upload preceding an APPLY (§4.H); the caller closes the writer once
	// the literal has been streamed and dlist has verified its GUID.
	Stage(partition string, g guid.GUID, size int64) (io.WriteCloser, error)

	// ListMailboxes enumerates every mailbox this store knows about, for
	// CollectMailboxNames to filter (SPEC_FULL.md §3.1).
	ListMailboxes() ([]FolderMeta, error)

	// Snapshot returns mailbox's current FolderSnapshot, or ok=false if
	// the mailbox does not exist.
	Snapshot(mailbox string) (FolderSnapshot, bool, error)
}
