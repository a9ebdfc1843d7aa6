package replica

import (
	"fmt"

	"github.com/replicon/mboxsync/dlist"
	"github.com/replicon/mboxsync/internal/metrics"
	"github.com/replicon/mboxsync/protocol"
	"github.com/replicon/mboxsync/reconcile"
	"github.com/replicon/mboxsync/store"
)

// CRCNegotiator holds a connection's negotiated sync_crc version as an
// explicit handle rather than the original engine's process-global
// sync_crc_vers (Design Note "Global CRC version state";
// SPEC_FULL.md §3.4).
type CRCNegotiator struct {
	min, max    int
	strict      bool
	bestCRCVers func(min, max int) (int, error)

	negotiated bool
	vers       int
}

// NewCRCNegotiator constructs a handle for one connection. bestCRCVers is
// the mail store's best_crcvers callback.
func NewCRCNegotiator(min, max int, strict bool, bestCRCVers func(min, max int) (int, error)) *CRCNegotiator {
	return &CRCNegotiator{min: min, max: max, strict: strict, bestCRCVers: bestCRCVers}
}

// Version returns the negotiated version, computing it on first call.
// Under strict mode, no overlapping version is a ProtocolBadParameters
// error (mirroring the original's hard failure); non-strict falls back to
// version 0, the historical unversioned CRC.
func (n *CRCNegotiator) Version() (int, error) {
	if n.negotiated {
		return n.vers, nil
	}
	v, err := n.bestCRCVers(n.min, n.max)
	if err != nil {
		if n.strict {
			return 0, protocol.New(protocol.ProtocolBadParameters,
				fmt.Sprintf("no overlapping sync_crc version in [%d,%d]", n.min, n.max), nil)
		}
		v = 0
	}
	n.negotiated = true
	n.vers = v
	return v, nil
}

// CollectMailboxNames filters a mailbox enumeration down to mailboxes
// eligible for sync: mbtype & (RESERVE|MOVING|REMOTE) == 0, the addmbox
// filter preserved verbatim (SPEC_FULL.md §3.1).
func CollectMailboxNames(metas []store.FolderMeta) *reconcile.NameList {
	names := reconcile.NewNameList()
	const excluded = store.MBReserve | store.MBMoving | store.MBRemote
	for _, m := range metas {
		if m.MBType&excluded != 0 {
			continue
		}
		names.Add(m.Name)
	}
	return names
}

// Result is the output of Diff: the always-emitted metadata kvlist plus
// any File values that must precede it on the wire (§5's ordering
// guarantee: uploads before the RECORD batch that references them).
type Result struct {
	Meta    dlist.Value
	Uploads []dlist.Value
}

// Diff walks mailbox's index records in ascending recno order and decides,
// per record, whether to skip it, emit metadata only, or also attach the
// message payload, per §4.E's rules. remote is nil when the receiver has
// nothing yet. reserve is the partition's MsgidList, shared across every
// mailbox processed in the same exchange so first-GUID-encounter
// suppression works across mailbox boundaries (SPEC_FULL.md §3.2).
func Diff(
	ms store.MailStore,
	mailbox string,
	remote *store.FolderSnapshot,
	reserve *reconcile.MsgidList,
	printrecords bool,
	flagNames []string,
	crc *CRCNegotiator,
) (Result, error) {
	snap, ok, err := ms.Snapshot(mailbox)
	if err != nil {
		return Result{}, protocol.New(protocol.IOError, fmt.Sprintf("reading snapshot: %v", err), nil)
	}
	if !ok {
		return Result{}, protocol.New(protocol.MailboxNonexistent, mailbox, nil)
	}

	metaItems := buildMetaHeader(snap)

	if crc != nil {
		vers, err := crc.Version()
		if err != nil {
			return Result{}, err
		}
		crcVal, err := ms.SyncCRC(mailbox, vers, false)
		if err != nil {
			return Result{}, protocol.New(protocol.IOError, fmt.Sprintf("computing sync_crc: %v", err), nil)
		}
		metaItems = append(metaItems, dlist.Num32("SYNC_CRC", crcVal))
	}

	var uploads []dlist.Value
	if printrecords {
		n, err := ms.RecordCount(mailbox)
		if err != nil {
			return Result{}, protocol.New(protocol.IOError, fmt.Sprintf("reading record count: %v", err), nil)
		}

		var prevUID uint32
		for recno := 1; recno <= n; recno++ {
			rec, err := ms.ReadIndexRecord(mailbox, recno)
			if err != nil {
				return Result{}, protocol.New(protocol.IOError, fmt.Sprintf("reading record %d: %v", recno, err), nil)
			}
			if rec.UID <= prevUID {
				return Result{}, protocol.New(protocol.Corruption,
					fmt.Sprintf("non-monotonic uid in %s: %d after %d", mailbox, rec.UID, prevUID), nil)
			}
			prevUID = rec.UID

			recordItem, upload, skip := decideRecord(ms, mailbox, snap.Partition, rec, remote, reserve, flagNames)
			if skip {
				metrics.RecordsSkipped.WithLabelValues(mailbox).Inc()
				continue
			}
			if upload != nil {
				uploads = append(uploads, *upload)
				metrics.BytesUploaded.WithLabelValues(snap.Partition).Add(float64(rec.Size))
			}
			metrics.RecordsSent.WithLabelValues(mailbox).Inc()
			metaItems = append(metaItems, recordItem)
		}
	}

	return Result{Meta: dlist.KVList("", metaItems...), Uploads: uploads}, nil
}

func buildMetaHeader(snap store.FolderSnapshot) []dlist.Value {
	items := []dlist.Value{
		dlist.Atom("UNIQUEID", snap.UniqueID),
		dlist.Atom("MBOXNAME", snap.Name),
	}
	if snap.MBType != store.MBNormal {
		items = append(items, dlist.Num32("MBOXTYPE", uint32(snap.MBType)))
	}
	items = append(items,
		dlist.Num32("LAST_UID", snap.LastUID),
		dlist.Num64("HIGHESTMODSEQ", snap.HighestModseq),
		dlist.Num32("RECENTUID", snap.RecentUID),
		dlist.Date("RECENTTIME", snap.RecentTime),
		dlist.Date("LAST_APPENDDATE", snap.LastAppendDate),
		dlist.Date("POP3_LAST_LOGIN", snap.Pop3LastLogin),
		dlist.Date("POP3_SHOW_AFTER", snap.Pop3ShowAfter),
		dlist.Num32("UIDVALIDITY", snap.UIDValidity),
		dlist.Atom("PARTITION", snap.Partition),
		dlist.Atom("ACL", snap.ACL),
		dlist.Atom("OPTIONS", snap.Options),
	)
	if snap.QuotaRoot != "" {
		items = append(items, dlist.Atom("QUOTAROOT", snap.QuotaRoot))
	}
	if len(snap.Annotations) > 0 {
		items = append(items, encodeAnnotations(snap.Annotations))
	}
	return items
}

func encodeAnnotations(annots []store.Annotation) dlist.Value {
	items := make([]dlist.Value, 0, len(annots))
	for _, a := range annots {
		items = append(items, dlist.KVList("", dlist.Atom("ENTRY", a.Entry), dlist.Atom("USERID", a.Userid), dlist.Map("VALUE", a.Value)))
	}
	return dlist.List("ANNOTATIONS", items...)
}

// decideRecord applies §4.E rule 2's skip/metadata-only/upload decision
// tree to one record, and returns the RECORD kvlist to append to meta, an
// optional File value to append to uploads, and whether the record should
// be skipped (not emitted at all).
func decideRecord(
	ms store.MailStore,
	mailbox, partition string,
	rec store.IndexRecord,
	remote *store.FolderSnapshot,
	reserve *reconcile.MsgidList,
	flagNames []string,
) (dlist.Value, *dlist.Value, bool) {
	sendFile := true

	if remote != nil && rec.Modseq <= remote.HighestModseq {
		return dlist.Value{}, nil, true
	}
	if remote != nil && rec.UID <= remote.LastUID {
		sendFile = false
	}
	if reserve == nil {
		sendFile = false
	}
	if rec.SystemFlags&store.FlagUnlinked != 0 {
		sendFile = false
	}

	var upload *dlist.Value
	if sendFile && !rec.Guid.IsNull() {
		_, alreadyKnown := reserve.Lookup(rec.Guid)
		if e := reserve.Add(rec.Guid, true); e != nil && e.NeedUpload {
			if path, ok := ms.MessageFname(mailbox, rec.UID); ok {
				f := dlist.FileRef("MESSAGE", dlist.File{Partition: partition, Guid: rec.Guid, Size: int64(rec.Size), Path: path})
				upload = &f
				reserve.MarkUploaded(rec.Guid)
			}
		} else if alreadyKnown {
			metrics.ReserveCacheHits.Inc()
		}
	}

	recordItems := []dlist.Value{
		dlist.Num32("UID", rec.UID),
		dlist.Num64("MODSEQ", rec.Modseq),
		dlist.Date("LAST_UPDATED", rec.LastUpdated),
		flagsValue(rec, flagNames),
		dlist.Date("INTERNALDATE", rec.InternalDate),
		dlist.Num32("SIZE", rec.Size),
		dlist.Guid("GUID", rec.Guid),
	}
	return dlist.KVList("RECORD", recordItems...), upload, false
}

func flagsValue(rec store.IndexRecord, flagNames []string) dlist.Value {
	return dlist.List("FLAGS", EncodeFlags(rec, flagNames)...)
}
