package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/replicon/mboxsync/annotation"
	"github.com/replicon/mboxsync/dlist"
	"github.com/replicon/mboxsync/guid"
	"github.com/replicon/mboxsync/log"
	"github.com/replicon/mboxsync/protocol"
	"github.com/replicon/mboxsync/quota"
	"github.com/replicon/mboxsync/reconcile"
	"github.com/replicon/mboxsync/replica"
	"github.com/replicon/mboxsync/sieve"
	"github.com/replicon/mboxsync/store"
)

// storeStager adapts a store.MailStore into a dlist.Stager, so an
// incoming MESSAGE file sentinel is actually written to the store instead
// of verified and discarded (the nil-Stager path in dlist.Parse).
type storeStager struct{ ms store.MailStore }

func (s storeStager) Create(partition string, g guid.GUID, size int64) (io.WriteCloser, error) {
	return s.ms.Stage(partition, g, size)
}

func (s storeStager) StagedPath(partition string, g guid.GUID) string {
	return s.ms.ReservePath(partition, g)
}

// session is one connection's accumulated state: the deferred work queues
// §4.J describes the server-side loop collecting across a batch of
// APPLYs (SeenList/RenameList/FolderList/QuotaList/SieveList/ActionList).
type session struct {
	ms        store.MailStore
	crc       *replica.CRCNegotiator
	sieveRoot string
	alg       guid.Algorithm
	logger    log.Logger

	folders *reconcile.FolderList
	renames *reconcile.RenameList
	quotas  *reconcile.QuotaList
	sieves  *reconcile.SieveList
	seens   *reconcile.SeenList
	actions *reconcile.ActionList
}

func newSession(ms store.MailStore, crc *replica.CRCNegotiator, sieveRoot string, logger log.Logger) *session {
	return &session{
		ms:        ms,
		crc:       crc,
		sieveRoot: sieveRoot,
		alg:       guid.SHA1,
		logger:    logger,
		folders:   reconcile.NewFolderList(),
		renames:   reconcile.NewRenameList(),
		quotas:    reconcile.NewQuotaList(),
		sieves:    reconcile.NewSieveList(),
		seens:     reconcile.NewSeenList(),
		actions:   reconcile.NewActionList(),
	}
}

// handle dispatches one verb's body and returns any untagged reply items
// to push before the terminal OK/NO (§4.H). GET is the only verb that
// ever produces untagged data; APPLY and SET return none on success.
func (sess *session) handle(verb string, body dlist.Value) ([]dlist.Value, error) {
	switch verb {
	case "APPLY":
		return nil, sess.apply(body)
	case "GET":
		return sess.get(body)
	case "SET":
		// The wire carries no sub-verb field distinguishing SET from
		// APPLY (§4.H); both single-shot verbs are routed through the
		// same body-shape dispatch, matching the wire's untyped bodies.
		return nil, sess.apply(body)
	default:
		return nil, protocol.New(protocol.ProtocolErr, fmt.Sprintf("unexpected verb %q", verb), nil)
	}
}

func hasKey(v dlist.Value, name string) bool {
	_, ok := v.Get(name)
	return ok
}

// apply infers which kind of APPLY this is from which top-level keys the
// body carries, since the three single-shot verbs have no sub-verb word
// of their own (§4.H).
func (sess *session) apply(body dlist.Value) error {
	switch {
	case hasKey(body, "MBOXNAME") && len(body.All("RECORD")) > 0:
		return sess.applyMailbox(body)
	case hasKey(body, "SCRIPTNAME"):
		return sess.applySieve(body)
	case hasKey(body, "QUOTAROOT") && hasKey(body, "LIMIT"):
		return sess.applyQuota(body)
	case hasKey(body, "OLDMAILBOXNAME"):
		return sess.applyRename(body)
	case hasKey(body, "LASTUID") && hasKey(body, "UNIQUEID"):
		return sess.applySeen(body)
	case hasKey(body, "NAME"):
		return sess.applyAction(body)
	case hasKey(body, "MBOXNAME"):
		return sess.applyFolder(body)
	default:
		return protocol.New(protocol.ProtocolBadParameters, "unrecognized APPLY body shape", nil)
	}
}

// applyMailbox consumes a RECORD batch (and any attached ANNOTATIONS
// sublist) for one mailbox: decode flags, intern user flags, and commit
// each record (§2's "dispatch selects E/F/G ... F consumes annotation
// sublists and commits").
func (sess *session) applyMailbox(body dlist.Value) error {
	mailbox, ok := body.GetAtom("MBOXNAME")
	if !ok {
		return protocol.New(protocol.ProtocolBadParameters, "APPLY missing MBOXNAME", nil)
	}

	if uniqueID, ok := body.GetAtom("UNIQUEID"); ok {
		sess.folders.Add(uniqueID, mailbox)
	}
	if optStr, ok := body.GetAtom("OPTIONS"); ok {
		opts := store.ParseOptions(optStr)
		sess.logger.Msg("mailbox options", "mailbox", mailbox, "options", store.EncodeOptions(opts))
	}
	if root, ok := body.GetAtom("QUOTAROOT"); ok {
		sess.quotas.Add(root)
	}

	for _, rv := range body.All("RECORD") {
		rec, err := sess.decodeRecord(mailbox, rv)
		if err != nil {
			return err
		}
		if err := sess.ms.AppendIndexRecord(mailbox, rec); err != nil {
			return protocol.New(protocol.IOError, fmt.Sprintf("appending record: %v", err), nil)
		}
	}

	if annots, ok := body.Get("ANNOTATIONS"); ok {
		if err := sess.applyAnnotations(mailbox, 0, annots); err != nil {
			return err
		}
	}
	return nil
}

func (sess *session) decodeRecord(mailbox string, rv dlist.Value) (store.IndexRecord, error) {
	uid, _ := rv.GetNum32("UID")
	modseq, _ := rv.GetNum64("MODSEQ")
	lastUpdated, _ := rv.GetDate("LAST_UPDATED")
	internalDate, _ := rv.GetDate("INTERNALDATE")
	size, _ := rv.GetNum32("SIZE")
	g, _ := rv.GetGuid("GUID")

	rec := store.IndexRecord{
		UID:          uid,
		Modseq:       modseq,
		LastUpdated:  lastUpdated,
		InternalDate: internalDate,
		Size:         size,
		Guid:         g,
	}

	if flags, ok := rv.Get("FLAGS"); ok {
		tokens := make([]string, 0, len(flags.Items))
		for _, it := range flags.Items {
			tokens = append(tokens, it.Atom)
		}
		internFlag := func(name string) (int, error) { return sess.ms.UserFlag(mailbox, name, true) }
		if err := replica.DecodeFlags(tokens, &rec.SystemFlags, &rec.UserFlags, internFlag); err != nil {
			return store.IndexRecord{}, err
		}
	}
	return rec, nil
}

// applyAnnotations runs the §4.F merge against an empty local side: this
// mail store contract has no operation to read back existing annotations,
// so every incoming value is treated as authoritative, still exercising
// the real three-way merge algorithm and its transaction discipline.
func (sess *session) applyAnnotations(mailbox string, uid uint32, annots dlist.Value) error {
	remote := reconcile.NewAnnotList()
	for _, e := range annots.Items {
		entry, _ := e.GetAtom("ENTRY")
		userid, _ := e.GetAtom("USERID")
		val, _ := e.Get("VALUE")
		remote.Add(entry, userid, val.Map)
	}
	remote.Sort()

	txn, err := sess.ms.NewAnnotateTxn(mailbox, uid)
	if err != nil {
		return protocol.New(protocol.IOError, fmt.Sprintf("opening annotate transaction: %v", err), nil)
	}
	return annotation.Merge(txn, reconcile.NewAnnotList(), remote, false)
}

// applySieve routes one sieve file-set mutation: CONTENT uploads the
// script, ACTIVE flips the defaultbc symlink, DELETE removes it (§4.G).
func (sess *session) applySieve(body dlist.Value) error {
	name, ok := body.GetAtom("SCRIPTNAME")
	if !ok {
		return protocol.New(protocol.ProtocolBadParameters, "sieve APPLY missing SCRIPTNAME", nil)
	}
	d := sieve.Dir{Path: sess.sieveRoot, Alg: sess.alg}

	if del, ok := body.GetAtom("DELETE"); ok && del == "1" {
		if err := d.Delete(name); err != nil {
			return err
		}
		sess.sieves.Add(name, 0, guid.Null)
		return nil
	}

	if content, ok := body.Get("CONTENT"); ok {
		lastUpdate, _ := body.GetNum64("LAST_UPDATE")
		if err := d.Upload(name, bytes.NewReader(content.Map), lastUpdate); err != nil {
			return err
		}
		sess.sieves.Add(name, lastUpdate, guid.Of(sess.alg, content.Map))
	}

	if active, ok := body.GetAtom("ACTIVE"); ok {
		if active == "1" {
			if err := d.Activate(name); err != nil {
				return err
			}
			if e, found := sess.sieves.Lookup(name); found {
				e.Active = true
			}
		} else if err := d.Deactivate(); err != nil {
			return err
		}
	}
	return nil
}

// applyQuota decodes an incoming quota root's limits. The quota database
// itself is out of scope (spec.md §1's non-goals); this records the root
// as touched and logs the decoded limits for visibility.
func (sess *session) applyQuota(body dlist.Value) error {
	q := quota.Decode(body)
	sess.quotas.Add(q.Root)
	sess.logger.Msg("quota applied", "root", q.Root, "storage_limit", q.Limits[quota.Storage])
	return nil
}

// applyRename records a pending mailbox rename in the session's
// RenameList. No rename is performed; nothing in this server walks the
// list afterwards.
func (sess *session) applyRename(body dlist.Value) error {
	uniqueID, _ := body.GetAtom("UNIQUEID")
	oldName, _ := body.GetAtom("OLDMAILBOXNAME")
	newName, _ := body.GetAtom("NEWMAILBOXNAME")
	newPartition, _ := body.GetAtom("NEWPARTITION")
	sess.renames.Add(uniqueID, oldName, newName, newPartition)
	return nil
}

// applySeen records one user's \Seen-state row for later reconciliation.
func (sess *session) applySeen(body dlist.Value) error {
	uniqueID, _ := body.GetAtom("UNIQUEID")
	e := sess.seens.Add(uniqueID)
	if lastread, ok := body.GetNum64("LASTREAD"); ok {
		e.Lastread = lastread
	}
	if lastuid, ok := body.GetNum32("LASTUID"); ok {
		e.Lastuid = lastuid
	}
	if lastchange, ok := body.GetNum64("LASTCHANGE"); ok {
		e.Lastchange = lastchange
	}
	if seenuids, ok := body.GetAtom("SEENUIDS"); ok {
		e.Seenuids = seenuids
	}
	return nil
}

// applyFolder records a bare mailbox-enumeration APPLY (no RECORD batch
// attached), used by the folder-tree walk to seed FolderList ahead of any
// per-message APPLYs (§3.1).
func (sess *session) applyFolder(body dlist.Value) error {
	mailbox, _ := body.GetAtom("MBOXNAME")
	uniqueID, _ := body.GetAtom("UNIQUEID")
	sess.folders.Add(uniqueID, mailbox)
	return nil
}

// applyAction queues one deferred post-sync side effect (§4.J). NAME
// names the action; USER, if present, scopes it to one user.
func (sess *session) applyAction(body dlist.Value) error {
	name, ok := body.GetAtom("NAME")
	if !ok {
		return protocol.New(protocol.ProtocolBadParameters, "APPLY missing NAME", nil)
	}
	var userPtr *string
	if user, ok := body.GetAtom("USER"); ok {
		userPtr = &user
	}
	sess.actions.Add(&name, userPtr)
	return nil
}

// get answers a GET by diffing the requested mailbox against nothing
// remote, so the caller always gets back every record (a full resync
// fetch, the mirror image of the client's own Diff call in §4.E).
func (sess *session) get(body dlist.Value) ([]dlist.Value, error) {
	mailbox, ok := body.GetAtom("MBOXNAME")
	if !ok {
		return nil, protocol.New(protocol.ProtocolBadParameters, "GET missing MBOXNAME", nil)
	}
	result, err := replica.Diff(sess.ms, mailbox, nil, nil, true, nil, sess.crc)
	if err != nil {
		return nil, err
	}
	items := make([]dlist.Value, 0, len(result.Uploads)+1)
	items = append(items, result.Uploads...)
	items = append(items, result.Meta)
	return items, nil
}
