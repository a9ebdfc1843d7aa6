package replica

import (
	"bytes"
	"strings"
	"testing"

	"github.com/replicon/mboxsync/dlist"
	"github.com/replicon/mboxsync/guid"
	"github.com/replicon/mboxsync/reconcile"
	"github.com/replicon/mboxsync/store"
	"github.com/replicon/mboxsync/wire"
)

func newReserve() *reconcile.MsgidList { return reconcile.NewMsgidList() }

func renderToString(t *testing.T, v dlist.Value) string {
	t.Helper()
	var buf bytes.Buffer
	s := wire.NewStream(&bytes.Buffer{}, &buf)
	if err := dlist.Encode(s, v); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.String()
}

// TestDiffFreshMailboxEmitsAllRecordsAndUploads checks that, with no remote
// snapshot, the local record is offered in the metadata batch and its
// payload is returned as an upload.
func TestDiffFreshMailboxEmitsAllRecordsAndUploads(t *testing.T) {
	ms := store.NewMemStore()
	ms.CreateMailbox("user.alice", "default", store.MBNormal)

	g1 := guid.Of(guid.SHA1, []byte("hello"))
	ms.PutRecord("user.alice", store.IndexRecord{UID: 1, Modseq: 1, Guid: g1, Size: 5})
	ms.PutFile("user.alice/1", []byte("hello"))

	res, err := Diff(ms, "user.alice", nil, newReserve(), true, nil, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(res.Uploads) != 1 {
		t.Fatalf("want 1 upload, got %d", len(res.Uploads))
	}
	out := renderToString(t, res.Meta)
	if !strings.Contains(out, "UID 1") {
		t.Fatalf("missing UID 1 record: %s", out)
	}
}

// TestDiffSkipsRecordsAtOrBelowRemoteModseq covers §4.E rule 1 (a record
// the remote has already seen, by modseq, is skipped entirely).
func TestDiffSkipsRecordsAtOrBelowRemoteModseq(t *testing.T) {
	ms := store.NewMemStore()
	ms.CreateMailbox("user.bob", "default", store.MBNormal)
	ms.PutRecord("user.bob", store.IndexRecord{UID: 1, Modseq: 5})
	ms.PutRecord("user.bob", store.IndexRecord{UID: 2, Modseq: 10})

	remote := &store.FolderSnapshot{HighestModseq: 5, LastUID: 1}
	res, err := Diff(ms, "user.bob", remote, newReserve(), true, nil, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	out := renderToString(t, res.Meta)
	if strings.Contains(out, "MODSEQ 5") {
		t.Fatalf("record at remote modseq should have been skipped: %s", out)
	}
	if !strings.Contains(out, "MODSEQ 10") {
		t.Fatalf("record above remote modseq must be present: %s", out)
	}
}

// TestDiffOmitsFileWhenUIDAlreadyKnown: the remote already has
// uid<=LastUID, so metadata is refreshed but no payload is re-sent.
func TestDiffOmitsFileWhenUIDAlreadyKnown(t *testing.T) {
	ms := store.NewMemStore()
	ms.CreateMailbox("user.carol", "default", store.MBNormal)
	g := guid.Of(guid.SHA1, []byte("body"))
	ms.PutRecord("user.carol", store.IndexRecord{UID: 1, Modseq: 7, Guid: g, Size: 4})
	ms.PutFile("user.carol/1", []byte("body"))

	remote := &store.FolderSnapshot{HighestModseq: 1, LastUID: 1}
	res, err := Diff(ms, "user.carol", remote, newReserve(), true, nil, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(res.Uploads) != 0 {
		t.Fatalf("want no uploads when remote already has the uid, got %d", len(res.Uploads))
	}
	out := renderToString(t, res.Meta)
	if !strings.Contains(out, "MODSEQ 7") {
		t.Fatalf("metadata must still refresh: %s", out)
	}
}

// TestDiffDedupsUploadAcrossMailboxesViaSharedReserveList covers property
// 2/3's cross-mailbox suppression: two mailboxes sharing a partition and a
// GUID must only upload the payload once.
func TestDiffDedupsUploadAcrossMailboxesViaSharedReserveList(t *testing.T) {
	ms := store.NewMemStore()
	ms.CreateMailbox("user.dave.a", "default", store.MBNormal)
	ms.CreateMailbox("user.dave.b", "default", store.MBNormal)
	g := guid.Of(guid.SHA1, []byte("shared"))
	ms.PutRecord("user.dave.a", store.IndexRecord{UID: 1, Modseq: 1, Guid: g, Size: 6})
	ms.PutRecord("user.dave.b", store.IndexRecord{UID: 1, Modseq: 1, Guid: g, Size: 6})
	ms.PutFile("user.dave.a/1", []byte("shared"))
	ms.PutFile("user.dave.b/1", []byte("shared"))

	reserve := newReserve()
	res1, err := Diff(ms, "user.dave.a", nil, reserve, true, nil, nil)
	if err != nil {
		t.Fatalf("Diff a: %v", err)
	}
	res2, err := Diff(ms, "user.dave.b", nil, reserve, true, nil, nil)
	if err != nil {
		t.Fatalf("Diff b: %v", err)
	}
	if len(res1.Uploads) != 1 || len(res2.Uploads) != 0 {
		t.Fatalf("want upload once, got %d then %d", len(res1.Uploads), len(res2.Uploads))
	}
}

// TestDiffRejectsNonMonotonicUID guards the corruption check.
func TestDiffRejectsNonMonotonicUID(t *testing.T) {
	ms := store.NewMemStore()
	ms.CreateMailbox("user.eve", "default", store.MBNormal)
	ms.PutRecord("user.eve", store.IndexRecord{UID: 5, Modseq: 1})
	ms.PutRecord("user.eve", store.IndexRecord{UID: 3, Modseq: 2})

	_, err := Diff(ms, "user.eve", nil, newReserve(), true, nil, nil)
	if err == nil {
		t.Fatal("want error on non-monotonic uid")
	}
}

func TestCollectMailboxNamesFiltersReservedMovingRemote(t *testing.T) {
	metas := []store.FolderMeta{
		{Name: "user.a", MBType: store.MBNormal},
		{Name: "user.b", MBType: store.MBReserve},
		{Name: "user.c", MBType: store.MBMoving},
		{Name: "user.d", MBType: store.MBRemote},
		{Name: "user.e", MBType: store.MBNormal},
	}
	names := CollectMailboxNames(metas)
	if names.Count() != 2 || !names.Contains("user.a") || !names.Contains("user.e") {
		t.Fatalf("got %v", names.Names())
	}
}

func TestCRCNegotiatorStrictFailsWithoutOverlap(t *testing.T) {
	n := NewCRCNegotiator(3, 5, true, func(min, max int) (int, error) {
		return 0, store.ErrNoCRCOverlap
	})
	if _, err := n.Version(); err == nil {
		t.Fatal("want error under strict mode with no overlap")
	}
}

func TestCRCNegotiatorNonStrictFallsBackToZero(t *testing.T) {
	n := NewCRCNegotiator(3, 5, false, func(min, max int) (int, error) {
		return 0, store.ErrNoCRCOverlap
	})
	v, err := n.Version()
	if err != nil || v != 0 {
		t.Fatalf("want (0, nil), got (%d, %v)", v, err)
	}
}

func TestCRCNegotiatorCachesResult(t *testing.T) {
	calls := 0
	n := NewCRCNegotiator(0, 2, true, func(min, max int) (int, error) {
		calls++
		return 2, nil
	})
	for i := 0; i < 3; i++ {
		if v, err := n.Version(); err != nil || v != 2 {
			t.Fatalf("got (%d, %v)", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("want bestCRCVers called once, got %d", calls)
	}
}
