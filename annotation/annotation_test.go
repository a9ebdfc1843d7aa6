package annotation

import (
	"testing"

	"github.com/replicon/mboxsync/reconcile"
)

type write struct {
	entry, userid string
	value         []byte
}

type fakeStore struct {
	writes    []write
	committed bool
	aborted   bool
	failOn    int // fail the Nth Write call (0 = never)
	calls     int
}

func (s *fakeStore) Write(entry, userid string, value []byte) error {
	s.calls++
	if s.failOn != 0 && s.calls == s.failOn {
		return errFakeWrite
	}
	s.writes = append(s.writes, write{entry, userid, append([]byte(nil), value...)})
	return nil
}

func (s *fakeStore) Commit() error { s.committed = true; return nil }
func (s *fakeStore) Abort() error  { s.aborted = true; return nil }

var errFakeWrite = &fakeWriteErr{}

type fakeWriteErr struct{}

func (*fakeWriteErr) Error() string { return "fake write failure" }

func buildList(entries ...[3]string) *reconcile.AnnotList {
	l := reconcile.NewAnnotList()
	for _, e := range entries {
		l.Add(e[0], e[1], []byte(e[2]))
	}
	return l
}

// TestS4RemoteWins matches spec.md §8 S4 exactly.
func TestS4RemoteWins(t *testing.T) {
	local := buildList([3]string{"E1", "U", "a"}, [3]string{"E2", "U", "b"})
	remote := buildList([3]string{"E1", "U", "z"}, [3]string{"E3", "U", "c"})

	store := &fakeStore{}
	if err := Merge(store, local, remote, false); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !store.committed || store.aborted {
		t.Fatalf("expected commit, got committed=%v aborted=%v", store.committed, store.aborted)
	}

	want := map[string]string{"E1/U": "z", "E2/U": "", "E3/U": "c"}
	got := map[string]string{}
	for _, w := range store.writes {
		got[w.entry+"/"+w.userid] = string(w.value)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %q, want %q (all writes: %+v)", k, got[k], v, store.writes)
		}
	}
}

// TestMergeBias matches property 8: same (entry,userid), differing values,
// commits l.value iff local_wins.
func TestMergeBias(t *testing.T) {
	for _, localWins := range []bool{true, false} {
		local := buildList([3]string{"E", "U", "local-value"})
		remote := buildList([3]string{"E", "U", "remote-value"})
		store := &fakeStore{}
		if err := Merge(store, local, remote, localWins); err != nil {
			t.Fatalf("Merge: %v", err)
		}
		if len(store.writes) != 1 {
			t.Fatalf("expected exactly one write, got %d", len(store.writes))
		}
		want := "remote-value"
		if localWins {
			want = "local-value"
		}
		if string(store.writes[0].value) != want {
			t.Fatalf("localWins=%v: got %q want %q", localWins, store.writes[0].value, want)
		}
	}
}

func TestMergeSkipsEqualValues(t *testing.T) {
	local := buildList([3]string{"E", "U", "same"})
	remote := buildList([3]string{"E", "U", "same"})
	store := &fakeStore{}
	if err := Merge(store, local, remote, true); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(store.writes) != 0 {
		t.Fatalf("expected no writes for equal values, got %+v", store.writes)
	}
}

// TestMergeAbortsOnWriteFailure ensures a write error stops the merge and
// aborts rather than commits.
func TestMergeAbortsOnWriteFailure(t *testing.T) {
	local := buildList([3]string{"E1", "U", "a"}, [3]string{"E2", "U", "b"})
	remote := buildList()
	store := &fakeStore{failOn: 1}

	err := Merge(store, local, remote, true)
	if err == nil {
		t.Fatal("expected error")
	}
	if !store.aborted || store.committed {
		t.Fatalf("expected abort, got committed=%v aborted=%v", store.committed, store.aborted)
	}
	if len(store.writes) != 0 {
		t.Fatalf("expected no successful writes recorded, got %+v", store.writes)
	}
}
