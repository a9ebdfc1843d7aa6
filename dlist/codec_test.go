package dlist

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/replicon/mboxsync/guid"
	"github.com/replicon/mboxsync/wire"
)

func encodeToString(t *testing.T, v Value) string {
	t.Helper()
	var buf bytes.Buffer
	s := wire.NewStream(&bytes.Buffer{}, &buf)
	if err := Encode(s, v); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf.String()
}

func parseFromString(t *testing.T, wireText string) Value {
	t.Helper()
	s := wire.NewStream(strings.NewReader(wireText), &bytes.Buffer{})
	v, err := Parse(s, nil, guid.SHA1)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return v
}

// TestKVListRoundTrip exercises the S5 framing scenario: a keyed sub-list
// with a literal-carried atom and a plain number.
func TestKVListRoundTrip(t *testing.T) {
	kl := KVList("", Map("MBOXNAME", []byte("INBOX")), Num32("LAST_UID", 7))
	wireText := encodeToString(t, kl)

	if !strings.Contains(wireText, "{5+}\r\nINBOX") {
		t.Fatalf("expected literal-encoded MBOXNAME, got %q", wireText)
	}

	v := parseFromString(t, wireText)
	if v.Kind != KindKVList {
		t.Fatalf("expected KVList, got kind %d", v.Kind)
	}
	name, ok := v.GetAtom("MBOXNAME")
	if !ok || name != "INBOX" {
		t.Fatalf("MBOXNAME = %q, %v", name, ok)
	}
	uid, ok := v.GetNum32("LAST_UID")
	if !ok || uid != 7 {
		t.Fatalf("LAST_UID = %d, %v", uid, ok)
	}
}

// TestS5ExactWire parses the literal example from spec.md §8 S5.
func TestS5ExactWire(t *testing.T) {
	wireText := "%(MBOXNAME {5+}\r\nINBOX LAST_UID 7 ) \r\n"
	v := parseFromString(t, wireText)
	if v.Kind != KindKVList {
		t.Fatalf("expected KVList, got %d", v.Kind)
	}
	if name, _ := v.GetAtom("MBOXNAME"); name != "INBOX" {
		t.Fatalf("MBOXNAME = %q", name)
	}
	if uid, _ := v.GetNum32("LAST_UID"); uid != 7 {
		t.Fatalf("LAST_UID = %d", uid)
	}
}

func TestListRoundTrip(t *testing.T) {
	l := List("", Atom("", "a"), Atom("", "b with space"), Num64("", 123456789012))
	wireText := encodeToString(t, l)
	v := parseFromString(t, wireText)
	if v.Kind != KindList || len(v.Items) != 3 {
		t.Fatalf("got %+v", v)
	}
	if v.Items[1].text() != "b with space" {
		t.Fatalf("item 1 = %q", v.Items[1].text())
	}
}

func TestGuidRoundTrip(t *testing.T) {
	g := guid.Of(guid.SHA1, []byte("hello world"))
	kl := KVList("", Guid("GUID", g))
	wireText := encodeToString(t, kl)
	v := parseFromString(t, wireText)
	got, ok := v.GetGuid("GUID")
	if !ok || got != g {
		t.Fatalf("GUID round trip failed: got %v ok=%v want %v", got, ok, g)
	}
}

func TestDateRoundTrip(t *testing.T) {
	for _, epoch := range []uint64{0, 1, 1735689600} {
		kl := KVList("", Date("WHEN", epoch))
		wireText := encodeToString(t, kl)
		v := parseFromString(t, wireText)
		got, ok := v.GetDate("WHEN")
		if !ok || got != epoch {
			t.Fatalf("epoch %d round trip: got %d ok=%v", epoch, got, ok)
		}
	}
}

func TestFileRoundTripWithStager(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	g := guid.Of(guid.SHA1, payload)

	stager := newMemStager()
	f := File{Partition: "default", Guid: g, Size: int64(len(payload)), Open: func() (ReadCloser, error) {
		return &nopCloser{bytes.NewReader(payload)}, nil
	}}
	kl := KVList("", FileRef("MESSAGE", f))
	wireText := encodeToString(t, kl)

	s := wire.NewStream(strings.NewReader(wireText), &bytes.Buffer{})
	parsed, err := Parse(s, stager, guid.SHA1)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Kind != KindKVList {
		t.Fatalf("got kind %d", parsed.Kind)
	}
	fileVal, ok := parsed.Get("MESSAGE")
	if !ok || fileVal.Kind != KindFile {
		t.Fatalf("MESSAGE child missing or wrong kind: %+v", fileVal)
	}
	if fileVal.File.Guid != g {
		t.Fatalf("guid mismatch")
	}
	staged := stager.data[stagerKey{"default", g}]
	if !bytes.Equal(staged, payload) {
		t.Fatalf("staged payload mismatch: %q", staged)
	}
}

func TestFileChecksumMismatch(t *testing.T) {
	payload := []byte("data")
	wrongGuid := guid.Of(guid.SHA1, []byte("not the data"))
	f := File{Partition: "default", Guid: wrongGuid, Size: int64(len(payload)), Open: func() (ReadCloser, error) {
		return &nopCloser{bytes.NewReader(payload)}, nil
	}}
	kl := KVList("", FileRef("MESSAGE", f))
	wireText := encodeToString(t, kl)

	s := wire.NewStream(strings.NewReader(wireText), &bytes.Buffer{})
	_, err := Parse(s, newMemStager(), guid.SHA1)
	if err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

type stagerKey struct {
	partition string
	g         guid.GUID
}

type memStager struct {
	data map[stagerKey][]byte
	bufs map[stagerKey]*bytes.Buffer
}

func newMemStager() *memStager {
	return &memStager{data: map[stagerKey][]byte{}, bufs: map[stagerKey]*bytes.Buffer{}}
}

type memStagerWriter struct {
	s   *memStager
	key stagerKey
	buf *bytes.Buffer
}

func (w *memStagerWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memStagerWriter) Close() error {
	w.s.data[w.key] = w.buf.Bytes()
	return nil
}

func (s *memStager) Create(partition string, g guid.GUID, size int64) (io.WriteCloser, error) {
	key := stagerKey{partition, g}
	buf := &bytes.Buffer{}
	s.bufs[key] = buf
	return &memStagerWriter{s: s, key: key, buf: buf}, nil
}

func (s *memStager) StagedPath(partition string, g guid.GUID) string {
	return partition + "/" + g.String()
}
