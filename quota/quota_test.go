package quota

import (
	"bytes"
	"strings"
	"testing"

	"github.com/replicon/mboxsync/dlist"
	"github.com/replicon/mboxsync/guid"
	"github.com/replicon/mboxsync/wire"
)

func roundTrip(t *testing.T, q Quota) Quota {
	t.Helper()
	v := Encode(q)

	var buf bytes.Buffer
	s := wire.NewStream(&bytes.Buffer{}, &buf)
	if err := dlist.Encode(s, v); err != nil {
		t.Fatalf("dlist.Encode: %v", err)
	}

	ps := wire.NewStream(strings.NewReader(buf.String()), &bytes.Buffer{})
	parsed, err := dlist.Parse(ps, nil, guid.SHA1)
	if err != nil {
		t.Fatalf("dlist.Parse: %v", err)
	}
	return Decode(parsed)
}

// TestQuotaRoundTrip exercises property 6 and scenario S6: STORAGE
// unlimited plus a finite MESSAGE limit survives encode/decode, and the
// wire carries both a LIMIT key and the per-resource MESSAGE key.
func TestQuotaRoundTrip(t *testing.T) {
	q := New("user.alice")
	q.Limits[Message] = 1000

	v := Encode(q)
	var buf bytes.Buffer
	s := wire.NewStream(&bytes.Buffer{}, &buf)
	if err := dlist.Encode(s, v); err != nil {
		t.Fatalf("dlist.Encode: %v", err)
	}
	wireText := buf.String()
	if !strings.Contains(wireText, "LIMIT") {
		t.Fatalf("expected LIMIT key on the wire, got %q", wireText)
	}
	if !strings.Contains(wireText, "MESSAGE 1000") {
		t.Fatalf("expected MESSAGE 1000 on the wire, got %q", wireText)
	}

	got := roundTrip(t, q)
	if got.Root != q.Root {
		t.Fatalf("root = %q, want %q", got.Root, q.Root)
	}
	if got.Limits[Storage] != Unlimited {
		t.Fatalf("storage = %d, want Unlimited", got.Limits[Storage])
	}
	if got.Limits[Message] != 1000 {
		t.Fatalf("message = %d, want 1000", got.Limits[Message])
	}
}

func TestQuotaAllUnlimited(t *testing.T) {
	q := New("user.bob")
	got := roundTrip(t, q)
	for r := Resource(0); r < NumResources; r++ {
		if got.Limits[r] != Unlimited {
			t.Fatalf("resource %d = %d, want Unlimited", r, got.Limits[r])
		}
	}
}

func TestQuotaZeroLimitPreserved(t *testing.T) {
	q := New("user.carol")
	q.Limits[Storage] = 0
	got := roundTrip(t, q)
	if got.Limits[Storage] != 0 {
		t.Fatalf("storage = %d, want 0", got.Limits[Storage])
	}
}
