package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/replicon/mboxsync/dlist"
	"github.com/replicon/mboxsync/guid"
	"github.com/replicon/mboxsync/wire"
)

// TestS5ProtocolFraming matches spec.md §8 S5: one untagged kvlist push
// followed by OK returns that item to the caller.
func TestS5ProtocolFraming(t *testing.T) {
	input := "* %(MBOXNAME {5+}\r\nINBOX LAST_UID 7 ) \r\nOK\r\n"
	s := wire.NewStream(strings.NewReader(input), &bytes.Buffer{})

	reply, err := ReadReply(s, nil, guid.SHA1)
	if err != nil {
		t.Fatalf("ReadReply: %v", err)
	}
	if len(reply.Items) != 1 {
		t.Fatalf("expected 1 untagged item, got %d", len(reply.Items))
	}
	item := reply.Items[0]
	if name, _ := item.GetAtom("MBOXNAME"); name != "INBOX" {
		t.Fatalf("MBOXNAME = %q", name)
	}
	if uid, _ := item.GetNum32("LAST_UID"); uid != 7 {
		t.Fatalf("LAST_UID = %d", uid)
	}
}

// TestS3ChecksumMismatch matches spec.md §8 S3: a NO IMAP_SYNC_CHECKSUM
// line maps to a SyncChecksum Error.
func TestS3ChecksumMismatch(t *testing.T) {
	input := "NO IMAP_SYNC_CHECKSUM mailbox=INBOX\r\n"
	s := wire.NewStream(strings.NewReader(input), &bytes.Buffer{})

	_, err := ReadReply(s, nil, guid.SHA1)
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if perr.Kind != SyncChecksum {
		t.Fatalf("kind = %v, want SyncChecksum", perr.Kind)
	}
	if perr.Message != "mailbox=INBOX" {
		t.Fatalf("message = %q", perr.Message)
	}
}

func TestNOUnrecognizedTokenIsRemoteDenied(t *testing.T) {
	input := "NO something went wrong\r\n"
	s := wire.NewStream(strings.NewReader(input), &bytes.Buffer{})
	_, err := ReadReply(s, nil, guid.SHA1)
	perr := err.(*Error)
	if perr.Kind != RemoteDenied {
		t.Fatalf("kind = %v, want RemoteDenied", perr.Kind)
	}
}

func TestUnexpectedWordIsProtocolError(t *testing.T) {
	input := "MAYBE later\r\n"
	s := wire.NewStream(strings.NewReader(input), &bytes.Buffer{})
	_, err := ReadReply(s, nil, guid.SHA1)
	perr, ok := err.(*Error)
	if !ok || perr.Kind != ProtocolErr {
		t.Fatalf("expected ProtocolErr, got %v", err)
	}
}

func TestSendVerbAndUntaggedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	s := wire.NewStream(&bytes.Buffer{}, &buf)

	if err := SendUntagged(s, dlist.KVList("", dlist.Atom("MBOXNAME", "INBOX"))); err != nil {
		t.Fatalf("SendUntagged: %v", err)
	}
	if err := s.Printf("OK\r\n"); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	ps := wire.NewStream(strings.NewReader(buf.String()), &bytes.Buffer{})
	reply, err := ReadReply(ps, nil, guid.SHA1)
	if err != nil {
		t.Fatalf("ReadReply: %v", err)
	}
	if name, _ := reply.Items[0].GetAtom("MBOXNAME"); name != "INBOX" {
		t.Fatalf("MBOXNAME = %q", name)
	}
}

func TestDescriptorTableNNTPSuccessPrefix(t *testing.T) {
	d, ok := Get("nntp")
	if !ok {
		t.Fatal("nntp descriptor missing")
	}
	okFlag, _ := d.ParseSuccess("282 authenticated")
	if !okFlag {
		t.Fatalf("expected nntp ParseSuccess to match 282 prefix")
	}
	okFlag, _ = d.ParseSuccess("482 denied")
	if okFlag {
		t.Fatalf("expected nntp ParseSuccess to reject non-282 line")
	}
}

func TestDescriptorTableMupdateNoAuth(t *testing.T) {
	d, ok := Get("mupdate")
	if !ok {
		t.Fatal("mupdate descriptor missing")
	}
	if !d.NoAuthEmptyContinue {
		t.Fatalf("expected mupdate NoAuthEmptyContinue=true")
	}
	if d.ContinuePrefix != "" {
		t.Fatalf("expected empty continuation prefix, got %q", d.ContinuePrefix)
	}
}

func TestImapMechListParser(t *testing.T) {
	d, _ := Get("imap")
	mechs := d.ParseMechList("* CAPABILITY IMAP4rev1 AUTH=PLAIN AUTH=LOGIN STARTTLS")
	if len(mechs) != 2 || mechs[0] != "PLAIN" || mechs[1] != "LOGIN" {
		t.Fatalf("got %v", mechs)
	}
}
