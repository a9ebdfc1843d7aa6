package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestGetlineCRLF(t *testing.T) {
	s := NewStream(strings.NewReader("hello\r\nworld\n"), &bytes.Buffer{})
	line, err := s.Getline()
	if err != nil || line != "hello" {
		t.Fatalf("line=%q err=%v", line, err)
	}
	line, err = s.Getline()
	if err != nil || line != "world" {
		t.Fatalf("line=%q err=%v", line, err)
	}
}

func TestGetlineBareCR(t *testing.T) {
	// CR not immediately followed by LF: CR still terminates the line, and
	// the following byte must be preserved for the next read.
	s := NewStream(strings.NewReader("abc\rdef\n"), &bytes.Buffer{})
	line, err := s.Getline()
	if err != nil || line != "abc" {
		t.Fatalf("line=%q err=%v", line, err)
	}
	line, err = s.Getline()
	if err != nil || line != "def" {
		t.Fatalf("line=%q err=%v", line, err)
	}
}

func TestGetword(t *testing.T) {
	s := NewStream(strings.NewReader("APPLY foo bar\r\n"), &bytes.Buffer{})
	w, err := s.Getword()
	if err != nil || w != "APPLY" {
		t.Fatalf("w=%q err=%v", w, err)
	}
	w, err = s.Getword()
	if err != nil || w != "foo" {
		t.Fatalf("w=%q err=%v", w, err)
	}
}

func TestUngetc(t *testing.T) {
	s := NewStream(strings.NewReader("xy"), &bytes.Buffer{})
	c, _ := s.Getc()
	if c != 'x' {
		t.Fatalf("got %c", c)
	}
	s.Ungetc(c)
	c, _ = s.Getc()
	if c != 'x' {
		t.Fatalf("after ungetc, got %c", c)
	}
	c, _ = s.Getc()
	if c != 'y' {
		t.Fatalf("got %c", c)
	}
}

func TestReadliteralEightBitClean(t *testing.T) {
	payload := []byte{0x00, 0x0a, 0x0d, 0xff, 'a', 'b'}
	s := NewStream(bytes.NewReader(payload), &bytes.Buffer{})
	got, err := s.Readliteral(int64(len(payload)))
	if err != nil {
		t.Fatalf("Readliteral: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %v want %v", got, payload)
	}
}

func TestGetwordOverflowIsFatal(t *testing.T) {
	s := NewStream(strings.NewReader(strings.Repeat("a", 100)+" \r\n"), &bytes.Buffer{})
	s.MaxWord = 10
	_, err := s.Getword()
	var overflow *OverflowError
	if err == nil {
		t.Fatal("expected overflow error")
	}
	if !isOverflow(err, &overflow) {
		t.Fatalf("expected *OverflowError, got %T: %v", err, err)
	}
}

func isOverflow(err error, target **OverflowError) bool {
	o, ok := err.(*OverflowError)
	if ok {
		*target = o
	}
	return ok
}

func TestWriteAndFlush(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(strings.NewReader(""), &buf)
	if err := s.Printf("APPLY %s", "foo"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteBytes([]byte("\r\n")); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "APPLY foo\r\n" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestGetlineEOFWithoutTerminator(t *testing.T) {
	s := NewStream(strings.NewReader("noeol"), &bytes.Buffer{})
	line, err := s.Getline()
	if err != io.EOF && line != "noeol" {
		t.Fatalf("line=%q err=%v", line, err)
	}
}
