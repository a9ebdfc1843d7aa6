package dlist

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/replicon/mboxsync/guid"
	"github.com/replicon/mboxsync/wire"
)

// dateLayout mirrors the IMAP INTERNALDATE format used by the original
// engine for the "RFC-like timestamp string" wire form of dates.
const dateLayout = "02-Jan-2006 15:04:05 -0700"

// ErrChecksumMismatch is returned by Parse when a streamed File literal's
// recomputed GUID does not match the GUID announced in its sentinel.
var ErrChecksumMismatch = errors.New("dlist: staged file guid does not match sentinel")

// ErrProtocol is returned for malformed framing: unknown sentinels, bad
// literal lengths, unterminated quoted strings, and the like.
var ErrProtocol = errors.New("dlist: protocol error")

// Stager receives the payload bytes of a File value as they are streamed
// off the wire during Parse, and reports back where it staged them.
type Stager interface {
	// Create opens a destination for the payload of (partition, g), sized
	// size bytes. The caller closes the returned writer only after the
	// whole payload has been streamed and its GUID verified; after a short
	// read or a GUID mismatch the writer is left unclosed. Once it is
	// closed, StagedPath gives its final path.
	Create(partition string, g guid.GUID, size int64) (io.WriteCloser, error)
	// StagedPath returns the path Create staged (partition, g) to, once
	// writing and verification have completed.
	StagedPath(partition string, g guid.GUID) string
}

func formatDate(epoch uint64) string {
	if epoch == 0 {
		return "0"
	}
	return time.Unix(int64(epoch), 0).UTC().Format(dateLayout)
}

func parseDateStr(s string) (uint64, error) {
	if s == "0" || s == "" {
		return 0, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return 0, fmt.Errorf("dlist: bad date %q: %w", s, err)
	}
	return uint64(t.Unix()), nil
}

// text renders the leaf body of v as the string that would appear on the
// wire, used both for hand-built Values (which carry a semantic Kind) and
// freshly parsed ones (which are always KindAtom with Atom holding the raw
// token).
func (v Value) text() string {
	switch v.Kind {
	case KindNum32, KindNum64:
		return strconv.FormatUint(v.Num, 10)
	case KindDate:
		return formatDate(v.Num)
	case KindGuid:
		return v.Guid.String()
	default:
		return v.Atom
	}
}

func isBareSafe(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range []byte(s) {
		switch c {
		case ' ', '\t', '\r', '\n', '"', '\\', '(', ')', '{', '}', '%':
			return false
		}
	}
	return true
}

func hasBinary(s string) bool {
	for _, c := range []byte(s) {
		if c == '\r' || c == '\n' || c == 0 {
			return true
		}
	}
	return false
}

// Encode renders v as a complete top-level dlist message, terminated by
// exactly one CRLF, and flushes the underlying stream.
func Encode(s *wire.Stream, v Value) error {
	if err := EncodeValue(s, v); err != nil {
		return err
	}
	if err := s.Printf("\r\n"); err != nil {
		return err
	}
	return s.Flush()
}

// EncodeValue renders v with no trailing CRLF and no flush, for callers
// that own their own framing and flush policy (an untagged "* " push
// grouped under a caller-level flush, per §4.H).
func EncodeValue(s *wire.Stream, v Value) error {
	return encodeNamed(s, v)
}

func encodeNamed(s *wire.Stream, v Value) error {
	if v.Name != "" {
		if err := s.Printf("%s ", v.Name); err != nil {
			return err
		}
	}
	return encodeBody(s, v)
}

func encodeBody(s *wire.Stream, v Value) error {
	switch v.Kind {
	case KindAtom, KindFlag, KindNum32, KindNum64, KindDate, KindGuid:
		return writeAtomToken(s, v.text())
	case KindMap:
		return writeLiteral(s, v.Map)
	case KindFile:
		return writeFile(s, v.File)
	case KindList:
		if err := s.Printf("("); err != nil {
			return err
		}
		for i, item := range v.Items {
			if i > 0 {
				if err := s.Printf(" "); err != nil {
					return err
				}
			}
			if err := encodeBody(s, item); err != nil {
				return err
			}
		}
		return s.Printf(")")
	case KindKVList:
		if err := s.Printf("%%("); err != nil {
			return err
		}
		for i, item := range v.Items {
			if i > 0 {
				if err := s.Printf(" "); err != nil {
					return err
				}
			}
			if err := encodeNamed(s, item); err != nil {
				return err
			}
		}
		return s.Printf(")")
	default:
		return fmt.Errorf("dlist: unknown kind %d", v.Kind)
	}
}

func writeAtomToken(s *wire.Stream, text string) error {
	switch {
	case isBareSafe(text):
		return s.Printf("%s", text)
	case !hasBinary(text):
		quoted := make([]byte, 0, len(text)+2)
		quoted = append(quoted, '"')
		for _, c := range []byte(text) {
			if c == '"' || c == '\\' {
				quoted = append(quoted, '\\')
			}
			quoted = append(quoted, c)
		}
		quoted = append(quoted, '"')
		return s.WriteBytes(quoted)
	default:
		return writeLiteral(s, []byte(text))
	}
}

func writeLiteral(s *wire.Stream, b []byte) error {
	if err := s.Printf("{%d+}\r\n", len(b)); err != nil {
		return err
	}
	return s.WriteBytes(b)
}

func writeFile(s *wire.Stream, f File) error {
	if err := s.Printf("%%{%s %s %d}\r\n", f.Partition, f.Guid.String(), f.Size); err != nil {
		return err
	}
	var r ReadCloser
	var err error
	if f.Open != nil {
		r, err = f.Open()
	} else {
		r, err = openPath(f.Path)
	}
	if err != nil {
		return fmt.Errorf("dlist: opening file payload: %w", err)
	}
	defer r.Close()
	return s.CopyBytes(r, f.Size)
}

// Parse reads one complete top-level dlist value, consuming the trailing
// CRLF per §4.B.
func Parse(s *wire.Stream, stager Stager, alg guid.Algorithm) (Value, error) {
	v, err := parseBody(s, stager, alg)
	if err != nil {
		return Value{}, err
	}
	if err := consumeCRLF(s); err != nil {
		return Value{}, err
	}
	return v, nil
}

func consumeCRLF(s *wire.Stream) error {
	if err := skipSpaces(s); err != nil {
		return err
	}
	c, err := s.Getc()
	if err != nil {
		return err
	}
	if c == '\r' {
		c2, err := s.Getc()
		if err == nil && c2 != '\n' {
			s.Ungetc(c2)
		}
		return nil
	}
	if c == '\n' {
		return nil
	}
	return fmt.Errorf("%w: expected CRLF, got %q", ErrProtocol, c)
}

func peek(s *wire.Stream) (byte, error) {
	c, err := s.Getc()
	if err != nil {
		return 0, err
	}
	s.Ungetc(c)
	return c, nil
}

func skipSpaces(s *wire.Stream) error {
	for {
		c, err := s.Getc()
		if err != nil {
			return err
		}
		if c != ' ' {
			s.Ungetc(c)
			return nil
		}
	}
}

// readBareToken reads a run of bytes up to (not including) the next
// structural delimiter.
func readBareToken(s *wire.Stream) (string, error) {
	var buf []byte
	for {
		c, err := s.Getc()
		if err != nil {
			if len(buf) > 0 {
				return string(buf), nil
			}
			return "", err
		}
		switch c {
		case ' ', '\r', '\n', '(', ')', '}':
			s.Ungetc(c)
			return string(buf), nil
		}
		buf = append(buf, c)
	}
}

func readQuoted(s *wire.Stream) (string, error) {
	var buf []byte
	for {
		c, err := s.Getc()
		if err != nil {
			return "", fmt.Errorf("%w: unterminated quoted string", ErrProtocol)
		}
		if c == '\\' {
			esc, err := s.Getc()
			if err != nil {
				return "", fmt.Errorf("%w: unterminated escape", ErrProtocol)
			}
			buf = append(buf, esc)
			continue
		}
		if c == '"' {
			return string(buf), nil
		}
		buf = append(buf, c)
	}
}

func readLiteralLen(s *wire.Stream) (int64, error) {
	var digits []byte
	for {
		c, err := s.Getc()
		if err != nil {
			return 0, err
		}
		if c == '+' {
			break
		}
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: bad literal length digit %q", ErrProtocol, c)
		}
		digits = append(digits, c)
	}
	c, err := s.Getc()
	if err != nil || c != '}' {
		return 0, fmt.Errorf("%w: literal missing closing brace", ErrProtocol)
	}
	n, err := strconv.ParseInt(string(digits), 10, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: bad literal length: %v", ErrProtocol, err)
	}
	// consume the CRLF that always follows a {len+} prefix
	c, err = s.Getc()
	if err != nil {
		return 0, err
	}
	if c == '\r' {
		c, err = s.Getc()
		if err != nil {
			return 0, err
		}
	}
	if c != '\n' {
		return 0, fmt.Errorf("%w: literal prefix not CRLF-terminated", ErrProtocol)
	}
	return n, nil
}

func parseBody(s *wire.Stream, stager Stager, alg guid.Algorithm) (Value, error) {
	c, err := peek(s)
	if err != nil {
		return Value{}, err
	}

	switch c {
	case '(':
		s.Getc()
		var items []Value
		for {
			if err := skipSpaces(s); err != nil {
				return Value{}, err
			}
			c, err := peek(s)
			if err != nil {
				return Value{}, err
			}
			if c == ')' {
				s.Getc()
				break
			}
			item, err := parseBody(s, stager, alg)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{Kind: KindList, Items: items}, nil

	case '%':
		s.Getc()
		c2, err := peek(s)
		if err != nil {
			return Value{}, err
		}
		switch c2 {
		case '(':
			s.Getc()
			var items []Value
			for {
				if err := skipSpaces(s); err != nil {
					return Value{}, err
				}
				c, err := peek(s)
				if err != nil {
					return Value{}, err
				}
				if c == ')' {
					s.Getc()
					break
				}
				key, err := readBareToken(s)
				if err != nil {
					return Value{}, err
				}
				if err := skipSpaces(s); err != nil {
					return Value{}, err
				}
				val, err := parseBody(s, stager, alg)
				if err != nil {
					return Value{}, err
				}
				val.Name = key
				items = append(items, val)
			}
			return Value{Kind: KindKVList, Items: items}, nil
		case '{':
			s.Getc()
			return parseFile(s, stager, alg)
		default:
			return Value{}, fmt.Errorf("%w: unknown sentinel %%%c", ErrProtocol, c2)
		}

	case '"':
		s.Getc()
		text, err := readQuoted(s)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindAtom, Atom: text}, nil

	case '{':
		s.Getc()
		n, err := readLiteralLen(s)
		if err != nil {
			return Value{}, err
		}
		b, err := s.Readliteral(n)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindAtom, Atom: string(b), Map: b}, nil

	default:
		text, err := readBareToken(s)
		if err != nil {
			return Value{}, err
		}
		if text == "" {
			return Value{}, fmt.Errorf("%w: empty token", ErrProtocol)
		}
		return Value{Kind: KindAtom, Atom: text}, nil
	}
}

func parseFile(s *wire.Stream, stager Stager, alg guid.Algorithm) (Value, error) {
	partition, err := readBareToken(s)
	if err != nil {
		return Value{}, err
	}
	if err := skipSpaces(s); err != nil {
		return Value{}, err
	}
	guidTok, err := readBareToken(s)
	if err != nil {
		return Value{}, err
	}
	g, err := guid.Parse(guidTok)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := skipSpaces(s); err != nil {
		return Value{}, err
	}
	var sizeDigits []byte
	for {
		c, err := s.Getc()
		if err != nil {
			return Value{}, err
		}
		if c == '}' {
			break
		}
		if c < '0' || c > '9' {
			return Value{}, fmt.Errorf("%w: bad file size digit %q", ErrProtocol, c)
		}
		sizeDigits = append(sizeDigits, c)
	}
	size, err := strconv.ParseInt(string(sizeDigits), 10, 63)
	if err != nil {
		return Value{}, fmt.Errorf("%w: bad file size: %v", ErrProtocol, err)
	}
	c, err := s.Getc()
	if err != nil {
		return Value{}, err
	}
	if c == '\r' {
		c, err = s.Getc()
		if err != nil {
			return Value{}, err
		}
	}
	if c != '\n' {
		return Value{}, fmt.Errorf("%w: file sentinel not CRLF-terminated", ErrProtocol)
	}

	if stager == nil {
		// No receiver-side staging configured: consume and discard the
		// payload, still verifying the GUID to surface corruption.
		h := guid.NewHasher(alg)
		if err := s.CopyLiteral(h, size); err != nil {
			return Value{}, err
		}
		if guid.FromSum(h.Sum(nil)) != g {
			return Value{}, ErrChecksumMismatch
		}
		return Value{Kind: KindFile, File: File{Partition: partition, Guid: g, Size: size}}, nil
	}

	dst, err := stager.Create(partition, g, size)
	if err != nil {
		return Value{}, fmt.Errorf("dlist: staging file: %w", err)
	}
	h := guid.NewHasher(alg)
	mw := io.MultiWriter(dst, h)
	if err := s.CopyLiteral(mw, size); err != nil {
		return Value{}, err
	}
	if guid.FromSum(h.Sum(nil)) != g {
		return Value{}, ErrChecksumMismatch
	}
	if err := dst.Close(); err != nil {
		return Value{}, fmt.Errorf("dlist: finishing staged file: %w", err)
	}
	return Value{Kind: KindFile, File: File{
		Partition:  partition,
		Guid:       g,
		Size:       size,
		StagedPath: stager.StagedPath(partition, g),
	}}, nil
}
