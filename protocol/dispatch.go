package protocol

import (
	"fmt"
	"strings"

	"github.com/replicon/mboxsync/dlist"
	"github.com/replicon/mboxsync/guid"
	"github.com/replicon/mboxsync/wire"
)

// SendVerb writes one single-shot APPLY/GET/SET command: "VERB SP <dlist>
// CRLF", flushed immediately.
func SendVerb(s *wire.Stream, verb string, body dlist.Value) error {
	if err := s.Printf("%s ", verb); err != nil {
		return err
	}
	return dlist.Encode(s, body)
}

// SendUntagged writes one "* <dlist> CRLF" push without flushing; the
// caller flushes once after a batch (see Stream.Flush).
func SendUntagged(s *wire.Stream, body dlist.Value) error {
	if err := s.Printf("* "); err != nil {
		return err
	}
	if err := dlist.EncodeValue(s, body); err != nil {
		return err
	}
	return s.Printf("\r\n")
}

// Reply is the result of ReadReply: the untagged data items collected
// before the terminal OK, or a typed *Error on NO.
type Reply struct {
	Items []dlist.Value
}

// ReadReply reads a sequence of "* <dlist>" untagged pushes terminated by
// OK or NO, per §4.H. stager/alg are passed through to dlist.Parse for any
// File sentinels embedded in untagged items.
func ReadReply(s *wire.Stream, stager dlist.Stager, alg guid.Algorithm) (*Reply, error) {
	reply := &Reply{}
	for {
		word, err := s.Getword()
		if err != nil {
			return nil, &Error{Kind: IOError, Message: fmt.Sprintf("reading response word: %v", err)}
		}
		switch word {
		case "*":
			v, err := dlist.Parse(s, stager, alg)
			if err != nil {
				return nil, &Error{Kind: ProtocolErr, Message: fmt.Sprintf("malformed untagged dlist: %v", err)}
			}
			reply.Items = append(reply.Items, v)
		case "OK":
			if _, err := s.Getline(); err != nil {
				return nil, &Error{Kind: IOError, Message: fmt.Sprintf("reading OK line: %v", err)}
			}
			return reply, nil
		case "NO":
			line, err := s.Getline()
			if err != nil {
				return nil, &Error{Kind: IOError, Message: fmt.Sprintf("reading NO line: %v", err)}
			}
			return nil, errorFromNOLine(line)
		default:
			line, _ := s.Getline()
			return nil, &Error{
				Kind:    ProtocolErr,
				Message: "unexpected response word",
				Fields:  map[string]interface{}{"word": word, "rest": line},
			}
		}
	}
}

// errorFromNOLine maps a NO response's message to a typed Error by
// inspecting its leading token against the §4.H prefix table; anything
// unrecognized is RemoteDenied with the full line preserved.
func errorFromNOLine(line string) *Error {
	for token, kind := range kindForToken {
		prefix := token + " "
		if strings.HasPrefix(line, prefix) {
			return &Error{Kind: kind, Message: strings.TrimPrefix(line, prefix)}
		}
	}
	return &Error{Kind: RemoteDenied, Message: line}
}
