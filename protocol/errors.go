package protocol

import "fmt"

// Kind is the replication engine's error taxonomy from §7: a fixed set of
// kinds, not a type hierarchy, mirroring the original engine's sentinel
// integer codes (see Design Note "Error signaling via sentinel integer
// codes").
type Kind int

const (
	// IOError covers stream and file I/O failures. Fatal to the connection.
	IOError Kind = iota
	// ProtocolErr covers malformed framing or an unexpected response word.
	// Fatal to the connection.
	ProtocolErr
	// ProtocolBadParameters covers a well-formed dlist missing a required
	// key, or one with the wrong shape.
	ProtocolBadParameters
	// SyncChecksum covers a CRC mismatch between peers.
	SyncChecksum
	// InvalidUser covers an unrecognized or unauthorized replication user.
	InvalidUser
	// MailboxNonexistent covers an APPLY/GET/SET naming a mailbox the peer
	// does not have.
	MailboxNonexistent
	// RemoteDenied is the catch-all for a peer NO whose token did not match
	// a more specific kind.
	RemoteDenied
	// Corruption covers a non-monotonic local UID or a GUID mismatch on
	// re-parse. Fatal to the connection.
	Corruption
)

func (k Kind) String() string {
	switch k {
	case IOError:
		return "IOError"
	case ProtocolErr:
		return "ProtocolError"
	case ProtocolBadParameters:
		return "ProtocolBadParameters"
	case SyncChecksum:
		return "SyncChecksum"
	case InvalidUser:
		return "InvalidUser"
	case MailboxNonexistent:
		return "MailboxNonexistent"
	case RemoteDenied:
		return "RemoteDenied"
	case Corruption:
		return "Corruption"
	default:
		return "Unknown"
	}
}

// wireToken is the prefix a peer's NO response line carries for the kinds
// that have one (§4.H); kinds without an entry here are never sent over
// the wire as a typed NO (IOError, Corruption are purely local).
var wireToken = map[Kind]string{
	InvalidUser:           "IMAP_INVALID_USER",
	MailboxNonexistent:    "IMAP_MAILBOX_NONEXISTENT",
	SyncChecksum:          "IMAP_SYNC_CHECKSUM",
	ProtocolErr:           "IMAP_PROTOCOL_ERROR",
	ProtocolBadParameters: "IMAP_PROTOCOL_BAD_PARAMETERS",
}

// Error is the engine's error type: a kind from §7, a human-readable
// message, and structured fields in the spirit of
// framework/exterrors.WithFields, without requiring a second wrapper call
// at every construction site.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]interface{}
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Kind, e.Message, e.Fields)
}

// Temporary reports whether the connection can continue after this error.
// IOError, ProtocolErr and Corruption are fatal per §7; everything else is
// scoped to the failed APPLY/GET/SET.
func (e *Error) Temporary() bool {
	switch e.Kind {
	case IOError, ProtocolErr, Corruption:
		return false
	default:
		return true
	}
}

// New constructs an Error of the given kind.
func New(kind Kind, message string, fields map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Fields: fields}
}

// WireToken renders the NO-response prefix for kind, or "" if this kind is
// never signaled as a typed NO token (it either never crosses the wire, or
// has no specific token and falls back to RemoteDenied's catch-all shape).
func WireToken(kind Kind) string {
	return wireToken[kind]
}

// kindForToken is the inverse of wireToken, used by the response parser to
// map an incoming NO line's prefix back to a Kind.
var kindForToken = map[string]Kind{
	"IMAP_INVALID_USER":            InvalidUser,
	"IMAP_MAILBOX_NONEXISTENT":     MailboxNonexistent,
	"IMAP_SYNC_CHECKSUM":           SyncChecksum,
	"IMAP_PROTOCOL_ERROR":          ProtocolErr,
	"IMAP_PROTOCOL_BAD_PARAMETERS": ProtocolBadParameters,
}
