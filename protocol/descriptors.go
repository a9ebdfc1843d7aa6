package protocol

import "strings"

// Descriptor is one wire protocol's capability-probe, STARTTLS, AUTH and
// logout strings, plus the two points where a protocol's replies need
// custom parsing. See §4.I and SPEC_FULL.md §3.6.
type Descriptor struct {
	Name string

	// Capability probe.
	CapabilityCmd  string // empty if the protocol has none (mupdate)
	Terminator     string // marks the end of a multi-line capability reply
	StartTLSCmd    string
	MechlistPrefix string
	// ParseMechList extracts the SASL mechanism names from a capability
	// reply line, when the prefix-scan default isn't enough (IMAP's
	// AUTH= occurrences scattered through one CAPABILITY line).
	ParseMechList func(capabilityLine string) []string

	// STARTTLS negotiation.
	TLSCmd string
	TLSOK  string
	TLSNO  string

	// AUTH negotiation.
	AuthCmd             string
	MaxBase64Line       int
	NoAuthEmptyContinue bool // mupdate's "noauth=1": continuation prefix is empty
	AuthOK              string
	AuthNO              string
	ContinuePrefix      string
	CancelToken         string
	// ParseSuccess inspects a post-AUTH reply line and reports whether it
	// signals success (and, if the protocol distinguishes, a status
	// string). A nil ParseSuccess means the protocol is satisfied by
	// AuthOK/AuthNO prefix matching alone.
	ParseSuccess func(line string) (ok bool, status string)

	// Logout.
	LogoutCmd string
	LogoutOK  string
}

func imapParseMechList(capabilityLine string) []string {
	var out []string
	rest := capabilityLine
	for {
		idx := strings.Index(rest, "AUTH=")
		if idx < 0 {
			break
		}
		rest = rest[idx+len("AUTH="):]
		end := strings.IndexByte(rest, ' ')
		var mech string
		if end < 0 {
			mech = rest
			rest = ""
		} else {
			mech = rest[:end]
			rest = rest[end+1:]
		}
		out = append(out, mech)
		if rest == "" {
			break
		}
	}
	return out
}

func nntpParseSuccess(line string) (bool, string) {
	if strings.HasPrefix(line, "282 ") {
		return true, ""
	}
	return false, ""
}

// Descriptors is the static per-protocol table, carried verbatim from the
// original engine's protocol[] array.
var Descriptors = map[string]*Descriptor{
	"imap": {
		Name:           "imap",
		CapabilityCmd:  "C01 CAPABILITY",
		Terminator:     "C01 ",
		StartTLSCmd:    "STARTTLS",
		MechlistPrefix: "AUTH=",
		ParseMechList:  imapParseMechList,
		TLSCmd:         "S01 STARTTLS",
		TLSOK:          "S01 OK",
		TLSNO:          "S01 NO",
		AuthCmd:        "A01 AUTHENTICATE",
		MaxBase64Line:  0,
		AuthOK:         "A01 OK",
		AuthNO:         "A01 NO",
		ContinuePrefix: "+ ",
		CancelToken:    "*",
		LogoutCmd:      "Q01 LOGOUT",
		LogoutOK:       "Q01 ",
	},
	"pop3": {
		Name:           "pop3",
		CapabilityCmd:  "CAPA",
		Terminator:     ".",
		StartTLSCmd:    "STLS",
		MechlistPrefix: "SASL ",
		TLSCmd:         "STLS",
		TLSOK:          "+OK",
		TLSNO:          "-ERR",
		AuthCmd:        "AUTH",
		MaxBase64Line:  255,
		AuthOK:         "+OK",
		AuthNO:         "-ERR",
		ContinuePrefix: "+ ",
		CancelToken:    "*",
		LogoutCmd:      "QUIT",
		LogoutOK:       "+OK",
	},
	"nntp": {
		Name:           "nntp",
		CapabilityCmd:  "LIST EXTENSIONS",
		Terminator:     ".",
		StartTLSCmd:    "STARTTLS",
		MechlistPrefix: "SASL ",
		TLSCmd:         "STARTTLS",
		TLSOK:          "382",
		TLSNO:          "580",
		AuthCmd:        "AUTHINFO SASL",
		MaxBase64Line:  512,
		AuthOK:         "28",
		AuthNO:         "482",
		ContinuePrefix: "381 ",
		CancelToken:    "*",
		ParseSuccess:   nntpParseSuccess,
		LogoutCmd:      "QUIT",
		LogoutOK:       "205",
	},
	"lmtp": {
		Name:           "lmtp",
		CapabilityCmd:  "LHLO murder",
		Terminator:     "250 ",
		StartTLSCmd:    "STARTTLS",
		MechlistPrefix: "AUTH ",
		TLSCmd:         "STARTTLS",
		TLSOK:          "220",
		TLSNO:          "454",
		AuthCmd:        "AUTH",
		MaxBase64Line:  512,
		AuthOK:         "235",
		AuthNO:         "5",
		ContinuePrefix: "334 ",
		CancelToken:    "*",
		LogoutCmd:      "QUIT",
		LogoutOK:       "221",
	},
	"mupdate": {
		Name:                "mupdate",
		Terminator:          "* OK",
		MechlistPrefix:      "* AUTH ",
		AuthCmd:             "A01 AUTHENTICATE",
		MaxBase64Line:       int(^uint(0) >> 1), // INT_MAX equivalent
		NoAuthEmptyContinue: true,
		AuthOK:              "A01 OK",
		AuthNO:              "A01 NO",
		ContinuePrefix:      "",
		CancelToken:         "*",
		LogoutCmd:           "Q01 LOGOUT",
		LogoutOK:            "Q01 ",
	},
}

// Get returns the descriptor for name, and whether it exists.
func Get(name string) (*Descriptor, bool) {
	d, ok := Descriptors[name]
	return d, ok
}
