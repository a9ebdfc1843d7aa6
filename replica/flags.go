// Package replica implements the mailbox diff and upload pipeline (§4.E):
// deciding, per index record, whether to skip it, send metadata only, or
// attach the message payload, and serializing the result into the dlist
// builders the wire layer flushes.
package replica

import (
	"fmt"

	"github.com/replicon/mboxsync/dlist"
	"github.com/replicon/mboxsync/protocol"
	"github.com/replicon/mboxsync/store"
)

// systemFlagTokens mirrors store.EncodeSystemFlags's fixed printing order;
// kept here as the receive-side inverse table.
var systemFlagTokens = map[string]store.SystemFlags{
	`\Answered`: store.FlagAnswered,
	`\Flagged`:  store.FlagFlagged,
	`\Deleted`:  store.FlagDeleted,
	`\Draft`:    store.FlagDraft,
	`\Expunged`: store.FlagExpunged,
	`\Seen`:     store.FlagSeen,
}

// EncodeFlags renders rec's system and user flags as dlist atoms, system
// flags as their literal backslash tokens and user flags by name, using
// flagNames to translate this mailbox's per-slot table (SPEC_FULL.md §3.3).
func EncodeFlags(rec store.IndexRecord, flagNames []string) []dlist.Value {
	var out []dlist.Value
	for _, tok := range store.EncodeSystemFlags(rec.SystemFlags) {
		out = append(out, dlist.Flag("", tok))
	}
	for slot, name := range flagNames {
		if name != "" && rec.UserFlags.IsSet(slot) {
			out = append(out, dlist.Flag("", name))
		}
	}
	return out
}

// DecodeFlags interns a flag token read off the wire into a slot, creating
// new user-flag slots as needed. System flag tokens are recognized and
// ORed directly into *sysFlags; anything else is treated as a user flag
// name and looked up/created via internFlag.
func DecodeFlags(tokens []string, sysFlags *store.SystemFlags, userFlags *store.UserFlags, internFlag func(name string) (slot int, err error)) error {
	for _, tok := range tokens {
		if bit, ok := systemFlagTokens[tok]; ok {
			*sysFlags |= bit
			continue
		}
		slot, err := internFlag(tok)
		if err != nil {
			return protocol.New(protocol.ProtocolBadParameters, fmt.Sprintf("unknown flag %q: %v", tok, err), nil)
		}
		userFlags.Set(slot)
	}
	return nil
}
