// Package annotation implements the ordered two-way merge between a local
// and a remote annotation stream (§4.F), committing the result through a
// caller-supplied transaction.
package annotation

import (
	"bytes"

	"github.com/replicon/mboxsync/internal/metrics"
	"github.com/replicon/mboxsync/reconcile"
)

// Store is the write side of the annotation merge: a single
// mailbox-or-message-scoped transaction the merge writes through. Commit
// applies every write atomically; Abort discards them. The mail store
// decides, via NewTxn's scope argument, whether this spans one message or
// the whole mailbox (§4.F).
type Store interface {
	Write(entry, userid string, value []byte) error
	Commit() error
	Abort() error
}

// Merge performs the §4.F three-way comparison over local and remote,
// both of which must already be sorted ascending by (Entry, Userid) (the
// merge's stated precondition), and writes the result through txn.
//
// On any Write error the merge stops immediately, aborts txn, and returns
// the error; on full success it commits and returns nil.
func Merge(txn Store, local, remote *reconcile.AnnotList, localWins bool) error {
	if err := merge(txn, local, remote, localWins); err != nil {
		_ = txn.Abort()
		return err
	}
	return txn.Commit()
}

func merge(txn Store, local, remote *reconcile.AnnotList, localWins bool) error {
	l := local.Entries()
	r := remote.Entries()
	i, j := 0, 0
	bias := "remote"
	if localWins {
		bias = "local"
	}
	write := func(entry, userid string, value []byte) error {
		if err := txn.Write(entry, userid, value); err != nil {
			return err
		}
		metrics.AnnotationWrites.WithLabelValues(bias).Inc()
		return nil
	}

	for i < len(l) || j < len(r) {
		switch {
		case j >= len(r) || (i < len(l) && annotKeyLess(l[i], r[j])):
			// local only
			if localWins {
				if err := write(l[i].Entry, l[i].Userid, l[i].Value); err != nil {
					return err
				}
			} else {
				if err := write(l[i].Entry, l[i].Userid, nil); err != nil {
					return err
				}
			}
			i++

		case i >= len(l) || annotKeyLess(r[j], l[i]):
			// remote only
			if localWins {
				if err := write(r[j].Entry, r[j].Userid, nil); err != nil {
					return err
				}
			} else {
				if err := write(r[j].Entry, r[j].Userid, r[j].Value); err != nil {
					return err
				}
			}
			j++

		default:
			// same (entry, userid) on both sides
			if !bytes.Equal(l[i].Value, r[j].Value) {
				winner := r[j].Value
				if localWins {
					winner = l[i].Value
				}
				if err := write(l[i].Entry, l[i].Userid, winner); err != nil {
					return err
				}
			}
			i++
			j++
		}
	}
	return nil
}

// annotKeyLess orders two annotations ascending by (Entry, Userid).
func annotKeyLess(a, b *reconcile.AnnotEntry) bool {
	if a.Entry != b.Entry {
		return a.Entry < b.Entry
	}
	return a.Userid < b.Userid
}
