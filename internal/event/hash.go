package event

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// hashSep separates hash fields. 0x1F (unit separator) is a control
// character and cannot occur in a title, so concatenation is unambiguous.
const hashSep = "\x1f"

// Hash returns the business-key digest identifying "the same" event across
// ingestions: xxhash64 of title and the start/end date and time of day,
// rendered as 16 lowercase hex characters. ID and prices are deliberately
// excluded — re-seeing a known event with new prices must map to the same
// row.
func (e Event) Hash() string {
	d := xxhash.New()
	d.WriteString(e.Title)
	d.WriteString(hashSep)
	d.WriteString(e.StartsAt.Format(DateLayout))
	d.WriteString(hashSep)
	d.WriteString(e.StartsAt.Format(TimeLayout))
	d.WriteString(hashSep)
	d.WriteString(e.EndsAt.Format(DateLayout))
	d.WriteString(hashSep)
	d.WriteString(e.EndsAt.Format(TimeLayout))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], d.Sum64())
	return hex.EncodeToString(buf[:])
}

// DedupeByHash collapses events sharing a business key, keeping the last
// occurrence so that within one batch the final write wins deterministically.
func DedupeByHash(events []Event) []Event {
	idx := make(map[string]int, len(events))
	out := make([]Event, 0, len(events))
	for _, e := range events {
		h := e.Hash()
		if i, ok := idx[h]; ok {
			out[i] = e
			continue
		}
		idx[h] = len(out)
		out = append(out, e)
	}
	return out
}
