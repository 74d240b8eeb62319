package collection

import (
	"fmt"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/kvsource"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/valuetree"
)

// Collect turns src into a map with one entry per distinct key and stores it
// in slot.
//
// The first pass counts occurrences per key; deleted occurrences count too,
// so a later deletion never invalidates a slot already handed out. The second
// pass fills a map sized to the number of distinct keys. A key seen once
// becomes a string entry; a key seen more than once becomes an array sized to
// its occurrence count, filled in source order. A deleted occurrence empties
// the array written so far, so the last deletion wins. A key whose only
// occurrence is deleted is kept as an empty array.
func Collect(src kvsource.Source, slot *valuetree.Value, a *valuetree.Arena) {
	counts := make(map[string]int)
	for src.Reset(); !src.Ended(); src.Next() {
		counts[src.Key()]++
	}

	slot.MakeMap(len(counts), a)
	if len(counts) == 0 {
		return
	}

	arrays := make(map[string]*valuetree.Value)
	next := 0
	for src.Reset(); !src.Ended(); src.Next() {
		key, value := src.Pair()
		deleted := src.Deleted()

		n, ok := counts[key]
		if !ok {
			panic(fmt.Sprintf("collection: key %q appeared only on the second pass", key))
		}

		if arr, seen := arrays[key]; seen {
			if deleted {
				arr.Truncate()
			} else {
				arr.Append().MakeString(value)
			}
			continue
		}

		if next >= slot.Cap() {
			panic(fmt.Sprintf("collection: map capacity %d exceeded", slot.Cap()))
		}
		entry := slot.Entry(next)
		next++
		entry.SetKey(key)

		if n == 1 && !deleted {
			entry.MakeString(value)
			continue
		}

		entry.MakeArray(n, a)
		arrays[key] = entry
		if !deleted {
			entry.Append().MakeString(value)
		}
	}

	if next != slot.Cap() {
		panic(fmt.Sprintf("collection: filled %d of %d map entries", next, slot.Cap()))
	}
}
