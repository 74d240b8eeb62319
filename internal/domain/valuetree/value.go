// Package valuetree defines the fixed-shape value tree handed to the security
// rule engine.
//
// A Value is one of Null, String, Map or Array. Map and Array children are
// allocated from a request arena with a fixed capacity that never grows:
// callers count first and fill second. Writing past the declared capacity is
// a logic error and panics.
package valuetree

import (
	"fmt"
	"unsafe"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/arena"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	// KindInvalid is the zero Kind of a slot that was never written.
	KindInvalid Kind = iota
	// KindNull is an explicit absent value.
	KindNull
	// KindString is a string scalar.
	KindString
	// KindMap is a fixed-capacity list of keyed entries.
	KindMap
	// KindArray is a fixed-capacity sequence of entries.
	KindArray
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	case KindArray:
		return "array"
	default:
		return "invalid"
	}
}

// Arena is the request arena values are allocated from.
type Arena = arena.Arena[Value]

// NewArena creates an arena for value trees.
func NewArena(opts ...arena.Option) *Arena {
	return arena.New[Value](opts...)
}

// Value is a node of the tree. The zero Value is KindInvalid.
type Value struct {
	key      string
	kind     Kind
	str      string
	children []Value // len == capacity
	n        int     // written length for arrays; capacity for maps
}

// New allocates a single root value from the arena.
func New(a *Arena) *Value {
	return &a.AllocObjects(1)[0]
}

// Kind returns the variant held by v.
func (v *Value) Kind() Kind { return v.kind }

// Key returns the map-entry key attached to v, if any.
func (v *Value) Key() string { return v.key }

// SetKey attaches a borrowed key. The key must outlive the tree.
func (v *Value) SetKey(key string) { v.key = key }

// Str returns the string payload. It is empty unless Kind is KindString.
func (v *Value) Str() string { return v.str }

// MakeNull turns v into Null.
func (v *Value) MakeNull() {
	v.kind = KindNull
	v.str = ""
	v.children = nil
	v.n = 0
}

// MakeString turns v into a String referencing s without copying.
func (v *Value) MakeString(s string) {
	v.kind = KindString
	v.str = s
	v.children = nil
	v.n = 0
}

// MakeStringCopy turns v into a String holding an arena-owned copy of s.
func (v *Value) MakeStringCopy(s string, a *Arena) {
	v.MakeString(CopyString(a, s))
}

// MakeMap turns v into a Map with capacity entries, all of which must be
// filled through Entry.
func (v *Value) MakeMap(capacity int, a *Arena) {
	v.kind = KindMap
	v.str = ""
	v.children = a.AllocObjects(capacity)
	v.n = capacity
}

// MakeArray turns v into an empty Array that can hold capacity entries.
func (v *Value) MakeArray(capacity int, a *Arena) {
	v.kind = KindArray
	v.str = ""
	v.children = a.AllocObjects(capacity)
	v.n = 0
}

// Len returns the number of entries of a Map or the written length of an
// Array. It is zero for scalars.
func (v *Value) Len() int { return v.n }

// Cap returns the fixed capacity of a Map or Array.
func (v *Value) Cap() int { return len(v.children) }

// Entry returns the i-th slot of a Map or Array. The caller guarantees
// i < Cap(); anything else panics.
func (v *Value) Entry(i int) *Value {
	return &v.children[i]
}

// Append returns the next unwritten slot of an Array and extends its length.
// Appending past capacity panics.
func (v *Value) Append() *Value {
	if v.kind != KindArray {
		panic(fmt.Sprintf("valuetree: Append on %s", v.kind))
	}
	if v.n >= len(v.children) {
		panic(fmt.Sprintf("valuetree: array capacity %d exceeded", len(v.children)))
	}
	e := &v.children[v.n]
	v.n++
	return e
}

// Truncate drops every written entry of an Array. The capacity is kept.
func (v *Value) Truncate() {
	if v.kind != KindArray {
		panic(fmt.Sprintf("valuetree: Truncate on %s", v.kind))
	}
	v.n = 0
}

// Entries returns the written entries of a Map or Array.
func (v *Value) Entries() []Value {
	return v.children[:v.n]
}

// Lookup returns the first Map entry with the given key.
func (v *Value) Lookup(key string) (*Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	for i := range v.children[:v.n] {
		if v.children[i].key == key {
			return &v.children[i], true
		}
	}
	return nil, false
}

// CopyString copies s into arena-owned storage. The result is only valid
// until the arena is reset or released.
func CopyString(a *Arena, s string) string {
	if s == "" {
		return ""
	}
	buf := a.AllocString(len(s))
	copy(buf, s)
	return BytesToString(buf)
}

// BytesToString returns a string sharing storage with b. b must not be
// modified afterwards.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
