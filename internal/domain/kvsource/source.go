// Package kvsource provides ordered traversals over keyed pairs found in HTTP
// requests and responses: query strings, cookies and header lists.
//
// Every traversal implements Source so that a single aggregation algorithm
// can consume any of them. A Source yields (key, value, deleted) triples in a
// stable order and can be rewound with Reset to walk the same triples again.
package kvsource

// Source is a resettable, ordered traversal over (key, value) pairs.
//
// Usage:
//
//	for src.Reset(); !src.Ended(); src.Next() {
//		key, value := src.Pair()
//	}
//
// Key, Pair and Deleted must only be called while Ended is false.
type Source interface {
	// Reset rewinds the traversal to its first pair.
	Reset()
	// Next advances to the following pair.
	Next()
	// Ended reports whether the traversal is exhausted.
	Ended() bool
	// Key returns the key of the current pair.
	Key() string
	// Pair returns the key and value of the current pair.
	Pair() (key, value string)
	// Deleted reports whether the current pair was logically removed.
	Deleted() bool
}

// StringAllocator provides storage for strings produced while decoding or
// lower-casing. Request arenas satisfy it.
type StringAllocator interface {
	AllocString(n int) []byte
}

// Header is one header line. Removed marks a response header that earlier
// processing dropped but that is still listed.
type Header struct {
	Name    string
	Value   string
	Removed bool
}
