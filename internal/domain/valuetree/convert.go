package valuetree

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Interface converts the tree to plain Go values: nil, string,
// map[string]any and []any. Later map entries win on duplicate keys.
func (v *Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindMap:
		m := make(map[string]any, v.n)
		for i := range v.children[:v.n] {
			e := &v.children[i]
			m[e.key] = e.Interface()
		}
		return m
	case KindArray:
		s := make([]any, v.n)
		for i := range v.children[:v.n] {
			s[i] = v.children[i].Interface()
		}
		return s
	default:
		return nil
	}
}

// Equal reports whether two trees have the same shape, keys and strings.
// Capacity beyond the written length is ignored.
func Equal(a, b *Value) bool {
	if a.kind != b.kind || a.key != b.key || a.n != b.n {
		return false
	}
	switch a.kind {
	case KindString:
		return a.str == b.str
	case KindMap, KindArray:
		for i := 0; i < a.n; i++ {
			if !Equal(&a.children[i], &b.children[i]) {
				return false
			}
		}
	}
	return true
}

// Fingerprint returns a 64-bit hash of the tree contents. Equal trees have
// equal fingerprints.
func (v *Value) Fingerprint() uint64 {
	h := xxhash.New()
	v.hash(h)
	return h.Sum64()
}

func (v *Value) hash(h *xxhash.Digest) {
	var hdr [9]byte
	hdr[0] = byte(v.kind)
	binary.LittleEndian.PutUint64(hdr[1:], uint64(len(v.key)))
	_, _ = h.Write(hdr[:])
	_, _ = h.WriteString(v.key)

	switch v.kind {
	case KindString:
		binary.LittleEndian.PutUint64(hdr[1:], uint64(len(v.str)))
		_, _ = h.Write(hdr[1:])
		_, _ = h.WriteString(v.str)
	case KindMap, KindArray:
		binary.LittleEndian.PutUint64(hdr[1:], uint64(v.n))
		_, _ = h.Write(hdr[1:])
		for i := range v.children[:v.n] {
			v.children[i].hash(h)
		}
	}
}
