// Package arena provides a request-scoped bump allocator.
//
// An Arena hands out contiguous runs of objects and byte buffers from
// chunked slabs. Individual allocations are never freed; the whole arena is
// recycled with Reset or dropped with Release when the request ends. Memory
// handed out by an arena must not be used after Reset or Release.
package arena

// DefaultObjectChunk is the default number of objects per object chunk.
const DefaultObjectChunk = 256

// DefaultByteChunk is the default size of a byte chunk (4 KiB).
const DefaultByteChunk = 4 << 10

// Stats reports allocation counters for an arena since its last Reset.
type Stats struct {
	// Objects is the number of objects handed out.
	Objects int
	// Bytes is the number of string bytes handed out.
	Bytes int
	// Chunks is the number of chunks backing the arena (objects and bytes).
	Chunks int
}

// Arena is a chunked bump allocator for objects of type T and raw bytes.
// It is not safe for concurrent use; each request owns its own arena.
type Arena[T any] struct {
	objects slab[T]
	bytes   slab[byte]
	stats   Stats
}

// Option configures an Arena.
type Option func(*config)

type config struct {
	objectChunk int
	byteChunk   int
}

// WithObjectChunk sets the number of objects per chunk.
func WithObjectChunk(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.objectChunk = n
		}
	}
}

// WithByteChunk sets the byte chunk size.
func WithByteChunk(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.byteChunk = n
		}
	}
}

// New creates an Arena. Chunks are allocated lazily.
func New[T any](opts ...Option) *Arena[T] {
	cfg := config{objectChunk: DefaultObjectChunk, byteChunk: DefaultByteChunk}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Arena[T]{
		objects: slab[T]{chunkLen: cfg.objectChunk},
		bytes:   slab[byte]{chunkLen: cfg.byteChunk},
	}
}

// AllocObjects returns n contiguous zero-valued objects. The returned slice
// has capacity n, so appending to it never writes into neighbouring
// allocations. Returns nil if n <= 0.
func (a *Arena[T]) AllocObjects(n int) []T {
	if n <= 0 {
		return nil
	}
	a.panicIfReleased()
	out := a.objects.alloc(n)
	a.stats.Objects += n
	return out
}

// AllocString returns an n-byte buffer for string data. Returns nil if n <= 0.
func (a *Arena[T]) AllocString(n int) []byte {
	if n <= 0 {
		return nil
	}
	a.panicIfReleased()
	out := a.bytes.alloc(n)
	a.stats.Bytes += n
	return out
}

// Stats returns the allocation counters.
func (a *Arena[T]) Stats() Stats {
	s := a.stats
	s.Chunks = len(a.objects.chunks) + len(a.bytes.chunks)
	return s
}

// Reset makes all chunks available again. Objects are zeroed so the arena
// does not keep references alive across requests.
func (a *Arena[T]) Reset() {
	a.panicIfReleased()
	a.objects.reset(true)
	a.bytes.reset(false)
	a.stats = Stats{}
}

// Release drops all chunks. Any later allocation panics.
func (a *Arena[T]) Release() {
	a.objects = slab[T]{released: true}
	a.bytes = slab[byte]{released: true}
	a.stats = Stats{}
}

func (a *Arena[T]) panicIfReleased() {
	if a.objects.released {
		panic("arena: use after Release()")
	}
}

// slab is a list of fixed-length chunks bump-allocated in order.
type slab[E any] struct {
	chunks   [][]E
	cur      int // index of the chunk being filled
	off      int // next free element in chunks[cur]
	chunkLen int
	released bool
}

func (s *slab[E]) alloc(n int) []E {
	if len(s.chunks) > 0 {
		c := s.chunks[s.cur]
		if s.off+n <= len(c) {
			out := c[s.off : s.off+n : s.off+n]
			s.off += n
			return out
		}
		// Try the chunks kept from before the last reset.
		for s.cur+1 < len(s.chunks) {
			s.cur++
			s.off = 0
			if c := s.chunks[s.cur]; n <= len(c) {
				s.off = n
				return c[:n:n]
			}
		}
	}
	size := s.chunkLen
	if n > size {
		size = n
	}
	c := make([]E, size)
	s.chunks = append(s.chunks, c)
	s.cur = len(s.chunks) - 1
	s.off = n
	return c[:n:n]
}

func (s *slab[E]) reset(zero bool) {
	if zero {
		for i := 0; i <= s.cur && i < len(s.chunks); i++ {
			clear(s.chunks[i])
		}
	}
	s.cur = 0
	s.off = 0
}
