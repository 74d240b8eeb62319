package kvsource

// Aggregate chains several sources: all pairs of the first source, then all
// pairs of the second, and so on. It is used to merge repeated Cookie
// headers in header order.
type Aggregate struct {
	sources []Source
	idx     int
}

// NewAggregate creates an Aggregate positioned on its first pair.
func NewAggregate(sources ...Source) *Aggregate {
	a := &Aggregate{sources: sources}
	a.Reset()
	return a
}

// Add appends a source and rewinds the aggregate.
func (a *Aggregate) Add(src Source) {
	a.sources = append(a.sources, src)
	a.Reset()
}

// Len returns the number of child sources.
func (a *Aggregate) Len() int { return len(a.sources) }

// Reset implements Source.
func (a *Aggregate) Reset() {
	for _, s := range a.sources {
		s.Reset()
	}
	a.idx = 0
	a.skipEnded()
}

// Next implements Source.
func (a *Aggregate) Next() {
	if a.Ended() {
		return
	}
	a.sources[a.idx].Next()
	a.skipEnded()
}

// Ended implements Source. It is true only once every child is exhausted.
func (a *Aggregate) Ended() bool { return a.idx >= len(a.sources) }

// Key implements Source.
func (a *Aggregate) Key() string { return a.sources[a.idx].Key() }

// Pair implements Source.
func (a *Aggregate) Pair() (string, string) { return a.sources[a.idx].Pair() }

// Deleted implements Source.
func (a *Aggregate) Deleted() bool { return a.sources[a.idx].Deleted() }

func (a *Aggregate) skipEnded() {
	for a.idx < len(a.sources) && a.sources[a.idx].Ended() {
		a.idx++
	}
}
