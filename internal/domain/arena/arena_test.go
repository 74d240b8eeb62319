package arena

import "testing"

type node struct {
	name string
	next *node
}

func TestAllocObjects(t *testing.T) {
	a := New[node](WithObjectChunk(4))

	first := a.AllocObjects(3)
	if len(first) != 3 || cap(first) != 3 {
		t.Fatalf("AllocObjects(3) len=%d cap=%d, want 3/3", len(first), cap(first))
	}
	first[0].name = "a"

	// Does not fit in the remaining slot of the first chunk.
	second := a.AllocObjects(2)
	if len(second) != 2 {
		t.Fatalf("AllocObjects(2) len=%d, want 2", len(second))
	}
	if first[0].name != "a" {
		t.Error("earlier allocation was overwritten")
	}

	// Larger than a chunk gets its own chunk.
	big := a.AllocObjects(10)
	if len(big) != 10 {
		t.Fatalf("AllocObjects(10) len=%d, want 10", len(big))
	}

	st := a.Stats()
	if st.Objects != 15 {
		t.Errorf("Stats().Objects = %d, want 15", st.Objects)
	}
	if st.Chunks != 3 {
		t.Errorf("Stats().Chunks = %d, want 3", st.Chunks)
	}
}

func TestAllocObjects_NonPositive(t *testing.T) {
	a := New[node]()
	if got := a.AllocObjects(0); got != nil {
		t.Errorf("AllocObjects(0) = %v, want nil", got)
	}
	if got := a.AllocString(-1); got != nil {
		t.Errorf("AllocString(-1) = %v, want nil", got)
	}
}

func TestAllocations_DoNotAlias(t *testing.T) {
	a := New[node](WithObjectChunk(8))
	x := a.AllocObjects(2)
	y := a.AllocObjects(2)
	x = append(x, node{name: "grown"})
	if y[0].name != "" {
		t.Errorf("append on one allocation leaked into the next: %q", y[0].name)
	}
	_ = x
}

func TestAllocString(t *testing.T) {
	a := New[node](WithByteChunk(8))
	b := a.AllocString(5)
	copy(b, "hello")
	c := a.AllocString(5)
	copy(c, "world")
	if string(b) != "hello" || string(c) != "world" {
		t.Errorf("got %q %q", b, c)
	}
	if a.Stats().Bytes != 10 {
		t.Errorf("Stats().Bytes = %d, want 10", a.Stats().Bytes)
	}
}

func TestReset_ReusesAndZeroes(t *testing.T) {
	a := New[node](WithObjectChunk(4))
	objs := a.AllocObjects(4)
	objs[0].name = "stale"
	objs[1].next = &objs[0]
	chunks := a.Stats().Chunks

	a.Reset()
	if a.Stats().Objects != 0 {
		t.Errorf("Stats().Objects after Reset = %d, want 0", a.Stats().Objects)
	}

	again := a.AllocObjects(4)
	if again[0].name != "" || again[1].next != nil {
		t.Error("Reset did not zero reused objects")
	}
	if got := a.Stats().Chunks; got != chunks {
		t.Errorf("Chunks after reuse = %d, want %d", got, chunks)
	}
}

func TestRelease_PanicsOnUse(t *testing.T) {
	a := New[node]()
	a.AllocObjects(1)
	a.Release()

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic after Release")
		}
	}()
	a.AllocObjects(1)
}
