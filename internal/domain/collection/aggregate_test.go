package collection

import (
	"reflect"
	"testing"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/kvsource"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/valuetree"
)

// pairs is an in-memory Source used to drive Collect directly.
type pairs struct {
	items []pair
	i     int
}

type pair struct {
	key, value string
	deleted    bool
}

func (p *pairs) Reset() { p.i = 0 }
func (p *pairs) Next() { p.i++ }
func (p *pairs) Ended() bool { return p.i >= len(p.items) }
func (p *pairs) Key() string { return p.items[p.i].key }
func (p *pairs) Pair() (string, string) { return p.items[p.i].key, p.items[p.i].value }
func (p *pairs) Deleted() bool { return p.items[p.i].deleted }

var _ kvsource.Source = (*pairs)(nil)

func collect(src kvsource.Source) *valuetree.Value {
	a := valuetree.NewArena()
	slot := valuetree.New(a)
	Collect(src, slot, a)
	return slot
}

func TestCollect_QueryString(t *testing.T) {
	a := valuetree.NewArena()
	slot := valuetree.New(a)
	Collect(kvsource.NewURLQuery("a=1&a=2&b=3", a), slot, a)

	want := map[string]any{
		"a": []any{"1", "2"},
		"b": "3",
	}
	if got := slot.Interface(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
	if slot.Len() != 2 {
		t.Errorf("Len() = %d, want 2", slot.Len())
	}
	if slot.Entry(0).Key() != "a" || slot.Entry(1).Key() != "b" {
		t.Errorf("entries not in first-occurrence order: %q, %q", slot.Entry(0).Key(), slot.Entry(1).Key())
	}
}

func TestCollect_Cookies(t *testing.T) {
	a := valuetree.NewArena()
	slot := valuetree.New(a)
	agg := kvsource.NewAggregate(
		kvsource.NewCookieHeader("x=1; y=2", a),
		kvsource.NewCookieHeader("x=3", a),
	)
	Collect(agg, slot, a)

	want := map[string]any{
		"x": []any{"1", "3"},
		"y": "2",
	}
	if got := slot.Interface(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestCollect_DistinctKeyCounts(t *testing.T) {
	src := &pairs{items: []pair{
		{key: "k1", value: "a"},
		{key: "k2", value: "b"},
		{key: "k1", value: "c"},
		{key: "k3", value: "d"},
		{key: "k1", value: "e"},
	}}
	slot := collect(src)

	if slot.Kind() != valuetree.KindMap || slot.Len() != 3 {
		t.Fatalf("kind=%s len=%d, want map of 3", slot.Kind(), slot.Len())
	}
	k1, _ := slot.Lookup("k1")
	if k1.Kind() != valuetree.KindArray || k1.Len() != 3 {
		t.Fatalf("k1 kind=%s len=%d, want array of 3", k1.Kind(), k1.Len())
	}
	for i, want := range []string{"a", "c", "e"} {
		if got := k1.Entries()[i].Str(); got != want {
			t.Errorf("k1[%d] = %q, want %q", i, got, want)
		}
	}
	k2, _ := slot.Lookup("k2")
	if k2.Kind() != valuetree.KindString || k2.Str() != "b" {
		t.Errorf("k2 = %s %q, want string b", k2.Kind(), k2.Str())
	}
}

func TestCollect_Deletes(t *testing.T) {
	tests := []struct {
		name  string
		items []pair
		want  map[string]any
	}{
		{
			name:  "only occurrence deleted",
			items: []pair{{key: "gone", value: "x", deleted: true}},
			want:  map[string]any{"gone": []any{}},
		},
		{
			name: "every occurrence deleted",
			items: []pair{
				{key: "h", value: "1", deleted: true},
				{key: "h", value: "2", deleted: true},
			},
			want: map[string]any{"h": []any{}},
		},
		{
			name: "delete clears earlier writes",
			items: []pair{
				{key: "h", value: "1"},
				{key: "h", value: "2"},
				{key: "h", value: "3", deleted: true},
				{key: "h", value: "4"},
			},
			want: map[string]any{"h": []any{"4"}},
		},
		{
			name: "last delete wins",
			items: []pair{
				{key: "h", value: "1"},
				{key: "h", value: "2", deleted: true},
				{key: "h", value: "3"},
				{key: "h", value: "4", deleted: true},
				{key: "o", value: "keep"},
			},
			want: map[string]any{"h": []any{}, "o": "keep"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(&pairs{items: tt.items}).Interface()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCollect_Empty(t *testing.T) {
	slot := collect(&pairs{})
	if slot.Kind() != valuetree.KindMap || slot.Cap() != 0 {
		t.Errorf("kind=%s cap=%d, want empty map", slot.Kind(), slot.Cap())
	}
}

// unstable yields a different key on its second pass.
type unstable struct {
	pairs
	passes int
}

func (u *unstable) Reset() {
	u.i = 0
	u.passes++
}
func (u *unstable) Key() string {
	if u.passes > 1 {
		return "other"
	}
	return u.pairs.Key()
}
func (u *unstable) Pair() (string, string) { return u.Key(), "v" }

func TestCollect_UnstableSourcePanics(t *testing.T) {
	src := &unstable{pairs: pairs{items: []pair{{key: "k", value: "v"}}}}
	defer func() {
		if recover() == nil {
			t.Error("expected panic for a source that changes between passes")
		}
	}()
	collect(src)
}
