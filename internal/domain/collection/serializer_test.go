package collection

import (
	"reflect"
	"testing"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/kvsource"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/valuetree"
)

type staticIP struct {
	ip string
	ok bool
}

func (s staticIP) ResolveClientIP([]kvsource.Header, string) (string, bool) {
	return s.ip, s.ok
}

func sampleRequest() *Request {
	return &Request{
		Query:  "a=1&a=2&b=3",
		URIRaw: "/search?a=1&a=2&b=3",
		Method: "GET",
		Headers: []kvsource.Header{
			{Name: "Host", Value: "example.com"},
			{Name: "Cookie", Value: "x=1; y=2"},
			{Name: "Accept", Value: "text/html"},
			{Name: "Cookie", Value: "x=3"},
		},
		Cookies:  []string{"x=1; y=2", "x=3"},
		PeerAddr: "10.0.0.1:5555",
	}
}

func TestSerializer_RequestData(t *testing.T) {
	a := valuetree.NewArena()
	root := NewSerializer(a, staticIP{ip: "203.0.113.7", ok: true}).RequestData(sampleRequest())

	if root.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", root.Len())
	}
	keys := []string{AddrQuery, AddrURIRaw, AddrMethod, AddrHeadersNoCookies, AddrCookies, AddrClientIP}
	for i, want := range keys {
		if got := root.Entry(i).Key(); got != want {
			t.Errorf("entry %d key = %q, want %q", i, got, want)
		}
	}

	want := map[string]any{
		AddrQuery:  map[string]any{"a": []any{"1", "2"}, "b": "3"},
		AddrURIRaw: "/search?a=1&a=2&b=3",
		AddrMethod: "GET",
		AddrHeadersNoCookies: map[string]any{
			"host":   "example.com",
			"accept": "text/html",
		},
		AddrCookies:  map[string]any{"x": []any{"1", "3"}, "y": "2"},
		AddrClientIP: "203.0.113.7",
	}
	if got := root.Interface(); !reflect.DeepEqual(got, want) {
		t.Errorf("RequestData() = %#v\nwant %#v", got, want)
	}
}

func TestSerializer_RequestData_Empty(t *testing.T) {
	a := valuetree.NewArena()
	root := NewSerializer(a, nil).RequestData(&Request{Method: "GET", URIRaw: "/"})

	query, _ := root.Lookup(AddrQuery)
	if query.Kind() != valuetree.KindMap || query.Len() != 0 {
		t.Errorf("query = %s/%d, want empty map", query.Kind(), query.Len())
	}
	cookies, _ := root.Lookup(AddrCookies)
	if cookies.Kind() != valuetree.KindMap || cookies.Len() != 0 {
		t.Errorf("cookies = %s/%d, want empty map", cookies.Kind(), cookies.Len())
	}
	ip, _ := root.Lookup(AddrClientIP)
	if ip.Kind() != valuetree.KindNull {
		t.Errorf("client ip kind = %s, want null", ip.Kind())
	}
}

func TestSerializer_ClientIPUnresolved(t *testing.T) {
	a := valuetree.NewArena()
	root := NewSerializer(a, staticIP{}).RequestData(sampleRequest())
	ip, _ := root.Lookup(AddrClientIP)
	if ip.Kind() != valuetree.KindNull {
		t.Errorf("client ip kind = %s, want null", ip.Kind())
	}
}

func TestSerializer_Idempotent(t *testing.T) {
	req := sampleRequest()
	r1 := NewSerializer(valuetree.NewArena(), staticIP{ip: "1.2.3.4", ok: true}).RequestData(req)
	r2 := NewSerializer(valuetree.NewArena(), staticIP{ip: "1.2.3.4", ok: true}).RequestData(req)
	if !valuetree.Equal(r1, r2) {
		t.Error("serializing the same request twice produced different trees")
	}
}

func TestSerializer_ResponseData(t *testing.T) {
	a := valuetree.NewArena()
	resp := &Response{
		Status: 418,
		Headers: []kvsource.Header{
			{Name: "Content-Type", Value: "text/plain"},
			{Name: "Set-Cookie", Value: "sid=1"},
			{Name: "X-Debug", Value: "on"},
			{Name: "X-Debug", Value: "off", Removed: true},
		},
	}
	root := NewSerializer(a, nil).ResponseData(resp)

	if root.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", root.Len())
	}
	want := map[string]any{
		AddrResponseStatus: "418",
		AddrRespHeadersNoCookies: map[string]any{
			"content-type": "text/plain",
			"x-debug":      []any{},
		},
	}
	if got := root.Interface(); !reflect.DeepEqual(got, want) {
		t.Errorf("ResponseData() = %#v\nwant %#v", got, want)
	}
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "200"},
		{201, "201"},
		{301, "301"},
		{302, "302"},
		{303, "303"},
		{404, "404"},
		{100, "100"},
		{418, "418"},
		{503, "503"},
		{599, "599"},
		{600, "0"},
		{999, "0"},
		{99, "0"},
		{42, "0"},
		{-1, "0"},
	}
	for _, tt := range tests {
		a := valuetree.NewArena()
		if got := FormatStatus(tt.status, a); got != tt.want {
			t.Errorf("FormatStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestFormatStatus_ConstantsDoNotAllocate(t *testing.T) {
	a := valuetree.NewArena()
	FormatStatus(200, a)
	FormatStatus(999, a)
	if a.Stats().Bytes != 0 {
		t.Errorf("constant statuses allocated %d bytes", a.Stats().Bytes)
	}
	FormatStatus(418, a)
	if a.Stats().Bytes != 3 {
		t.Errorf("digit path allocated %d bytes, want 3", a.Stats().Bytes)
	}
}
