package normalize_test

import (
	"reflect"
	"testing"

	"github.com/wiretap-dev/wiretap/normalize"
)

func TestPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/users/550e8400-e29b-41d4-a716-446655440000/orders/42", "/users/:uuid/orders/:id"},
		{"/", "/"},
		{"/users/42/", "/users/:id"},
		{"/a1b2c3d4e5f6a1b2", "/:hash"},
		{"/users/alice", "/users/alice"},
		{"", "/"},
		{"/abc", "/abc"},
	}
	for _, c := range cases {
		got := normalize.Path(c.in)
		if got != c.want {
			t.Errorf("Path(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPathIdempotent(t *testing.T) {
	inputs := []string{
		"/users/550e8400-e29b-41d4-a716-446655440000/orders/42",
		"/a1b2c3d4e5f6a1b2",
		"/users/alice/",
		"/",
	}
	for _, in := range inputs {
		once := normalize.Path(in)
		twice := normalize.Path(once)
		if once != twice {
			t.Errorf("Path not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestQueryKeys(t *testing.T) {
	got := normalize.QueryKeys("http://example.com/path?b=2&a=1&a=3")
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("QueryKeys = %v, want %v", got, want)
	}
}

func TestQueryKeysInvalidURL(t *testing.T) {
	got := normalize.QueryKeys("://not a url")
	if len(got) != 0 {
		t.Errorf("QueryKeys for invalid URL = %v, want empty", got)
	}
}

func TestQueryKeysNoQuery(t *testing.T) {
	got := normalize.QueryKeys("http://example.com/path")
	if len(got) != 0 {
		t.Errorf("QueryKeys with no query = %v, want empty", got)
	}
}

func TestMergeQueryKeys(t *testing.T) {
	got := normalize.MergeQueryKeys([]string{"a", "c"}, []string{"b", "a"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeQueryKeys = %v, want %v", got, want)
	}
}
