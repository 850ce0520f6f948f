package upstream

import "net/http"

// headerEntry stores a single header key/value pair with its original casing.
type headerEntry struct {
	key   string
	value string
}

// OrderedHeader is a drop-in companion to http.Header that preserves the
// exact capitalisation and insertion order of HTTP headers.
//
// Unlike http.Header (a map[string][]string and therefore unordered),
// OrderedHeader stores entries in a slice so iteration always returns them
// in the order they were added. The forward proxy (C8) uses it to copy the
// client's headers onto the upstream request: each key keeps the spelling
// it has in the inbound http.Header and the values of one name keep their
// order, but the order across names is not preserved, because the inbound
// headers arrive as a map and ApplyToRequest writes them back into one.
//
// OrderedHeader is NOT safe for concurrent use without external
// synchronisation. Each proxied request builds and uses its own
// OrderedHeader within a single goroutine, so no additional locking is
// required.
type OrderedHeader struct {
	entries []headerEntry
}

// FromHTTPHeader builds an OrderedHeader from an http.Header. Go's net/http
// server parses headers into a map with canonicalized keys, so cross-name
// ordering is already lost by the time handler code sees it. Each key is
// copied with the spelling it has in h, the values of one name keep their
// slice order, and the order across names follows map iteration.
func FromHTTPHeader(h http.Header) *OrderedHeader {
	oh := &OrderedHeader{entries: make([]headerEntry, 0, len(h))}
	for key, values := range h {
		for _, v := range values {
			oh.entries = append(oh.entries, headerEntry{key: key, value: v})
		}
	}
	return oh
}

// Add appends key/value to the header list, preserving the exact casing of
// key. Multiple calls with the same key produce multiple entries
// (equivalent to http.Header.Add).
func (h *OrderedHeader) Add(key, value string) {
	h.entries = append(h.entries, headerEntry{key: key, value: value})
}

// Set replaces the first entry whose key matches key (case-insensitively)
// with the new value and removes any subsequent duplicates. If no entry
// with that key exists, Set behaves like Add.
func (h *OrderedHeader) Set(key, value string) {
	canonKey := http.CanonicalHeaderKey(key)
	replaced := false
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			if !replaced {
				out = append(out, headerEntry{key: key, value: value})
				replaced = true
			}
		} else {
			out = append(out, e)
		}
	}
	if !replaced {
		out = append(out, headerEntry{key: key, value: value})
	}
	h.entries = out
}

// Del removes all entries whose key matches key (case-insensitively). This
// is how the forward proxy strips hop-by-hop header names before relaying
// upstream.
func (h *OrderedHeader) Del(key string) {
	canonKey := http.CanonicalHeaderKey(key)
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) != canonKey {
			out = append(out, e)
		}
	}
	h.entries = out
}

// Get returns the value of the first entry whose key matches key
// (case-insensitively), or an empty string if no such entry exists.
func (h *OrderedHeader) Get(key string) string {
	canonKey := http.CanonicalHeaderKey(key)
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			return e.value
		}
	}
	return ""
}

// Len returns the number of header entries (including duplicates).
func (h *OrderedHeader) Len() int { return len(h.entries) }

// Clone returns a shallow copy of the receiver.
func (h *OrderedHeader) Clone() *OrderedHeader {
	c := &OrderedHeader{entries: make([]headerEntry, len(h.entries))}
	copy(c.entries, h.entries)
	return c
}

// ApplyToRequest writes every entry in h into req.Header, preserving the
// exact key casing by bypassing http.Header's canonical-key normalisation
// and writing directly into the underlying map. Values of one key keep
// their order; the order across keys is not preserved.
// Any headers already present in req.Header are replaced, not merged.
func (h *OrderedHeader) ApplyToRequest(req *http.Request) {
	req.Header = make(http.Header, len(h.entries))
	for _, e := range h.entries {
		req.Header[e.key] = append(req.Header[e.key], e.value)
	}
}

// ToHTTPHeader converts the OrderedHeader to a standard http.Header map.
// Insertion order is NOT preserved in the resulting map, but the exact key
// casing IS preserved because the raw key is used as the map key rather
// than http.CanonicalHeaderKey(key).
func (h *OrderedHeader) ToHTTPHeader() http.Header {
	out := make(http.Header, len(h.entries))
	for _, e := range h.entries {
		out[e.key] = append(out[e.key], e.value)
	}
	return out
}
