// Package normalize collapses volatile path segments (UUIDs, long hex
// blobs, numeric IDs) into stable placeholders so that structurally
// identical routes group together in reports, and extracts sorted unique
// query-parameter keys from a URL.
//
// normalize has no third-party dependencies: the grammar it implements
// (segment classification by regexp) is small enough that net/url and
// regexp cover it completely, and the teacher corpus has no path-templating
// library that would fit better than writing the ~30-line matcher by hand.
package normalize

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)
	hexPattern  = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	idPattern   = regexp.MustCompile(`^[0-9]+$`)
)

const (
	uuidPlaceholder = ":uuid"
	hashPlaceholder = ":hash"
	idPlaceholder   = ":id"

	minHashLen = 16
)

// Path collapses numeric IDs, UUIDs, and long hex segments in p to stable
// placeholders. A single trailing slash is stripped unless p is the root.
// Path is idempotent: Path(Path(p)) == Path(p) for all p.
func Path(p string) string {
	if p == "" {
		return "/"
	}
	if p != "/" && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}

	segments := strings.Split(p, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		segments[i] = classify(seg)
	}
	return strings.Join(segments, "/")
}

// classify maps a single non-empty path segment to its placeholder, or
// returns it unchanged if none of the patterns match. Checks run in the
// order UUID, then hash, then decimal id. Digits are a subset of hex, so a
// purely numeric segment of minHashLen or more digits becomes :hash, and
// shorter numeric segments become :id.
func classify(seg string) string {
	switch {
	case uuidPattern.MatchString(seg):
		return uuidPlaceholder
	case len(seg) >= minHashLen && hexPattern.MatchString(seg):
		return hashPlaceholder
	case idPattern.MatchString(seg):
		return idPlaceholder
	default:
		return seg
	}
}

// QueryKeys returns the sorted, deduplicated set of query parameter keys
// present in rawURL. Invalid URLs yield an empty slice rather than an
// error — path normalization is a best-effort reporting concern, never a
// reason to fail the capture pipeline.
func QueryKeys(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return []string{}
	}
	return queryKeysFromValues(u.Query())
}

func queryKeysFromValues(values url.Values) []string {
	if len(values) == 0 {
		return []string{}
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MergeQueryKeys returns the sorted union of two already-deduplicated
// key sets, used by ReportBuilder to accumulate queryKeys across repeated
// visits to the same endpoint.
func MergeQueryKeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, k := range a {
		seen[k] = struct{}{}
	}
	for _, k := range b {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
