// Package redact implements the sanitizer (C2): redaction of sensitive
// headers, query parameters, form fields, and recursive JSON body fields
// before a LogRecord reaches the ring buffer or the session store.
//
// Every function here fails open: a parse error on a query string, form
// body, or JSON body leaves that field untouched rather than aborting the
// capture pipeline. Redaction is best-effort defense in depth, not a
// guarantee the pipeline enforces by refusing to proceed.
package redact

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/wiretap-dev/wiretap/capture"
)

// Mask replaces a sensitive value wholesale.
const Mask = "***redacted***"

var sensitiveHeaders = map[string]struct{}{
	"authorization":        {},
	"proxy-authorization":  {},
	"cookie":               {},
	"set-cookie":           {},
	"x-api-key":            {},
	"x-auth-token":         {},
	"x-csrf-token":         {},
	"x-xsrf-token":         {},
	"x-amz-security-token": {},
}

var sensitiveQueryTerms = []string{
	"token", "access_token", "refresh_token", "id_token", "api_key",
	"apikey", "key", "code", "password", "passwd", "secret", "signature", "sig",
}

var sensitiveJSONTerms = []string{
	"password", "passwd", "secret", "token", "refresh", "access",
	"authorization", "cookie", "apikey", "api_key", "session", "csrf", "xsrf",
}

// Record returns a redacted copy of rec. rec itself is never mutated.
func Record(rec capture.LogRecord) capture.LogRecord {
	out := rec
	out.Request = sanitizeMessage(rec.Request)
	if rec.Response != nil {
		resp := sanitizeMessage(*rec.Response)
		out.Response = &resp
	}
	return out
}

func sanitizeMessage(msg capture.Message) capture.Message {
	out := msg
	if msg.Headers != nil {
		out.Headers = Headers(msg.Headers)
	}
	if msg.Query != nil {
		out.Query = Query(msg.Query)
	}
	if msg.Body != nil {
		body := Body(*msg.Body)
		out.Body = &body
	}
	return out
}

// Headers returns a copy of headers with sensitive names masked. Matching
// is case-insensitive against the fixed sensitive-header vocabulary; names
// and non-sensitive values are preserved verbatim.
func Headers(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if _, sensitive := sensitiveHeaders[strings.ToLower(name)]; sensitive {
			out[name] = Mask
		} else {
			out[name] = value
		}
	}
	return out
}

// Query returns a copy of a query-key/value map with sensitive keys
// masked, per isSensitiveQueryKey.
func Query(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if isSensitiveQueryKey(k) {
			out[k] = Mask
		} else {
			out[k] = v
		}
	}
	return out
}

// isSensitiveQueryKey reports whether k's lowercase form contains any
// sensitive query term. The "contains" rule subsumes the stricter
// equals/ends-with-"_term" rule spec.md also allows, so it is the only
// check applied.
func isSensitiveQueryKey(k string) bool {
	lower := strings.ToLower(k)
	for _, term := range sensitiveQueryTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Body redacts a captured request/response body according to its MIME
// type. Unrecognized MIME types, and any body that fails to parse under
// its recognized MIME type, are returned unchanged.
func Body(body capture.Body) capture.Body {
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(body.MIME, ";", 2)[0]))
	trimmed := strings.TrimSpace(body.Text)

	switch {
	case mime == "application/x-www-form-urlencoded":
		if redacted, ok := redactFormBody(body.Text); ok {
			body.Text = redacted
		}
	case strings.Contains(mime, "application/json") || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		if redacted, ok := redactJSONBody(body.Text); ok {
			body.Text = redacted
		}
	}
	return body
}

// SanitizeFormBody is exported so proxy components can redact a
// form-urlencoded body before it is ever attached to a LogRecord, in
// addition to the Body entry point above.
func SanitizeFormBody(text string) string {
	if redacted, ok := redactFormBody(text); ok {
		return redacted
	}
	return text
}

func redactFormBody(text string) (string, bool) {
	values, err := url.ParseQuery(text)
	if err != nil {
		return text, false
	}
	for key := range values {
		if isSensitiveQueryKey(key) {
			values.Set(key, Mask)
		}
	}
	return values.Encode(), true
}

func redactJSONBody(text string) (string, bool) {
	var tree interface{}
	if err := json.Unmarshal([]byte(text), &tree); err != nil {
		return text, false
	}
	scrubbed := redactJSONValue(tree)
	out, err := json.MarshalIndent(scrubbed, "", "  ")
	if err != nil {
		return text, false
	}
	return string(out), true
}

// redactJSONValue walks a decoded JSON tree (as produced by
// encoding/json's default interface{} decoding: map[string]interface{},
// []interface{}, and scalars), replacing the entire sub-value under any
// object key that matches the sensitive-JSON vocabulary.
func redactJSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if isSensitiveJSONKey(k) {
				out[k] = Mask
			} else {
				out[k] = redactJSONValue(child)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = redactJSONValue(child)
		}
		return out
	default:
		return val
	}
}

func isSensitiveJSONKey(k string) bool {
	lower := strings.ToLower(k)
	for _, term := range sensitiveJSONTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
