// Package rtspurl reads and rewrites the query parameters embedded in the
// RTSP URLs emitted by the upstream SAT>IP router. It is purely syntactic:
// it never validates RTSP semantics and never URL-decodes values.
package rtspurl

import "strings"

// TunerParam is the well-known query parameter the router uses to select a
// logical tuner.
const TunerParam = "avm"

// muxKeyParams lists, in the fixed order used to build a mux key, the
// query parameters that identify a physical RF multiplex. Two URLs that
// agree on all of these address the same multiplex and can share a tuner.
var muxKeyParams = []string{"freq", "bandwidth", "msys", "mtype", "sr", "specinv"}

// MuxKey derives the canonical mux-identifying string from rawURL. Values
// are taken verbatim (not URL-decoded); a parameter absent from rawURL
// contributes an empty value but still occupies its position in the key,
// so the key's shape never depends on which parameters happened to be
// present. A malformed URL with no "?" yields the empty key.
func MuxKey(rawURL string) string {
	query, ok := splitQuery(rawURL)
	if !ok {
		return ""
	}
	values := parseQueryLiteral(query)

	var b strings.Builder
	for i, k := range muxKeyParams {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values[k])
	}
	return b.String()
}

// TunerSlot returns the integer value of the tuner-slot parameter, if
// present and parseable as a non-negative integer.
func TunerSlot(rawURL string) (int, bool) {
	query, ok := splitQuery(rawURL)
	if !ok {
		return 0, false
	}
	values := parseQueryLiteral(query)
	raw, present := values[TunerParam]
	if !present {
		return 0, false
	}
	return parseUint(raw)
}

// SetParam returns rawURL with key replaced by value (or appended if
// absent), preserving the relative order of every other parameter and
// never URL-decoding or re-encoding any value. Malformed URLs (no "?")
// take the append branch: a "?key=value" query string is appended as-is.
func SetParam(rawURL, key, value string) string {
	base, query, hasQuery := cutQuery(rawURL)
	if !hasQuery {
		return base + "?" + key + "=" + value
	}

	pairs := strings.Split(query, "&")
	replaced := false
	for i, pair := range pairs {
		k, _, _ := strings.Cut(pair, "=")
		if k == key {
			pairs[i] = key + "=" + value
			replaced = true
		}
	}
	if !replaced {
		pairs = append(pairs, key+"="+value)
	}
	return base + "?" + strings.Join(pairs, "&")
}

// splitQuery returns the query portion of rawURL (the text after the
// first "?"), and false if rawURL has no "?".
func splitQuery(rawURL string) (string, bool) {
	_, query, ok := cutQuery(rawURL)
	return query, ok
}

func cutQuery(rawURL string) (base, query string, hasQuery bool) {
	base, query, hasQuery = strings.Cut(rawURL, "?")
	return base, query, hasQuery
}

// parseQueryLiteral splits a raw (non-decoded) query string into a
// key->value map. Repeated keys: the last occurrence wins, matching the
// common "later parameter overrides earlier" convention used by the
// router's own URL construction.
func parseQueryLiteral(query string) map[string]string {
	values := make(map[string]string)
	if query == "" {
		return values
	}
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		values[k] = v
	}
	return values
}

func parseUint(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
