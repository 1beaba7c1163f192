package signer

import (
	"sort"
	"strings"
)

const upperHex = "0123456789ABCDEF"

// escape percent-encodes every byte outside the unreserved set
// A-Z a-z 0-9 _ . - ~. Spaces become %20.
func escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '_', c == '.', c == '-', c == '~':
		return true
	}
	return false
}

// encodeParams form-encodes params in order. Encoded single quotes are
// rewritten to encoded double quotes, which the endpoint expects.
func encodeParams(params Params) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, escape(p.Key)+"="+escape(p.Value))
	}
	return strings.ReplaceAll(strings.Join(parts, "&"), "%27", "%22")
}

// canonicalQueryString sorts an encoded query string by key, then value.
func canonicalQueryString(encoded string) string {
	type pair struct{ key, value string }

	var pairs []pair
	for _, s := range strings.Split(encoded, "&") {
		if s == "" {
			continue
		}
		key, value, _ := strings.Cut(s, "=")
		pairs = append(pairs, pair{strings.TrimSpace(key), strings.TrimSpace(value)})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.key + "=" + p.value
	}
	return strings.Join(out, "&")
}
