// Package msgid canonicalizes Message-ID style reference tokens so that
// values taken from Message-ID, In-Reply-To and References headers compare
// equal regardless of bracketing, folding or stray characters.
package msgid

import (
	"strings"
)

// Normalize returns the canonical form of a reference token.
//
// When the token contains angle brackets the last bracketed group wins.
// Every character outside letters, digits and the atext punctuation
// allowed in message identifiers is dropped. An empty token yields "".
func Normalize(token string) string {
	if token == "" {
		return ""
	}

	inner := token
	if open := strings.LastIndexByte(token, '<'); open >= 0 {
		inner = token[open+1:]
		if end := strings.IndexByte(inner, '>'); end >= 0 {
			inner = inner[:end]
		}
	} else if end := strings.IndexByte(token, '>'); end >= 0 {
		inner = token[:end]
	}

	var b strings.Builder
	b.Grow(len(inner))
	for i := 0; i < len(inner); i++ {
		if allowed(inner[i]) {
			b.WriteByte(inner[i])
		}
	}
	return b.String()
}

// List splits a References-style header into normalized identifiers,
// preserving order and dropping empties and repeats.
func List(header string) []string {
	var tokens []string
	if strings.ContainsRune(header, '<') {
		for _, part := range strings.Split(header, "<")[1:] {
			tokens = append(tokens, "<"+part)
		}
	} else {
		tokens = strings.Fields(header)
	}

	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		id := Normalize(tok)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func allowed(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte(".!#$%&'*+/=?^_`{|}~@-", c) >= 0
}
