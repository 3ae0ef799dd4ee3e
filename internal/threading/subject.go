package threading

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// replyPrefixPattern recognizes a reply or forward marker anywhere
	// in a subject ("Re:", "AW:", "Fwd:", "Re[2]:", "[list] Re: ...").
	replyPrefixPattern = regexp.MustCompile(`(?i)(^|[\s\]:])(re|aw|sv|fw|fwd)(\[\d+\]|\(\d+\))?\s*:`)

	listTagPattern    = regexp.MustCompile(`\[[^\]]*\]`)
	prefixPattern     = regexp.MustCompile(`(?i)\b(re|aw|sv|fw|fwd)(\[\d+\]|\(\d+\))?\s*:`)
	fwdMarkerPattern  = regexp.MustCompile(`(?i)\(fwd\)`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// IsReplySubject reports whether subject carries a reply or forward marker.
func IsReplySubject(subject string) bool {
	return replyPrefixPattern.MatchString(subject)
}

// SubjectKey normalizes a subject for thread matching: list tags,
// reply/forward prefixes and "(fwd)" markers are removed wherever they
// occur, then the text is NFKC-folded, lowercased and whitespace-collapsed.
func SubjectKey(subject string) string {
	s := norm.NFKC.String(subject)
	s = listTagPattern.ReplaceAllString(s, " ")
	s = fwdMarkerPattern.ReplaceAllString(s, " ")
	for {
		next := prefixPattern.ReplaceAllString(s, " ")
		if next == s {
			break
		}
		s = next
	}
	s = strings.ToLower(s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
