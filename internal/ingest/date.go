package ingest

import (
	"net/mail"
	"regexp"
	"strconv"
	"time"
)

var (
	// minValidDate is the earliest sent time accepted as real.
	minValidDate = time.Date(1996, 1, 1, 0, 0, 0, 0, time.UTC)

	// SentinelDate replaces sent times that cannot be repaired.
	SentinelDate = time.Unix(0, 0).UTC()
)

// futureSlack tolerates clock skew on the sending side.
const futureSlack = 24 * time.Hour

func dateInRange(t, now time.Time) bool {
	return !t.Before(minValidDate) && !t.After(now.Add(futureSlack))
}

// SanitizeDate returns a plausible sent time for a Date header. A parsed
// value in [1996-01-01, now+24h] is kept. Otherwise the year is recovered
// from the raw header (two-digit years of 96 and later are 19xx, earlier
// ones 20xx; three-digit years count from 1900) and the date rebuilt from
// the remaining fields. When that also fails SentinelDate is returned.
// The bool reports whether the result differs from the parsed value.
func SanitizeDate(header string, parsed time.Time, parseErr error, now time.Time) (time.Time, bool) {
	if parseErr == nil && dateInRange(parsed, now) {
		return parsed, false
	}

	year, start, end, ok := recoverYear(header)
	if ok {
		if parseErr == nil {
			rebuilt := time.Date(year, parsed.Month(), parsed.Day(),
				parsed.Hour(), parsed.Minute(), parsed.Second(), parsed.Nanosecond(),
				parsed.Location())
			if dateInRange(rebuilt, now) {
				return rebuilt, true
			}
		} else {
			repaired := header[:start] + strconv.Itoa(year) + header[end:]
			if t, err := mail.ParseDate(repaired); err == nil && dateInRange(t, now) {
				return t, true
			}
		}
	}

	return SentinelDate, true
}

// yearPattern captures the year field that follows the month name.
var yearPattern = regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?[\s,-]+(\d{2,4})\b`)

// recoverYear returns the expanded year of a raw Date header and the
// byte offsets of its field.
func recoverYear(header string) (year, start, end int, ok bool) {
	m := yearPattern.FindStringSubmatchIndex(header)
	if m == nil {
		return 0, 0, 0, false
	}
	start, end = m[2], m[3]
	year, ok = expandYear(header[start:end])
	return year, start, end, ok
}

func expandYear(token string) (int, bool) {
	n, err := strconv.Atoi(token)
	if err != nil || n < 0 {
		return 0, false
	}
	switch len(token) {
	case 2:
		if n >= 96 {
			return 1900 + n, true
		}
		return 2000 + n, true
	case 3:
		return 1900 + n, true
	case 4:
		return n, true
	}
	return 0, false
}
