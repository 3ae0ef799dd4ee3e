package ingest

import (
	"errors"
	"testing"
	"time"
)

func TestSanitizeDateKeepsPlausibleDates(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, d := range []time.Time{
		minValidDate,
		now,
		now.Add(23 * time.Hour),
	} {
		got, adjusted := SanitizeDate("", d, nil, now)
		if adjusted || !got.Equal(d) {
			t.Errorf("SanitizeDate(%s) = %s adjusted=%v, want unchanged", d, got, adjusted)
		}
	}
}

func TestSanitizeDateRecoversYear(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	parseErr := errors.New("bad year")

	tests := []struct {
		header string
		want   time.Time
	}{
		{"Tue, 06 Jan 104 10:00:00 +0000", time.Date(2004, 1, 6, 10, 0, 0, 0, time.UTC)},
		{"Sat, 14 Mar 98 08:30:00 +0000", time.Date(1998, 3, 14, 8, 30, 0, 0, time.UTC)},
		{"Mon, 3 Feb 03 23:59:59 +0000", time.Date(2003, 2, 3, 23, 59, 59, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, adjusted := SanitizeDate(tt.header, time.Time{}, parseErr, now)
		if !adjusted || !got.Equal(tt.want) {
			t.Errorf("SanitizeDate(%q) = %s, want %s", tt.header, got, tt.want)
		}
	}
}

func TestSanitizeDateSentinel(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		header string
		parsed time.Time
		err    error
	}{
		{"", time.Time{}, errors.New("missing")},
		{"yesterday", time.Time{}, errors.New("garbage")},
		{"Mon, 01 Jan 1990 00:00:00 +0000", time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), nil},
		{"Sun, 01 Jun 2025 00:00:00 +0000", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), nil},
	}
	for _, tt := range tests {
		got, adjusted := SanitizeDate(tt.header, tt.parsed, tt.err, now)
		if !adjusted || !got.Equal(SentinelDate) {
			t.Errorf("SanitizeDate(%q) = %s, want sentinel", tt.header, got)
		}
	}
}
