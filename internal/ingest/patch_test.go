package ingest

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/model"
)

const samplePatch = `From 1234 Mon Sep 17 00:00:00 2001
Subject: [PATCH] fix

diff --git a/a.go b/a.go
--- a/a.go
+++ b/a.go
@@ -1,2 +1,3 @@
-old
+new
+newer
 same
diff --git a/b.go b/b.go
--- a/b.go
+++ b/b.go
@@ -1 +0,0 @@
-gone
`

func TestIsPatchLike(t *testing.T) {
	tests := []struct {
		filename    string
		contentType string
		data        string
		want        bool
	}{
		{"x.bin", "text/x-patch", "", true},
		{"fix.DIFF", "application/octet-stream", "", true},
		{"notes.txt", "text/plain", samplePatch, true},
		{"notes.txt", "text/plain", "hello\n--- not a diff\n", false},
		{"image.png", "image/png", "\x89PNG", false},
	}
	for _, tt := range tests {
		if got := IsPatchLike(tt.filename, tt.contentType, []byte(tt.data)); got != tt.want {
			t.Errorf("IsPatchLike(%q, %q) = %v, want %v", tt.filename, tt.contentType, got, tt.want)
		}
	}
}

func TestParseDiffStat(t *testing.T) {
	got, err := ParseDiffStat([]byte(samplePatch))
	if err != nil {
		t.Fatalf("ParseDiffStat: %v", err)
	}
	want := DiffStat{Files: 2, Added: 2, Removed: 2}
	if got != want {
		t.Fatalf("ParseDiffStat = %+v, want %+v", got, want)
	}
}

func TestParseDiffStatOverlongLine(t *testing.T) {
	data := samplePatch + "+" + strings.Repeat("x", 5<<20) + "\n"

	got, err := ParseDiffStat([]byte(data))
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Fatalf("ParseDiffStat error = %v, want bufio.ErrTooLong", err)
	}
	if got.Files != 2 {
		t.Fatalf("ParseDiffStat = %+v, want the counts read before the long line", got)
	}

	p := NewDiffStatParser(zerolog.Nop())
	att := &model.Attachment{Filename: "huge.patch", Data: []byte(data)}
	if err := p.ParsePatch(context.Background(), &model.Message{MessageID: "m@x"}, att); err == nil {
		t.Fatal("expected ParsePatch to report the unreadable diff")
	}
}

func TestDiffStatParserRejectsNonDiff(t *testing.T) {
	p := NewDiffStatParser(zerolog.Nop())
	msg := &model.Message{MessageID: "m@x"}

	if err := p.ParsePatch(context.Background(), msg, &model.Attachment{Filename: "a.patch", Data: []byte(samplePatch)}); err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	if err := p.ParsePatch(context.Background(), msg, &model.Attachment{Filename: "empty.patch"}); err == nil {
		t.Fatal("expected error for attachment without diff headers")
	}
}

func TestHTMLToText(t *testing.T) {
	in := `<html><head><style>p{}</style></head><body><p>One</p><div>Two<br>Three</div><script>x()</script></body></html>`
	if got, want := htmlToText(in), "One\nTwo\nThree"; got != want {
		t.Fatalf("htmlToText = %q, want %q", got, want)
	}
}
