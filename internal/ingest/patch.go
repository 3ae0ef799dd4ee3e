package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/model"
)

var patchContentTypes = map[string]bool{
	"text/x-patch":        true,
	"text/x-diff":         true,
	"text/x-patch-file":   true,
	"application/x-patch": true,
	"application/x-diff":  true,
}

// IsPatchLike reports whether an attachment looks like a patch or diff,
// by content type, file extension, or content.
func IsPatchLike(filename, contentType string, data []byte) bool {
	if patchContentTypes[strings.ToLower(contentType)] {
		return true
	}
	switch strings.ToLower(path.Ext(filename)) {
	case ".patch", ".diff":
		return true
	}
	if bytes.Contains(data, []byte("diff --git ")) {
		return true
	}
	return bytes.Contains(data, []byte("\n--- ")) &&
		bytes.Contains(data, []byte("\n+++ ")) &&
		bytes.Contains(data, []byte("\n@@ "))
}

// DiffStat summarizes a unified diff.
type DiffStat struct {
	Files   int
	Added   int
	Removed int
}

// ParseDiffStat counts files and changed lines in a unified diff. On a
// read error it returns the counts gathered so far with the error.
func ParseDiffStat(data []byte) (DiffStat, error) {
	var st DiffStat
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "+++ "):
			st.Files++
		case strings.HasPrefix(line, "--- "):
		case strings.HasPrefix(line, "+"):
			st.Added++
		case strings.HasPrefix(line, "-"):
			st.Removed++
		}
	}
	if err := scanner.Err(); err != nil {
		return st, fmt.Errorf("scanning diff: %w", err)
	}
	return st, nil
}

// DiffStatParser is the default patch hook: it logs a diffstat for every
// patch attachment.
type DiffStatParser struct {
	log zerolog.Logger
}

// NewDiffStatParser creates a DiffStatParser.
func NewDiffStatParser(log zerolog.Logger) *DiffStatParser {
	return &DiffStatParser{log: log}
}

// ParsePatch implements PatchParser.
func (p *DiffStatParser) ParsePatch(_ context.Context, msg *model.Message, att *model.Attachment) error {
	st, err := ParseDiffStat(att.Data)
	if err != nil {
		return fmt.Errorf("attachment %q: %w", att.Filename, err)
	}
	if st.Files == 0 {
		return fmt.Errorf("attachment %q has no diff headers", att.Filename)
	}
	p.log.Info().
		Str("message_id", msg.MessageID).
		Str("filename", att.Filename).
		Int("files", st.Files).
		Int("added", st.Added).
		Int("removed", st.Removed).
		Msg("Patch attachment parsed")
	return nil
}
