package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice@example.org", "a***e@e*****e.o*g"},
		{"a@b.c", "*@*.*"},
		{" bob@mail.example.com ", "b*b@m**l.e*****e.c*m"},
		{"not-an-address", "not-an-address"},
		{"@example.org", "@example.org"},
		{"trailing@", "trailing@"},
	}
	for _, tt := range tests {
		if got := MaskEmail(tt.in); got != tt.want {
			t.Errorf("MaskEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAddresses(t *testing.T) {
	if got := Addresses(false)("alice@example.org"); got != "alice@example.org" {
		t.Fatalf("unredacted = %q", got)
	}
	if got := Addresses(true)("alice@example.org"); got == "alice@example.org" {
		t.Fatal("redacted address was not masked")
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info().Msg("hidden")
	log.Warn().Str("label", "Archive").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if entry["message"] != "shown" || entry["label"] != "Archive" || entry["level"] != "warn" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("console output = %q", buf.String())
	}
}
