package testutil

import (
	"fmt"
	"strings"
	"time"
)

// Mail describes a test message. Empty fields are omitted from the
// rendered headers.
type Mail struct {
	MessageID  string
	InReplyTo  string
	References string
	From       string
	To         string
	Cc         string
	Subject    string
	Date       string
	Body       string
}

// RFC5322Date formats t the way mail clients write Date headers.
func RFC5322Date(t time.Time) string {
	return t.Format(time.RFC1123Z)
}

// Raw renders m as a single-part text/plain message with CRLF endings.
func (m Mail) Raw() []byte {
	var b strings.Builder
	header := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", name, value)
		}
	}
	header("Message-ID", m.MessageID)
	header("In-Reply-To", m.InReplyTo)
	header("References", m.References)
	header("From", m.From)
	header("To", m.To)
	header("Cc", m.Cc)
	header("Subject", m.Subject)
	header("Date", m.Date)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return []byte(b.String())
}
