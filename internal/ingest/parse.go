package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/msgid"
)

// ParseError reports a message that cannot be archived at all.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Err)
	}
	return "parse error: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err (or any error in its chain) is a ParseError.
func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

// skippedContentTypes are parts that carry no archive value.
var skippedContentTypes = map[string]bool{
	"application/pgp-signature":     true,
	"application/pkcs7-signature":   true,
	"application/x-pkcs7-signature": true,
	"text/vcard":                    true,
	"text/x-vcard":                  true,
	"text/directory":                true,
}

// parsedMessage is everything extracted from raw bytes before any
// archive lookup.
type parsedMessage struct {
	MessageID  string
	InReplyTo  string
	References []string
	Subject    string

	From *mail.Address
	To   []*mail.Address
	Cc   []*mail.Address

	DateHeader string
	Date       time.Time
	DateErr    error

	Body        string
	Attachments []model.Attachment

	// Warnings are recoverable problems recorded in the import log.
	Warnings []string
}

// parseMessage extracts headers, the text body and attachments.
func parseMessage(raw []byte) (*parsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		return nil, &ParseError{Reason: "reading headers", Err: err}
	}
	defer mr.Close()

	p := &parsedMessage{}
	if err != nil {
		if !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
			return nil, &ParseError{Reason: "reading headers", Err: err}
		}
		p.warn("%v", err)
	}

	h := mr.Header
	p.MessageID = msgid.Normalize(h.Get("Message-Id"))
	if p.MessageID == "" {
		return nil, &ParseError{Reason: "missing Message-ID"}
	}
	p.InReplyTo = msgid.Normalize(h.Get("In-Reply-To"))
	p.References = msgid.List(h.Get("References"))

	p.Subject, err = h.Subject()
	if err != nil {
		p.Subject = h.Get("Subject")
		p.warn("decoding subject: %v", err)
	}
	p.Subject = strings.TrimSpace(p.Subject)

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.From = from[0]
	} else if err != nil {
		p.warn("parsing From: %v", err)
	}
	if p.To, err = h.AddressList("To"); err != nil {
		p.warn("parsing To: %v", err)
	}
	if p.Cc, err = h.AddressList("Cc"); err != nil {
		p.warn("parsing Cc: %v", err)
	}

	p.DateHeader = h.Get("Date")
	p.Date, p.DateErr = h.Date()

	p.readParts(mr)
	return p, nil
}

func (p *parsedMessage) warn(format string, args ...any) {
	p.Warnings = append(p.Warnings, fmt.Sprintf(format, args...))
}

// readParts walks every leaf part. The first text/plain part becomes the
// body; an HTML part is the fallback.
func (p *parsedMessage) readParts(mr *mail.Reader) {
	var (
		text, html       string
		hasText, hasHTML bool
		decodeErr        error
	)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if part == nil {
				decodeErr = err
				p.warn("reading part: %v", err)
				break
			}
			p.warn("reading part: %v", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, _ := h.ContentType()
			if contentType == "" {
				contentType = "text/plain"
			}
			if skippedContentTypes[contentType] {
				continue
			}
			// A truncated part still yields whatever decoded before the
			// error; only an empty read counts as a decode failure.
			body, err := io.ReadAll(part.Body)
			if err != nil {
				p.warn("decoding %s part: %v", contentType, err)
				if len(body) == 0 {
					decodeErr = err
					continue
				}
			}

			_, dispParams, _ := h.ContentDisposition()
			filename := dispParams["filename"]
			if filename == "" {
				filename = params["name"]
			}

			switch {
			case contentType == "text/plain" && filename == "" && !hasText:
				text, hasText = string(body), true
			case contentType == "text/html" && filename == "" && !hasHTML:
				html, hasHTML = string(body), true
			case filename != "" || patchContentTypes[contentType]:
				if filename == "" {
					filename = "inline.patch"
				}
				p.addAttachment(filename, contentType, body)
			}

		case *mail.AttachmentHeader:
			contentType, _, _ := h.ContentType()
			if skippedContentTypes[contentType] {
				continue
			}
			filename, err := h.Filename()
			if err != nil {
				p.warn("decoding attachment filename: %v", err)
			}
			body, err := io.ReadAll(part.Body)
			if err != nil {
				p.warn("decoding attachment %q: %v", filename, err)
				if len(body) == 0 {
					continue
				}
			}
			p.addAttachment(filename, contentType, body)
		}
	}

	switch {
	case hasText:
		p.Body = text
	case hasHTML:
		p.Body = htmlToText(html)
	case decodeErr != nil:
		p.Body = fmt.Sprintf("[message body could not be decoded: %v]", decodeErr)
	}
	p.Body = normalizeBody(p.Body)
}

func (p *parsedMessage) addAttachment(filename, contentType string, data []byte) {
	p.Attachments = append(p.Attachments, model.Attachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		IsPatch:     IsPatchLike(filename, contentType, data),
		Data:        data,
	})
}

// normalizeBody converts line endings to LF and removes NUL bytes and
// invalid UTF-8.
func normalizeBody(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.ToValidUTF8(s, "�")
}
