// Package ingest turns raw RFC 5322 messages into archived, threaded,
// deduplicated records.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/internal/threading"
)

// Outcome tags an ingest result.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
)

// Options control a single ingest call.
type Options struct {
	// TrustDate stores the parsed Date header without sanitation.
	TrustDate bool

	// SubjectFallback enables threading by subject when explicit
	// references do not resolve.
	SubjectFallback bool

	// Update* apply in-place corrections when the message already exists.
	UpdateBody    bool
	UpdateDate    bool
	UpdateReplyTo bool
}

// Result describes what Ingest did.
type Result struct {
	Outcome Outcome
	Message *model.Message

	// Updated is set when a duplicate received in-place corrections.
	Updated bool

	NewThread   bool
	Method      threading.Method
	Attachments int
	PatchFiles  int

	patches []*model.Attachment
}

// Archive is the transactional store the ingestor writes to.
type Archive interface {
	WithTx(ctx context.Context, fn func(store.Tx) error) error
}

// Notifier is told about each newly created message, after commit.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, msg *model.Message) error
}

// PatchParser is handed each stored patch-like attachment, after commit.
type PatchParser interface {
	ParsePatch(ctx context.Context, msg *model.Message, att *model.Attachment) error
}

// Config wires optional collaborators.
type Config struct {
	// OwnDomain is excluded from recipient links.
	OwnDomain string

	Notifier    Notifier
	PatchParser PatchParser

	// Now defaults to time.Now.
	Now func() time.Time
}

// Ingestor archives raw messages.
type Ingestor struct {
	archive  Archive
	resolver *threading.Resolver
	cfg      Config
	log      zerolog.Logger
}

// New creates an Ingestor.
func New(
	archive Archive,
	resolver *threading.Resolver,
	cfg Config,
	log zerolog.Logger,
) *Ingestor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.OwnDomain = strings.ToLower(strings.TrimPrefix(cfg.OwnDomain, "@"))
	return &Ingestor{archive: archive, resolver: resolver, cfg: cfg, log: log}
}

// Ingest parses raw and stores it in a single transaction. An existing
// message with the same Message-ID is never duplicated; only the
// corrections requested in opts are applied to it.
func (i *Ingestor) Ingest(ctx context.Context, raw []byte, opts Options) (*Result, error) {
	p, err := parseMessage(raw)
	if err != nil {
		return nil, err
	}

	sentAt := p.Date
	if !opts.TrustDate || p.DateErr != nil {
		var adjusted bool
		sentAt, adjusted = SanitizeDate(p.DateHeader, p.Date, p.DateErr, i.cfg.Now())
		if adjusted {
			p.warn("date %q replaced with %s", p.DateHeader, sentAt.UTC().Format(time.RFC3339))
		}
	}

	res, err := i.ingestParsed(ctx, p, sentAt, opts)
	if err != nil && isUniqueViolation(err) {
		// Another writer stored the same Message-ID first; the retry
		// sees it and takes the duplicate path.
		res, err = i.ingestParsed(ctx, p, sentAt, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("ingesting %s: %w", p.MessageID, err)
	}

	if res.Outcome == OutcomeCreated {
		i.afterCommit(ctx, res)
	}
	return res, nil
}

func (i *Ingestor) ingestParsed(
	ctx context.Context,
	p *parsedMessage,
	sentAt time.Time,
	opts Options,
) (*Result, error) {
	var res *Result
	err := i.archive.WithTx(ctx, func(tx store.Tx) error {
		existing, err := tx.GetMessageByMessageID(ctx, p.MessageID)
		if err != nil {
			return err
		}
		if existing != nil {
			res, err = i.updateExisting(ctx, tx, existing, p, sentAt, opts)
			return err
		}
		res, err = i.create(ctx, tx, p, sentAt, opts)
		return err
	})
	return res, err
}

func (i *Ingestor) create(
	ctx context.Context,
	tx store.Tx,
	p *parsedMessage,
	sentAt time.Time,
	opts Options,
) (*Result, error) {
	sender, err := i.resolveSender(ctx, tx, p.From)
	if err != nil {
		return nil, err
	}

	resolution, err := i.resolver.Resolve(ctx, tx, threading.Candidate{
		MessageID:  p.MessageID,
		InReplyTo:  p.InReplyTo,
		References: p.References,
		Subject:    p.Subject,
		SentAt:     sentAt,
	}, opts.SubjectFallback)
	if err != nil {
		return nil, err
	}

	res := &Result{Outcome: OutcomeCreated, Method: resolution.Method}
	msg := &model.Message{
		MessageID:  p.MessageID,
		SenderID:   sender.ID,
		Subject:    p.Subject,
		SubjectKey: threading.SubjectKey(p.Subject),
		Body:       p.Body,
		CreatedAt:  sentAt,
	}
	if p.InReplyTo != "" {
		msg.ReplyToMessageID = &p.InReplyTo
	}

	if parent := resolution.Parent; parent != nil {
		msg.ThreadID = parent.ThreadID
		msg.ReplyToID = &parent.ID
	} else {
		title := p.Subject
		if title == "" {
			title = model.DefaultThreadTitle
		}
		thread := &model.Thread{CreatorID: sender.ID, Title: title, CreatedAt: sentAt}
		if err := tx.CreateThread(ctx, thread); err != nil {
			return nil, err
		}
		msg.ThreadID = thread.ID
		res.NewThread = true
	}

	if len(p.Warnings) > 0 {
		log := strings.Join(p.Warnings, "\n")
		msg.ImportLog = &log
	}

	if err := tx.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	res.Message = msg

	if err := i.linkRecipients(ctx, tx, msg, model.RecipientTo, p.To); err != nil {
		return nil, err
	}
	if err := i.linkRecipients(ctx, tx, msg, model.RecipientCc, p.Cc); err != nil {
		return nil, err
	}

	for idx := range p.Attachments {
		att := &p.Attachments[idx]
		att.ID = ""
		att.MessageID = msg.ID
		if err := tx.StoreAttachment(ctx, att); err != nil {
			return nil, err
		}
		res.Attachments++
		if att.IsPatch {
			res.PatchFiles++
			res.patches = append(res.patches, att)
		}
	}

	return res, nil
}

func (i *Ingestor) resolveSender(
	ctx context.Context,
	tx store.Tx,
	from *mail.Address,
) (*model.Identity, error) {
	if from == nil || strings.TrimSpace(from.Address) == "" {
		return tx.ResolveOrCreateIdentity(ctx, model.UnknownSenderName, model.UnknownSenderAddress)
	}
	return tx.ResolveOrCreateIdentity(ctx, from.Name, from.Address)
}

func (i *Ingestor) linkRecipients(
	ctx context.Context,
	tx store.Tx,
	msg *model.Message,
	kind string,
	addrs []*mail.Address,
) error {
	for _, addr := range addrs {
		if addr == nil || addr.Address == "" || i.isOwnAddress(addr.Address) {
			continue
		}
		ident, err := tx.ResolveOrCreateIdentity(ctx, addr.Name, addr.Address)
		if err != nil {
			return err
		}
		if err := tx.AddRecipient(ctx, msg.ID, ident.ID, kind); err != nil {
			return err
		}
	}
	return nil
}

func (i *Ingestor) isOwnAddress(address string) bool {
	if i.cfg.OwnDomain == "" {
		return false
	}
	at := strings.LastIndexByte(address, '@')
	return at >= 0 && strings.EqualFold(address[at+1:], i.cfg.OwnDomain)
}

// updateExisting applies the requested in-place corrections to a
// previously archived message. It never changes message_id or thread.
func (i *Ingestor) updateExisting(
	ctx context.Context,
	tx store.Tx,
	existing *model.Message,
	p *parsedMessage,
	sentAt time.Time,
	opts Options,
) (*Result, error) {
	res := &Result{Outcome: OutcomeDuplicate, Message: existing, Method: threading.MethodNone}

	var changed []string
	if opts.UpdateBody && existing.Body != p.Body {
		existing.Body = p.Body
		changed = append(changed, "body")
	}
	if opts.UpdateDate && !existing.CreatedAt.Equal(sentAt) {
		existing.CreatedAt = sentAt
		changed = append(changed, "date")
	}
	if opts.UpdateReplyTo && p.InReplyTo != "" && p.InReplyTo != existing.MessageID {
		if existing.ReplyToMessageID == nil || *existing.ReplyToMessageID != p.InReplyTo {
			existing.ReplyToMessageID = &p.InReplyTo
			changed = append(changed, "reply_to_message_id")
		}
		parent, err := tx.GetMessageByMessageID(ctx, p.InReplyTo)
		if err != nil {
			return nil, err
		}
		if parent != nil && parent.ThreadID == existing.ThreadID && parent.ID != existing.ID &&
			(existing.ReplyToID == nil || *existing.ReplyToID != parent.ID) {
			existing.ReplyToID = &parent.ID
			changed = append(changed, "reply_to")
		}
	}

	if len(changed) == 0 {
		return res, nil
	}

	entry := fmt.Sprintf("%s updated %s", i.cfg.Now().UTC().Format(time.RFC3339), strings.Join(changed, ", "))
	if existing.ImportLog != nil && *existing.ImportLog != "" {
		entry = *existing.ImportLog + "\n" + entry
	}
	existing.ImportLog = &entry

	if err := tx.UpdateMessage(ctx, existing); err != nil {
		return nil, err
	}
	res.Updated = true
	return res, nil
}

// afterCommit runs the notification and patch hooks. Their failures are
// logged and never undo the ingest.
func (i *Ingestor) afterCommit(ctx context.Context, res *Result) {
	msg := res.Message
	if i.cfg.Notifier != nil {
		if err := i.cfg.Notifier.NotifyNewMessage(ctx, msg); err != nil {
			i.log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("Activity notification failed")
		}
	}

	if i.cfg.PatchParser == nil {
		return
	}
	for _, att := range res.patches {
		if err := i.cfg.PatchParser.ParsePatch(ctx, msg, att); err != nil {
			i.log.Warn().Err(err).
				Str("message_id", msg.MessageID).
				Str("filename", att.Filename).
				Msg("Patch parsing failed")
		}
	}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed: messages.message_id")
}
