// Package threading decides which earlier message a new message replies
// to, from explicit references first and then by subject similarity.
package threading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/model"
)

// Lookup is the read side of the archive the resolver needs. It is
// satisfied by store.Tx so resolution sees the ingest transaction.
type Lookup interface {
	// GetMessageByMessageID returns nil, nil when no message has the id.
	GetMessageByMessageID(ctx context.Context, messageID string) (*model.Message, error)

	// FindMessagesBySubjectKey returns matches created within [from, to],
	// most recent first, at most limit rows.
	FindMessagesBySubjectKey(
		ctx context.Context,
		subjectKey string,
		from, to time.Time,
		limit int,
	) ([]model.Message, error)
}

// Method records how a parent was found.
type Method string

const (
	MethodNone       Method = "none"
	MethodInReplyTo  Method = "in_reply_to"
	MethodReferences Method = "references"
	MethodSubject    Method = "subject"
)

// Config tunes the subject fallback.
type Config struct {
	WindowBefore  time.Duration
	WindowAfter   time.Duration
	MaxCandidates int
	MinSimilarity float64
}

// DefaultConfig looks 30 days back and 1 day ahead, considers at most 50
// candidates and requires 0.7 id similarity to prefer a candidate.
func DefaultConfig() Config {
	return Config{
		WindowBefore:  30 * 24 * time.Hour,
		WindowAfter:   24 * time.Hour,
		MaxCandidates: 50,
		MinSimilarity: 0.7,
	}
}

// Candidate is the new message being threaded. All ids are normalized.
type Candidate struct {
	MessageID  string
	InReplyTo  string
	References []string
	Subject    string
	SentAt     time.Time
}

// Resolution is the outcome of Resolve. Parent is nil when the message
// starts a new thread.
type Resolution struct {
	Parent     *model.Message
	Method     Method
	Similarity float64
}

// Resolver finds parents for new messages.
type Resolver struct {
	cfg Config
	log zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config, log zerolog.Logger) *Resolver {
	return &Resolver{cfg: cfg, log: log}
}

// Resolve returns the parent of c, trying In-Reply-To, then References
// in order, then (when subjectFallback is set and the subject looks like
// a reply) the subject match.
func (r *Resolver) Resolve(
	ctx context.Context,
	lookup Lookup,
	c Candidate,
	subjectFallback bool,
) (Resolution, error) {
	if c.InReplyTo != "" && c.InReplyTo != c.MessageID {
		parent, err := lookup.GetMessageByMessageID(ctx, c.InReplyTo)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolving in-reply-to %s: %w", c.InReplyTo, err)
		}
		if parent != nil {
			return Resolution{Parent: parent, Method: MethodInReplyTo, Similarity: 1}, nil
		}
	}

	for _, ref := range c.References {
		if ref == "" || ref == c.MessageID {
			continue
		}
		parent, err := lookup.GetMessageByMessageID(ctx, ref)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolving reference %s: %w", ref, err)
		}
		if parent != nil {
			return Resolution{Parent: parent, Method: MethodReferences, Similarity: 1}, nil
		}
	}

	if !subjectFallback || !IsReplySubject(c.Subject) {
		return Resolution{Method: MethodNone}, nil
	}
	return r.resolveBySubject(ctx, lookup, c)
}

func (r *Resolver) resolveBySubject(
	ctx context.Context,
	lookup Lookup,
	c Candidate,
) (Resolution, error) {
	key := SubjectKey(c.Subject)
	if key == "" {
		return Resolution{Method: MethodNone}, nil
	}

	from := c.SentAt.Add(-r.cfg.WindowBefore)
	to := c.SentAt.Add(r.cfg.WindowAfter)
	candidates, err := lookup.FindMessagesBySubjectKey(ctx, key, from, to, r.cfg.MaxCandidates)
	if err != nil {
		return Resolution{}, fmt.Errorf("searching subject %q: %w", key, err)
	}

	var (
		best      *model.Message
		bestScore float64
	)
	for i := range candidates {
		cand := &candidates[i]
		if cand.MessageID == c.MessageID {
			continue
		}
		score := r.idSimilarity(cand.MessageID, c)
		if score >= r.cfg.MinSimilarity && score > bestScore {
			best, bestScore = cand, score
		}
	}

	if best == nil {
		for i := range candidates {
			if candidates[i].MessageID != c.MessageID {
				best = &candidates[i]
				break
			}
		}
	}
	if best == nil {
		return Resolution{Method: MethodNone}, nil
	}

	r.log.Debug().
		Str("message_id", c.MessageID).
		Str("parent", best.MessageID).
		Str("subject_key", key).
		Float64("similarity", bestScore).
		Int("candidates", len(candidates)).
		Msg("Thread resolved by subject")
	return Resolution{Parent: best, Method: MethodSubject, Similarity: bestScore}, nil
}

// idSimilarity compares a candidate's id against the new message's id
// and every declared reference, keeping the best score.
func (r *Resolver) idSimilarity(candidateID string, c Candidate) float64 {
	best := Similarity(candidateID, c.MessageID)
	if c.InReplyTo != "" {
		best = max(best, Similarity(candidateID, c.InReplyTo))
	}
	for _, ref := range c.References {
		best = max(best, Similarity(candidateID, ref))
	}
	return best
}
