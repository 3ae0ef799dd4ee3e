package threading

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/model"
)

func TestSubjectKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Re: Foo", "foo"},
		{"[LIST] Re: Re: Foo", "foo"},
		{"RE: [dev] Fwd: Foo  Bar", "foo bar"},
		{"Re[2]: Foo", "foo"},
		{"AW: Foo (fwd)", "foo"},
		{"Foo", "foo"},
		{"Ｆｏｏ", "foo"},
		{"Score: 3", "score: 3"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SubjectKey(tt.in); got != tt.want {
			t.Errorf("SubjectKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsReplySubject(t *testing.T) {
	for _, s := range []string{"Re: x", "re:x", "[list] Re: x", "Fwd: x", "AW: x", "Re[3]: x"} {
		if !IsReplySubject(s) {
			t.Errorf("IsReplySubject(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"x", "Regarding: x", "Are: x", "Fwdx"} {
		if IsReplySubject(s) {
			t.Errorf("IsReplySubject(%q) = true, want false", s)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("abc", "abc"); got != 1 {
		t.Fatalf("identical = %v", got)
	}
	if got := Similarity("", ""); got != 1 {
		t.Fatalf("empty = %v", got)
	}
	if got := Similarity("abcd", "abce"); math.Abs(got-0.75) > 1e-9 {
		t.Fatalf("one edit in four = %v, want 0.75", got)
	}
	if got := Similarity("ABC", "abc"); got != 1 {
		t.Fatalf("case should not matter, got %v", got)
	}
}

// fakeLookup is an in-memory Lookup keyed by message id.
type fakeLookup struct {
	byID      map[string]*model.Message
	bySubject []model.Message
	gotFrom   time.Time
	gotTo     time.Time
	gotLimit  int
}

func (f *fakeLookup) GetMessageByMessageID(_ context.Context, id string) (*model.Message, error) {
	return f.byID[id], nil
}

func (f *fakeLookup) FindMessagesBySubjectKey(
	_ context.Context, key string, from, to time.Time, limit int,
) ([]model.Message, error) {
	f.gotFrom, f.gotTo, f.gotLimit = from, to, limit
	var out []model.Message
	for _, m := range f.bySubject {
		if m.SubjectKey == key && !m.CreatedAt.Before(from) && !m.CreatedAt.After(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestResolveExplicitReferences(t *testing.T) {
	parent := &model.Message{ID: "1", MessageID: "a@x"}
	root := &model.Message{ID: "0", MessageID: "root@x"}
	lookup := &fakeLookup{byID: map[string]*model.Message{"a@x": parent, "root@x": root}}
	r := NewResolver(DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	res, err := r.Resolve(ctx, lookup, Candidate{MessageID: "b@x", InReplyTo: "a@x"}, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Parent != parent || res.Method != MethodInReplyTo {
		t.Fatalf("in-reply-to resolution = %+v", res)
	}

	res, err = r.Resolve(ctx, lookup, Candidate{
		MessageID:  "c@x",
		InReplyTo:  "missing@x",
		References: []string{"gone@x", "root@x", "a@x"},
	}, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Parent != root || res.Method != MethodReferences {
		t.Fatalf("references resolution = %+v, want first resolvable reference", res)
	}

	res, err = r.Resolve(ctx, lookup, Candidate{MessageID: "d@x", Subject: "Re: hello"}, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Parent != nil || res.Method != MethodNone {
		t.Fatalf("fallback disabled should not match: %+v", res)
	}
}

func TestResolveBySubject(t *testing.T) {
	sent := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	lookup := &fakeLookup{bySubject: []model.Message{
		{ID: "recent", MessageID: "zzz-unrelated@other", SubjectKey: "foo", CreatedAt: sent.Add(-time.Hour)},
		{ID: "similar", MessageID: "thread-1234@lists.example", SubjectKey: "foo", CreatedAt: sent.Add(-48 * time.Hour)},
		{ID: "tooold", MessageID: "thread-1234@lists.example.old", SubjectKey: "foo", CreatedAt: sent.AddDate(0, 0, -45)},
	}}
	r := NewResolver(DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	res, err := r.Resolve(ctx, lookup, Candidate{
		MessageID:  "reply-99@mua.example",
		References: []string{"thread-1235@lists.example"},
		Subject:    "[LIST] Re: Re: Foo",
		SentAt:     sent,
	}, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Parent == nil || res.Parent.ID != "similar" || res.Method != MethodSubject {
		t.Fatalf("resolution = %+v, want the similar candidate", res)
	}
	if !lookup.gotFrom.Equal(sent.AddDate(0, 0, -30)) || !lookup.gotTo.Equal(sent.Add(24*time.Hour)) {
		t.Fatalf("window = [%v, %v]", lookup.gotFrom, lookup.gotTo)
	}
	if lookup.gotLimit != 50 {
		t.Fatalf("limit = %d, want 50", lookup.gotLimit)
	}

	res, err = r.Resolve(ctx, lookup, Candidate{
		MessageID: "nothing-alike@elsewhere",
		Subject:   "Re: Foo",
		SentAt:    sent,
	}, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Parent == nil || res.Parent.ID != "recent" {
		t.Fatalf("resolution = %+v, want most recent subject match", res)
	}

	res, err = r.Resolve(ctx, lookup, Candidate{MessageID: "n@x", Subject: "Foo", SentAt: sent}, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Parent != nil {
		t.Fatalf("non-reply subject matched %+v", res.Parent)
	}

	res, err = r.Resolve(ctx, lookup, Candidate{MessageID: "n@x", Subject: "Re: Bar", SentAt: sent}, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Parent != nil || res.Method != MethodNone {
		t.Fatalf("unmatched subject resolved to %+v", res)
	}
}
