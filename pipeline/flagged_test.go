package pipeline

import (
	"context"
	"iter"
	"strings"
	"testing"
	"time"

	"forum-digest-notifier/email"
	"forum-digest-notifier/users"
)

type fakeModerators struct {
	mods       map[string][]users.Subscriber
	failCourse string // stream for this course yields a ServiceError
	courses    []string
}

func (f *fakeModerators) Moderators(_ context.Context, courseID string) iter.Seq2[users.Subscriber, error] {
	f.courses = append(f.courses, courseID)
	return func(yield func(users.Subscriber, error) bool) {
		if courseID == f.failCourse {
			yield(users.Subscriber{}, &users.ServiceError{Status: 503, Detail: "unavailable"})
			return
		}
		for _, m := range f.mods[courseID] {
			if !yield(m, nil) {
				return
			}
		}
	}
}

type fakeFlaggedSender struct {
	batches [][]email.FlaggedDigest
	errs    []error // popped per call; nil once exhausted
}

func (f *fakeFlaggedSender) SendFlagged(_ context.Context, batch []email.FlaggedDigest) error {
	f.batches = append(f.batches, batch)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func newFlaggedRunner(mods *fakeModerators, sender *fakeFlaggedSender) *FlaggedRunner {
	return NewFlaggedRunner(FlaggedConfig{
		Users:      mods,
		Sender:     sender,
		Logger:     testLogger(),
		LMSBase:    "http://lms.example.com",
		BatchSize:  2,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
}

const flaggedInput = `https://forum.example.com/courses/org/c/run/discussion/forum/x/threads/1
https://forum.example.com/courses/org/c/run/discussion/forum/x/threads/2
this line is not a post url
https://forum.example.com/courses/other/d/run2/discussion/forum/y/threads/3
`

func TestParseFlaggedPosts(t *testing.T) {
	got, err := parseFlaggedPosts(strings.NewReader(flaggedInput), "http://lms.example.com/")
	if err != nil {
		t.Fatalf("parseFlaggedPosts error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("courses = %d, want 2", len(got))
	}
	want := []string{
		"http://lms.example.com/courses/org/c/run/discussion/forum/x/threads/1",
		"http://lms.example.com/courses/org/c/run/discussion/forum/x/threads/2",
	}
	posts := got["org/c/run"]
	if len(posts) != len(want) {
		t.Fatalf("posts for org/c/run = %v, want %v", posts, want)
	}
	for i := range want {
		if posts[i] != want[i] {
			t.Errorf("post[%d] = %q, want %q", i, posts[i], want[i])
		}
	}
	if len(got["other/d/run2"]) != 1 {
		t.Errorf("posts for other/d/run2 = %v, want 1 rewritten url", got["other/d/run2"])
	}
}

func TestFlaggedRunDeliversToModerators(t *testing.T) {
	mods := &fakeModerators{mods: map[string][]users.Subscriber{
		"org/c/run":    {subscriber("1"), subscriber("2"), subscriber("3")},
		"other/d/run2": {subscriber("4")},
	}}
	sender := &fakeFlaggedSender{}

	r := newFlaggedRunner(mods, sender)
	if err := r.Run(t.Context(), strings.NewReader(flaggedInput)); err != nil {
		t.Fatalf("Run error = %v", err)
	}

	// 4 recipients with batch size 2.
	if len(sender.batches) != 2 {
		t.Fatalf("send batches = %d, want 2", len(sender.batches))
	}
	var recipients int
	for _, b := range sender.batches {
		recipients += len(b)
	}
	if recipients != 4 {
		t.Errorf("recipients = %d, want 4", recipients)
	}
	first := sender.batches[0][0]
	if first.CourseID != "org/c/run" {
		t.Errorf("first course = %q, want org/c/run (courses are processed in order)", first.CourseID)
	}
	if len(first.Posts) != 2 {
		t.Errorf("posts for first recipient = %d, want 2", len(first.Posts))
	}
}

func TestFlaggedRunEmptyInput(t *testing.T) {
	mods := &fakeModerators{}
	sender := &fakeFlaggedSender{}

	r := newFlaggedRunner(mods, sender)
	if err := r.Run(t.Context(), strings.NewReader("no urls here\n")); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if len(mods.courses) != 0 || len(sender.batches) != 0 {
		t.Error("work happened with no flagged posts")
	}
}

func TestFlaggedRunRetriesRetryableSendError(t *testing.T) {
	mods := &fakeModerators{mods: map[string][]users.Subscriber{
		"org/c/run": {subscriber("1"), subscriber("2")},
	}}
	sender := &fakeFlaggedSender{errs: []error{
		&email.RateLimitError{Transport: "stub", Detail: "429"},
	}}

	input := "https://forum.example.com/courses/org/c/run/discussion/forum/x/threads/1\n"
	r := newFlaggedRunner(mods, sender)
	if err := r.Run(t.Context(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if len(sender.batches) != 2 {
		t.Errorf("send attempts = %d, want 2 (rate limit then success)", len(sender.batches))
	}
}

func TestFlaggedRunSurfacesModeratorStreamError(t *testing.T) {
	mods := &fakeModerators{failCourse: "org/c/run"}
	sender := &fakeFlaggedSender{}

	input := "https://forum.example.com/courses/org/c/run/discussion/forum/x/threads/1\n"
	r := newFlaggedRunner(mods, sender)
	err := r.Run(t.Context(), strings.NewReader(input))
	if err == nil {
		t.Fatal("expected moderator stream error")
	}
	if !users.IsServiceError(err) {
		t.Errorf("error = %v, want wrapped users.ServiceError", err)
	}
}
