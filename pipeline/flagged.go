package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"forum-digest-notifier/email"
	"forum-digest-notifier/users"
)

// ModeratorSource streams the forum moderators of one course.
type ModeratorSource interface {
	Moderators(ctx context.Context, courseID string) iter.Seq2[users.Subscriber, error]
}

// FlaggedSender delivers one batch of flagged-post digests.
type FlaggedSender interface {
	SendFlagged(ctx context.Context, batch []email.FlaggedDigest) error
}

// flaggedPostPattern matches a flagged-post URL and captures the course id
// (three slash-separated segments) and the thread path under it.
var flaggedPostPattern = regexp.MustCompile(`^https?://\S+/courses/((?:[^/]+/){3})(\S*)`)

// FlaggedConfig holds the pieces of a flagged-post digest run.
type FlaggedConfig struct {
	Users  ModeratorSource
	Sender FlaggedSender
	Logger *slog.Logger

	LMSBase    string
	BatchSize  int
	MaxRetries uint
	RetryDelay time.Duration
}

// FlaggedRunner emails each course's moderators the posts flagged for
// moderation in that course.
type FlaggedRunner struct {
	cfg FlaggedConfig
}

// NewFlaggedRunner creates a flagged-post digest runner.
func NewFlaggedRunner(cfg FlaggedConfig) *FlaggedRunner {
	return &FlaggedRunner{cfg: cfg}
}

// Run reads flagged post URLs from input (one per line), groups them by
// course, and sends every moderator of each course a digest of that
// course's flagged posts. Batches that fail after retries are counted and
// reported in the returned error; one bad batch never stops the others.
func (r *FlaggedRunner) Run(ctx context.Context, input io.Reader) error {
	courses, err := parseFlaggedPosts(input, r.cfg.LMSBase)
	if err != nil {
		return fmt.Errorf("parse flagged posts: %w", err)
	}
	if len(courses) == 0 {
		r.cfg.Logger.Info("No flagged posts to digest")
		return nil
	}

	courseIDs := make([]string, 0, len(courses))
	for id := range courses {
		courseIDs = append(courseIDs, id)
	}
	sort.Strings(courseIDs)

	r.cfg.Logger.Info("Flagged digest run starting",
		"courses", len(courseIDs),
		"batch_size", r.cfg.BatchSize)

	var sent, failed int
	batch := make([]email.FlaggedDigest, 0, r.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.sendBatch(ctx, batch); err != nil {
			failed++
			r.cfg.Logger.Error("Flagged digest batch failed",
				"recipients", len(batch),
				"error", err)
		}
		sent++
		batch = batch[:0]
	}

	for _, courseID := range courseIDs {
		for mod, err := range r.cfg.Users.Moderators(ctx, courseID) {
			if err != nil {
				return fmt.Errorf("stream moderators for %s: %w", courseID, err)
			}
			batch = append(batch, email.FlaggedDigest{
				Recipient: mod,
				CourseID:  courseID,
				Posts:     courses[courseID],
			})
			if len(batch) == r.cfg.BatchSize {
				flush()
			}
		}
	}
	flush()

	r.cfg.Logger.Info("Flagged digest run completed",
		"batches", sent,
		"failed", failed)

	if failed > 0 {
		return fmt.Errorf("%d of %d flagged digest batches failed", failed, sent)
	}
	return nil
}

func (r *FlaggedRunner) sendBatch(ctx context.Context, batch []email.FlaggedDigest) error {
	msgs := make([]email.FlaggedDigest, len(batch))
	copy(msgs, batch)
	return retry.Do(
		func() error {
			return r.cfg.Sender.SendFlagged(ctx, msgs)
		},
		retry.Attempts(r.cfg.MaxRetries),
		retry.Delay(r.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(email.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			r.cfg.Logger.Info("Retrying flagged digest batch after error",
				"attempt", n,
				"recipients", len(msgs),
				"error", err)
		}),
	)
}

// parseFlaggedPosts groups flagged post URLs by course id, rewriting each
// post to its LMS URL. Lines that do not look like course post URLs are
// skipped.
func parseFlaggedPosts(input io.Reader, lmsBase string) (map[string][]string, error) {
	lmsBase = strings.TrimRight(lmsBase, "/")
	out := make(map[string][]string)
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		m := flaggedPostPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		courseID := strings.TrimSuffix(m[1], "/")
		out[courseID] = append(out[courseID], fmt.Sprintf("%s/courses/%s/%s", lmsBase, courseID, m[2]))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
