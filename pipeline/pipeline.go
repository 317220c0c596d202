package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"forum-digest-notifier/content"
	"forum-digest-notifier/email"
	"forum-digest-notifier/metrics"
	"forum-digest-notifier/pkg/digest"
	"forum-digest-notifier/users"
)

// ContentFetcher retrieves discussion activity for a set of users.
type ContentFetcher interface {
	Fetch(ctx context.Context, userIDs []string, from, to time.Time) (map[string]digest.UserActivity, error)
}

// UserSource streams digest subscribers.
type UserSource interface {
	Subscribers(ctx context.Context) iter.Seq2[users.Subscriber, error]
}

// DigestSender delivers one batch of rendered digests.
type DigestSender interface {
	SendDigests(ctx context.Context, batch []email.UserDigest) error
}

// RunStore records which digest windows have already been processed.
type RunStore interface {
	Claim(ctx context.Context, from, to time.Time, node string) (bool, error)
}

// Config holds the pieces of a digest runner.
type Config struct {
	Content  ContentFetcher
	Users    UserSource
	Sender   DigestSender
	Runs     RunStore
	Builder  *digest.Builder
	Dispatch Dispatcher
	Logger   *slog.Logger
	Metrics  metrics.Sink

	IntervalMinutes int
	BatchSize       int
	MaxRetries      uint
	RetryDelay      time.Duration
	Node            string
}

// Runner executes digest cycles.
type Runner struct {
	cfg Config
}

// NewRunner creates a digest runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Dispatch == nil {
		cfg.Dispatch = NewAsyncDispatcher()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	return &Runner{cfg: cfg}
}

// Run performs one digest cycle anchored at now. It computes the window,
// claims it so no other node repeats the work, and processes every
// subscriber batch. Batches that fail after retries are counted and
// reported in the returned error; one bad batch never stops the others.
func (r *Runner) Run(ctx context.Context, now time.Time) error {
	from, to, err := TimeSlice(r.cfg.IntervalMinutes, now)
	if err != nil {
		return err
	}

	claimed, err := r.cfg.Runs.Claim(ctx, from, to, r.cfg.Node)
	if err != nil {
		return fmt.Errorf("claim window: %w", err)
	}
	if !claimed {
		r.cfg.Logger.Info("Digest window already claimed, skipping",
			"from", from.Format(time.RFC3339),
			"to", to.Format(time.RFC3339))
		return nil
	}

	r.cfg.Logger.Info("Digest cycle starting",
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339),
		"node", r.cfg.Node,
		"batch_size", r.cfg.BatchSize)

	var dispatched, failed atomic.Int64

	// The window is claimed before the first subscriber page is fetched,
	// so a stream failure left unretried would lose the window for good.
	// Retry the whole stream on user service errors; the claim is already
	// held, so re-entering is safe.
	streamErr := retry.Do(
		func() error {
			return r.dispatchSubscribers(ctx, from, to, &dispatched, &failed)
		},
		retry.Attempts(r.cfg.MaxRetries),
		retry.Delay(r.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(users.IsServiceError),
		retry.OnRetry(func(n uint, err error) {
			r.cfg.Logger.Info("Retrying subscriber stream after user service error",
				"attempt", n,
				"error", err)
		}),
	)

	r.cfg.Metrics.Increment("notifier.cycle.batches", int(dispatched.Load()))
	r.cfg.Logger.Info("Digest cycle completed",
		"batches", dispatched.Load(),
		"failed", failed.Load())

	if streamErr != nil {
		return fmt.Errorf("stream subscribers: %w", streamErr)
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d digest batches failed", n, dispatched.Load())
	}
	return nil
}

// dispatchSubscribers streams the subscriber list once and dispatches a
// processing unit per batch, waiting for every unit to finish before
// returning. A stream error is returned after in-flight units drain so a
// retry never overlaps a running attempt.
func (r *Runner) dispatchSubscribers(ctx context.Context, from, to time.Time, dispatched, failed *atomic.Int64) error {
	var srcErr error
	for batch, err := range users.Batch(r.cfg.Users.Subscribers(ctx), r.cfg.BatchSize) {
		if err != nil {
			srcErr = err
			break
		}
		dispatched.Add(1)
		subs := batch
		r.cfg.Dispatch.Dispatch(func() {
			if err := r.ProcessBatch(ctx, subs, from, to); err != nil {
				failed.Add(1)
				r.cfg.Logger.Error("Digest batch failed",
					"users", len(subs),
					"from", from.Format(time.RFC3339),
					"error", err)
			}
		})
	}
	r.cfg.Dispatch.Wait()
	return srcErr
}

// ProcessBatch fetches activity for one subscriber batch, builds digests,
// and sends them. The whole unit is retried on transient failures: a
// content service error, or an email rate limit where nothing was
// confirmed sent yet. A rate limit after partial delivery is terminal
// since retrying would duplicate emails.
func (r *Runner) ProcessBatch(ctx context.Context, subs []users.Subscriber, from, to time.Time) error {
	return retry.Do(
		func() error {
			return r.processOnce(ctx, subs, from, to)
		},
		retry.Attempts(r.cfg.MaxRetries),
		retry.Delay(r.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return content.IsServiceError(err) || email.IsRetryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.cfg.Logger.Info("Retrying digest batch after error",
				"attempt", n,
				"users", len(subs),
				"error", err)
		}),
	)
}

func (r *Runner) processOnce(ctx context.Context, subs []users.Subscriber, from, to time.Time) error {
	ids := make([]string, 0, len(subs))
	access := make(map[string]digest.Access, len(subs))
	for _, sub := range subs {
		ids = append(ids, string(sub.ID))
		access[string(sub.ID)] = sub.Access()
	}

	activity, err := r.cfg.Content.Fetch(ctx, ids, from, to)
	if err != nil {
		return err
	}

	built := r.cfg.Builder.Build(activity, access)
	if len(built) == 0 {
		r.cfg.Logger.Debug("No digests to send for batch", "users", len(subs))
		return nil
	}

	// Keep subscriber order so a batch sends deterministically.
	payload := make([]email.UserDigest, 0, len(built))
	for _, sub := range subs {
		if d, ok := built[string(sub.ID)]; ok {
			payload = append(payload, email.UserDigest{User: sub, Digest: d})
		}
	}

	return r.cfg.Sender.SendDigests(ctx, payload)
}
