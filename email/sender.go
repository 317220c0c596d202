package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"forum-digest-notifier/metrics"
	"forum-digest-notifier/pkg/digest"
	"forum-digest-notifier/users"
)

// RenderFunc produces the text and HTML bodies for one user's digest email.
type RenderFunc func(user users.Subscriber, d *digest.Digest, title, description string) (text, html string, err error)

// FlaggedRenderFunc produces the text and HTML bodies for one moderator's
// digest of flagged posts in a course.
type FlaggedRenderFunc func(recipient users.Subscriber, courseID string, posts []string) (text, html string, err error)

// UserDigest pairs a subscriber with their digest for one run.
type UserDigest struct {
	User   users.Subscriber
	Digest *digest.Digest
}

// FlaggedDigest pairs a course moderator with the posts flagged for
// moderation in that course.
type FlaggedDigest struct {
	Recipient users.Subscriber
	CourseID  string
	Posts     []string
}

// Config holds sender configuration.
type Config struct {
	Transport Transport
	Render    RenderFunc
	// RenderFlagged is only needed when flagged-post digests are sent.
	RenderFlagged FlaggedRenderFunc
	Logger        *slog.Logger
	Metrics       metrics.Sink

	From        string
	Subject     string
	Title       string
	Description string

	// RewriteRecipient, when set, redirects every message in every batch
	// to a single address. Test/staging safety valve.
	RewriteRecipient string
}

// Sender renders and transmits batches of digests as email.
type Sender struct {
	transport     Transport
	render        RenderFunc
	renderFlagged FlaggedRenderFunc
	logger        *slog.Logger
	metrics       metrics.Sink

	from        string
	subject     string
	title       string
	description string
	rewriteTo   string
}

// NewSender creates a digest email sender.
func NewSender(cfg *Config) *Sender {
	sink := cfg.Metrics
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Sender{
		transport:     cfg.Transport,
		render:        cfg.Render,
		renderFlagged: cfg.RenderFlagged,
		logger:        cfg.Logger,
		metrics:       sink,
		from:          cfg.From,
		subject:       cfg.Subject,
		title:         cfg.Title,
		description:   cfg.Description,
		rewriteTo:     cfg.RewriteRecipient,
	}
}

// SendDigests renders each digest once, builds one multipart message per
// subscriber, and submits the whole batch to the transport in one call.
//
// If the transport reports a rate limit and confirmed none of the messages,
// the returned error is retryable (IsRetryable). If any message was already
// confirmed, retrying would duplicate deliveries, so a terminal
// PartialSendError is returned instead. Any other transport error
// propagates as-is.
func (s *Sender) SendDigests(ctx context.Context, batch []UserDigest) error {
	if len(batch) == 0 {
		return nil
	}

	msgs := make([]*Message, 0, len(batch))
	for _, ud := range batch {
		text, html, err := s.render(ud.User, ud.Digest, s.title, s.description)
		if err != nil {
			return fmt.Errorf("render digest for user %s: %w", ud.User.ID, err)
		}
		msgs = append(msgs, s.message(ud.User.Email, text, html))
	}
	return s.submit(ctx, msgs)
}

// SendFlagged renders and submits one batch of flagged-post digests for
// course moderators, with the same throttle classification as SendDigests.
func (s *Sender) SendFlagged(ctx context.Context, batch []FlaggedDigest) error {
	if len(batch) == 0 {
		return nil
	}

	msgs := make([]*Message, 0, len(batch))
	for _, fd := range batch {
		text, html, err := s.renderFlagged(fd.Recipient, fd.CourseID, fd.Posts)
		if err != nil {
			return fmt.Errorf("render flagged digest for user %s: %w", fd.Recipient.ID, err)
		}
		msgs = append(msgs, s.message(fd.Recipient.Email, text, html))
	}
	return s.submit(ctx, msgs)
}

// message fills in the envelope shared by every digest flavor, honoring the
// recipient rewrite when one is configured.
func (s *Sender) message(to, text, html string) *Message {
	if s.rewriteTo != "" {
		to = s.rewriteTo
	}
	return &Message{
		To:      to,
		From:    s.from,
		Subject: s.subject,
		Text:    text,
		HTML:    html,
	}
}

func (s *Sender) submit(ctx context.Context, msgs []*Message) error {
	s.logger.Info("Submitting digest batch",
		"transport", s.transport.Name(),
		"message_count", len(msgs),
		"rewrite_recipient", s.rewriteTo != "")

	startTime := time.Now()
	err := s.transport.SendBatch(ctx, msgs)
	elapsed := time.Since(startTime)

	accepted := 0
	for _, msg := range msgs {
		if msg.Accepted {
			accepted++
		}
	}
	s.metrics.Increment("notifier.send.count", accepted)
	if accepted > 0 {
		s.metrics.Timing("notifier.send.time", elapsed/time.Duration(accepted))
	}

	if err == nil {
		s.logger.Info("Digest batch sent",
			"message_count", len(msgs),
			"elapsed_ms", elapsed.Milliseconds())
		return nil
	}

	if IsRateLimit(err) {
		if accepted == 0 {
			s.logger.Warn("Send rate exceeded with no messages confirmed, batch is retryable",
				"message_count", len(msgs), "error", err)
			return err
		}
		s.logger.Error("Send rate exceeded after partial batch acceptance, not retrying",
			"accepted", accepted,
			"message_count", len(msgs),
			"error", err)
		return &PartialSendError{Accepted: accepted, Total: len(msgs), Err: err}
	}

	return fmt.Errorf("send digest batch: %w", err)
}
