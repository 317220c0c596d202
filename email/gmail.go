package email

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// GmailTransport sends emails via the Gmail API.
type GmailTransport struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailTransport creates a new Gmail transport.
func NewGmailTransport(service *gmail.Service, logger *slog.Logger) *GmailTransport {
	return &GmailTransport{
		service: service,
		logger:  logger,
	}
}

// Name implements Transport.
func (*GmailTransport) Name() string { return "gmail" }

// sanitizeEmailHeader removes newlines and control characters to prevent header injection.
// This is critical security: RFC 5322 headers are newline-delimited, so any newline in
// a header value allows an attacker to inject arbitrary headers or body content.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		// Allow only printable characters (space through ~) and valid UTF-8
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// buildMIME assembles a multipart/alternative message with text and HTML parts.
func buildMIME(msg *Message) (string, error) {
	to := sanitizeEmailHeader(msg.To)
	from := sanitizeEmailHeader(msg.From)
	subject := sanitizeEmailHeader(msg.Subject)

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)

	var headers strings.Builder
	headers.WriteString("MIME-Version: 1.0\r\n")
	headers.WriteString(fmt.Sprintf("From: %s\r\n", from))
	headers.WriteString(fmt.Sprintf("To: %s\r\n", to))
	headers.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	headers.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary()))

	textPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": []string{"text/plain; charset=utf-8"},
	})
	if err != nil {
		return "", fmt.Errorf("create text part: %w", err)
	}
	if _, err := textPart.Write([]byte(msg.Text)); err != nil {
		return "", fmt.Errorf("write text part: %w", err)
	}

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": []string{"text/html; charset=utf-8"},
	})
	if err != nil {
		return "", fmt.Errorf("create html part: %w", err)
	}
	if _, err := htmlPart.Write([]byte(msg.HTML)); err != nil {
		return "", fmt.Errorf("write html part: %w", err)
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	return headers.String() + buf.String(), nil
}

// SendBatch submits the messages in order, marking each Accepted as the API
// confirms it. A 429 from Gmail stops the batch with a RateLimitError.
func (g *GmailTransport) SendBatch(ctx context.Context, msgs []*Message) error {
	for i, msg := range msgs {
		if err := g.sendOne(ctx, msg); err != nil {
			return fmt.Errorf("message %d of %d: %w", i+1, len(msgs), err)
		}
	}
	return nil
}

func (g *GmailTransport) sendOne(ctx context.Context, msg *Message) error {
	raw, err := buildMIME(msg)
	if err != nil {
		return err
	}
	encoded := base64.URLEncoding.EncodeToString([]byte(raw))

	startTime := time.Now()
	sent, err := g.service.Users.Messages.Send("me", &gmail.Message{
		Raw: encoded,
	}).Context(ctx).Do()
	duration := time.Since(startTime)

	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
			g.logger.Warn("Gmail API rate limited",
				"to", msg.To,
				"duration_ms", duration.Milliseconds())
			return &RateLimitError{Transport: "gmail", Detail: apiErr.Message}
		}
		return fmt.Errorf("gmail send: %w", err)
	}

	msg.Accepted = true
	msg.MessageID = sent.Id

	g.logger.Info("Gmail API request completed",
		"endpoint", "users.messages.send",
		"to", msg.To,
		"message_id", sent.Id,
		"duration_ms", duration.Milliseconds())

	return nil
}
