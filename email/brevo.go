package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// BrevoTransport sends emails via the Brevo (formerly Sendinblue) API.
type BrevoTransport struct {
	apiKey   string
	fromName string
	client   *http.Client
	logger   *slog.Logger
	endpoint string
}

// NewBrevoTransport creates a new Brevo transport.
func NewBrevoTransport(apiKey, fromName string, logger *slog.Logger) *BrevoTransport {
	return &BrevoTransport{
		apiKey:   apiKey,
		fromName: fromName,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		endpoint: "https://api.brevo.com/v3/smtp/email",
	}
}

// Name implements Transport.
func (*BrevoTransport) Name() string { return "brevo" }

// brevoSendRequest represents the Brevo API send email request.
type brevoSendRequest struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Subject string         `json:"subject"`
	Text    string         `json:"textContent"`
	HTML    string         `json:"htmlContent"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoSendResponse struct {
	MessageID string `json:"messageId"`
}

// SendBatch submits the messages in order, marking each Accepted as the API
// confirms it. A 429 stops the batch with a RateLimitError; already-accepted
// messages keep their flag so the caller can detect a partial send. No retry
// happens at this layer.
func (b *BrevoTransport) SendBatch(ctx context.Context, msgs []*Message) error {
	for i, msg := range msgs {
		if err := b.sendOne(ctx, msg); err != nil {
			return fmt.Errorf("message %d of %d: %w", i+1, len(msgs), err)
		}
	}
	return nil
}

func (b *BrevoTransport) sendOne(ctx context.Context, msg *Message) error {
	reqBody := brevoSendRequest{
		Sender:  brevoContact{Email: msg.From, Name: b.fromName},
		To:      []brevoContact{{Email: msg.To}},
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", b.apiKey)

	startTime := time.Now()
	resp, err := b.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return fmt.Errorf("brevo request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			b.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		b.logger.Warn("Brevo API rate limited",
			"to", msg.To,
			"duration_ms", duration.Milliseconds())
		return &RateLimitError{Transport: "brevo", Detail: resp.Status}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("brevo HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err == nil {
		var sendResp brevoSendResponse
		if jsonErr := json.Unmarshal(body, &sendResp); jsonErr == nil {
			msg.MessageID = sendResp.MessageID
		}
	}
	msg.Accepted = true

	b.logger.Info("Brevo API request completed",
		"endpoint", "smtp/email",
		"to", msg.To,
		"message_id", msg.MessageID,
		"duration_ms", duration.Milliseconds())

	return nil
}
