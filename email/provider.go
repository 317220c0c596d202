// Package email renders digests and delivers them as multipart messages
// through a pluggable mail transport, with partial-failure-aware retry
// semantics when the provider throttles a batch mid-flight.
package email

import (
	"context"
	"errors"
	"fmt"
)

// Message is one prepared digest email. Transports submit messages in batch
// order and record per-message acceptance as the provider confirms each one,
// so the sender can tell a cleanly-rejected batch from a partially-sent one.
type Message struct {
	To      string
	From    string
	Subject string
	Text    string
	HTML    string

	// Accepted is set by the transport once the provider has confirmed
	// taking responsibility for this message.
	Accepted bool
	// MessageID is the provider's id for the accepted message, when the
	// provider reports one.
	MessageID string
}

// Transport submits prepared messages to a mail provider.
type Transport interface {
	// Name identifies the transport for logging.
	Name() string
	// SendBatch submits every message in one logical operation. On error,
	// messages already confirmed by the provider must have Accepted set;
	// the rest must not.
	SendBatch(ctx context.Context, msgs []*Message) error
}

// RateLimitError indicates the provider refused further sends because the
// send rate was exceeded. Whether the batch may be retried depends on how
// much of it was already accepted; see Sender.SendDigests.
type RateLimitError struct {
	Transport string
	Detail    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s send rate exceeded: %s", e.Transport, e.Detail)
}

// IsRateLimit checks if an error is a provider rate-limit error.
func IsRateLimit(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// PartialSendError indicates the provider throttled a batch after accepting
// some of its messages. Retrying would risk duplicate delivery to the
// already-sent recipients, so this is terminal for the batch.
type PartialSendError struct {
	Accepted int
	Total    int
	Err      error
}

func (e *PartialSendError) Error() string {
	return fmt.Sprintf("batch partially sent (%d/%d accepted), not retryable: %v", e.Accepted, e.Total, e.Err)
}

func (e *PartialSendError) Unwrap() error {
	return e.Err
}

// IsPartialSend checks if an error is a partial-send error.
func IsPartialSend(err error) bool {
	var pse *PartialSendError
	return errors.As(err, &pse)
}

// IsRetryable reports whether a send failure is safe to retry: the provider
// throttled us and confirmed nothing, so re-submitting the whole batch
// cannot duplicate a delivery.
func IsRetryable(err error) bool {
	return IsRateLimit(err) && !IsPartialSend(err)
}
