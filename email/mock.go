package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// MockTransport logs emails instead of sending them. Useful for local
// development and tests.
type MockTransport struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []*Message
}

// NewMockTransport creates a new mock transport.
func NewMockTransport(logger *slog.Logger) *MockTransport {
	return &MockTransport{logger: logger}
}

// Name implements Transport.
func (*MockTransport) Name() string { return "mock" }

// SendBatch logs each message and marks it accepted.
func (m *MockTransport) SendBatch(_ context.Context, msgs []*Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range msgs {
		msg.Accepted = true
		msg.MessageID = fmt.Sprintf("mock-%d", len(m.sent))
		m.sent = append(m.sent, msg)
		m.logger.Info("Mock email sent",
			"to", msg.To,
			"subject", msg.Subject,
			"index", i,
			"text_length", len(msg.Text),
			"html_length", len(msg.HTML))
	}
	return nil
}

// Sent returns a copy of every message this transport has accepted.
func (m *MockTransport) Sent() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Message, len(m.sent))
	copy(out, m.sent)
	return out
}
