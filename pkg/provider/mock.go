package provider

import (
	"context"
	"sync"

	"github.com/wisbric/courier/pkg/message"
)

// MockClient is a scriptable delivery client for tests and dev mode.
type MockClient struct {
	mu sync.Mutex

	// SendFunc, when set, handles each Send call. Otherwise Send
	// succeeds with a fixed message ID.
	SendFunc func(ctx context.Context, destination string, payload message.Payload) (string, error)

	sent []SentMessage
}

// SentMessage records one Send call made against a MockClient.
type SentMessage struct {
	Destination string
	Payload     message.Payload
}

// Name implements Client.
func (m *MockClient) Name() string { return "mock" }

// Send implements Client.
func (m *MockClient) Send(ctx context.Context, destination string, payload message.Payload) (string, error) {
	m.mu.Lock()
	m.sent = append(m.sent, SentMessage{Destination: destination, Payload: payload})
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, destination, payload)
	}
	return "mock-message-id", nil
}

// Sent returns a copy of all recorded Send calls.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
