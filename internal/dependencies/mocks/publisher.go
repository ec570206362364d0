package mocks

import (
	"context"
	"sync"

	"github.com/mcoot/rpsleague/internal/bus"
)

// MockPublisher records published messages for testing
type MockPublisher struct {
	mu       sync.Mutex
	messages []bus.Message

	// Err, if set, is returned from Publish and the message is not recorded
	Err error
}

// Ensure MockPublisher implements Publisher
var _ bus.Publisher = (*MockPublisher)(nil)

// NewMockPublisher creates a new MockPublisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// Publish records the message
func (p *MockPublisher) Publish(ctx context.Context, msg bus.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.messages = append(p.messages, msg)
	return nil
}

// Messages returns the recorded messages for a topic
func (p *MockPublisher) Messages(topic bus.Topic) []bus.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []bus.Message
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Reset clears all recorded messages
func (p *MockPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}
