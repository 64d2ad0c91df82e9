package provider

import (
	"context"
	"sync"
)

// MockProvider is a test provider that returns scripted responses.
type MockProvider struct {
	name     string
	response string
	chatErr  error

	mu       sync.Mutex
	replies  []string
	requests []Request
	block    chan struct{}
}

// NewMock creates a new mock provider.
func NewMock(name, response string) *MockProvider {
	return &MockProvider{
		name:     name,
		response: response,
	}
}

// WithChatError sets an error to return from Chat.
func (p *MockProvider) WithChatError(err error) *MockProvider {
	p.chatErr = err
	return p
}

// WithReplies queues responses returned in order before falling back to the
// fixed response.
func (p *MockProvider) WithReplies(replies ...string) *MockProvider {
	p.mu.Lock()
	p.replies = append(p.replies, replies...)
	p.mu.Unlock()
	return p
}

// WithBlock makes Chat wait until ch is closed or ctx is done.
func (p *MockProvider) WithBlock(ch chan struct{}) *MockProvider {
	p.block = ch
	return p
}

// Name returns the provider identifier.
func (p *MockProvider) Name() string {
	return p.name
}

// Chat returns the next scripted response or error.
func (p *MockProvider) Chat(ctx context.Context, req Request) (string, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return "", ErrTransport
		}
	}

	if p.chatErr != nil {
		return "", p.chatErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) > 0 {
		r := p.replies[0]
		p.replies = p.replies[1:]
		return r, nil
	}
	return p.response, nil
}

// Requests returns every request received so far.
func (p *MockProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.requests))
	copy(out, p.requests)
	return out
}
