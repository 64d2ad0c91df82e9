// Package provider defines the chat-completion gateway and its implementations.
package provider

import (
	"context"
	"errors"
)

// ErrTransport covers every failed exchange: network errors, non-success
// statuses, timeouts and replies without a candidate.
var ErrTransport = errors.New("transport failure")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string
	Content string
}

// Request is one chat-completion exchange.
type Request struct {
	Model       string
	Temperature float64
	Messages    []Message
}

// Provider defines the interface for chat-completion backends.
type Provider interface {
	// Name returns the provider's identifier.
	Name() string

	// Chat sends the request and returns the reply text of the first candidate.
	Chat(ctx context.Context, req Request) (string, error)
}
