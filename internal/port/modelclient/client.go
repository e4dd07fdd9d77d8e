// Package modelclient defines the port for streaming model completions.
package modelclient

import (
	"context"
	"encoding/json"
)

// Message is one prompt entry in provider-neutral form.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolSpec describes a callable tool advertised to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request is one streaming completion request.
type Request struct {
	Model    string
	Messages []Message
	Tools    []ToolSpec
}

// ToolCall is one tool invocation the model requested.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Usage reports provider token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the assembled outcome of a completed stream.
type Result struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

// Client streams one completion, invoking onDelta for every text fragment
// in arrival order. A non-nil error from onDelta aborts the stream.
type Client interface {
	StreamChat(ctx context.Context, req Request, onDelta func(delta string) error) (*Result, error)
}
