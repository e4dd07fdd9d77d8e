package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentKind discriminates the message payload variant.
type ContentKind string

const (
	ContentText           ContentKind = "text"
	ContentFileReference  ContentKind = "file_reference"
	ContentToolCall       ContentKind = "tool_call"
	ContentToolResult     ContentKind = "tool_result"
	ContentResource       ContentKind = "resource"
	ContentStreaming      ContentKind = "streaming"
	ContentWorkflowStatus ContentKind = "workflow_status"
)

// Content is the tagged payload of a message. Only the fields belonging to
// the Kind are populated.
type Content struct {
	Kind ContentKind `json:"kind"`

	// Text
	Text string `json:"text,omitempty"`

	// FileReference
	Path        string `json:"path,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	// ToolCall
	ToolCall *ToolInvocation `json:"tool_call,omitempty"`

	// ToolResult
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	Output     string `json:"output,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`

	// Resource
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mime_type,omitempty"`

	// Streaming
	Stream *StreamBuffer `json:"stream,omitempty"`

	// WorkflowStatus
	Status string `json:"status,omitempty"`
}

// Message is one immutable ledger entry.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a message with a fresh identity.
func NewMessage(role Role, content Content) *Message {
	return &Message{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// TextMessage is shorthand for a plain text message.
func TextMessage(role Role, text string) *Message {
	return NewMessage(role, Content{Kind: ContentText, Text: text})
}

// PlainText flattens the payload to text for model prompt assembly.
func (m *Message) PlainText() string {
	switch m.Content.Kind {
	case ContentText:
		return m.Content.Text
	case ContentStreaming:
		if m.Content.Stream != nil {
			return m.Content.Stream.Content
		}
	case ContentToolResult:
		return m.Content.Output
	case ContentFileReference:
		return m.Content.Text
	}
	return ""
}
