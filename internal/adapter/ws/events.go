package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

// Signal type constants for WebSocket messages.
const (
	EventStateChanged     = "state_changed"
	EventContentDelta     = "content_delta"
	EventMessageCompleted = "message_completed"
	EventHeartbeat        = "heartbeat"
	EventApprovalRequest  = "approval_request"
)

// StateChangedEvent is broadcast when a context's machine transitions.
type StateChangedEvent struct {
	ContextID string `json:"context_id"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Event     string `json:"event"`
}

// ContentDeltaEvent is broadcast when a streaming message advances. It
// carries only the new watermark; clients pull fragments they are missing.
type ContentDeltaEvent struct {
	ContextID       string `json:"context_id"`
	MessageID       string `json:"message_id"`
	CurrentSequence uint64 `json:"current_sequence"`
}

// MessageCompletedEvent is broadcast when a streaming message finalizes.
type MessageCompletedEvent struct {
	ContextID     string `json:"context_id"`
	MessageID     string `json:"message_id"`
	FinalSequence uint64 `json:"final_sequence"`
	FinishReason  string `json:"finish_reason"`
}

// HeartbeatEvent is broadcast periodically so clients can bound the age of
// their view and fall back to polling when the channel goes quiet.
type HeartbeatEvent struct {
	Timestamp int64 `json:"timestamp"`
}

// BroadcastEvent marshals a typed signal and sends it to every connection
// watching contextID.
func (h *Hub) BroadcastEvent(ctx context.Context, contextID uuid.UUID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, contextID, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// BroadcastAllEvent marshals a typed signal and sends it to every
// connection regardless of subscriptions.
func (h *Hub) BroadcastAllEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.BroadcastAll(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
