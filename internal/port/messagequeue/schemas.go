package messagequeue

// StateChangedPayload is the schema for contexts.state_changed messages.
type StateChangedPayload struct {
	ContextID string `json:"context_id"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Event     string `json:"event"`
}

// ContentDeltaPayload is the schema for contexts.content_delta messages.
// It carries the watermark only; consumers pull the fragments they miss.
type ContentDeltaPayload struct {
	ContextID       string `json:"context_id"`
	MessageID       string `json:"message_id"`
	CurrentSequence uint64 `json:"current_sequence"`
}

// MessageCompletedPayload is the schema for contexts.message_completed messages.
type MessageCompletedPayload struct {
	ContextID     string `json:"context_id"`
	MessageID     string `json:"message_id"`
	FinalSequence uint64 `json:"final_sequence"`
	FinishReason  string `json:"finish_reason"`
}

// HeartbeatPayload is the schema for contexts.heartbeat messages.
type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}
