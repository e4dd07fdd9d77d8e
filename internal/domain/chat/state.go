// Package chat defines the conversation domain: the context state machine,
// the message ledger with branch support, and the streaming fragment buffer.
package chat

import "time"

// StateKind discriminates the conversation state variant.
type StateKind string

const (
	StateIdle                    StateKind = "idle"
	StateProcessingUserInput     StateKind = "processing_user_input"
	StateResolvingReferences     StateKind = "resolving_references"
	StatePreparingModelRequest   StateKind = "preparing_model_request"
	StateAwaitingModelResponse   StateKind = "awaiting_model_response"
	StateStreamingResponse       StateKind = "streaming_response"
	StateProcessingModelResponse StateKind = "processing_model_response"
	StateAwaitingToolApproval    StateKind = "awaiting_tool_approval"
	StateExecutingTool           StateKind = "executing_tool"
	StateCollectingToolResults   StateKind = "collecting_tool_results"
	StateToolLoopContinuing      StateKind = "tool_loop_continuing"
	StateTransientError          StateKind = "transient_error"
	StateFailed                  StateKind = "failed"
)

// State is a closed tagged variant describing exactly what a conversation
// context is doing. Only the fields belonging to the Kind are populated;
// use the constructors below rather than building State values by hand.
type State struct {
	Kind StateKind `json:"kind"`

	// StreamingResponse
	FragmentsReceived int `json:"fragments_received,omitempty"`
	CharsAccumulated  int `json:"chars_accumulated,omitempty"`

	// AwaitingToolApproval
	PendingToolIDs []string `json:"pending_tool_ids,omitempty"`
	ToolNames      []string `json:"tool_names,omitempty"`

	// ExecutingTool
	ToolName string `json:"tool_name,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`

	// ToolLoopContinuing
	Depth         int `json:"depth,omitempty"`
	ToolsExecuted int `json:"tools_executed,omitempty"`

	// TransientError
	ErrorKind  string `json:"error_kind,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`

	// Failed
	Reason   string     `json:"reason,omitempty"`
	FailedAt *time.Time `json:"failed_at,omitempty"`
}

// Idle returns the idle state.
func Idle() State { return State{Kind: StateIdle} }

// ProcessingUserInput returns the user-input processing state.
func ProcessingUserInput() State { return State{Kind: StateProcessingUserInput} }

// ResolvingReferences returns the file/resource reference resolution state.
func ResolvingReferences() State { return State{Kind: StateResolvingReferences} }

// PreparingModelRequest returns the request preparation state.
func PreparingModelRequest() State { return State{Kind: StatePreparingModelRequest} }

// AwaitingModelResponse returns the state waiting for the first model chunk.
func AwaitingModelResponse() State { return State{Kind: StateAwaitingModelResponse} }

// StreamingResponse returns the streaming state carrying fragment counters.
func StreamingResponse(fragments, chars int) State {
	return State{Kind: StateStreamingResponse, FragmentsReceived: fragments, CharsAccumulated: chars}
}

// ProcessingModelResponse returns the post-stream processing state.
func ProcessingModelResponse() State { return State{Kind: StateProcessingModelResponse} }

// AwaitingToolApproval returns the approval-wait state for the given tool calls.
func AwaitingToolApproval(pendingIDs, toolNames []string) State {
	return State{Kind: StateAwaitingToolApproval, PendingToolIDs: pendingIDs, ToolNames: toolNames}
}

// ExecutingTool returns the tool execution state.
func ExecutingTool(tool string, attempt int) State {
	return State{Kind: StateExecutingTool, ToolName: tool, Attempt: attempt}
}

// CollectingToolResults returns the result collection state.
func CollectingToolResults() State { return State{Kind: StateCollectingToolResults} }

// ToolLoopContinuing returns the auto-loop state carrying loop counters.
func ToolLoopContinuing(depth, toolsExecuted int) State {
	return State{Kind: StateToolLoopContinuing, Depth: depth, ToolsExecuted: toolsExecuted}
}

// TransientError returns the retryable error state.
func TransientError(kind string, retryCount, maxRetries int) State {
	return State{Kind: StateTransientError, ErrorKind: kind, RetryCount: retryCount, MaxRetries: maxRetries}
}

// Failed returns the terminal error state for the current turn.
func Failed(reason string, at time.Time) State {
	return State{Kind: StateFailed, Reason: reason, FailedAt: &at}
}

// AcceptsUserInput reports whether a new user message may be submitted.
// Failed is included: a new input starts a fresh turn.
func (s State) AcceptsUserInput() bool {
	return s.Kind == StateIdle || s.Kind == StateFailed
}

// IsTerminal reports whether the current turn has ended.
func (s State) IsTerminal() bool {
	return s.Kind == StateIdle || s.Kind == StateFailed
}

// IsBlocking reports whether the context is suspended waiting on an
// external collaborator or user decision.
func (s State) IsBlocking() bool {
	switch s.Kind {
	case StateAwaitingModelResponse, StateAwaitingToolApproval, StateExecutingTool:
		return true
	default:
		return false
	}
}

// Equal reports deep equality between two states.
func (s State) Equal(o State) bool {
	if s.Kind != o.Kind ||
		s.FragmentsReceived != o.FragmentsReceived ||
		s.CharsAccumulated != o.CharsAccumulated ||
		s.ToolName != o.ToolName ||
		s.Attempt != o.Attempt ||
		s.Depth != o.Depth ||
		s.ToolsExecuted != o.ToolsExecuted ||
		s.ErrorKind != o.ErrorKind ||
		s.RetryCount != o.RetryCount ||
		s.MaxRetries != o.MaxRetries ||
		s.Reason != o.Reason {
		return false
	}
	if len(s.PendingToolIDs) != len(o.PendingToolIDs) || len(s.ToolNames) != len(o.ToolNames) {
		return false
	}
	for i := range s.PendingToolIDs {
		if s.PendingToolIDs[i] != o.PendingToolIDs[i] {
			return false
		}
	}
	for i := range s.ToolNames {
		if s.ToolNames[i] != o.ToolNames[i] {
			return false
		}
	}
	return true
}

// Description returns a short human-readable label for UI display.
func (s State) Description() string {
	switch s.Kind {
	case StateIdle:
		return "Ready for input"
	case StateProcessingUserInput:
		return "Processing your message"
	case StateAwaitingModelResponse:
		return "Waiting for model response"
	case StateStreamingResponse:
		return "Receiving model response"
	case StateAwaitingToolApproval:
		return "Waiting for approval"
	case StateExecutingTool:
		return "Running tool"
	case StateFailed:
		return "Failed"
	default:
		return "Processing"
	}
}
