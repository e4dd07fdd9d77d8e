package chat

// EventKind discriminates the conversation event variant.
type EventKind string

const (
	EventUserInput             EventKind = "user_input"
	EventInputProcessed        EventKind = "input_processed"
	EventReferencesResolved    EventKind = "references_resolved"
	EventModelRequestInitiated EventKind = "model_request_initiated"
	EventFragmentReceived      EventKind = "fragment_received"
	EventStreamEnded           EventKind = "stream_ended"
	EventResponseProcessed     EventKind = "response_processed"
	EventToolsApproved         EventKind = "tools_approved"
	EventToolsDenied           EventKind = "tools_denied"
	EventToolFinished          EventKind = "tool_finished"
	EventResultsCollected      EventKind = "results_collected"
	EventLoopContinued         EventKind = "loop_continued"
	EventLoopStopped           EventKind = "loop_stopped"
	EventErrorRaised           EventKind = "error_raised"
	EventRetryRequested        EventKind = "retry_requested"
	EventRetriesExhausted      EventKind = "retries_exhausted"
	EventCancelled             EventKind = "cancelled"
)

// Event carries a conversation occurrence into the state machine. Like
// State it is a closed tagged variant; only the fields for the Kind are set.
type Event struct {
	Kind EventKind `json:"kind"`

	// InputProcessed
	HasReferences bool `json:"has_references,omitempty"`

	// FragmentReceived
	DeltaChars int `json:"delta_chars,omitempty"`

	// ResponseProcessed
	HasToolCalls   bool     `json:"has_tool_calls,omitempty"`
	NeedsApproval  bool     `json:"needs_approval,omitempty"`
	PendingToolIDs []string `json:"pending_tool_ids,omitempty"`
	ToolNames      []string `json:"tool_names,omitempty"`

	// ResponseProcessed / ToolsApproved / ToolFinished: next tool to run.
	ToolName string `json:"tool_name,omitempty"`

	// ToolFinished
	Remaining int `json:"remaining,omitempty"`

	// ResultsCollected
	Depth         int `json:"depth,omitempty"`
	ToolsExecuted int `json:"tools_executed,omitempty"`

	// ErrorRaised
	Transient  bool   `json:"transient,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Reason     string `json:"reason,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// UserInput returns the event for a newly submitted user message.
func UserInput() Event { return Event{Kind: EventUserInput} }

// InputProcessed reports that the input was parsed and whether it carries
// file or resource references that still need resolving.
func InputProcessed(hasReferences bool) Event {
	return Event{Kind: EventInputProcessed, HasReferences: hasReferences}
}

// ReferencesResolved reports that all references were loaded.
func ReferencesResolved() Event { return Event{Kind: EventReferencesResolved} }

// ModelRequestInitiated reports that the model request was sent.
func ModelRequestInitiated() Event { return Event{Kind: EventModelRequestInitiated} }

// FragmentReceived reports one streamed delta of deltaChars characters.
func FragmentReceived(deltaChars int) Event {
	return Event{Kind: EventFragmentReceived, DeltaChars: deltaChars}
}

// StreamEnded reports that the model stream completed.
func StreamEnded() Event { return Event{Kind: EventStreamEnded} }

// ResponseProcessed reports the outcome of inspecting the finished response.
// When the response requested tools, needsApproval selects the approval
// branch; otherwise tool is the first tool to execute immediately.
func ResponseProcessed(hasToolCalls, needsApproval bool, pendingIDs, toolNames []string, tool string) Event {
	return Event{
		Kind:           EventResponseProcessed,
		HasToolCalls:   hasToolCalls,
		NeedsApproval:  needsApproval,
		PendingToolIDs: pendingIDs,
		ToolNames:      toolNames,
		ToolName:       tool,
	}
}

// ToolsApproved reports user approval; tool is the first tool to execute.
func ToolsApproved(tool string) Event { return Event{Kind: EventToolsApproved, ToolName: tool} }

// ToolsDenied reports user denial of the pending tool calls.
func ToolsDenied() Event { return Event{Kind: EventToolsDenied} }

// ToolFinished reports one tool completing with remaining tools still queued;
// tool is the next tool when remaining > 0.
func ToolFinished(remaining int, tool string) Event {
	return Event{Kind: EventToolFinished, Remaining: remaining, ToolName: tool}
}

// ResultsCollected reports all tool results gathered at the given loop depth.
func ResultsCollected(depth, toolsExecuted int) Event {
	return Event{Kind: EventResultsCollected, Depth: depth, ToolsExecuted: toolsExecuted}
}

// LoopContinued reports the tool loop feeding results back to the model.
func LoopContinued() Event { return Event{Kind: EventLoopContinued} }

// LoopStopped reports the tool loop ending the turn.
func LoopStopped() Event { return Event{Kind: EventLoopStopped} }

// ErrorRaised reports a failure; transient errors enter the retryable state
// while fatal ones terminate the turn.
func ErrorRaised(transient bool, errorKind, reason string, maxRetries int) Event {
	return Event{Kind: EventErrorRaised, Transient: transient, ErrorKind: errorKind, Reason: reason, MaxRetries: maxRetries}
}

// RetryRequested reports a retry of the failed model request.
func RetryRequested() Event { return Event{Kind: EventRetryRequested} }

// RetriesExhausted reports that no retry budget remains.
func RetriesExhausted() Event { return Event{Kind: EventRetriesExhausted} }

// Cancelled reports user cancellation of the in-flight turn.
func Cancelled() Event { return Event{Kind: EventCancelled} }
