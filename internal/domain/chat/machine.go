package chat

import (
	"fmt"
	"time"
)

// historyLimit bounds the retained transition log per context.
const historyLimit = 50

// TransitionError reports an event that has no defined transition from the
// current state. The machine stays where it was.
type TransitionError struct {
	From  StateKind
	Event EventKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("chat: event %q not valid in state %q", e.Event, e.From)
}

// Transition records one applied state change.
type Transition struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	Event   Event     `json:"event"`
	At      time.Time `json:"at"`
	Changed bool      `json:"changed"`
}

// Next is the transition function: it maps a (state, event) pair to the
// successor state. Every pair not listed below is rejected with a
// TransitionError, in which case the returned state equals cur.
func Next(cur State, ev Event) (State, error) {
	// Cross-cutting events first: they apply from any non-terminal state.
	switch ev.Kind {
	case EventErrorRaised:
		if cur.IsTerminal() {
			return cur, &TransitionError{From: cur.Kind, Event: ev.Kind}
		}
		if !ev.Transient {
			return Failed(ev.Reason, time.Now()), nil
		}
		retry := 1
		if cur.Kind == StateTransientError {
			retry = cur.RetryCount + 1
		}
		return TransientError(ev.ErrorKind, retry, ev.MaxRetries), nil
	case EventCancelled:
		if cur.IsTerminal() {
			return cur, &TransitionError{From: cur.Kind, Event: ev.Kind}
		}
		return Idle(), nil
	}

	switch cur.Kind {
	case StateIdle, StateFailed:
		if ev.Kind == EventUserInput {
			return ProcessingUserInput(), nil
		}
	case StateProcessingUserInput:
		if ev.Kind == EventInputProcessed {
			if ev.HasReferences {
				return ResolvingReferences(), nil
			}
			return PreparingModelRequest(), nil
		}
	case StateResolvingReferences:
		if ev.Kind == EventReferencesResolved {
			return PreparingModelRequest(), nil
		}
	case StatePreparingModelRequest:
		if ev.Kind == EventModelRequestInitiated {
			return AwaitingModelResponse(), nil
		}
	case StateAwaitingModelResponse:
		switch ev.Kind {
		case EventFragmentReceived:
			return StreamingResponse(1, ev.DeltaChars), nil
		case EventStreamEnded:
			return ProcessingModelResponse(), nil
		}
	case StateStreamingResponse:
		switch ev.Kind {
		case EventFragmentReceived:
			return StreamingResponse(cur.FragmentsReceived+1, cur.CharsAccumulated+ev.DeltaChars), nil
		case EventStreamEnded:
			return ProcessingModelResponse(), nil
		}
	case StateProcessingModelResponse:
		if ev.Kind == EventResponseProcessed {
			switch {
			case !ev.HasToolCalls:
				return Idle(), nil
			case ev.NeedsApproval:
				return AwaitingToolApproval(ev.PendingToolIDs, ev.ToolNames), nil
			default:
				return ExecutingTool(ev.ToolName, 1), nil
			}
		}
	case StateAwaitingToolApproval:
		switch ev.Kind {
		case EventToolsApproved:
			return ExecutingTool(ev.ToolName, 1), nil
		case EventToolsDenied:
			return Idle(), nil
		}
	case StateExecutingTool:
		if ev.Kind == EventToolFinished {
			if ev.Remaining > 0 {
				return ExecutingTool(ev.ToolName, 1), nil
			}
			return CollectingToolResults(), nil
		}
	case StateCollectingToolResults:
		if ev.Kind == EventResultsCollected {
			return ToolLoopContinuing(ev.Depth, ev.ToolsExecuted), nil
		}
	case StateToolLoopContinuing:
		switch ev.Kind {
		case EventLoopContinued:
			return PreparingModelRequest(), nil
		case EventLoopStopped:
			return Idle(), nil
		}
	case StateTransientError:
		switch ev.Kind {
		case EventRetryRequested:
			return PreparingModelRequest(), nil
		case EventRetriesExhausted:
			return Failed("retries exhausted: "+cur.ErrorKind, time.Now()), nil
		}
	}
	return cur, &TransitionError{From: cur.Kind, Event: ev.Kind}
}

// Machine holds the current state plus a bounded log of applied transitions.
// It is not safe for concurrent use; callers serialize access per context.
type Machine struct {
	current State
	history []Transition
}

// NewMachine returns a machine starting at Idle.
func NewMachine() *Machine {
	return &Machine{current: Idle()}
}

// Current returns the present state.
func (m *Machine) Current() State { return m.current }

// Apply advances the machine by ev. On a rejected event the state and the
// history are left untouched and the TransitionError is returned.
func (m *Machine) Apply(ev Event) (Transition, error) {
	next, err := Next(m.current, ev)
	if err != nil {
		return Transition{}, err
	}
	tr := Transition{
		From:    m.current,
		To:      next,
		Event:   ev,
		At:      time.Now(),
		Changed: !m.current.Equal(next),
	}
	m.current = next
	m.history = append(m.history, tr)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	return tr, nil
}

// History returns a copy of the retained transition log, oldest first.
func (m *Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}
