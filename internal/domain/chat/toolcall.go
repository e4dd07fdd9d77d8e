package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// ToolStatus tracks the lifecycle of one requested tool call.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolApproved  ToolStatus = "approved"
	ToolDenied    ToolStatus = "denied"
	ToolExecuting ToolStatus = "executing"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

// ToolInvocation is one model-requested tool call and its outcome.
type ToolInvocation struct {
	ID          string          `json:"id"`
	Tool        string          `json:"tool"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Status      ToolStatus      `json:"status"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// NewToolInvocation returns a pending invocation.
func NewToolInvocation(id, tool string, args json.RawMessage) *ToolInvocation {
	return &ToolInvocation{ID: id, Tool: tool, Arguments: args, Status: ToolPending, RequestedAt: time.Now()}
}

func (t *ToolInvocation) transition(from, to ToolStatus) error {
	if t.Status != from {
		return fmt.Errorf("tool call %s: cannot move %s -> %s from %s", t.ID, from, to, t.Status)
	}
	t.Status = to
	return nil
}

// Approve marks a pending call approved.
func (t *ToolInvocation) Approve() error {
	if err := t.transition(ToolPending, ToolApproved); err != nil {
		return err
	}
	now := time.Now()
	t.DecidedAt = &now
	return nil
}

// Deny marks a pending call denied.
func (t *ToolInvocation) Deny() error {
	if err := t.transition(ToolPending, ToolDenied); err != nil {
		return err
	}
	now := time.Now()
	t.DecidedAt = &now
	return nil
}

// Begin marks an approved call executing.
func (t *ToolInvocation) Begin() error {
	return t.transition(ToolApproved, ToolExecuting)
}

// Complete records a successful result.
func (t *ToolInvocation) Complete(result string) error {
	if err := t.transition(ToolExecuting, ToolCompleted); err != nil {
		return err
	}
	now := time.Now()
	t.FinishedAt = &now
	t.Result = result
	return nil
}

// Fail records an execution failure.
func (t *ToolInvocation) Fail(reason string) error {
	if err := t.transition(ToolExecuting, ToolFailed); err != nil {
		return err
	}
	now := time.Now()
	t.FinishedAt = &now
	t.Error = reason
	return nil
}
