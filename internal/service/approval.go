package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ContextForge/internal/adapter/ws"
	"github.com/Strob0t/ContextForge/internal/domain/policy"
)

// ApprovalRequestEvent is broadcast when a tool batch needs a decision.
type ApprovalRequestEvent struct {
	ContextID   string   `json:"context_id"`
	ToolCallIDs []string `json:"tool_call_ids"`
	ToolNames   []string `json:"tool_names"`
	TimeoutSec  int      `json:"timeout_sec"`
}

// approvalKey builds a unique key for pending approval channels.
func approvalKey(contextID uuid.UUID, ids []string) string {
	return contextID.String() + ":" + strings.Join(ids, ",")
}

// waitForApproval broadcasts a decision request and blocks until
// ResolveApproval delivers a verdict or the timeout expires. Timeouts and
// turn cancellation deny. First decision wins.
func (e *Engine) waitForApproval(ctx context.Context, contextID uuid.UUID, ids, names []string) policy.Decision {
	timeout := e.cfg.ApprovalTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	ch := make(chan string, 1)
	key := approvalKey(contextID, ids)
	e.pendingApprovals.Store(key, ch)
	defer e.pendingApprovals.Delete(key)

	e.notifier.bc.BroadcastEvent(ctx, contextID, ws.EventApprovalRequest, ApprovalRequestEvent{
		ContextID:   contextID.String(),
		ToolCallIDs: ids,
		ToolNames:   names,
		TimeoutSec:  int(timeout.Seconds()),
	})

	e.log.Info("approval requested",
		"context_id", contextID,
		"tools", names,
		"timeout", timeout,
	)

	select {
	case decision := <-ch:
		if decision == "allow" {
			return policy.Allow
		}
		return policy.Ask
	case <-time.After(timeout):
		e.log.Warn("approval timed out, denying",
			"context_id", contextID,
			"tools", names,
		)
		return policy.Ask
	case <-ctx.Done():
		return policy.Ask
	}
}

// ResolveApproval delivers a user decision ("allow" or "deny") for the
// pending batch. Returns true if a pending approval was found and resolved.
func (e *Engine) ResolveApproval(contextID uuid.UUID, ids []string, decision string) bool {
	key := approvalKey(contextID, ids)
	val, ok := e.pendingApprovals.LoadAndDelete(key)
	if !ok {
		return false
	}
	ch, _ := val.(chan string)
	if ch == nil {
		return false
	}
	select {
	case ch <- decision:
		return true
	default:
		return false
	}
}
