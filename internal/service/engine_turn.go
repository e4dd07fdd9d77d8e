package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ContextForge/internal/adapter/otel"
	"github.com/Strob0t/ContextForge/internal/domain/chat"
	"github.com/Strob0t/ContextForge/internal/domain/policy"
	"github.com/Strob0t/ContextForge/internal/port/modelclient"
	"github.com/Strob0t/ContextForge/internal/port/storage"
)

// runTurn drives one conversation turn to completion. Every machine or
// ledger mutation re-checks the turn generation so a cancelled or
// superseded turn stops touching the session.
func (e *Engine) runTurn(ctx context.Context, sess *session, gen uint64, input InputPayload) {
	contextID := sess.ctx.ID
	started := time.Now()
	ctx, span := otel.StartTurnSpan(ctx, contextID.String(), sess.ctx.Config.Model)
	defer span.End()

	hasRefs := input.Kind == InputFileReference
	if _, ok := e.apply(ctx, sess, gen, chat.InputProcessed(hasRefs)); !ok {
		return
	}

	if hasRefs {
		if err := e.resolveReference(sess, gen, input.Path); err != nil {
			e.failTurn(ctx, sess, gen, fmt.Sprintf("resolve reference: %v", err))
			return
		}
		if _, ok := e.apply(ctx, sess, gen, chat.ReferencesResolved()); !ok {
			return
		}
	}

	depth := 1
	toolsExecuted := 0
	retries := 0

	for {
		if _, ok := e.apply(ctx, sess, gen, chat.ModelRequestInitiated()); !ok {
			return
		}

		result, err := e.streamModelResponse(ctx, sess, gen)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			retries++
			if _, ok := e.apply(ctx, sess, gen, chat.ErrorRaised(true, "model_error", err.Error(), e.cfg.MaxRetries)); !ok {
				return
			}
			if retries > e.cfg.MaxRetries {
				if tr, ok := e.apply(ctx, sess, gen, chat.RetriesExhausted()); ok {
					e.log.Error("turn failed, retries exhausted",
						"context_id", contextID, "retries", retries-1, "error", err)
					_ = tr
					if e.metrics != nil {
						e.metrics.TurnsFailed.Add(ctx, 1)
					}
				}
				return
			}
			e.log.Warn("model request failed, retrying",
				"context_id", contextID, "attempt", retries, "error", err)
			select {
			case <-time.After(e.cfg.RetryBackoff * time.Duration(retries)):
			case <-ctx.Done():
				return
			}
			if _, ok := e.apply(ctx, sess, gen, chat.RetryRequested()); !ok {
				return
			}
			continue
		}
		retries = 0

		if len(result.ToolCalls) == 0 {
			if _, ok := e.apply(ctx, sess, gen, chat.ResponseProcessed(false, false, nil, nil, "")); !ok {
				return
			}
			if e.metrics != nil {
				e.metrics.TurnsCompleted.Add(ctx, 1)
				e.metrics.TurnDuration.Record(ctx, time.Since(started).Seconds())
			}
			e.log.Info("turn completed", "context_id", contextID,
				"duration_ms", time.Since(started).Milliseconds())
			return
		}

		ids := make([]string, len(result.ToolCalls))
		names := make([]string, len(result.ToolCalls))
		for i, tc := range result.ToolCalls {
			ids[i] = tc.ID
			names[i] = tc.Name
		}

		// The policy decides each cycle; once MaxToolDepth automatic
		// cycles have run, the next one forces a human decision
		// regardless of policy.
		needsApproval := sess.policy.EvaluateAll(names, depth) == policy.Ask || depth > e.cfg.MaxToolDepth
		if _, ok := e.apply(ctx, sess, gen, chat.ResponseProcessed(true, needsApproval, ids, names, names[0])); !ok {
			return
		}

		if needsApproval {
			decision := e.waitForApproval(ctx, contextID, ids, names)
			if decision != policy.Allow {
				if _, ok := e.apply(ctx, sess, gen, chat.ToolsDenied()); !ok {
					return
				}
				e.appendStatus(ctx, sess, gen, "tool calls denied")
				e.log.Info("tool calls denied", "context_id", contextID, "tools", names)
				return
			}
			if _, ok := e.apply(ctx, sess, gen, chat.ToolsApproved(names[0])); !ok {
				return
			}
		}

		executed, ok := e.executeToolCycle(ctx, sess, gen, result.ToolCalls)
		if !ok {
			return
		}
		toolsExecuted += executed

		if _, ok := e.apply(ctx, sess, gen, chat.ResultsCollected(depth, toolsExecuted)); !ok {
			return
		}
		depth++
		if _, ok := e.apply(ctx, sess, gen, chat.LoopContinued()); !ok {
			return
		}
	}
}

// resolveReference loads the referenced file into the pending user message,
// bounded by the configured size limit.
func (e *Engine) resolveReference(sess *session, gen uint64, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > e.cfg.MaxFileRefBytes {
		return fmt.Errorf("file %s is %d bytes, limit %d", path, info.Size(), e.cfg.MaxFileRefBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if gen != sess.gen {
		return context.Canceled
	}
	msgs := sess.ctx.Ledger.MessagesOnActive()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Content.Kind == chat.ContentFileReference && msgs[i].Content.Path == path {
			msgs[i].Content.Text = string(data)
			break
		}
	}
	return nil
}

// streamModelResponse opens a streaming ledger message, drives the model
// stream through the circuit breaker and finalizes the message. Fragments
// are signalled as they land.
func (e *Engine) streamModelResponse(ctx context.Context, sess *session, gen uint64) (*modelclient.Result, error) {
	contextID := sess.ctx.ID

	if err := e.streams.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.streams.Release(1)

	sess.mu.Lock()
	if gen != sess.gen {
		sess.mu.Unlock()
		return nil, context.Canceled
	}
	req := buildRequest(sess.ctx)
	req.Tools = e.specs
	msg, err := sess.ctx.Ledger.BeginStreaming(sess.ctx.Config.Model)
	sess.mu.Unlock()
	if err != nil {
		return nil, err
	}
	msgID := msg.ID

	ctx, span := otel.StartModelStreamSpan(ctx, contextID.String(), req.Model)
	defer span.End()

	var result *modelclient.Result
	err = e.breaker.Execute(func() error {
		var streamErr error
		result, streamErr = e.model.StreamChat(ctx, req, func(delta string) error {
			seq, err := e.recordFragment(sess, gen, msgID, delta)
			if err != nil {
				return err
			}
			if _, ok := e.apply(ctx, sess, gen, chat.FragmentReceived(len(delta))); !ok {
				return context.Canceled
			}
			e.notifier.ContentDelta(ctx, contextID, msgID, seq)
			if e.metrics != nil {
				e.metrics.Fragments.Add(ctx, 1)
			}
			return nil
		})
		return streamErr
	})
	if err != nil {
		// Close the partial stream so the next attempt can open a new one.
		sess.mu.Lock()
		if gen == sess.gen {
			_, _ = sess.ctx.Ledger.Finalize(msgID, "error", nil)
		}
		sess.mu.Unlock()
		return nil, err
	}

	if _, ok := e.apply(ctx, sess, gen, chat.StreamEnded()); !ok {
		return nil, context.Canceled
	}

	sess.mu.Lock()
	if gen != sess.gen {
		sess.mu.Unlock()
		return nil, context.Canceled
	}
	var usage *chat.Usage
	if result.Usage != nil {
		usage = &chat.Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		}
	}
	finalSeq, err := sess.ctx.Ledger.Finalize(msgID, result.FinishReason, usage)
	sess.ctx.Touch()
	sess.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.notifier.MessageCompleted(ctx, contextID, msgID, finalSeq, result.FinishReason)
	e.persistMessageByID(ctx, sess, msgID)
	return result, nil
}

// executeToolCycle runs the approved tool calls in order under the cycle
// budget. Returns the number executed and whether the turn may continue.
func (e *Engine) executeToolCycle(ctx context.Context, sess *session, gen uint64, calls []modelclient.ToolCall) (int, bool) {
	contextID := sess.ctx.ID
	cycleCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolCycleBudget)
	defer cancel()

	executed := 0
	for i, tc := range calls {
		inv := chat.NewToolInvocation(tc.ID, tc.Name, tc.Arguments)
		_ = inv.Approve()
		_ = inv.Begin()

		callCtx, span := otel.StartToolCallSpan(cycleCtx, tc.ID, tc.Name)
		output, err := e.tools.Execute(callCtx, tc.Name, tc.Arguments)
		span.End()

		if err != nil {
			_ = inv.Fail(err.Error())
			output = fmt.Sprintf("tool error: %v", err)
			e.log.Warn("tool call failed", "context_id", contextID, "tool", tc.Name, "error", err)
		} else {
			_ = inv.Complete(output)
		}
		if e.metrics != nil {
			e.metrics.ToolCalls.Add(ctx, 1)
		}
		executed++

		callMsg := chat.NewMessage(chat.RoleAssistant, chat.Content{Kind: chat.ContentToolCall, ToolCall: inv})
		resultMsg := chat.NewMessage(chat.RoleTool, chat.Content{
			Kind:       chat.ContentToolResult,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Output:     output,
			IsError:    err != nil,
		})

		sess.mu.Lock()
		if gen != sess.gen {
			sess.mu.Unlock()
			return executed, false
		}
		callPos := sess.ctx.Ledger.Append(callMsg)
		resultPos := sess.ctx.Ledger.Append(resultMsg)
		branch := sess.ctx.Ledger.ActiveBranch()
		sess.ctx.Touch()
		sess.mu.Unlock()
		e.persistMessage(ctx, sess, callMsg, branch, callPos)
		e.persistMessage(ctx, sess, resultMsg, branch, resultPos)

		remaining := len(calls) - i - 1
		next := ""
		if remaining > 0 {
			next = calls[i+1].Name
		}
		if _, ok := e.apply(ctx, sess, gen, chat.ToolFinished(remaining, next)); !ok {
			return executed, false
		}

		if cycleCtx.Err() != nil && remaining > 0 {
			e.failTurn(ctx, sess, gen, "tool cycle budget exceeded")
			return executed, false
		}
	}
	return executed, true
}

// apply advances the session machine if the turn is still current. It
// broadcasts the transition and returns ok=false when the turn is stale,
// the context is cancelled, or the event is rejected.
func (e *Engine) apply(ctx context.Context, sess *session, gen uint64, ev chat.Event) (chat.Transition, bool) {
	sess.mu.Lock()
	if gen != sess.gen || ctx.Err() != nil {
		sess.mu.Unlock()
		return chat.Transition{}, false
	}
	tr, err := sess.ctx.Machine.Apply(ev)
	if err != nil {
		sess.mu.Unlock()
		e.log.Error("event rejected", "context_id", sess.ctx.ID, "event", ev.Kind, "error", err)
		return chat.Transition{}, false
	}
	sess.ctx.Touch()
	sess.mu.Unlock()

	e.notifier.StateChanged(ctx, sess.ctx.ID, tr)
	e.countTransition(ctx)
	return tr, true
}

// failTurn terminates the turn with a fatal error.
func (e *Engine) failTurn(ctx context.Context, sess *session, gen uint64, reason string) {
	if _, ok := e.apply(ctx, sess, gen, chat.ErrorRaised(false, "", reason, 0)); !ok {
		return
	}
	if e.metrics != nil {
		e.metrics.TurnsFailed.Add(ctx, 1)
	}
	e.log.Error("turn failed", "context_id", sess.ctx.ID, "reason", reason)
}

// recordFragment appends one delta to the open stream under the session lock.
func (e *Engine) recordFragment(sess *session, gen uint64, msgID uuid.UUID, delta string) (uint64, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if gen != sess.gen {
		return 0, context.Canceled
	}
	return sess.ctx.Ledger.AppendFragment(msgID, delta)
}

// appendStatus records a workflow status note on the ledger.
func (e *Engine) appendStatus(ctx context.Context, sess *session, gen uint64, status string) {
	msg := chat.NewMessage(chat.RoleSystem, chat.Content{Kind: chat.ContentWorkflowStatus, Status: status})
	sess.mu.Lock()
	if gen != sess.gen {
		sess.mu.Unlock()
		return
	}
	pos := sess.ctx.Ledger.Append(msg)
	branch := sess.ctx.Ledger.ActiveBranch()
	sess.mu.Unlock()
	e.persistMessage(ctx, sess, msg, branch, pos)
}

// buildRequest flattens the active branch into a provider-neutral prompt.
// Caller holds sess.mu.
func buildRequest(c *chat.Context) modelclient.Request {
	req := modelclient.Request{Model: c.Config.Model}
	for _, m := range c.Ledger.MessagesOnActive() {
		switch m.Content.Kind {
		case chat.ContentText, chat.ContentStreaming, chat.ContentFileReference:
			text := m.PlainText()
			if text == "" {
				continue
			}
			req.Messages = append(req.Messages, modelclient.Message{
				Role:    string(m.Role),
				Content: text,
			})
		case chat.ContentToolCall:
			if m.Content.ToolCall == nil {
				continue
			}
			req.Messages = append(req.Messages, modelclient.Message{
				Role: string(chat.RoleAssistant),
				ToolCalls: []modelclient.ToolCall{{
					ID:        m.Content.ToolCall.ID,
					Name:      m.Content.ToolCall.Tool,
					Arguments: m.Content.ToolCall.Arguments,
				}},
			})
		case chat.ContentToolResult:
			req.Messages = append(req.Messages, modelclient.Message{
				Role:       string(chat.RoleTool),
				Content:    m.Content.Output,
				ToolCallID: m.Content.ToolCallID,
			})
		}
	}
	return req
}

// persistMessage stores one finished ledger message, best effort. branch
// and position are captured under the session lock at append time so
// concurrent appends cannot shift them.
func (e *Engine) persistMessage(ctx context.Context, sess *session, m *chat.Message, branch string, position int) {
	if e.store == nil {
		return
	}
	content, err := json.Marshal(m.Content)
	if err != nil {
		e.log.Warn("marshal message content", "message_id", m.ID, "error", err)
		return
	}
	rec := storage.MessageRecord{
		ID:        m.ID,
		ContextID: sess.ctx.ID,
		Branch:    branch,
		Position:  position,
		Role:      string(m.Role),
		Content:   content,
		CreatedAt: m.CreatedAt,
	}
	if err := e.store.AppendMessage(ctx, rec); err != nil {
		e.log.Warn("persist message failed", "message_id", m.ID, "error", err)
	}
}

func (e *Engine) persistMessageByID(ctx context.Context, sess *session, id uuid.UUID) {
	sess.mu.Lock()
	m, err := sess.ctx.Ledger.Get(id)
	pos, onActive := sess.ctx.Ledger.PositionOnActive(id)
	branch := sess.ctx.Ledger.ActiveBranch()
	sess.mu.Unlock()
	if err != nil || !onActive {
		return
	}
	e.persistMessage(ctx, sess, m, branch, pos)
}
