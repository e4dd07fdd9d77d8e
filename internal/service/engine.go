// Package service orchestrates conversation turns: it owns the session
// registry, drives each context's state machine and ledger, runs the model
// stream and the tool loop, and emits signals through the dispatcher.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/ContextForge/internal/adapter/otel"
	"github.com/Strob0t/ContextForge/internal/config"
	"github.com/Strob0t/ContextForge/internal/domain"
	"github.com/Strob0t/ContextForge/internal/domain/chat"
	"github.com/Strob0t/ContextForge/internal/domain/policy"
	"github.com/Strob0t/ContextForge/internal/port/modelclient"
	"github.com/Strob0t/ContextForge/internal/port/storage"
	"github.com/Strob0t/ContextForge/internal/port/toolexec"
	"github.com/Strob0t/ContextForge/internal/resilience"
)

// session pairs a conversation context with its turn bookkeeping. mu
// serializes every machine and ledger mutation; gen invalidates goroutines
// belonging to superseded or cancelled turns.
type session struct {
	mu     sync.Mutex
	ctx    *chat.Context
	policy policy.Policy

	gen        uint64
	cancelTurn context.CancelFunc
}

// Engine is the conversation orchestrator.
type Engine struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*session

	model    modelclient.Client
	tools    *toolexec.Registry
	specs    []modelclient.ToolSpec
	notifier *Dispatcher
	store    storage.Store // nil disables persistence
	breaker  *resilience.Breaker
	metrics  *otel.Metrics // nil disables instruments
	cfg      config.Engine
	log      *slog.Logger

	// streams bounds in-flight model requests across all contexts.
	streams *semaphore.Weighted

	pendingApprovals sync.Map
}

// NewEngine wires the orchestrator. store and metrics may be nil.
func NewEngine(model modelclient.Client, tools *toolexec.Registry, specs []modelclient.ToolSpec,
	notifier *Dispatcher, store storage.Store, breaker *resilience.Breaker,
	metrics *otel.Metrics, cfg config.Engine, log *slog.Logger) *Engine {
	limit := cfg.MaxConcurrentStreams
	if limit <= 0 {
		limit = 8
	}
	return &Engine{
		sessions: make(map[uuid.UUID]*session),
		model:    model,
		tools:    tools,
		specs:    specs,
		notifier: notifier,
		store:    store,
		breaker:  breaker,
		metrics:  metrics,
		cfg:      cfg,
		log:      log,
		streams:  semaphore.NewWeighted(int64(limit)),
	}
}

// Restore loads every persisted context into the session registry. Called
// once at startup, before the engine serves requests, so conversations
// survive a restart. Contexts whose rows cannot be decoded are skipped
// with a warning; restored machines start at idle.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	recs, err := e.store.ListContexts(ctx)
	if err != nil {
		return fmt.Errorf("restore contexts: %w", err)
	}

	restored := 0
	for _, rec := range recs {
		sess, err := e.restoreSession(ctx, rec)
		if err != nil {
			e.log.Warn("context not restored", "context_id", rec.ID, "error", err)
			continue
		}
		e.mu.Lock()
		e.sessions[rec.ID] = sess
		e.mu.Unlock()
		restored++
	}
	if restored > 0 {
		e.log.Info("contexts restored", "count", restored)
	}
	return nil
}

func (e *Engine) restoreSession(ctx context.Context, rec storage.ContextRecord) (*session, error) {
	approval := rec.ApprovalPolicy
	if approval == "" {
		approval = e.cfg.ApprovalPolicy
	}
	pol, err := policy.Parse(approval)
	if err != nil {
		return nil, err
	}

	c, err := chat.NewContext(rec.Title, chat.ContextConfig{
		Model:          rec.Model,
		Mode:           rec.Mode,
		ApprovalPolicy: approval,
	})
	if err != nil {
		return nil, err
	}
	c.ID = rec.ID
	c.CreatedAt = rec.CreatedAt
	c.UpdatedAt = rec.UpdatedAt

	if err := e.restoreBranch(ctx, c, chat.MainBranch, nil); err != nil {
		return nil, err
	}
	branches, err := e.store.ListBranches(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	for _, b := range branches {
		if b.Name == chat.MainBranch {
			continue
		}
		if err := e.restoreBranch(ctx, c, b.Name, b.MessageIDs); err != nil {
			return nil, err
		}
	}
	if rec.ActiveBranch != "" {
		if err := c.Ledger.SwitchBranch(rec.ActiveBranch); err != nil {
			e.log.Warn("active branch missing, staying on main", "context_id", rec.ID, "branch", rec.ActiveBranch)
		}
	}
	return &session{ctx: c, policy: pol}, nil
}

// restoreBranch rebuilds one branch from its persisted rows. forkIDs is
// the shared history recorded when the branch was created; messages
// appended on the branch itself follow it.
func (e *Engine) restoreBranch(ctx context.Context, c *chat.Context, name string, forkIDs []uuid.UUID) error {
	recs, err := e.store.ListMessages(ctx, c.ID, name)
	if err != nil {
		return err
	}
	msgs := make([]*chat.Message, 0, len(recs))
	for _, mr := range recs {
		var content chat.Content
		if err := json.Unmarshal(mr.Content, &content); err != nil {
			return fmt.Errorf("decode message %s: %w", mr.ID, err)
		}
		msgs = append(msgs, &chat.Message{
			ID:        mr.ID,
			Role:      chat.Role(mr.Role),
			Content:   content,
			CreatedAt: mr.CreatedAt,
		})
	}
	c.Ledger.RestoreBranch(name, forkIDs, msgs)
	return nil
}

// CreateContext registers a new conversation. An empty approval policy
// falls back to the engine default.
func (e *Engine) CreateContext(ctx context.Context, title string, cfg chat.ContextConfig) (chat.Snapshot, error) {
	if cfg.ApprovalPolicy == "" {
		cfg.ApprovalPolicy = e.cfg.ApprovalPolicy
	}
	pol, err := policy.Parse(cfg.ApprovalPolicy)
	if err != nil {
		return chat.Snapshot{}, err
	}

	c, err := chat.NewContext(title, cfg)
	if err != nil {
		return chat.Snapshot{}, err
	}

	e.mu.Lock()
	e.sessions[c.ID] = &session{ctx: c, policy: pol}
	e.mu.Unlock()

	if e.store != nil {
		rec := storage.ContextRecord{
			ID:             c.ID,
			Title:          c.Title,
			Model:          cfg.Model,
			Mode:           cfg.Mode,
			ApprovalPolicy: cfg.ApprovalPolicy,
			ActiveBranch:   chat.MainBranch,
			CreatedAt:      c.CreatedAt,
			UpdatedAt:      c.UpdatedAt,
		}
		if err := e.store.SaveContext(ctx, rec); err != nil {
			e.log.Warn("persist context failed", "context_id", c.ID, "error", err)
		}
	}

	e.log.Info("context created", "context_id", c.ID, "model", cfg.Model, "policy", cfg.ApprovalPolicy)
	return c.Snapshot(), nil
}

// GetSnapshot returns the observable state of one context.
func (e *Engine) GetSnapshot(_ context.Context, id uuid.UUID) (chat.Snapshot, error) {
	sess, err := e.session(id)
	if err != nil {
		return chat.Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.ctx.Snapshot(), nil
}

// ListContexts returns snapshots of every registered context.
func (e *Engine) ListContexts(_ context.Context) []chat.Snapshot {
	e.mu.RLock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	out := make([]chat.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, s.ctx.Snapshot())
		s.mu.Unlock()
	}
	return out
}

// DeleteContext cancels any in-flight turn and removes the context.
func (e *Engine) DeleteContext(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	sess, ok := e.sessions[id]
	if ok {
		delete(e.sessions, id)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("context %s: %w", id, domain.ErrNotFound)
	}

	sess.mu.Lock()
	sess.gen++
	if sess.cancelTurn != nil {
		sess.cancelTurn()
	}
	sess.mu.Unlock()

	if e.store != nil {
		if err := e.store.DeleteContext(ctx, id); err != nil {
			e.log.Warn("delete persisted context failed", "context_id", id, "error", err)
		}
	}
	e.log.Info("context deleted", "context_id", id)
	return nil
}

// InputKind discriminates the accepted input payloads.
type InputKind string

const (
	InputText          InputKind = "text"
	InputFileReference InputKind = "file_reference"
)

// InputPayload is one user submission.
type InputPayload struct {
	Kind InputKind `json:"kind"`
	Text string    `json:"text,omitempty"`
	Path string    `json:"path,omitempty"`
}

// SendInput submits a user message and starts a turn. It returns
// domain.ErrConflict when the context is mid-turn: inputs are accepted
// only from idle or failed states.
func (e *Engine) SendInput(ctx context.Context, id uuid.UUID, input InputPayload) (chat.Snapshot, error) {
	sess, err := e.session(id)
	if err != nil {
		return chat.Snapshot{}, err
	}

	sess.mu.Lock()
	if !sess.ctx.Machine.Current().AcceptsUserInput() {
		state := sess.ctx.Machine.Current().Kind
		sess.mu.Unlock()
		return chat.Snapshot{}, fmt.Errorf("%w: context is %s, input not accepted", domain.ErrConflict, state)
	}

	tr, err := sess.ctx.Machine.Apply(chat.UserInput())
	if err != nil {
		sess.mu.Unlock()
		return chat.Snapshot{}, err
	}

	msg := e.userMessage(input)
	pos := sess.ctx.Ledger.Append(msg)
	branch := sess.ctx.Ledger.ActiveBranch()
	sess.ctx.Touch()

	sess.gen++
	gen := sess.gen
	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess.cancelTurn = cancel
	snap := sess.ctx.Snapshot()
	sess.mu.Unlock()

	e.notifier.StateChanged(ctx, id, tr)
	e.countTransition(ctx)
	if e.metrics != nil {
		e.metrics.TurnsStarted.Add(ctx, 1)
	}
	e.persistMessage(ctx, sess, msg, branch, pos)

	go e.runTurn(turnCtx, sess, gen, input)

	return snap, nil
}

// Cancel aborts the in-flight turn and returns the context to idle.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (chat.Snapshot, error) {
	sess, err := e.session(id)
	if err != nil {
		return chat.Snapshot{}, err
	}

	sess.mu.Lock()
	if sess.ctx.Machine.Current().IsTerminal() {
		state := sess.ctx.Machine.Current().Kind
		sess.mu.Unlock()
		return chat.Snapshot{}, fmt.Errorf("%w: context is %s, nothing to cancel", domain.ErrConflict, state)
	}

	sess.gen++
	if sess.cancelTurn != nil {
		sess.cancelTurn()
		sess.cancelTurn = nil
	}
	tr, err := sess.ctx.Machine.Apply(chat.Cancelled())
	if err != nil {
		sess.mu.Unlock()
		return chat.Snapshot{}, err
	}
	if openID, ok := sess.ctx.Ledger.OpenStreamID(); ok {
		_, _ = sess.ctx.Ledger.Finalize(openID, "cancelled", nil)
	}
	sess.ctx.Touch()
	snap := sess.ctx.Snapshot()
	sess.mu.Unlock()

	e.notifier.StateChanged(ctx, id, tr)
	e.countTransition(ctx)
	e.log.Info("turn cancelled", "context_id", id)
	return snap, nil
}

// CreateBranch forks a branch from the active branch tip.
func (e *Engine) CreateBranch(ctx context.Context, id uuid.UUID, name string) (chat.Snapshot, error) {
	sess, err := e.session(id)
	if err != nil {
		return chat.Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if name == "" {
		return chat.Snapshot{}, fmt.Errorf("%w: branch name is required", domain.ErrValidation)
	}
	if err := sess.ctx.Ledger.CreateBranch(name); err != nil {
		return chat.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	sess.ctx.Touch()

	if e.store != nil {
		msgs := sess.ctx.Ledger.MessagesOnActive()
		ids := make([]uuid.UUID, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		if err := e.store.SaveBranch(ctx, id, name, ids); err != nil {
			e.log.Warn("persist branch failed", "context_id", id, "branch", name, "error", err)
		}
	}
	return sess.ctx.Snapshot(), nil
}

// SwitchBranch changes the active branch. Switching mid-turn is rejected.
func (e *Engine) SwitchBranch(_ context.Context, id uuid.UUID, name string) (chat.Snapshot, error) {
	sess, err := e.session(id)
	if err != nil {
		return chat.Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.ctx.Machine.Current().IsTerminal() {
		return chat.Snapshot{}, fmt.Errorf("%w: cannot switch branch mid-turn", domain.ErrConflict)
	}
	if err := sess.ctx.Ledger.SwitchBranch(name); err != nil {
		return chat.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	sess.ctx.Touch()
	return sess.ctx.Snapshot(), nil
}

func (e *Engine) session(id uuid.UUID) (*session, error) {
	e.mu.RLock()
	sess, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("context %s: %w", id, domain.ErrNotFound)
	}
	return sess, nil
}

func (e *Engine) userMessage(input InputPayload) *chat.Message {
	switch input.Kind {
	case InputFileReference:
		return chat.NewMessage(chat.RoleUser, chat.Content{
			Kind:        chat.ContentFileReference,
			Path:        input.Path,
			DisplayName: input.Path,
			Text:        input.Text,
		})
	default:
		return chat.TextMessage(chat.RoleUser, input.Text)
	}
}

func (e *Engine) countTransition(ctx context.Context) {
	if e.metrics != nil {
		e.metrics.Transitions.Add(ctx, 1)
	}
}
