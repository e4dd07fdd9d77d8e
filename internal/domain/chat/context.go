package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ContextForge/internal/domain"
)

// ContextConfig holds per-context model and approval settings.
type ContextConfig struct {
	Model          string `json:"model"`
	Mode           string `json:"mode,omitempty"`
	ApprovalPolicy string `json:"approval_policy,omitempty"`
}

// Context is one conversation: its identity, state machine and ledger.
// Access is serialized by the owning session; Context itself holds no lock.
type Context struct {
	ID        uuid.UUID     `json:"id"`
	Title     string        `json:"title"`
	Config    ContextConfig `json:"config"`
	Machine   *Machine      `json:"-"`
	Ledger    *Ledger       `json:"-"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewContext creates a conversation starting at Idle with an empty ledger.
func NewContext(title string, cfg ContextConfig) (*Context, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", domain.ErrValidation)
	}
	now := time.Now()
	return &Context{
		ID:        uuid.New(),
		Title:     title,
		Config:    cfg,
		Machine:   NewMachine(),
		Ledger:    NewLedger(),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Touch bumps the modification timestamp.
func (c *Context) Touch() { c.UpdatedAt = time.Now() }

// Snapshot is a read-only view of a context for transport.
type Snapshot struct {
	ID           uuid.UUID     `json:"id"`
	Title        string        `json:"title"`
	Config       ContextConfig `json:"config"`
	State        State         `json:"state"`
	ActiveBranch string        `json:"active_branch"`
	Branches     []string      `json:"branches"`

	// BranchMessages maps every branch to its ordered message IDs, so an
	// observer can read a branch's history without switching to it.
	BranchMessages map[string][]uuid.UUID `json:"branch_messages"`

	MessageIDs   []uuid.UUID `json:"message_ids"`
	OpenStreamID *uuid.UUID  `json:"open_stream_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Snapshot captures the current observable state of the context.
func (c *Context) Snapshot() Snapshot {
	msgs := c.Ledger.MessagesOnActive()
	ids := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	snap := Snapshot{
		ID:             c.ID,
		Title:          c.Title,
		Config:         c.Config,
		State:          c.Machine.Current(),
		ActiveBranch:   c.Ledger.ActiveBranch(),
		Branches:       c.Ledger.Branches(),
		BranchMessages: c.Ledger.BranchMap(),
		MessageIDs:     ids,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if id, ok := c.Ledger.OpenStreamID(); ok {
		snap.OpenStreamID = &id
	}
	return snap
}
