// Package storage defines the persistence port for conversation contexts.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ContextRecord is the persisted form of a conversation context. The state
// machine restarts at idle on load; only durable data is stored.
type ContextRecord struct {
	ID             uuid.UUID
	Title          string
	Model          string
	Mode           string
	ApprovalPolicy string
	ActiveBranch   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessageRecord is the persisted form of one ledger entry. Content holds
// the JSON-encoded tagged payload.
type MessageRecord struct {
	ID        uuid.UUID
	ContextID uuid.UUID
	Branch    string
	Position  int
	Role      string
	Content   []byte
	CreatedAt time.Time
}

// BranchRecord is the persisted form of a branch fork: the message IDs it
// shared with its source branch at creation time. Messages appended after
// the fork are stored as MessageRecords under the branch's name.
type BranchRecord struct {
	Name       string
	MessageIDs []uuid.UUID
}

// Store is the port interface for durable conversation storage.
type Store interface {
	// Contexts
	ListContexts(ctx context.Context) ([]ContextRecord, error)
	GetContext(ctx context.Context, id uuid.UUID) (*ContextRecord, error)
	SaveContext(ctx context.Context, rec ContextRecord) error
	DeleteContext(ctx context.Context, id uuid.UUID) error

	// Messages
	AppendMessage(ctx context.Context, rec MessageRecord) error
	ListMessages(ctx context.Context, contextID uuid.UUID, branch string) ([]MessageRecord, error)

	// Branches
	SaveBranch(ctx context.Context, contextID uuid.UUID, name string, messageIDs []uuid.UUID) error
	ListBranches(ctx context.Context, contextID uuid.UUID) ([]BranchRecord, error)
}
