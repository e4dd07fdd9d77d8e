package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ContextForge/internal/domain"
	"github.com/Strob0t/ContextForge/internal/port/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) ListContexts(ctx context.Context) ([]storage.ContextRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, model, mode, approval_policy, active_branch, created_at, updated_at
		 FROM contexts ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var result []storage.ContextRecord
	for rows.Next() {
		var r storage.ContextRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Model, &r.Mode, &r.ApprovalPolicy,
			&r.ActiveBranch, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) GetContext(ctx context.Context, id uuid.UUID) (*storage.ContextRecord, error) {
	var r storage.ContextRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, model, mode, approval_policy, active_branch, created_at, updated_at
		 FROM contexts WHERE id = $1`, id,
	).Scan(&r.ID, &r.Title, &r.Model, &r.Mode, &r.ApprovalPolicy,
		&r.ActiveBranch, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get context %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get context %s: %w", id, err)
	}
	return &r, nil
}

func (s *Store) SaveContext(ctx context.Context, rec storage.ContextRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contexts (id, title, model, mode, approval_policy, active_branch, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   mode = EXCLUDED.mode,
		   approval_policy = EXCLUDED.approval_policy,
		   active_branch = EXCLUDED.active_branch,
		   updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.Title, rec.Model, rec.Mode, rec.ApprovalPolicy,
		rec.ActiveBranch, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save context %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) DeleteContext(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM contexts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete context %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete context %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, rec storage.MessageRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO context_messages (id, context_id, branch, position, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.ContextID, rec.Branch, rec.Position, rec.Role, rec.Content, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message %s: %w", rec.ID, err)
	}
	_, _ = s.pool.Exec(ctx, `UPDATE contexts SET updated_at = NOW() WHERE id = $1`, rec.ContextID)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, contextID uuid.UUID, branch string) ([]storage.MessageRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, context_id, branch, position, role, content, created_at
		 FROM context_messages WHERE context_id = $1 AND branch = $2 ORDER BY position ASC`,
		contextID, branch)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var result []storage.MessageRecord
	for rows.Next() {
		var m storage.MessageRecord
		if err := rows.Scan(&m.ID, &m.ContextID, &m.Branch, &m.Position, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) SaveBranch(ctx context.Context, contextID uuid.UUID, name string, messageIDs []uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO context_branches (context_id, name, message_ids)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (context_id, name) DO UPDATE SET message_ids = EXCLUDED.message_ids`,
		contextID, name, messageIDs)
	if err != nil {
		return fmt.Errorf("save branch %s/%s: %w", contextID, name, err)
	}
	return nil
}

func (s *Store) ListBranches(ctx context.Context, contextID uuid.UUID) ([]storage.BranchRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, message_ids FROM context_branches WHERE context_id = $1 ORDER BY created_at ASC`,
		contextID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var result []storage.BranchRecord
	for rows.Next() {
		var r storage.BranchRecord
		if err := rows.Scan(&r.Name, &r.MessageIDs); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
