package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ContextForge/internal/domain/chat"
	"github.com/Strob0t/ContextForge/internal/port/cache"
)

// Retrieval serves the pull side of the sync protocol: fragment pages past
// a watermark, message batches and context snapshots. Finalized messages
// are immutable, so they are served through the tiered cache; open streams
// always come from the live ledger.
type Retrieval struct {
	engine   *Engine
	cache    cache.Cache // nil disables caching
	cacheTTL time.Duration
}

// NewRetrieval wires the retrieval service. c may be nil.
func NewRetrieval(engine *Engine, c cache.Cache, ttl time.Duration) *Retrieval {
	return &Retrieval{engine: engine, cache: c, cacheTTL: ttl}
}

// fragmentPageSize caps one fragment pull. Consumers with a larger
// backlog page through it by advancing their watermark.
const fragmentPageSize = 256

// FragmentPage is one pull of fragments past a watermark. HasMore reports
// fragments beyond this page; the consumer pulls again from the last
// returned sequence.
type FragmentPage struct {
	Chunks          []chat.Fragment `json:"chunks"`
	CurrentSequence uint64          `json:"current_sequence"`
	HasMore         bool            `json:"has_more"`
	Finalized       bool            `json:"finalized"`
}

// FragmentsSince returns fragments of the message with sequence greater
// than from, up to one page. Stale and overshooting watermarks both yield
// an empty page, so consumers self-heal on the next pull.
func (r *Retrieval) FragmentsSince(_ context.Context, contextID, messageID uuid.UUID, from uint64) (FragmentPage, error) {
	sess, err := r.engine.session(contextID)
	if err != nil {
		return FragmentPage{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	frags, err := sess.ctx.Ledger.FragmentsSince(messageID, from)
	if err != nil {
		return FragmentPage{}, err
	}
	msg, err := sess.ctx.Ledger.Get(messageID)
	if err != nil {
		return FragmentPage{}, err
	}
	if frags == nil {
		frags = []chat.Fragment{}
	}
	hasMore := false
	if len(frags) > fragmentPageSize {
		frags = frags[:fragmentPageSize]
		hasMore = true
	}
	return FragmentPage{
		Chunks:          frags,
		CurrentSequence: msg.Content.Stream.CurrentSequence(),
		HasMore:         hasMore,
		Finalized:       msg.Content.Stream.Finalized(),
	}, nil
}

// Messages resolves a batch of message IDs. Unknown IDs are skipped so a
// consumer holding stale references still gets everything that exists.
func (r *Retrieval) Messages(ctx context.Context, contextID uuid.UUID, ids []uuid.UUID) ([]*chat.Message, error) {
	sess, err := r.engine.session(contextID)
	if err != nil {
		return nil, err
	}

	resolved := make(map[uuid.UUID]*chat.Message, len(ids))
	var misses []uuid.UUID

	if r.cache != nil {
		for _, id := range ids {
			data, ok, err := r.cache.Get(ctx, messageKey(contextID, id))
			if err != nil || !ok {
				misses = append(misses, id)
				continue
			}
			var m chat.Message
			if err := json.Unmarshal(data, &m); err != nil {
				misses = append(misses, id)
				continue
			}
			resolved[id] = &m
		}
	} else {
		misses = ids
	}

	if len(misses) > 0 {
		sess.mu.Lock()
		fetched := sess.ctx.Ledger.Batch(misses)
		sess.mu.Unlock()

		for _, m := range fetched {
			resolved[m.ID] = m
			// Only settled content is safe to cache.
			if r.cache != nil && cacheable(m) {
				if data, err := json.Marshal(m); err == nil {
					_ = r.cache.Set(ctx, messageKey(contextID, m.ID), data, r.cacheTTL)
				}
			}
		}
	}

	out := make([]*chat.Message, 0, len(resolved))
	for _, id := range ids {
		if m, ok := resolved[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Snapshot returns the observable state of the context for catch-up.
func (r *Retrieval) Snapshot(ctx context.Context, contextID uuid.UUID) (chat.Snapshot, error) {
	return r.engine.GetSnapshot(ctx, contextID)
}

// History returns the retained transition log for debugging clients.
func (r *Retrieval) History(_ context.Context, contextID uuid.UUID) ([]chat.Transition, error) {
	sess, err := r.engine.session(contextID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.ctx.Machine.History(), nil
}

func cacheable(m *chat.Message) bool {
	if m.Content.Kind != chat.ContentStreaming {
		return true
	}
	return m.Content.Stream != nil && m.Content.Stream.Finalized()
}

func messageKey(contextID, messageID uuid.UUID) string {
	return "msg:" + contextID.String() + ":" + messageID.String()
}
