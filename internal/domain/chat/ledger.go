package chat

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Ledger-specific sentinels, wrapped with detail at call sites.
var (
	ErrStreamInProgress = errors.New("a streaming message is already open")
	ErrUnknownMessage   = errors.New("message not found in ledger")
	ErrBranchNotFound   = errors.New("branch not found")
	ErrBranchExists     = errors.New("branch already exists")
)

// MainBranch is the branch every ledger starts on.
const MainBranch = "main"

// Ledger owns every message of a context. Messages live in a shared pool
// keyed by ID; branches are ordered ID slices into that pool, so forking a
// branch shares history instead of copying it. At most one streaming
// message may be open at a time.
type Ledger struct {
	pool     map[uuid.UUID]*Message
	branches map[string][]uuid.UUID
	active   string

	openStream uuid.UUID
	hasOpen    bool
}

// NewLedger returns an empty ledger on the main branch.
func NewLedger() *Ledger {
	return &Ledger{
		pool:     make(map[uuid.UUID]*Message),
		branches: map[string][]uuid.UUID{MainBranch: nil},
		active:   MainBranch,
	}
}

// Append adds a finished message to the active branch and returns its
// position on that branch.
func (l *Ledger) Append(m *Message) int {
	l.pool[m.ID] = m
	l.branches[l.active] = append(l.branches[l.active], m.ID)
	return len(l.branches[l.active]) - 1
}

// BeginStreaming opens a streaming assistant message and returns it. Only
// one stream may be open; a second call fails with ErrStreamInProgress.
func (l *Ledger) BeginStreaming(model string) (*Message, error) {
	if l.hasOpen {
		return nil, fmt.Errorf("begin streaming: %w", ErrStreamInProgress)
	}
	m := NewMessage(RoleAssistant, Content{Kind: ContentStreaming, Stream: NewStreamBuffer(model)})
	l.Append(m)
	l.openStream = m.ID
	l.hasOpen = true
	return m, nil
}

// AppendFragment adds one delta to the open stream identified by id and
// returns the assigned sequence number.
func (l *Ledger) AppendFragment(id uuid.UUID, delta string) (uint64, error) {
	if !l.hasOpen || l.openStream != id {
		return 0, fmt.Errorf("append fragment %s: %w", id, ErrUnknownMessage)
	}
	return l.pool[id].Content.Stream.Append(delta), nil
}

// Finalize closes the open stream. Finalizing an already finalized message
// is a no-op that reports the recorded final sequence.
func (l *Ledger) Finalize(id uuid.UUID, finishReason string, usage *Usage) (uint64, error) {
	m, ok := l.pool[id]
	if !ok || m.Content.Stream == nil {
		return 0, fmt.Errorf("finalize %s: %w", id, ErrUnknownMessage)
	}
	seq := m.Content.Stream.Finalize(finishReason, usage)
	if l.hasOpen && l.openStream == id {
		l.hasOpen = false
		l.openStream = uuid.Nil
	}
	return seq, nil
}

// FragmentsSince returns fragments of message id past the watermark. It
// works on open and finalized streams alike, so a late consumer can still
// catch up after completion.
func (l *Ledger) FragmentsSince(id uuid.UUID, from uint64) ([]Fragment, error) {
	m, ok := l.pool[id]
	if !ok || m.Content.Stream == nil {
		return nil, fmt.Errorf("fragments since %s: %w", id, ErrUnknownMessage)
	}
	return m.Content.Stream.FragmentsSince(from), nil
}

// Get returns the message by ID regardless of branch membership.
func (l *Ledger) Get(id uuid.UUID) (*Message, error) {
	m, ok := l.pool[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrUnknownMessage)
	}
	return m, nil
}

// Batch resolves many IDs at once, skipping unknown ones.
func (l *Ledger) Batch(ids []uuid.UUID) []*Message {
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := l.pool[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// CreateBranch forks a new branch from the current tip of the active
// branch. The new branch starts with a copy of the active ID list.
func (l *Ledger) CreateBranch(name string) error {
	if _, ok := l.branches[name]; ok {
		return fmt.Errorf("create branch %q: %w", name, ErrBranchExists)
	}
	src := l.branches[l.active]
	fork := make([]uuid.UUID, len(src))
	copy(fork, src)
	l.branches[name] = fork
	return nil
}

// SwitchBranch changes the active branch.
func (l *Ledger) SwitchBranch(name string) error {
	if _, ok := l.branches[name]; !ok {
		return fmt.Errorf("switch branch %q: %w", name, ErrBranchNotFound)
	}
	l.active = name
	return nil
}

// RestoreBranch installs one branch's history when loading a persisted
// context. ids reference pool entries restored earlier (shared fork
// history); msgs join the pool and follow them in order.
func (l *Ledger) RestoreBranch(name string, ids []uuid.UUID, msgs []*Message) {
	list := make([]uuid.UUID, 0, len(ids)+len(msgs))
	list = append(list, ids...)
	for _, m := range msgs {
		l.pool[m.ID] = m
		list = append(list, m.ID)
	}
	l.branches[name] = list
}

// ActiveBranch returns the name of the active branch.
func (l *Ledger) ActiveBranch() string { return l.active }

// PositionOnActive reports the message's index on the active branch.
func (l *Ledger) PositionOnActive(id uuid.UUID) (int, bool) {
	for i, mid := range l.branches[l.active] {
		if mid == id {
			return i, true
		}
	}
	return -1, false
}

// Branches lists all branch names.
func (l *Ledger) Branches() []string {
	out := make([]string, 0, len(l.branches))
	for name := range l.branches {
		out = append(out, name)
	}
	return out
}

// BranchMap returns every branch's ordered message ID list.
func (l *Ledger) BranchMap() map[string][]uuid.UUID {
	out := make(map[string][]uuid.UUID, len(l.branches))
	for name, ids := range l.branches {
		cp := make([]uuid.UUID, len(ids))
		copy(cp, ids)
		out[name] = cp
	}
	return out
}

// MessagesOnActive returns the active branch's messages in order.
func (l *Ledger) MessagesOnActive() []*Message {
	ids := l.branches[l.active]
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.pool[id])
	}
	return out
}

// OpenStreamID reports the currently open streaming message, if any.
func (l *Ledger) OpenStreamID() (uuid.UUID, bool) {
	return l.openStream, l.hasOpen
}
