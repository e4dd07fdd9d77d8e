package chat

import "time"

// Fragment is one streamed delta assigned a contiguous 1-based sequence
// number. AccumulatedChars and IntervalMs let a consumer render progress
// without replaying every predecessor.
type Fragment struct {
	Sequence         uint64    `json:"sequence"`
	Delta            string    `json:"delta"`
	Timestamp        time.Time `json:"timestamp"`
	AccumulatedChars int       `json:"accumulated_chars"`
	IntervalMs       int64     `json:"interval_ms"`
}

// Usage reports token accounting from the model provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamBuffer accumulates a streaming model response fragment by fragment.
// Sequence numbers start at 1 and never repeat or skip; the buffer is the
// single source of truth consumers reconcile against.
type StreamBuffer struct {
	Model        string     `json:"model"`
	Content      string     `json:"content"`
	Fragments    []Fragment `json:"fragments"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   int64      `json:"duration_ms,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`
}

// NewStreamBuffer starts an empty buffer for the given model.
func NewStreamBuffer(model string) *StreamBuffer {
	return &StreamBuffer{Model: model, StartedAt: time.Now()}
}

// Append records one delta and returns its sequence number. Appending to a
// finalized buffer is ignored and returns the last sequence.
func (b *StreamBuffer) Append(delta string) uint64 {
	if b.Finalized() {
		return b.CurrentSequence()
	}
	now := time.Now()
	var interval int64
	prev := b.StartedAt
	if n := len(b.Fragments); n > 0 {
		prev = b.Fragments[n-1].Timestamp
	}
	interval = now.Sub(prev).Milliseconds()
	b.Content += delta
	b.Fragments = append(b.Fragments, Fragment{
		Sequence:         uint64(len(b.Fragments) + 1),
		Delta:            delta,
		Timestamp:        now,
		AccumulatedChars: len(b.Content),
		IntervalMs:       interval,
	})
	return uint64(len(b.Fragments))
}

// Finalize closes the buffer, recording the finish reason, usage and total
// duration. Finalizing twice keeps the first outcome. Returns the final
// sequence number.
func (b *StreamBuffer) Finalize(finishReason string, usage *Usage) uint64 {
	if b.Finalized() {
		return b.CurrentSequence()
	}
	now := time.Now()
	b.CompletedAt = &now
	b.DurationMs = now.Sub(b.StartedAt).Milliseconds()
	b.FinishReason = finishReason
	b.Usage = usage
	return b.CurrentSequence()
}

// Finalized reports whether the stream has completed.
func (b *StreamBuffer) Finalized() bool { return b.CompletedAt != nil }

// CurrentSequence returns the highest assigned sequence, 0 when empty.
func (b *StreamBuffer) CurrentSequence() uint64 { return uint64(len(b.Fragments)) }

// FragmentsSince returns all fragments with sequence greater than from.
// A stale or overshooting watermark simply yields an empty slice, so a
// consumer that lost state self-heals on its next pull.
func (b *StreamBuffer) FragmentsSince(from uint64) []Fragment {
	if from >= uint64(len(b.Fragments)) {
		return nil
	}
	out := make([]Fragment, len(b.Fragments)-int(from))
	copy(out, b.Fragments[from:])
	return out
}
