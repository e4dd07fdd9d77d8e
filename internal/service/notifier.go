package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ContextForge/internal/adapter/ws"
	"github.com/Strob0t/ContextForge/internal/domain/chat"
	"github.com/Strob0t/ContextForge/internal/port/broadcast"
	"github.com/Strob0t/ContextForge/internal/port/messagequeue"
)

// Dispatcher fans signals out to WebSocket subscribers and mirrors them
// onto the message queue for non-WebSocket consumers. Signals never carry
// content, only watermarks; consumers pull what they are missing.
type Dispatcher struct {
	bc    broadcast.Broadcaster
	queue messagequeue.Queue // nil disables the mirror
	log   *slog.Logger
}

// NewDispatcher builds a dispatcher. queue may be nil.
func NewDispatcher(bc broadcast.Broadcaster, queue messagequeue.Queue, log *slog.Logger) *Dispatcher {
	return &Dispatcher{bc: bc, queue: queue, log: log}
}

// StateChanged announces a machine transition for a context.
func (d *Dispatcher) StateChanged(ctx context.Context, contextID uuid.UUID, tr chat.Transition) {
	payload := ws.StateChangedEvent{
		ContextID: contextID.String(),
		FromState: string(tr.From.Kind),
		ToState:   string(tr.To.Kind),
		Event:     string(tr.Event.Kind),
	}
	d.bc.BroadcastEvent(ctx, contextID, ws.EventStateChanged, payload)
	d.mirror(ctx, messagequeue.SubjectStateChanged, messagequeue.StateChangedPayload(payload))
}

// ContentDelta announces that a streaming message advanced to seq.
func (d *Dispatcher) ContentDelta(ctx context.Context, contextID, messageID uuid.UUID, seq uint64) {
	payload := ws.ContentDeltaEvent{
		ContextID:       contextID.String(),
		MessageID:       messageID.String(),
		CurrentSequence: seq,
	}
	d.bc.BroadcastEvent(ctx, contextID, ws.EventContentDelta, payload)
	d.mirror(ctx, messagequeue.SubjectContentDelta, messagequeue.ContentDeltaPayload(payload))
}

// MessageCompleted announces stream finalization.
func (d *Dispatcher) MessageCompleted(ctx context.Context, contextID, messageID uuid.UUID, finalSeq uint64, finishReason string) {
	payload := ws.MessageCompletedEvent{
		ContextID:     contextID.String(),
		MessageID:     messageID.String(),
		FinalSequence: finalSeq,
		FinishReason:  finishReason,
	}
	d.bc.BroadcastEvent(ctx, contextID, ws.EventMessageCompleted, payload)
	d.mirror(ctx, messagequeue.SubjectMessageCompleted, messagequeue.MessageCompletedPayload(payload))
}

// StartHeartbeat broadcasts a heartbeat to every connection at the given
// interval until ctx is cancelled. Clients that miss beats fall back to
// polling.
func (d *Dispatcher) StartHeartbeat(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				d.bc.BroadcastAllEvent(ctx, ws.EventHeartbeat, ws.HeartbeatEvent{Timestamp: t.Unix()})
			}
		}
	}()
}

func (d *Dispatcher) mirror(ctx context.Context, subject string, payload any) {
	if d.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("marshal queue signal", "subject", subject, "error", err)
		return
	}
	if err := d.queue.Publish(ctx, subject, data); err != nil {
		d.log.Warn("queue signal publish failed", "subject", subject, "error", err)
	}
}
