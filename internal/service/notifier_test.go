package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ContextForge/internal/adapter/ws"
	"github.com/Strob0t/ContextForge/internal/domain/chat"
	"github.com/Strob0t/ContextForge/internal/port/messagequeue"
)

type broadcastCall struct {
	contextID uuid.UUID
	eventType string
	payload   any
	all       bool
}

// recordBroadcaster captures emitted signals.
type recordBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *recordBroadcaster) BroadcastEvent(_ context.Context, contextID uuid.UUID, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{contextID: contextID, eventType: eventType, payload: payload})
}

func (b *recordBroadcaster) BroadcastAllEvent(_ context.Context, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{eventType: eventType, payload: payload, all: true})
}

func (b *recordBroadcaster) all() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcastCall(nil), b.calls...)
}

type published struct {
	subject string
	data    []byte
}

// recordQueue captures published messages.
type recordQueue struct {
	mu   sync.Mutex
	msgs []published
}

func (q *recordQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, published{subject: subject, data: data})
	return nil
}

func (q *recordQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *recordQueue) Drain() error      { return nil }
func (q *recordQueue) Close() error      { return nil }
func (q *recordQueue) IsConnected() bool { return true }

func (q *recordQueue) all() []published {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]published(nil), q.msgs...)
}

func testDispatcher(q messagequeue.Queue) (*Dispatcher, *recordBroadcaster) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bc := &recordBroadcaster{}
	return NewDispatcher(bc, q, log), bc
}

func TestStateChangedMirroredToQueue(t *testing.T) {
	q := &recordQueue{}
	d, bc := testDispatcher(q)
	id := uuid.New()

	tr := chat.Transition{
		From:  chat.Idle(),
		To:    chat.ProcessingUserInput(),
		Event: chat.UserInput(),
	}
	d.StateChanged(context.Background(), id, tr)

	calls := bc.all()
	if len(calls) != 1 || calls[0].eventType != ws.EventStateChanged || calls[0].contextID != id {
		t.Errorf("broadcast calls = %+v", calls)
	}

	msgs := q.all()
	if len(msgs) != 1 {
		t.Fatalf("published = %d, want 1", len(msgs))
	}
	if msgs[0].subject != messagequeue.SubjectStateChanged {
		t.Errorf("subject = %s", msgs[0].subject)
	}
	var p messagequeue.StateChangedPayload
	if err := json.Unmarshal(msgs[0].data, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.ContextID != id.String() || p.FromState != "idle" || p.ToState != "processing_user_input" || p.Event != "user_input" {
		t.Errorf("payload = %+v", p)
	}
}

func TestContentDeltaCarriesWatermarkOnly(t *testing.T) {
	q := &recordQueue{}
	d, _ := testDispatcher(q)
	ctxID, msgID := uuid.New(), uuid.New()

	d.ContentDelta(context.Background(), ctxID, msgID, 7)

	msgs := q.all()
	if len(msgs) != 1 || msgs[0].subject != messagequeue.SubjectContentDelta {
		t.Fatalf("published = %+v", msgs)
	}
	var p messagequeue.ContentDeltaPayload
	if err := json.Unmarshal(msgs[0].data, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.MessageID != msgID.String() || p.CurrentSequence != 7 {
		t.Errorf("payload = %+v", p)
	}

	// Signals carry no content field at all.
	var raw map[string]any
	_ = json.Unmarshal(msgs[0].data, &raw)
	if _, ok := raw["delta"]; ok {
		t.Error("delta content leaked into signal")
	}
}

func TestMessageCompletedMirrored(t *testing.T) {
	q := &recordQueue{}
	d, _ := testDispatcher(q)
	ctxID, msgID := uuid.New(), uuid.New()

	d.MessageCompleted(context.Background(), ctxID, msgID, 12, "stop")

	msgs := q.all()
	if len(msgs) != 1 || msgs[0].subject != messagequeue.SubjectMessageCompleted {
		t.Fatalf("published = %+v", msgs)
	}
	var p messagequeue.MessageCompletedPayload
	if err := json.Unmarshal(msgs[0].data, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.FinalSequence != 12 || p.FinishReason != "stop" {
		t.Errorf("payload = %+v", p)
	}
}

func TestNilQueueDisablesMirror(t *testing.T) {
	d, _ := testDispatcher(nil)
	// Must not panic without a queue.
	d.StateChanged(context.Background(), uuid.New(), chat.Transition{
		From:  chat.Idle(),
		To:    chat.ProcessingUserInput(),
		Event: chat.UserInput(),
	})
	d.ContentDelta(context.Background(), uuid.New(), uuid.New(), 1)
	d.MessageCompleted(context.Background(), uuid.New(), uuid.New(), 1, "stop")
}

func TestHeartbeatBroadcasts(t *testing.T) {
	d, bc := testDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.StartHeartbeat(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		calls := bc.all()
		if len(calls) > 0 {
			if !calls[0].all || calls[0].eventType != ws.EventHeartbeat {
				t.Errorf("heartbeat call = %+v", calls[0])
			}
			if hb, ok := calls[0].payload.(ws.HeartbeatEvent); !ok || hb.Timestamp == 0 {
				t.Errorf("heartbeat payload = %+v", calls[0].payload)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no heartbeat observed")
}
