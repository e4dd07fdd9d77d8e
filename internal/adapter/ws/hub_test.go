package ws

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), uuid.New(), Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubBroadcastEventNoConnections(t *testing.T) {
	hub := NewHub()

	hub.BroadcastEvent(context.Background(), uuid.New(), EventStateChanged, StateChangedEvent{
		ContextID: "c1",
		FromState: "idle",
		ToState:   "processing_user_input",
		Event:     "user_input",
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub()

	// A channel cannot be marshaled to JSON — should log error, not panic.
	hub.BroadcastEvent(context.Background(), uuid.New(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: nil, cancel: cancel, watching: make(map[uuid.UUID]struct{})}
	hub.remove(c)
}

func TestConnSubscriptionFiltering(t *testing.T) {
	c := &conn{watching: make(map[uuid.UUID]struct{}), watchAll: true}
	a, b := uuid.New(), uuid.New()

	if !c.wants(a) || !c.wants(b) {
		t.Fatal("fresh connection should receive all signals")
	}

	c.subscribe(a)
	if !c.wants(a) {
		t.Error("subscribed context should be wanted")
	}
	if c.wants(b) {
		t.Error("unsubscribed context should be filtered after first subscribe")
	}

	c.unsubscribe(a)
	if c.wants(a) {
		t.Error("unsubscribe should stop delivery")
	}
}
