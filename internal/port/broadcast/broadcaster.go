// Package broadcast defines the outbound signal surface.
package broadcast

import (
	"context"

	"github.com/google/uuid"
)

// Broadcaster fans a lightweight signal out to every consumer watching a
// context. Signals carry watermarks, not content; consumers pull the data
// they are missing afterwards.
type Broadcaster interface {
	// BroadcastEvent sends a typed signal to consumers watching contextID.
	BroadcastEvent(ctx context.Context, contextID uuid.UUID, eventType string, payload any)

	// BroadcastAllEvent sends a typed signal to every consumer regardless
	// of subscriptions.
	BroadcastAllEvent(ctx context.Context, eventType string, payload any)
}
