package auth

import (
	"context"
	"time"
)

// Topics published on the event bus.
const (
	LoginEvent       = "auth.login"
	LoginFailedEvent = "auth.login_failed"
	RefreshEvent     = "auth.refresh"
	LogoutEvent      = "auth.logout"
)

// Event is the payload of every auth topic.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Subject    string    `json:"subject,omitempty"`
	Email      string    `json:"email,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RememberMe bool      `json:"rememberMe,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ActivityLog returns recent auth events for a user, newest first.
type ActivityLog interface {
	Recent(ctx context.Context, subject string, limit int) ([]Event, error)
}
