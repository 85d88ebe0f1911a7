package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LoginEvent is an audit row written whenever credentials are exercised.
// IP and user agent are recorded for audit only, never for authorization.
type LoginEvent struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Method    string    `json:"method"` // "signup" | "password" | "refresh"
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginEventRepository interface {
	Create(ctx context.Context, event *LoginEvent) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*LoginEvent, error)
}
