// Package notify publishes user-lifecycle events for out-of-band delivery.
// The actual email sender is a separate consumer; the auth service only
// emits events, best-effort.
package notify

import (
	"context"

	"github.com/surveyforge/backend/internal/domain"
)

// Notifier delivery is best-effort everywhere it is called: errors are
// logged by the caller and never surfaced to the end user.
type Notifier interface {
	UserRegistered(ctx context.Context, user *domain.User) error
	// PasswordResetRequested carries the plaintext reset token; it exists
	// nowhere else once this returns.
	PasswordResetRequested(ctx context.Context, user *domain.User, token string) error
}

// Nop is used when no broker is configured (tests, local development).
type Nop struct{}

func (Nop) UserRegistered(context.Context, *domain.User) error { return nil }

func (Nop) PasswordResetRequested(context.Context, *domain.User, string) error { return nil }
