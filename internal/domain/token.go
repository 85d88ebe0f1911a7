package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the persisted record of a long-lived opaque credential.
// Only the SHA-256 of the value is stored; the plaintext goes back to the
// client exactly once.
type RefreshToken struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	TokenHash   string     `json:"-"`
	IssuedByIP  string     `json:"issued_by_ip,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	RevokedByIP string     `json:"revoked_by_ip,omitempty"`
	// ReplacedBy points at the successor record once the token has been
	// rotated, for audit and replay detection.
	ReplacedBy *uuid.UUID `json:"replaced_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (t *RefreshToken) Revoked() bool { return t.RevokedAt != nil }

// Expired treats the expiry instant itself as expired.
func (t *RefreshToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

func (t *RefreshToken) Live(now time.Time) bool { return !t.Revoked() && !t.Expired(now) }

type RefreshTokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	// GetByTokenHash returns nil when absent. Revoked and expired rows are
	// returned as-is so the caller can distinguish replay from garbage.
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// Rotate revokes the old record and inserts its successor in one
	// transaction. Returns false without inserting when the old record was
	// already revoked, i.e. this rotation lost a race.
	Rotate(ctx context.Context, oldID uuid.UUID, successor *RefreshToken, ip string) (bool, error)
	// Revoke marks a single live record revoked. False when the hash is
	// unknown or the record was already revoked.
	Revoke(ctx context.Context, tokenHash, ip string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, ip string) (int64, error)
	// DeleteExpired hard-deletes rows whose expiry is before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PasswordResetToken is a single-use, short-lived proof of email control.
type PasswordResetToken struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	TokenHash     string     `json:"-"`
	RequestedByIP string     `json:"requested_by_ip,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (t *PasswordResetToken) Used() bool { return t.UsedAt != nil }

func (t *PasswordResetToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

type PasswordResetRepository interface {
	Create(ctx context.Context, token *PasswordResetToken) error
	// GetByTokenHash returns nil when absent.
	GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error)
	// Consume marks the token used and writes the user's new password hash
	// in one transaction. Returns false without updating the password when
	// the token was already used.
	Consume(ctx context.Context, id, userID uuid.UUID, newPasswordHash string) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
