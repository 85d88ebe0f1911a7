package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/surveyforge/backend/internal/domain"
)

type RefreshTokenRepository struct {
	db *pgxpool.Pool
}

func NewRefreshTokenRepository(db *pgxpool.Pool) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

const refreshTokenColumns = `id, user_id, token_hash, issued_by_ip, expires_at, revoked_at, COALESCE(revoked_by_ip, ''), replaced_by, created_at`

func scanRefreshToken(row pgx.Row) (*domain.RefreshToken, error) {
	t := &domain.RefreshToken{}
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.IssuedByIP,
		&t.ExpiresAt,
		&t.RevokedAt,
		&t.RevokedByIP,
		&t.ReplacedBy,
		&t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	token.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, issued_by_ip, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.IssuedByIP,
		token.ExpiresAt,
		token.CreatedAt,
	)
	return err
}

func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return scanRefreshToken(r.db.QueryRow(ctx, query, tokenHash))
}

// Rotate revokes the presented record and inserts its successor in a single
// transaction. The conditional update is the replay guard: of two concurrent
// rotations only one sees revoked_at IS NULL, the other gets false and no
// successor is written.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID uuid.UUID, successor *domain.RefreshToken, ip string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if successor.ID == uuid.Nil {
		successor.ID = uuid.New()
	}
	successor.CreatedAt = time.Now().UTC()

	tag, err := tx.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = NOW(), revoked_by_ip = $2, replaced_by = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, oldID, ip, successor.ID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, issued_by_ip, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, successor.ID, successor.UserID, successor.TokenHash, successor.IssuedByIP, successor.ExpiresAt, successor.CreatedAt)
	if err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenHash, ip string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = NOW(), revoked_by_ip = $2
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, tokenHash, ip)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID, ip string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = NOW(), revoked_by_ip = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, ip)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired is run by the cleanup job, never on the request path.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
