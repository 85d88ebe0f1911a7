package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/surveyforge/backend/internal/auth"
	"github.com/surveyforge/backend/internal/config"
	"github.com/surveyforge/backend/internal/domain"
	"github.com/surveyforge/backend/internal/notify"
)

// resetRequestedMessage is returned for every reset request, whether or not
// the email exists. The uniformity is enforced here, not in the transport
// layer, so a new adapter cannot leak account existence.
const resetRequestedMessage = "If an account exists for that address, a reset link has been sent."

// Client identifies the caller for audit rows and token provenance
// columns. Neither field is ever used for authorization.
type Client struct {
	IP        string
	UserAgent string
}

// SessionUsecase orchestrates the credential store, the two token ledgers
// and the signer into the signup/login/refresh/logout/reset flows. It is
// the only type other subsystems call.
type SessionUsecase struct {
	users    domain.UserRepository
	tokens   domain.RefreshTokenRepository
	resets   domain.PasswordResetRepository
	events   domain.LoginEventRepository
	hasher   *auth.PasswordHasher
	signer   *auth.TokenSigner
	notifier notify.Notifier
	cfg      *config.AuthConfig
	log      *logrus.Logger
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func NewSessionUsecase(
	users domain.UserRepository,
	tokens domain.RefreshTokenRepository,
	resets domain.PasswordResetRepository,
	events domain.LoginEventRepository,
	notifier notify.Notifier,
	cfg *config.AuthConfig,
	log *logrus.Logger,
) *SessionUsecase {
	return &SessionUsecase{
		users:    users,
		tokens:   tokens,
		resets:   resets,
		events:   events,
		hasher:   auth.NewPasswordHasher(cfg.BcryptCost),
		signer:   auth.NewTokenSigner(cfg.JWTSecret, cfg.Issuer, cfg.Audience, cfg.AccessTTL),
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

// Signup registers a user and issues a first token pair. The welcome
// notification is best-effort and never fails the signup.
func (u *SessionUsecase) Signup(ctx context.Context, email, password, fullName string, client Client) (*domain.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, domain.E(domain.KindValidation, "a valid email address is required")
	}
	if problems := auth.CheckPasswordStrength(password); len(problems) > 0 {
		return nil, nil, domain.E(domain.KindValidation, "password "+strings.Join(problems, "; "))
	}

	existing, err := u.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, domain.E(domain.KindConflict, "email already registered")
	}

	hash, err := u.hasher.Hash(password)
	if err != nil {
		return nil, nil, err
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(fullName),
		Role:         domain.RoleUser,
		IsActive:     true,
	}
	if err := u.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	pair, err := u.issueTokenPair(ctx, user, client)
	if err != nil {
		return nil, nil, err
	}

	u.recordLoginEvent(ctx, user.ID, "signup", client)
	if err := u.notifier.UserRegistered(ctx, user); err != nil {
		u.log.WithError(err).WithField("user_id", user.ID).Warn("welcome notification failed")
	}

	return user, pair, nil
}

// Login verifies credentials and issues a fresh token pair. Unknown email
// and wrong password produce the identical error; an existing but
// deactivated account is Forbidden.
func (u *SessionUsecase) Login(ctx context.Context, email, password string, client Client) (*domain.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := u.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if user == nil || !u.hasher.Verify(user.PasswordHash, password) {
		return nil, nil, domain.E(domain.KindUnauthorized, "invalid email or password")
	}
	if !user.IsActive {
		return nil, nil, domain.E(domain.KindForbidden, "account is deactivated")
	}

	pair, err := u.issueTokenPair(ctx, user, client)
	if err != nil {
		return nil, nil, err
	}

	if err := u.users.UpdateLastLogin(ctx, user.ID); err != nil {
		u.log.WithError(err).WithField("user_id", user.ID).Warn("last-login update failed")
	}
	u.recordLoginEvent(ctx, user.ID, "password", client)

	return user, pair, nil
}

// Refresh rotates the presented refresh token and issues a new access
// token. A revoked record presented here means the plaintext was used
// twice, which is the replay signature rotation exists to catch.
func (u *SessionUsecase) Refresh(ctx context.Context, rawToken string, client Client) (*TokenPair, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, domain.E(domain.KindUnauthorized, "invalid refresh token")
	}

	record, err := u.tokens.GetByTokenHash(ctx, auth.HashToken(rawToken))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.E(domain.KindUnauthorized, "invalid refresh token")
	}
	now := time.Now().UTC()
	if record.Revoked() {
		u.log.WithFields(logrus.Fields{
			"user_id":  record.UserID,
			"token_id": record.ID,
			"ip":       client.IP,
		}).Warn("revoked refresh token presented, possible replay")
		return nil, domain.E(domain.KindUnauthorized, "invalid refresh token")
	}
	if record.Expired(now) {
		return nil, domain.E(domain.KindUnauthorized, "invalid refresh token")
	}

	user, err := u.users.GetByID(ctx, record.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, domain.E(domain.KindUnauthorized, "invalid refresh token")
	}

	newRaw, err := auth.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	successor := &domain.RefreshToken{
		UserID:     user.ID,
		TokenHash:  auth.HashToken(newRaw),
		IssuedByIP: client.IP,
		ExpiresAt:  now.Add(u.cfg.RefreshTTL),
	}

	rotated, err := u.tokens.Rotate(ctx, record.ID, successor, client.IP)
	if err != nil {
		return nil, err
	}
	if !rotated {
		// Lost a rotation race: a concurrent request already consumed the
		// same plaintext.
		u.log.WithFields(logrus.Fields{
			"user_id":  record.UserID,
			"token_id": record.ID,
			"ip":       client.IP,
		}).Warn("concurrent refresh with the same token, possible replay")
		return nil, domain.E(domain.KindUnauthorized, "invalid refresh token")
	}

	access, accessExp, err := u.signer.Issue(user)
	if err != nil {
		return nil, err
	}
	u.recordLoginEvent(ctx, user.ID, "refresh", client)

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     newRaw,
		RefreshExpiresAt: successor.ExpiresAt,
	}, nil
}

// Logout revokes a single session. Missing, unknown and already-revoked
// tokens are all a successful no-op.
func (u *SessionUsecase) Logout(ctx context.Context, rawToken string, client Client) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil
	}
	revoked, err := u.tokens.Revoke(ctx, auth.HashToken(rawToken), client.IP)
	if err != nil {
		return err
	}
	if !revoked {
		u.log.WithField("ip", client.IP).Debug("logout with unknown or already-revoked token")
	}
	return nil
}

// LogoutAll revokes every live session for the user.
func (u *SessionUsecase) LogoutAll(ctx context.Context, userID uuid.UUID, client Client) error {
	n, err := u.tokens.RevokeAllForUser(ctx, userID, client.IP)
	if err != nil {
		return err
	}
	u.log.WithFields(logrus.Fields{"user_id": userID, "revoked": n}).Info("all sessions revoked")
	return nil
}

// RequestPasswordReset returns the same message whether or not the email
// maps to an account.
func (u *SessionUsecase) RequestPasswordReset(ctx context.Context, email string, client Client) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := u.users.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if user == nil || !user.IsActive {
		return resetRequestedMessage, nil
	}

	raw, err := auth.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	record := &domain.PasswordResetToken{
		UserID:        user.ID,
		TokenHash:     auth.HashToken(raw),
		RequestedByIP: client.IP,
		ExpiresAt:     time.Now().UTC().Add(u.cfg.ResetTTL),
	}
	if err := u.resets.Create(ctx, record); err != nil {
		return "", err
	}

	if err := u.notifier.PasswordResetRequested(ctx, user, raw); err != nil {
		u.log.WithError(err).WithField("user_id", user.ID).Error("password reset notification failed")
	}

	return resetRequestedMessage, nil
}

// ResetPassword consumes a reset token, writes the new password hash and
// then revokes every refresh token for the user. The password change
// commits first; revocation failures are logged and do not undo it.
func (u *SessionUsecase) ResetPassword(ctx context.Context, rawToken, newPassword string, client Client) (string, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return "", domain.E(domain.KindUnauthorized, "invalid or expired reset token")
	}
	if problems := auth.CheckPasswordStrength(newPassword); len(problems) > 0 {
		return "", domain.E(domain.KindValidation, "password "+strings.Join(problems, "; "))
	}

	record, err := u.resets.GetByTokenHash(ctx, auth.HashToken(rawToken))
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", domain.E(domain.KindUnauthorized, "invalid or expired reset token")
	}
	if record.Used() {
		return "", domain.E(domain.KindAlreadyUsed, "reset token has already been used")
	}
	if record.Expired(time.Now().UTC()) {
		return "", domain.E(domain.KindExpired, "invalid or expired reset token")
	}

	hash, err := u.hasher.Hash(newPassword)
	if err != nil {
		return "", err
	}

	consumed, err := u.resets.Consume(ctx, record.ID, record.UserID, hash)
	if err != nil {
		return "", err
	}
	if !consumed {
		return "", domain.E(domain.KindAlreadyUsed, "reset token has already been used")
	}

	// Force re-authentication everywhere. Best-effort: the password change
	// is already committed and must not be lost.
	if _, err := u.tokens.RevokeAllForUser(ctx, record.UserID, client.IP); err != nil {
		u.log.WithError(err).WithField("user_id", record.UserID).
			Error("revoking sessions after password reset failed, tokens remain live until expiry")
	}

	return "Password has been reset. Please sign in again.", nil
}

// DeactivateUser disables an account and revokes its sessions. Admin
// authorization happens in the transport layer; existing access tokens
// stay valid until natural expiry, only refresh dies immediately.
func (u *SessionUsecase) DeactivateUser(ctx context.Context, targetID uuid.UUID, client Client) error {
	user, err := u.users.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if user == nil {
		return domain.E(domain.KindNotFound, "user not found")
	}
	if err := u.users.Deactivate(ctx, targetID); err != nil {
		return err
	}
	n, err := u.tokens.RevokeAllForUser(ctx, targetID, client.IP)
	if err != nil {
		return err
	}
	u.log.WithFields(logrus.Fields{"user_id": targetID, "revoked": n}).Info("account deactivated")
	return nil
}

// CurrentUser loads the profile for a verified access token. The token can
// outlive the account, hence the NotFound path.
func (u *SessionUsecase) CurrentUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.E(domain.KindNotFound, "user not found")
	}
	return user, nil
}

// VerifyAccessToken is the entry point for the bearer middleware.
func (u *SessionUsecase) VerifyAccessToken(tokenString string) (*auth.Claims, error) {
	return u.signer.Verify(tokenString)
}

// RecentLogins lists the audit trail for the user's own account.
func (u *SessionUsecase) RecentLogins(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.LoginEvent, error) {
	return u.events.ListByUser(ctx, userID, limit, offset)
}

func (u *SessionUsecase) issueTokenPair(ctx context.Context, user *domain.User, client Client) (*TokenPair, error) {
	access, accessExp, err := u.signer.Issue(user)
	if err != nil {
		return nil, err
	}

	raw, err := auth.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	record := &domain.RefreshToken{
		UserID:     user.ID,
		TokenHash:  auth.HashToken(raw),
		IssuedByIP: client.IP,
		ExpiresAt:  time.Now().UTC().Add(u.cfg.RefreshTTL),
	}
	if err := u.tokens.Create(ctx, record); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func (u *SessionUsecase) recordLoginEvent(ctx context.Context, userID uuid.UUID, method string, client Client) {
	event := &domain.LoginEvent{UserID: userID, Method: method, IPAddress: client.IP, UserAgent: client.UserAgent}
	if err := u.events.Create(ctx, event); err != nil {
		u.log.WithError(err).WithField("user_id", userID).Warn("login event not recorded")
	}
}
