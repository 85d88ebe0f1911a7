package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/surveyforge/backend/internal/domain"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// PasswordHasher wraps bcrypt with a configurable cost. bcrypt output is
// self-describing (salt and cost are embedded), so Verify needs no config.
type PasswordHasher struct {
	Cost int
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{Cost: cost}
}

// Hash rejects out-of-bounds input before running the cost function.
func (h *PasswordHasher) Hash(plain string) (string, error) {
	if len(plain) < MinPasswordLength {
		return "", domain.E(domain.KindValidation,
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(plain) > MaxPasswordLength {
		return "", domain.E(domain.KindValidation,
			fmt.Sprintf("password must be at most %d characters", MaxPasswordLength))
	}
	b, err := bcrypt.GenerateFromPassword(prehash(plain), h.Cost)
	if err != nil {
		return "", domain.Wrap(domain.KindInternal, "password could not be hashed", err)
	}
	return string(b), nil
}

// Verify returns false on any mismatch, including a malformed hash or empty
// input. It never returns an error.
func (h *PasswordHasher) Verify(hash, plain string) bool {
	if hash == "" || plain == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(plain)) == nil
}

// prehash folds the password through SHA-256 before bcrypt, whose own input
// ceiling is 72 bytes. The 64-char hex digest fits under it, so every
// password within the documented length bounds hashes identically well.
func prehash(plain string) []byte {
	sum := sha256.Sum256([]byte(plain))
	return []byte(hex.EncodeToString(sum[:]))
}

// CheckPasswordStrength validates length bounds and character classes.
// It returns the list of problems, empty when the password is acceptable.
// This runs at the transport boundary before hashing; it is a usability
// check, not a security control.
func CheckPasswordStrength(plain string) []string {
	var problems []string
	if len(plain) < MinPasswordLength {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	if len(plain) > MaxPasswordLength {
		problems = append(problems, fmt.Sprintf("must be at most %d characters", MaxPasswordLength))
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range plain {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper {
		problems = append(problems, "must contain an uppercase letter")
	}
	if !hasLower {
		problems = append(problems, "must contain a lowercase letter")
	}
	if !hasDigit {
		problems = append(problems, "must contain a digit")
	}
	return problems
}
