package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher wraps bcrypt with a configurable cost. The same hasher is
// used for passwords and for normalized security answers, so answers are
// never stored in plaintext either.
type PasswordHasher struct {
	cost int
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches the stored hash. A mismatch is
// not an error, it is simply false.
func (h *PasswordHasher) Verify(plaintext, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext)) == nil
}

// HashAnswer hashes a security answer after normalization, so that
// verification is insensitive to case and surrounding whitespace.
func (h *PasswordHasher) HashAnswer(answer string) (string, error) {
	return h.Hash(NormalizeAnswer(answer))
}

func (h *PasswordHasher) VerifyAnswer(answer, hashed string) bool {
	return h.Verify(NormalizeAnswer(answer), hashed)
}

func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}
