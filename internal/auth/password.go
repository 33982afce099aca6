package auth

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost is the default bcrypt cost factor
	DefaultBcryptCost = 12

	// MinPasswordLength is the minimum password length
	MinPasswordLength = 8

	// MaxPasswordLength caps input length; bcrypt truncates at 72 bytes
	// anyway and unbounded input invites abuse.
	MaxPasswordLength = 128

	// minCharClasses is how many of the four character classes a
	// password must cover.
	minCharClasses = 3
)

// PasswordManager handles password hashing and validation
type PasswordManager struct {
	cost      int
	minLength int
}

// NewPasswordManager creates a new password manager
func NewPasswordManager(bcryptCost, minLength int) *PasswordManager {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = DefaultBcryptCost
	}
	if minLength < MinPasswordLength {
		minLength = MinPasswordLength
	}
	return &PasswordManager{cost: bcryptCost, minLength: minLength}
}

// HashPassword hashes a password using bcrypt
func (p *PasswordManager) HashPassword(password string) (string, error) {
	if len(password) > MaxPasswordLength {
		return "", fmt.Errorf("password too long")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword verifies a password against a stored hash
func (p *PasswordManager) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePasswordStrength checks length bounds and requires the
// password to span at least three of the four character classes:
// uppercase, lowercase, digits, special characters.
func (p *PasswordManager) ValidatePasswordStrength(password string) error {
	if len(password) < p.minLength {
		return fmt.Errorf("password must be at least %d characters", p.minLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d characters", MaxPasswordLength)
	}

	if charClasses(password) < minCharClasses {
		return fmt.Errorf("password must contain at least %d of: uppercase, lowercase, numbers, special characters", minCharClasses)
	}
	return nil
}

// charClasses counts the distinct character classes present.
func charClasses(password string) int {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsNumber(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	n := 0
	for _, present := range []bool{upper, lower, digit, special} {
		if present {
			n++
		}
	}
	return n
}
