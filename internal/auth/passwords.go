package auth

import (
	"errors"
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/example/deepfake-detector/internal/apperror"
)

// ErrPasswordMismatch is returned by Verify for a wrong password.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService hashes and checks passwords with bcrypt.
type PasswordService struct {
	cost int
}

// NewPasswordService returns a service using cost, clamped to bcrypt's bounds.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &PasswordService{cost: cost}
}

// Hash returns the bcrypt hash of plaintext. bcrypt ignores bytes past 72,
// so longer passwords are rejected.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", apperror.ValidationField("auth.hash_password", "password", "Password must be 72 bytes or fewer")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	if err != nil {
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateUsername requires at least three characters.
func ValidateUsername(username string) error {
	if utf8.RuneCountInString(username) < 3 {
		return apperror.ValidationField("auth.validate", "username", "Username must be at least 3 characters")
	}
	return nil
}

// ValidateEmail checks the address shape.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return apperror.ValidationField("auth.validate", "email", "Invalid email format")
	}
	return nil
}

// ValidatePassword requires eight characters with an upper-case letter and a digit.
func ValidatePassword(password string) error {
	const op = "auth.validate"
	if utf8.RuneCountInString(password) < 8 {
		return apperror.ValidationField(op, "password", "Password must be at least 8 characters long")
	}
	var upper, digit bool
	for _, r := range password {
		upper = upper || unicode.IsUpper(r)
		digit = digit || unicode.IsDigit(r)
	}
	if !upper {
		return apperror.ValidationField(op, "password", "Password must contain at least one uppercase letter")
	}
	if !digit {
		return apperror.ValidationField(op, "password", "Password must contain at least one digit")
	}
	return nil
}
